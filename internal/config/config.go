package config

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	Paths    PathsConfig    `mapstructure:"paths"`
	Runtime  RuntimeConfig  `mapstructure:"runtime"`
	Generate GenerateConfig `mapstructure:"generate"`
	Audio    AudioConfig    `mapstructure:"audio"`
	LogLevel string         `mapstructure:"log_level"`
}

type PathsConfig struct {
	ModelDir string `mapstructure:"model_dir"`
	Output   string `mapstructure:"output"`
}

type RuntimeConfig struct {
	ORTLibraryPath string `mapstructure:"ort_library_path"`
	ORTVersion     string `mapstructure:"ort_version"`
	APIVersion     int    `mapstructure:"api_version"`
}

// GenerateConfig controls a single generation run. Secs is converted to
// tokens at 50 frames per second and capped by MaxTokens. EndToken < 0
// disables end-of-sequence detection. Seed 0 picks a random seed.
type GenerateConfig struct {
	Model         string  `mapstructure:"model"`
	Secs          int     `mapstructure:"secs"`
	MaxTokens     int     `mapstructure:"max_tokens"`
	Temperature   float64 `mapstructure:"temperature"`
	TopK          int     `mapstructure:"top_k"`
	GuidanceScale float64 `mapstructure:"guidance_scale"`
	Seed          int64   `mapstructure:"seed"`
	EndToken      int64   `mapstructure:"end_token"`
}

type AudioConfig struct {
	SampleRate   int     `mapstructure:"sample_rate"`
	Channels     int     `mapstructure:"channels"`
	SampleFormat string  `mapstructure:"sample_format"`
	Play         bool    `mapstructure:"play"`
	FadeMS       float64 `mapstructure:"fade_ms"`
	Normalize    bool    `mapstructure:"normalize"`
}

type LoadOptions struct {
	Cmd        flagBinder
	ConfigFile string
	Defaults   Config
}

type flagBinder interface {
	Flags() *pflag.FlagSet
}

func DefaultConfig() Config {
	return Config{
		Paths: PathsConfig{
			ModelDir: "models/musicgen-small",
			Output:   "musicgen.wav",
		},
		Runtime: RuntimeConfig{
			ORTLibraryPath: "",
			ORTVersion:     "",
			APIVersion:     23,
		},
		Generate: GenerateConfig{
			Model:         ModelSmall,
			Secs:          10,
			MaxTokens:     1500,
			Temperature:   1.0,
			TopK:          250,
			GuidanceScale: 3.0,
			Seed:          0,
			EndToken:      -1,
		},
		Audio: AudioConfig{
			SampleRate:   32000,
			Channels:     1,
			SampleFormat: "f32",
			Play:         false,
			FadeMS:       10,
			Normalize:    false,
		},
		LogLevel: "info",
	}
}

// flagKeys maps each registered flag to its config key.
var flagKeys = map[string]string{
	"model-dir":       "paths.model_dir",
	"output":          "paths.output",
	"ort-lib":         "runtime.ort_library_path",
	"ort-version":     "runtime.ort_version",
	"ort-api-version": "runtime.api_version",
	"model":           "generate.model",
	"secs":            "generate.secs",
	"max-tokens":      "generate.max_tokens",
	"temperature":     "generate.temperature",
	"top-k":           "generate.top_k",
	"guidance-scale":  "generate.guidance_scale",
	"seed":            "generate.seed",
	"end-token":       "generate.end_token",
	"sample-rate":     "audio.sample_rate",
	"channels":        "audio.channels",
	"sample-format":   "audio.sample_format",
	"play":            "audio.play",
	"fade-ms":         "audio.fade_ms",
	"normalize":       "audio.normalize",
	"log-level":       "log_level",
}

func RegisterFlags(fs *pflag.FlagSet, defaults Config) {
	fs.String("model-dir", defaults.Paths.ModelDir, "Directory holding the MusicGen ONNX graphs and tokenizer")
	fs.String("output", defaults.Paths.Output, "Output WAV path (empty disables file output)")
	fs.String("ort-lib", defaults.Runtime.ORTLibraryPath, "Path to ONNX Runtime shared library")
	fs.String("ort-version", defaults.Runtime.ORTVersion, "Expected ONNX Runtime version")
	fs.Int("ort-api-version", defaults.Runtime.APIVersion, "ONNX Runtime C API version")
	fs.String("model", defaults.Generate.Model, "Model variant (small|small-fp16|medium)")
	fs.Int("secs", defaults.Generate.Secs, "Seconds of audio to generate")
	fs.Int("max-tokens", defaults.Generate.MaxTokens, "Upper bound on generated decoder steps")
	fs.Float64("temperature", defaults.Generate.Temperature, "Sampling temperature")
	fs.Int("top-k", defaults.Generate.TopK, "Top-k sampling cutoff (0 disables)")
	fs.Float64("guidance-scale", defaults.Generate.GuidanceScale, "Classifier-free guidance scale (<=1 disables)")
	fs.Int64("seed", defaults.Generate.Seed, "Sampling seed (0 picks a random seed)")
	fs.Int64("end-token", defaults.Generate.EndToken, "End-of-sequence token id (negative disables)")
	fs.Int("sample-rate", defaults.Audio.SampleRate, "Output sample rate in Hz")
	fs.Int("channels", defaults.Audio.Channels, "Output channel count")
	fs.String("sample-format", defaults.Audio.SampleFormat, "WAV sample format (f32|f64|i8|i16|i32)")
	fs.Bool("play", defaults.Audio.Play, "Play the result on the default output device")
	fs.Float64("fade-ms", defaults.Audio.FadeMS, "Fade-in/out length in milliseconds (0 disables)")
	fs.Bool("normalize", defaults.Audio.Normalize, "Peak-normalize the generated audio")
	fs.String("log-level", defaults.LogLevel, "Log level (debug|info|warn|error)")
}

func Load(opts LoadOptions) (Config, error) {
	v := viper.New()

	setDefaults(v, opts.Defaults)
	if opts.Cmd != nil {
		if err := bindFlags(v, opts.Cmd.Flags()); err != nil {
			return Config{}, err
		}
	}

	v.SetEnvPrefix("MUSICGEN")
	replacer := strings.NewReplacer("-", "_", ".", "_", "__", "_")
	v.SetEnvKeyReplacer(replacer)
	if err := v.BindEnv("runtime.ort_library_path", "MUSICGEN_ORT_LIB", "ORT_LIBRARY_PATH"); err != nil {
		return Config{}, fmt.Errorf("bind ort env vars: %w", err)
	}
	v.AutomaticEnv()

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	} else {
		v.SetConfigName("musicgen")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	model, err := NormalizeModel(cfg.Generate.Model)
	if err != nil {
		return Config{}, err
	}
	cfg.Generate.Model = model

	return cfg, nil
}

// ParseLogLevel converts a case-insensitive level string to slog.Level.
// An empty string returns slog.LevelInfo. Unknown strings return an error.
func ParseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q (want debug|info|warn|error)", s)
	}
}

func setDefaults(v *viper.Viper, c Config) {
	v.SetDefault("paths.model_dir", c.Paths.ModelDir)
	v.SetDefault("paths.output", c.Paths.Output)
	v.SetDefault("runtime.ort_library_path", c.Runtime.ORTLibraryPath)
	v.SetDefault("runtime.ort_version", c.Runtime.ORTVersion)
	v.SetDefault("runtime.api_version", c.Runtime.APIVersion)
	v.SetDefault("generate.model", c.Generate.Model)
	v.SetDefault("generate.secs", c.Generate.Secs)
	v.SetDefault("generate.max_tokens", c.Generate.MaxTokens)
	v.SetDefault("generate.temperature", c.Generate.Temperature)
	v.SetDefault("generate.top_k", c.Generate.TopK)
	v.SetDefault("generate.guidance_scale", c.Generate.GuidanceScale)
	v.SetDefault("generate.seed", c.Generate.Seed)
	v.SetDefault("generate.end_token", c.Generate.EndToken)
	v.SetDefault("audio.sample_rate", c.Audio.SampleRate)
	v.SetDefault("audio.channels", c.Audio.Channels)
	v.SetDefault("audio.sample_format", c.Audio.SampleFormat)
	v.SetDefault("audio.play", c.Audio.Play)
	v.SetDefault("audio.fade_ms", c.Audio.FadeMS)
	v.SetDefault("audio.normalize", c.Audio.Normalize)
	v.SetDefault("log_level", c.LogLevel)
}

// bindFlags binds each known flag to its nested key so that explicit flags
// win over config file values while unset flags leave them untouched.
func bindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	for name, key := range flagKeys {
		f := fs.Lookup(name)
		if f == nil {
			continue
		}

		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("bind flag %q: %w", name, err)
		}
	}

	return nil
}
