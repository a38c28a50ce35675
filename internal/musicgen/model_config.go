package musicgen

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ModelConfig holds the decoder and codec constants of a MusicGen checkpoint.
type ModelConfig struct {
	Codebooks     int
	VocabSize     int
	Layers        int
	SampleRate    int
	FrameRate     int
	MaxTextTokens int

	// PadTokenID fills the delayed positions of codebooks that have not
	// started yet.
	PadTokenID int64

	// Generation defaults from generation_config.json.
	GuidanceScale float64
	TopK          int
}

// DefaultModelConfig returns the constants of musicgen-small.
func DefaultModelConfig() ModelConfig {
	return ModelConfig{
		Codebooks:     4,
		VocabSize:     2048,
		Layers:        24,
		PadTokenID:    2048,
		SampleRate:    32000,
		FrameRate:     50,
		MaxTextTokens: 512,
		GuidanceScale: 3.0,
		TopK:          250,
	}
}

// TokensForSecs converts a duration to decoder steps at the codec frame rate.
func (c ModelConfig) TokensForSecs(secs int) int {
	return secs * c.FrameRate
}

// Validate rejects configurations the decode loop cannot run.
func (c ModelConfig) Validate() error {
	switch {
	case c.Codebooks <= 0:
		return fmt.Errorf("%w: got %d", ErrInvalidCodebooks, c.Codebooks)
	case c.Layers <= 0:
		return fmt.Errorf("%w: got %d", ErrInvalidLayers, c.Layers)
	case c.VocabSize <= 0:
		return fmt.Errorf("musicgen: vocab size must be positive, got %d", c.VocabSize)
	case c.SampleRate <= 0:
		return fmt.Errorf("musicgen: sample rate must be positive, got %d", c.SampleRate)
	}

	return nil
}

// rawMusicgenConfig mirrors the parts of a Hugging Face MusicGen config.json
// that the decode loop depends on.
type rawMusicgenConfig struct {
	Decoder struct {
		NumCodebooks    int    `json:"num_codebooks"`
		VocabSize       int    `json:"vocab_size"`
		NumHiddenLayers int    `json:"num_hidden_layers"`
		PadTokenID      *int64 `json:"pad_token_id"`
	} `json:"decoder"`
	AudioEncoder struct {
		SamplingRate int `json:"sampling_rate"`
		FrameRate    int `json:"frame_rate"`
	} `json:"audio_encoder"`
	DecoderStartTokenID *int64 `json:"decoder_start_token_id"`
}

type rawGenerationConfig struct {
	GuidanceScale *float64 `json:"guidance_scale"`
	TopK          *int     `json:"top_k"`
}

// LoadModelConfig reads config.json and generation_config.json from dir.
// Missing files leave the musicgen-small defaults in place; malformed files
// are errors.
func LoadModelConfig(dir string) (ModelConfig, error) {
	cfg := DefaultModelConfig()

	var raw rawMusicgenConfig
	found, err := readJSON(filepath.Join(dir, "config.json"), &raw)
	if err != nil {
		return ModelConfig{}, err
	}

	if found {
		setIfPositive(&cfg.Codebooks, raw.Decoder.NumCodebooks)
		setIfPositive(&cfg.VocabSize, raw.Decoder.VocabSize)
		setIfPositive(&cfg.Layers, raw.Decoder.NumHiddenLayers)
		setIfPositive(&cfg.SampleRate, raw.AudioEncoder.SamplingRate)
		setIfPositive(&cfg.FrameRate, raw.AudioEncoder.FrameRate)

		// Older exports omit the decoder pad id; their start token is
		// the same id.
		switch {
		case raw.Decoder.PadTokenID != nil:
			cfg.PadTokenID = *raw.Decoder.PadTokenID
		case raw.DecoderStartTokenID != nil:
			cfg.PadTokenID = *raw.DecoderStartTokenID
		}
	}

	var gen rawGenerationConfig
	found, err = readJSON(filepath.Join(dir, "generation_config.json"), &gen)
	if err != nil {
		return ModelConfig{}, err
	}

	if found {
		if gen.GuidanceScale != nil {
			cfg.GuidanceScale = *gen.GuidanceScale
		}

		if gen.TopK != nil {
			cfg.TopK = *gen.TopK
		}
	}

	if err := cfg.Validate(); err != nil {
		return ModelConfig{}, err
	}

	return cfg, nil
}

func readJSON(path string, v any) (bool, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}

	if err != nil {
		return false, fmt.Errorf("reading %s: %w", filepath.Base(path), err)
	}

	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("parsing %s: %w", filepath.Base(path), err)
	}

	return true, nil
}

func setIfPositive(dst *int, v int) {
	if v > 0 {
		*dst = v
	}
}
