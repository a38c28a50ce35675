package main

import (
	"bytes"
	"testing"

	"github.com/example/go-musicgen/internal/config"
)

func TestNewRootCmd_HasExpectedSubcommands(t *testing.T) {
	root := NewRootCmd()

	want := []string{"generate", "play", "bench", "model", "doctor"}
	for _, name := range want {
		found := false

		for _, sub := range root.Commands() {
			if sub.Name() == name {
				found = true
				break
			}
		}

		if !found {
			t.Errorf("expected subcommand %q not found in root", name)
		}
	}
}

func TestNewRootCmd_HasPersistentConfigFlag(t *testing.T) {
	root := NewRootCmd()
	if root.PersistentFlags().Lookup("config") == nil {
		t.Error("expected --config persistent flag to be registered")
	}

	if root.PersistentFlags().Lookup("guidance-scale") == nil {
		t.Error("expected config flags to be registered as persistent flags")
	}
}

func TestSetupLogger_DoesNotPanic(_ *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error", "not-a-level"} {
		setupLogger(level)
	}
}

func TestRequireConfig(t *testing.T) {
	orig := activeCfg
	t.Cleanup(func() { activeCfg = orig })

	activeCfg = config.Config{}
	if _, err := requireConfig(); err == nil {
		t.Fatal("expected error when config is not loaded")
	}

	activeCfg = config.Config{Paths: config.PathsConfig{ModelDir: "/some/model"}}
	got, err := requireConfig()
	if err != nil {
		t.Fatalf("requireConfig returned unexpected error: %v", err)
	}

	if got.Paths.ModelDir != "/some/model" {
		t.Errorf("unexpected ModelDir: %q", got.Paths.ModelDir)
	}
}

// runRoot executes the CLI in a temp working directory so no stray
// musicgen.yaml is picked up.
func runRoot(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	t.Chdir(t.TempDir())

	orig := activeCfg
	t.Cleanup(func() { activeCfg = orig })

	var stdout, stderr bytes.Buffer

	root := NewRootCmd()
	root.SetArgs(args)
	root.SetIn(bytes.NewBufferString(stdin))
	root.SetOut(&stdout)
	root.SetErr(&stderr)

	err := root.Execute()

	return stdout.String(), stderr.String(), err
}

func TestRoot_InvalidModelRejected(t *testing.T) {
	_, _, err := runRoot(t, "", "model", "verify", "--model", "gigantic")
	if err == nil {
		t.Fatal("expected error for unknown model variant")
	}
}
