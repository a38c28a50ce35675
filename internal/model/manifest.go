package model

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/example/go-musicgen/internal/config"
)

// Manifest pins the files of one MusicGen variant.
type Manifest struct {
	Variant string      `json:"variant"`
	Files   []ModelFile `json:"files"`
}

// ModelFile is one file fetched from a Hugging Face repository. Remote is
// the path inside the repository; Filename is where it lands locally.
type ModelFile struct {
	Repo     string `json:"repo"`
	Remote   string `json:"remote"`
	Filename string `json:"filename"`
	Revision string `json:"revision"`
	SHA256   string `json:"sha256"`
}

const (
	tokenizerRepo = "google-t5/t5-base"
	defaultRev    = "main"
)

// Variants lists the model names PinnedManifest knows about.
func Variants() []string {
	return []string{config.ModelSmall, config.ModelSmallFP16, config.ModelMedium}
}

// PinnedManifest returns the download list for a model variant. Checksums
// left empty are recorded in the lock manifest on first download.
func PinnedManifest(variant string) (Manifest, error) {
	name := config.NormalizeModel(variant)
	if !slices.Contains(Variants(), name) {
		return Manifest{}, fmt.Errorf("no pinned manifest for model %q", variant)
	}

	repo := "Xenova/musicgen-small"
	suffix := ".onnx"
	switch name {
	case config.ModelSmallFP16:
		suffix = "_fp16.onnx"
	case config.ModelMedium:
		repo = "Xenova/musicgen-medium"
	}

	files := []ModelFile{
		{Repo: repo, Remote: "config.json", Filename: "config.json"},
		{Repo: repo, Remote: "generation_config.json", Filename: "generation_config.json"},
		{Repo: tokenizerRepo, Remote: "spiece.model", Filename: "spiece.model"},
	}
	for _, graph := range []string{"text_encoder", "decoder_model_merged", "encodec_decode"} {
		files = append(files, ModelFile{
			Repo:     repo,
			Remote:   "onnx/" + graph + suffix,
			Filename: graph + suffix,
		})
	}

	for i := range files {
		files[i].Revision = defaultRev
	}

	return Manifest{Variant: name, Files: files}, nil
}

// MissingFiles returns the manifest files of variant that are absent from dir.
func MissingFiles(dir, variant string) ([]string, error) {
	m, err := PinnedManifest(variant)
	if err != nil {
		return nil, err
	}

	var missing []string
	for _, f := range m.Files {
		if _, err := os.Stat(filepath.Join(dir, filepath.FromSlash(f.Filename))); err != nil {
			missing = append(missing, f.Filename)
		}
	}

	return missing, nil
}
