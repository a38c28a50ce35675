package config

import (
	"fmt"
	"strings"
)

// Model variants with pinned download manifests.
const (
	ModelSmall     = "small"
	ModelSmallFP16 = "small-fp16"
	ModelMedium    = "medium"
)

// NormalizeModel canonicalizes a model variant name. Empty selects small;
// the "musicgen-" prefix used by the upstream repositories is accepted.
func NormalizeModel(raw string) (string, error) {
	model := strings.ToLower(strings.TrimSpace(raw))
	model = strings.TrimPrefix(model, "musicgen-")
	if model == "" {
		model = ModelSmall
	}

	switch model {
	case ModelSmall, ModelSmallFP16, ModelMedium:
		return model, nil
	case "small_fp16":
		return ModelSmallFP16, nil
	default:
		return "", fmt.Errorf(
			"invalid model %q (expected %s|%s|%s)",
			raw,
			ModelSmall,
			ModelSmallFP16,
			ModelMedium,
		)
	}
}
