package musicgen

import "github.com/example/go-musicgen/internal/onnx"

// Graph names registered with the onnx engine.
const (
	GraphTextEncoder = "text_encoder"
	GraphDecoder     = "decoder_model_merged"
	GraphAudioCodec  = "encodec_decode"
)

// TokenizerFile is the T5 SentencePiece model inside a model directory.
const TokenizerFile = "spiece.model"

// DefaultGraphs lists the graph files of an exported MusicGen checkpoint.
// Half-precision exports carry an _fp16 suffix on every file.
func DefaultGraphs(fp16 bool) []onnx.GraphFile {
	suffix := ".onnx"
	if fp16 {
		suffix = "_fp16.onnx"
	}

	return []onnx.GraphFile{
		{Name: GraphTextEncoder, Filename: "text_encoder" + suffix},
		{Name: GraphDecoder, Filename: "decoder_model_merged" + suffix},
		{Name: GraphAudioCodec, Filename: "encodec_decode" + suffix},
	}
}
