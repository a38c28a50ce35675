package musicgen

import (
	"fmt"
	"strconv"

	"github.com/example/go-musicgen/internal/onnx"
)

// CacheRole selects one of the four per-layer cache tensors.
type CacheRole int

const (
	DecoderKey CacheRole = iota
	DecoderValue
	EncoderKey
	EncoderValue

	numCacheRoles = 4
)

var cacheRoleSuffix = [numCacheRoles]string{
	DecoderKey:   "decoder.key",
	DecoderValue: "decoder.value",
	EncoderKey:   "encoder.key",
	EncoderValue: "encoder.value",
}

func (r CacheRole) String() string {
	if r < 0 || int(r) >= numCacheRoles {
		return "CacheRole(" + strconv.Itoa(int(r)) + ")"
	}

	return cacheRoleSuffix[r]
}

func (r CacheRole) isDecoder() bool {
	return r == DecoderKey || r == DecoderValue
}

// decoderSeqAxis is the sequence dimension of a [batch, heads, seq, head_dim]
// self-attention cache tensor.
const decoderSeqAxis = 2

func pastKeyName(layer int, r CacheRole) string {
	return "past_key_values." + strconv.Itoa(layer) + "." + cacheRoleSuffix[r]
}

func presentKeyName(layer int, r CacheRole) string {
	return "present." + strconv.Itoa(layer) + "." + cacheRoleSuffix[r]
}

type layerKeys struct {
	past    [numCacheRoles]string
	present [numCacheRoles]string
}

// KVCache holds the key/value tensors produced by the decoder for every
// layer. Decoder tensors grow by one position per step; encoder tensors are
// fixed after the first step.
type KVCache struct {
	layers [][numCacheRoles]*onnx.Tensor
	keys   []layerKeys
	filled bool
}

func NewKVCache(layers int) (*KVCache, error) {
	if layers <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidLayers, layers)
	}

	keys := make([]layerKeys, layers)
	for l := range keys {
		for r := range numCacheRoles {
			keys[l].past[r] = pastKeyName(l, CacheRole(r))
			keys[l].present[r] = presentKeyName(l, CacheRole(r))
		}
	}

	return &KVCache{
		layers: make([][numCacheRoles]*onnx.Tensor, layers),
		keys:   keys,
	}, nil
}

func (c *KVCache) Layers() int {
	return len(c.layers)
}

// Filled reports whether the cache holds tensors from at least one step.
func (c *KVCache) Filled() bool {
	return c.filled
}

// Get returns the cached tensor or nil when empty or out of range.
func (c *KVCache) Get(layer int, role CacheRole) *onnx.Tensor {
	if layer < 0 || layer >= len(c.layers) || role < 0 || int(role) >= numCacheRoles {
		return nil
	}

	return c.layers[layer][role]
}

// Update takes the present tensors of one step out of out. The first call
// stores all four roles. Later calls store only the decoder roles, which must
// extend the previous ones by exactly one position along the sequence axis;
// encoder presents are dropped unchecked since the cross-attention cache is
// fixed after the first step. On error the cache is left unchanged.
func (c *KVCache) Update(out *StepOutputs) error {
	next := make([][numCacheRoles]*onnx.Tensor, len(c.layers))
	for l := range c.layers {
		for r := range numCacheRoles {
			role := CacheRole(r)
			name := c.keys[l].present[r]

			if c.filled && !role.isDecoder() {
				out.discard(name)
				next[l][r] = c.layers[l][r]

				continue
			}

			t, err := out.take(name)
			if err != nil {
				return err
			}

			if c.filled {
				if err := checkCacheShape(c.layers[l][r], t); err != nil {
					return fmt.Errorf("layer %d %s: %w", l, role, err)
				}
			}

			next[l][r] = t
		}
	}

	c.layers = next
	c.filled = true

	return nil
}

// Bind adds every cached tensor to in under its past_key_values name.
func (c *KVCache) Bind(in *StepInputs) {
	for l := range c.layers {
		for r := range numCacheRoles {
			if t := c.layers[l][r]; t != nil {
				in.set(c.keys[l].past[r], t)
			}
		}
	}
}

// Reset drops every tensor.
func (c *KVCache) Reset() {
	clear(c.layers)
	c.filled = false
}

// checkCacheShape validates a decoder role update.
func checkCacheShape(prev, next *onnx.Tensor) error {
	if prev == nil {
		return nil
	}

	ps, ns := prev.Shape(), next.Shape()
	if len(ps) != len(ns) {
		return fmt.Errorf("%w: rank %d -> %d", ErrCacheShape, len(ps), len(ns))
	}

	if len(ns) <= decoderSeqAxis {
		return fmt.Errorf("%w: rank %d has no sequence axis", ErrCacheShape, len(ns))
	}

	for i := range ns {
		want := ps[i]
		if i == decoderSeqAxis {
			want++
		}

		if ns[i] != want {
			return fmt.Errorf("%w: %v -> %v", ErrCacheShape, ps, ns)
		}
	}

	return nil
}
