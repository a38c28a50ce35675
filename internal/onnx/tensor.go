package onnx

import (
	"errors"
	"fmt"
	"math"

	"github.com/x448/float16"
)

type TensorDType string

const (
	DTypeFloat32 TensorDType = "float32"
	DTypeFloat16 TensorDType = "float16"
	DTypeInt64   TensorDType = "int64"
	DTypeBool    TensorDType = "bool"
)

// ErrDType is returned when a tensor does not hold the requested element type.
var ErrDType = errors.New("unexpected tensor dtype")

// Tensor is a dense host tensor passed to and from graph runners.
// Float16 data is kept as raw IEEE 754 half-precision bit patterns.
type Tensor struct {
	dtype TensorDType
	shape []int64
	data  any
}

func NewTensor[T ~int64 | ~float32](data []T, shape []int64) (*Tensor, error) {
	if err := validateShapeAgainstData(shape, len(data)); err != nil {
		return nil, err
	}

	t := &Tensor{shape: append([]int64(nil), shape...)}

	var zero T
	switch any(zero).(type) {
	case float32:
		converted := make([]float32, len(data))
		for i, v := range data {
			converted[i] = float32(v)
		}
		t.dtype, t.data = DTypeFloat32, converted
	case int64:
		converted := make([]int64, len(data))
		for i, v := range data {
			converted[i] = int64(v)
		}
		t.dtype, t.data = DTypeInt64, converted
	default:
		return nil, fmt.Errorf("unsupported tensor data type %T", zero)
	}

	return t, nil
}

// NewBoolTensor builds a bool tensor, used for graph branch selectors.
func NewBoolTensor(data []bool, shape []int64) (*Tensor, error) {
	if err := validateShapeAgainstData(shape, len(data)); err != nil {
		return nil, err
	}

	return &Tensor{
		dtype: DTypeBool,
		shape: append([]int64(nil), shape...),
		data:  append([]bool(nil), data...),
	}, nil
}

// NewFloat16Tensor builds a half-precision tensor from raw bit patterns.
func NewFloat16Tensor(bits []uint16, shape []int64) (*Tensor, error) {
	if err := validateShapeAgainstData(shape, len(bits)); err != nil {
		return nil, err
	}

	return &Tensor{
		dtype: DTypeFloat16,
		shape: append([]int64(nil), shape...),
		data:  append([]uint16(nil), bits...),
	}, nil
}

func (t *Tensor) DType() TensorDType {
	return t.dtype
}

func (t *Tensor) Shape() []int64 {
	return append([]int64(nil), t.shape...)
}

// Rank returns the number of dimensions.
func (t *Tensor) Rank() int {
	return len(t.shape)
}

// Dim returns dimension i, or 0 when i is out of range.
func (t *Tensor) Dim(i int) int64 {
	if i < 0 || i >= len(t.shape) {
		return 0
	}

	return t.shape[i]
}

func (t *Tensor) Data() any {
	switch v := t.data.(type) {
	case []float32:
		return append([]float32(nil), v...)
	case []int64:
		return append([]int64(nil), v...)
	case []bool:
		return append([]bool(nil), v...)
	case []uint16:
		return append([]uint16(nil), v...)
	default:
		return nil
	}
}

// SameShape reports whether both tensors have identical dimensions.
func SameShape(a, b *Tensor) bool {
	if a == nil || b == nil || len(a.shape) != len(b.shape) {
		return false
	}

	for i := range a.shape {
		if a.shape[i] != b.shape[i] {
			return false
		}
	}

	return true
}

func ExtractFloat32(t *Tensor) ([]float32, error) {
	if t == nil {
		return nil, errors.New("expected float32 tensor, got nil")
	}

	data, ok := t.data.([]float32)
	if !ok {
		return nil, fmt.Errorf("%w: expected float32, got %s", ErrDType, t.dtype)
	}

	return append([]float32(nil), data...), nil
}

// WidenFloat32 returns the tensor values as float32, converting from
// half precision when needed. Any other dtype is rejected.
func WidenFloat32(t *Tensor) ([]float32, error) {
	if t == nil {
		return nil, errors.New("expected floating-point tensor, got nil")
	}

	switch data := t.data.(type) {
	case []float32:
		return append([]float32(nil), data...), nil
	case []uint16:
		out := make([]float32, len(data))
		for i, bits := range data {
			out[i] = float16.Frombits(bits).Float32()
		}

		return out, nil
	default:
		return nil, fmt.Errorf("%w: expected float32 or float16, got %s", ErrDType, t.dtype)
	}
}

func ExtractInt64(t *Tensor) ([]int64, error) {
	if t == nil {
		return nil, errors.New("expected int64 tensor, got nil")
	}

	data, ok := t.data.([]int64)
	if !ok {
		return nil, fmt.Errorf("%w: expected int64, got %s", ErrDType, t.dtype)
	}

	return append([]int64(nil), data...), nil
}

func ExtractBool(t *Tensor) ([]bool, error) {
	if t == nil {
		return nil, errors.New("expected bool tensor, got nil")
	}

	data, ok := t.data.([]bool)
	if !ok {
		return nil, fmt.Errorf("%w: expected bool, got %s", ErrDType, t.dtype)
	}

	return append([]bool(nil), data...), nil
}

func validateShapeAgainstData(shape []int64, dataLen int) error {
	count, err := elementCount(shape)
	if err != nil {
		return err
	}
	if count != dataLen {
		return fmt.Errorf("shape %v expects %d elements, got %d", shape, count, dataLen)
	}
	return nil
}

func elementCount(shape []int64) (int, error) {
	if len(shape) == 0 {
		return 1, nil
	}
	count := int64(1)
	for i, dim := range shape {
		if dim < 1 {
			return 0, fmt.Errorf("shape[%d]=%d is not positive", i, dim)
		}
		if count > math.MaxInt64/dim {
			return 0, fmt.Errorf("shape %v overflows element count", shape)
		}
		count *= dim
	}
	if count > int64(math.MaxInt) {
		return 0, fmt.Errorf("shape %v exceeds platform int capacity", shape)
	}
	return int(count), nil
}

// ConcatTensorsDim0 stacks two float32 or int64 tensors along the batch dimension.
// Both tensors must have the same rank and matching trailing dimensions.
func ConcatTensorsDim0(a, b *Tensor) (*Tensor, error) {
	aShape := a.Shape()
	bShape := b.Shape()
	if len(aShape) == 0 || len(aShape) != len(bShape) {
		return nil, fmt.Errorf("ConcatTensorsDim0: rank mismatch: %dD vs %dD", len(aShape), len(bShape))
	}
	for i := 1; i < len(aShape); i++ {
		if aShape[i] != bShape[i] {
			return nil, fmt.Errorf("ConcatTensorsDim0: dim %d mismatch: %d vs %d", i, aShape[i], bShape[i])
		}
	}

	outShape := append([]int64(nil), aShape...)
	outShape[0] = aShape[0] + bShape[0]

	switch a.dtype {
	case DTypeFloat32:
		aData, err := ExtractFloat32(a)
		if err != nil {
			return nil, fmt.Errorf("ConcatTensorsDim0: extract a: %w", err)
		}
		bData, err := ExtractFloat32(b)
		if err != nil {
			return nil, fmt.Errorf("ConcatTensorsDim0: extract b: %w", err)
		}
		return NewTensor(append(aData, bData...), outShape)
	case DTypeInt64:
		aData, err := ExtractInt64(a)
		if err != nil {
			return nil, fmt.Errorf("ConcatTensorsDim0: extract a: %w", err)
		}
		bData, err := ExtractInt64(b)
		if err != nil {
			return nil, fmt.Errorf("ConcatTensorsDim0: extract b: %w", err)
		}
		return NewTensor(append(aData, bData...), outShape)
	default:
		return nil, fmt.Errorf("ConcatTensorsDim0: %w: %s", ErrDType, a.dtype)
	}
}

// ZerosLike returns a zero-filled tensor with the dtype and shape of t.
func ZerosLike(t *Tensor) (*Tensor, error) {
	count, err := elementCount(t.shape)
	if err != nil {
		return nil, err
	}

	switch t.dtype {
	case DTypeFloat32:
		return NewTensor(make([]float32, count), t.shape)
	case DTypeInt64:
		return NewTensor(make([]int64, count), t.shape)
	case DTypeBool:
		return NewBoolTensor(make([]bool, count), t.shape)
	case DTypeFloat16:
		return NewFloat16Tensor(make([]uint16, count), t.shape)
	default:
		return nil, fmt.Errorf("ZerosLike: %w: %s", ErrDType, t.dtype)
	}
}
