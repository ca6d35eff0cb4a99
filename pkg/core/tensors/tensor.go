// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package tensors implement a `Tensor`, a dense multidimensional array of float32 values
// stored locally in row-major order.
//
// Tensors are used for the preprocessed image samples, for batches of noised replicas
// and for the gradients returned by a model. There are various ways to construct one:
//
//   - FromShape(shape shapes.Shape): creates a tensor with the given shape, and zero values.
//
//   - FromScalarAndDimensions(value float32, dimensions ...int): creates a Tensor with the
//     given dimensions, filled with the scalar value given.
//
//   - FromFlatDataAndDimensions[T](data []T, dimensions ...int): creates a Tensor with the
//     given dimensions and set the flattened values, converted to float32, with the given data.
//     Example:
//
//     t := FromFlatDataAndDimensions([]int8{1, 2, 3, 4}, 2, 2) // Tensor with [[1,2], [3,4]]
//
//   - FromFloat16(data []float16.Float16, dimensions ...int): converts half-precision raw data.
//
// Batched tensors use the leading axis as the batch axis, see Stack, Concatenate and Tensor.Slice.
package tensors

import (
	"fmt"
	"math"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/smoothgrad/pkg/core/shapes"
	"golang.org/x/exp/constraints"
)

// Tensor is a dense float32 multidimensional array.
//
// The zero value is not valid: use one of the constructors.
type Tensor struct {
	shape shapes.Shape
	flat  []float32
}

// FromShape returns a zero-initialized tensor with the given shape.
func FromShape(shape shapes.Shape) *Tensor {
	return &Tensor{
		shape: shape.Clone(),
		flat:  make([]float32, shape.Size()),
	}
}

// FromScalarAndDimensions creates a tensor with the given dimensions, filled with the
// given scalar value replicated everywhere.
func FromScalarAndDimensions(value float32, dimensions ...int) *Tensor {
	t := FromShape(shapes.Make(dimensions...))
	for ii := range t.flat {
		t.flat[ii] = value
	}
	return t
}

// FromFlatDataAndDimensions creates a tensor with the given dimensions, filled with the flattened values given in `data`.
// The data is copied (and converted to float32) to the Tensor.
//
// It panics if the size of data is wrong for the shape.
func FromFlatDataAndDimensions[T constraints.Float | constraints.Integer](data []T, dimensions ...int) *Tensor {
	shape := shapes.Make(dimensions...)
	if len(data) != shape.Size() {
		exceptions.Panicf(
			"FromFlatDataAndDimensions(%s): data size is %d, but dimensions size is %d",
			shape, len(data), shape.Size())
	}
	t := FromShape(shape)
	for ii, v := range data {
		t.flat[ii] = float32(v)
	}
	return t
}

// AssertValid panics if the tensor is nil or was not created with one of the constructors.
func (t *Tensor) AssertValid() {
	if t == nil {
		exceptions.Panicf("tensor is nil")
	}
	if len(t.flat) != t.shape.Size() {
		exceptions.Panicf("tensor has shape %s but holds %d values, it was not properly constructed", t.shape, len(t.flat))
	}
}

// Shape of the tensor.
func (t *Tensor) Shape() shapes.Shape { return t.shape }

// Rank of the tensor.
func (t *Tensor) Rank() int { return t.shape.Rank() }

// Size is the number of elements of the tensor.
func (t *Tensor) Size() int { return len(t.flat) }

// Dim returns the dimension of the given axis, see shapes.Shape.Dim.
func (t *Tensor) Dim(axis int) int { return t.shape.Dim(axis) }

// Memory used by the tensor values, in bytes.
func (t *Tensor) Memory() uintptr { return t.shape.Memory() }

// Flat returns the underlying flat values, in row-major order.
//
// The slice is owned by the tensor: changing it changes the tensor.
func (t *Tensor) Flat() []float32 { return t.flat }

// CopyFlat returns a copy of the flat values, converted to float64.
func (t *Tensor) CopyFlat() []float64 {
	out := make([]float64, len(t.flat))
	for ii, v := range t.flat {
		out[ii] = float64(v)
	}
	return out
}

// At returns the element at the given indices. It panics if the indices are out of bounds.
func (t *Tensor) At(indices ...int) float32 {
	return t.flat[t.flatIndex(indices)]
}

// Set the element at the given indices to value. It panics if the indices are out of bounds.
func (t *Tensor) Set(value float32, indices ...int) {
	t.flat[t.flatIndex(indices)] = value
}

func (t *Tensor) flatIndex(indices []int) int {
	if len(indices) != t.Rank() {
		exceptions.Panicf("tensor of shape %s indexed with %d indices", t.shape, len(indices))
	}
	idx := 0
	for axis, stride := range t.shape.Strides() {
		if indices[axis] < 0 || indices[axis] >= t.shape.Dimensions[axis] {
			exceptions.Panicf("index %d out of bounds for axis %d of tensor shaped %s", indices[axis], axis, t.shape)
		}
		idx += indices[axis] * stride
	}
	return idx
}

// Clone returns a deep copy of the tensor.
func (t *Tensor) Clone() *Tensor {
	t.AssertValid()
	clone := FromShape(t.shape)
	copy(clone.flat, t.flat)
	return clone
}

// Reshape returns a tensor sharing the same data with new dimensions.
// It panics if the new dimensions don't have the same size.
func (t *Tensor) Reshape(dimensions ...int) *Tensor {
	shape := shapes.Make(dimensions...)
	if shape.Size() != t.Size() {
		exceptions.Panicf("cannot reshape tensor shaped %s to %s: different sizes", t.shape, shape)
	}
	return &Tensor{shape: shape, flat: t.flat}
}

// Equal checks weather t == otherTensor.
// If they are the same pointer, they are considered equal.
// If the shapes are different, it returns false.
func (t *Tensor) Equal(otherTensor *Tensor) bool {
	t.AssertValid()
	otherTensor.AssertValid()
	if t == otherTensor {
		return true
	}
	if !t.shape.Equal(otherTensor.shape) {
		return false
	}
	for ii, v := range t.flat {
		if v != otherTensor.flat[ii] {
			return false
		}
	}
	return true
}

// InDelta checks weather Abs(t - otherTensor) <= delta for every element.
// If the shapes are different, it returns false.
func (t *Tensor) InDelta(otherTensor *Tensor, delta float64) bool {
	t.AssertValid()
	otherTensor.AssertValid()
	if t == otherTensor {
		return true
	}
	if !t.shape.Equal(otherTensor.shape) {
		return false
	}
	for ii, v := range t.flat {
		if math.Abs(float64(v)-float64(otherTensor.flat[ii])) > delta {
			return false
		}
	}
	return true
}

// MinMax returns the smallest and largest values of the tensor.
// It returns NaNs for a zero-sized tensor.
func (t *Tensor) MinMax() (minValue, maxValue float32) {
	if len(t.flat) == 0 {
		nan := float32(math.NaN())
		return nan, nan
	}
	minValue, maxValue = t.flat[0], t.flat[0]
	for _, v := range t.flat[1:] {
		minValue = min(minValue, v)
		maxValue = max(maxValue, v)
	}
	return
}

// TensorStringMaxValues is the number of values printed by Tensor.String before eliding the rest.
const TensorStringMaxValues = 16

// String prints the shape and the first values of the tensor.
func (t *Tensor) String() string {
	if t == nil {
		return "<nil tensor>"
	}
	var sb strings.Builder
	sb.WriteString(t.shape.String())
	sb.WriteString("{")
	for ii, v := range t.flat {
		if ii == TensorStringMaxValues {
			fmt.Fprintf(&sb, ", ...(%d more)", len(t.flat)-ii)
			break
		}
		if ii > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "%.4g", v)
	}
	sb.WriteString("}")
	return sb.String()
}
