// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package shapes defines Shape, the dimensions of the dense float32 tensors used by
// the interpretation engine.
//
// All tensors hold float32 values, so a Shape is only its list of dimensions. The
// leading axis is the batch axis whenever a tensor holds more than one sample: an
// image batch is shaped `[batch, channels, height, width]` and a single sample
// `[channels, height, width]`.
//
// Functions that receive invalid arguments panic with `exceptions.Panicf`: shapes are
// built by code, and a negative dimension is a bug, not a runtime condition.
package shapes

import (
	"fmt"
	"slices"

	"github.com/gomlx/exceptions"
)

// Float32Memory is the number of bytes used by each element.
const Float32Memory = 4

// Shape of a tensor.
//
// Use Make to create a new shape.
type Shape struct {
	Dimensions []int
}

// Make returns a Shape with the given dimensions.
//
// Dimensions can be zero (a zero-sized tensor), but not negative.
func Make(dimensions ...int) Shape {
	s := Shape{Dimensions: slices.Clone(dimensions)}
	for _, dim := range dimensions {
		if dim < 0 {
			exceptions.Panicf("shapes.Make(%v): cannot create a shape with an axis with dimension < 0", dimensions)
		}
	}
	return s
}

// Rank of the shape, that is, the number of dimensions.
func (s Shape) Rank() int { return len(s.Dimensions) }

// IsScalar returns whether the shape represents a scalar, that is there are no dimensions (rank==0).
func (s Shape) IsScalar() bool { return s.Rank() == 0 }

// Dim returns the dimension of the given axis. axis can take negative numbers, in which
// case it counts as starting from the end -- so axis=-1 refers to the last axis.
// Like with a slice indexing, it panics for an out-of-bound axis.
func (s Shape) Dim(axis int) int {
	adjustedAxis := axis
	if adjustedAxis < 0 {
		adjustedAxis += s.Rank()
	}
	if adjustedAxis < 0 || adjustedAxis >= s.Rank() {
		exceptions.Panicf("Shape.Dim(%d) out-of-bounds for rank %d (shape=%s)", axis, s.Rank(), s)
	}
	return s.Dimensions[adjustedAxis]
}

// String implements stringer, pretty-prints the shape.
func (s Shape) String() string {
	if s.Rank() == 0 {
		return "(F32)"
	}
	return fmt.Sprintf("(F32)%v", s.Dimensions)
}

// Size returns the number of elements needed for this shape. It's the product of all dimensions.
func (s Shape) Size() (size int) {
	size = 1
	for _, d := range s.Dimensions {
		size *= d
	}
	return
}

// IsZeroSize returns whether any of the axes has dimension 0.
func (s Shape) IsZeroSize() bool {
	return slices.Contains(s.Dimensions, 0)
}

// Memory returns the number of bytes used to store a tensor of the given shape.
func (s Shape) Memory() uintptr {
	return Float32Memory * uintptr(s.Size())
}

// Equal compares two shapes for equality.
func (s Shape) Equal(s2 Shape) bool {
	return slices.Equal(s.Dimensions, s2.Dimensions)
}

// Clone returns a new deep copy of the shape.
func (s Shape) Clone() Shape {
	return Shape{Dimensions: slices.Clone(s.Dimensions)}
}

// Strides returns the strides for each axis of the shape, assuming a "row-major" layout.
//
// Notice the strides are **not in bytes**, but in indices.
func (s Shape) Strides() (strides []int) {
	rank := s.Rank()
	if rank == 0 {
		return
	}
	strides = make([]int, rank)
	if s.IsZeroSize() {
		return
	}
	currentStride := 1
	for axis := rank - 1; axis >= 0; axis-- {
		strides[axis] = currentStride
		currentStride *= s.Dimensions[axis]
	}
	return
}

// Element returns the shape of one element along the leading (batch) axis: the shape
// with its first axis removed.
//
// It panics for scalars.
func (s Shape) Element() Shape {
	if s.IsScalar() {
		exceptions.Panicf("Shape.Element() of scalar shape %s", s)
	}
	return Make(s.Dimensions[1:]...)
}

// WithBatch returns a new shape with a leading batch axis of the given size prepended.
func (s Shape) WithBatch(batchSize int) Shape {
	dims := make([]int, 0, s.Rank()+1)
	dims = append(dims, batchSize)
	dims = append(dims, s.Dimensions...)
	return Make(dims...)
}
