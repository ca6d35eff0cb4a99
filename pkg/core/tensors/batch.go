// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package tensors

import (
	"github.com/gomlx/exceptions"
	"github.com/gomlx/smoothgrad/pkg/core/shapes"
	"github.com/pkg/errors"
)

// Slice returns a new tensor with the rows [from, to) of the leading axis.
// The values are copied, so the result doesn't alias t.
//
// It panics if the range is out of bounds or if t is a scalar.
func (t *Tensor) Slice(from, to int) *Tensor {
	t.AssertValid()
	if t.Rank() == 0 {
		exceptions.Panicf("Tensor.Slice(%d, %d) on scalar tensor", from, to)
	}
	numRows := t.shape.Dimensions[0]
	if from < 0 || to > numRows || from > to {
		exceptions.Panicf("Tensor.Slice(%d, %d) out of bounds for tensor shaped %s", from, to, t.shape)
	}
	rowSize := t.shape.Element().Size()
	out := FromShape(t.shape.Element().WithBatch(to - from))
	copy(out.flat, t.flat[from*rowSize:to*rowSize])
	return out
}

// Row returns the flat values of row i of the leading axis, without copying:
// changing the returned slice changes t.
func (t *Tensor) Row(i int) []float32 {
	if t.Rank() == 0 {
		exceptions.Panicf("Tensor.Row(%d) on scalar tensor", i)
	}
	if i < 0 || i >= t.shape.Dimensions[0] {
		exceptions.Panicf("Tensor.Row(%d) out of bounds for tensor shaped %s", i, t.shape)
	}
	rowSize := t.shape.Element().Size()
	return t.flat[i*rowSize : (i+1)*rowSize]
}

// Stack creates a new tensor with a new leading axis, holding a copy of each of the given
// tensors. All tensors must have the same shape.
func Stack(elements ...*Tensor) (*Tensor, error) {
	if len(elements) == 0 {
		return nil, errors.New("tensors.Stack requires at least one tensor")
	}
	elementShape := elements[0].Shape()
	out := FromShape(elementShape.WithBatch(len(elements)))
	rowSize := elementShape.Size()
	for ii, element := range elements {
		if element == nil {
			return nil, errors.Errorf("tensors.Stack: element #%d is nil", ii)
		}
		if !element.shape.Equal(elementShape) {
			return nil, errors.Errorf("tensors.Stack: element #%d has shape %s, but element #0 has shape %s",
				ii, element.shape, elementShape)
		}
		copy(out.flat[ii*rowSize:], element.flat)
	}
	return out, nil
}

// Concatenate the given tensors along the leading axis.
// All tensors must have the same rank and the same dimensions on every axis but the first.
func Concatenate(parts ...*Tensor) (*Tensor, error) {
	if len(parts) == 0 {
		return nil, errors.New("tensors.Concatenate requires at least one tensor")
	}
	var elementShape shapes.Shape
	numRows := 0
	for ii, part := range parts {
		if part == nil {
			return nil, errors.Errorf("tensors.Concatenate: part #%d is nil", ii)
		}
		if part.Rank() == 0 {
			return nil, errors.Errorf("tensors.Concatenate: part #%d is a scalar", ii)
		}
		if ii == 0 {
			elementShape = part.shape.Element()
		} else if !part.shape.Element().Equal(elementShape) {
			return nil, errors.Errorf("tensors.Concatenate: part #%d has shape %s, incompatible with part #0 shape %s",
				ii, part.shape, parts[0].shape)
		}
		numRows += part.shape.Dimensions[0]
	}
	out := FromShape(elementShape.WithBatch(numRows))
	pos := 0
	for _, part := range parts {
		pos += copy(out.flat[pos:], part.flat)
	}
	return out, nil
}
