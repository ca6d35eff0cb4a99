// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package tensors

import (
	"github.com/gomlx/exceptions"
	"github.com/gomlx/smoothgrad/pkg/core/shapes"
	"github.com/x448/float16"
)

// FromFloat16 creates a tensor with the given dimensions from half-precision raw data,
// as produced by models or preprocessing pipelines that store images in float16.
//
// It panics if the size of data is wrong for the shape.
func FromFloat16(data []float16.Float16, dimensions ...int) *Tensor {
	shape := shapes.Make(dimensions...)
	if len(data) != shape.Size() {
		exceptions.Panicf("FromFloat16(%s): data size is %d, but dimensions size is %d",
			shape, len(data), shape.Size())
	}
	t := FromShape(shape)
	for ii, v := range data {
		t.flat[ii] = v.Float32()
	}
	return t
}
