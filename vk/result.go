// Copyright (c) 2022, Cogent Core. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package vk

import (
	"fmt"

	vk "github.com/goki/vulkan"
)

// IsError reports whether ret is a Vulkan error result.
func IsError(ret vk.Result) bool {
	return ret != vk.Success
}

// NewError wraps a non-success Vulkan result as an error, or returns
// nil if ret is vk.Success.
func NewError(ret vk.Result) error {
	if ret == vk.Success {
		return nil
	}
	return fmt.Errorf("vk: %s", vk.Error(ret))
}

// IfPanic panics if err is non-nil. This package's object-creation
// helpers (the device, buffers and their memory, command pools and
// buffers, fences, semaphores) and CmdEnd call it on their Vulkan
// results, so a failure there aborts the process instead of returning
// an error.
func IfPanic(err error) {
	if err != nil {
		panic(err)
	}
}
