// Copyright (c) 2022, Cogent Core. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build (linux && cgo) || (darwin && cgo) || (freebsd && cgo)

package vk

// #cgo LDFLAGS: -ldl
// #include <stdlib.h>
// #include <dlfcn.h>
import "C"
import (
	"fmt"
	"unsafe"

	vk "github.com/goki/vulkan"
)

// IsLoaded is true once LoadVulkan has successfully run.
var IsLoaded = false

// LoadVulkan dlopen's the platform Vulkan loader and wires up
// goki/vulkan's function pointers. vkguard's own demo harness needs
// this because, unlike the application it instruments, it is not
// already running inside a process that has loaded Vulkan via some
// other path (glfw, SDL, etc).
func LoadVulkan() error {
	if IsLoaded {
		return nil
	}
	clibnm := C.CString(dlName)
	defer C.free(unsafe.Pointer(clibnm))
	handle := C.dlopen(clibnm, C.RTLD_LAZY)
	if handle == nil {
		return fmt.Errorf("vk: Vulkan library named %q not found", dlName)
	}
	cpAddr := C.CString("vkGetInstanceProcAddr")
	defer C.free(unsafe.Pointer(cpAddr))
	pAddr := C.dlsym(handle, cpAddr)
	if pAddr == nil {
		return fmt.Errorf("vk: vkGetInstanceProcAddr not found")
	}
	vk.SetGetInstanceProcAddr(pAddr)
	IsLoaded = true
	return vk.Init()
}
