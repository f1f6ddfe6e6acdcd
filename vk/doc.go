// Copyright (c) 2022, Cogent Core. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

/*
Package vk wraps the parts of the Vulkan API that vkguard needs to
stand up its own device-local state: a logical device and queue, the
buffers backing the shader-export ring and the per-resource /
per-submission validation state, and lightweight wrappers around
application resources and in-flight submissions.

It does not attempt to be a general graphics/compute framework: vkguard
never renders anything of its own. Every type here exists to back one
of the validation layer's own injected buffers or descriptors, using
the https://github.com/goki/vulkan bindings.
*/
package vk
