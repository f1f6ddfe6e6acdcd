// Copyright (c) 2022, Cogent Core. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package vk

import (
	"errors"
	"unsafe"

	vk "github.com/goki/vulkan"
)

// GPU holds the physical device and instance-level state vkguard
// needs to size and allocate its own buffers. It is intentionally
// thin: the physical device and instance are assumed to already
// exist, owned by the (out-of-scope) API interception layer, and are
// only handed to vkguard so it can query limits and memory types.
type GPU struct {

	// physical device
	GPU vk.PhysicalDevice

	// cached physical device properties, including Limits
	GPUProperties vk.PhysicalDeviceProperties

	// cached memory properties, used to find compatible memory types
	MemoryProperties vk.PhysicalDeviceMemoryProperties

	// device extensions required for the validation layer's own buffers
	DeviceExts []string

	// validation layers enabled on the logical device vkguard creates
	ValidationLayers []string

	// additional physical device features vkguard needs turned on,
	// by name (atomic operations on storage buffers, in particular)
	EnabledOpts []string

	// optional pNext chain for device-feature structs not exposed
	// through PhysicalDeviceFeatures (e.g. shader atomic add on floats,
	// needed by the loop-termination feature's counter buffer)
	DeviceFeaturesNeeded unsafe.Pointer
}

// SetGPUOpts turns on any named optional feature in opts that feats
// exposes. Unknown names are ignored; this is a small allow-list, not
// a generic reflection-based setter.
func (gp *GPU) SetGPUOpts(feats *vk.PhysicalDeviceFeatures, opts []string) {
	for _, o := range opts {
		switch o {
		case "ShaderFloat64":
			feats.ShaderFloat64 = vk.True
		case "ShaderInt64":
			feats.ShaderInt64 = vk.True
		case "FragmentStoresAndAtomics":
			feats.FragmentStoresAndAtomics = vk.True
		case "VertexPipelineStoresAndAtomics":
			feats.VertexPipelineStoresAndAtomics = vk.True
		}
	}
}

// Device holds a logical device and its associated queue, used by
// vkguard for one-time buffer uploads/readbacks and for staging the
// heart-beat's termination-flag writes.
type Device struct {

	// logical device
	Device vk.Device

	// queue family index backing Queue
	QueueIndex uint32

	// queue used for vkguard's own command submissions
	Queue vk.Queue
}

// Device deliberately does not model a full graphics queue/swapchain:
// presentation stays entirely the application's concern. vkguard only
// needs a queue to upload and read back its own buffers and to submit
// heart-beat command buffers.

// Init initializes a device on a queue family matching flags.
func (dv *Device) Init(gp *GPU, flags vk.QueueFlagBits) error {
	if err := dv.FindQueue(gp, flags); err != nil {
		return err
	}
	dv.MakeDevice(gp)
	return nil
}

// FindQueue finds a queue family satisfying flags and records its
// index in dv.QueueIndex. Returns an error if none is found.
func (dv *Device) FindQueue(gp *GPU, flags vk.QueueFlagBits) error {
	var queueCount uint32
	vk.GetPhysicalDeviceQueueFamilyProperties(gp.GPU, &queueCount, nil)
	queueProperties := make([]vk.QueueFamilyProperties, queueCount)
	vk.GetPhysicalDeviceQueueFamilyProperties(gp.GPU, &queueCount, queueProperties)
	if queueCount == 0 {
		return errors.New("vk: no queue families found on physical device")
	}

	found := false
	required := vk.QueueFlags(flags)
	for i := uint32(0); i < queueCount; i++ {
		queueProperties[i].Deref()
		if queueProperties[i].QueueFlags&required != 0 {
			dv.QueueIndex = i
			found = true
			break
		}
	}
	if !found {
		return errors.New("vk: no queue family supports the requested flags")
	}
	return nil
}

// MakeDevice creates the logical device and fetches its queue, based
// on the queue family index found by FindQueue.
func (dv *Device) MakeDevice(gp *GPU) {
	queueInfos := []vk.DeviceQueueCreateInfo{{
		SType:            vk.StructureTypeDeviceQueueCreateInfo,
		QueueFamilyIndex: dv.QueueIndex,
		QueueCount:       1,
		PQueuePriorities: []float32{1.0},
	}}

	feats := vk.PhysicalDeviceFeatures{
		ShaderStorageBufferArrayDynamicIndexing: vk.True,
	}
	gp.SetGPUOpts(&feats, gp.EnabledOpts)

	var device vk.Device
	ret := vk.CreateDevice(gp.GPU, &vk.DeviceCreateInfo{
		SType:                   vk.StructureTypeDeviceCreateInfo,
		QueueCreateInfoCount:    uint32(len(queueInfos)),
		PQueueCreateInfos:       queueInfos,
		EnabledExtensionCount:   uint32(len(gp.DeviceExts)),
		PpEnabledExtensionNames: gp.DeviceExts,
		EnabledLayerCount:       uint32(len(gp.ValidationLayers)),
		PpEnabledLayerNames:     gp.ValidationLayers,
		PEnabledFeatures:        []vk.PhysicalDeviceFeatures{feats},
		PNext:                   unsafe.Pointer(gp.DeviceFeaturesNeeded),
	}, nil, &device)
	IfPanic(NewError(ret))

	dv.Device = device

	var queue vk.Queue
	vk.GetDeviceQueue(dv.Device, dv.QueueIndex, 0, &queue)
	dv.Queue = queue
}

// Destroy waits for the device to go idle and destroys it.
func (dv *Device) Destroy() {
	if dv.Device == nil {
		return
	}
	vk.DeviceWaitIdle(dv.Device)
	vk.DestroyDevice(dv.Device, nil)
	dv.Device = nil
}

// WaitIdle blocks until the device has no outstanding work. vkguard
// calls this at teardown only; shutdown flushes and explicit
// WaitForCompletion calls are the only other places it blocks.
func (dv *Device) WaitIdle() {
	vk.DeviceWaitIdle(dv.Device)
}

// NewComputeDevice returns a new Device on a queue family supporting
// compute, suitable for vkguard's own one-off transfer and heart-beat
// command buffers.
func NewComputeDevice(gp *GPU) (*Device, error) {
	dev := &Device{}
	if err := dev.Init(gp, vk.QueueComputeBit); err != nil {
		return nil, err
	}
	return dev, nil
}
