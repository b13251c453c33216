package neptunevk

import (
	"sync/atomic"
	"unsafe"

	vk "github.com/goki/vulkan"
)

// SemaphoreType distinguishes binary swap-chain semaphores from the
// timeline semaphores that order queue submissions.
type SemaphoreType int

const (
	SemaphoreTypeBinary SemaphoreType = iota
	SemaphoreTypeTimeline
)

// Fence is a waitable handle for one submission. It is backed either by a
// plain VkFence or, on the common path, by a queue timeline semaphore at a
// specific value.
type Fence struct {
	device       *CoreDevice
	fence        vk.Fence
	timeline     uint64
	timelineSem  vk.Semaphore
	observedWait bool
	internalSync bool
	refs         int32
}

func (f *Fence) AddRef() *Fence {
	atomic.AddInt32(&f.refs, 1)
	return f
}

// Wait blocks until the submission the fence was handed out for has
// completed on the GPU.
func (f *Fence) Wait() error {
	if f.observedWait {
		return nil
	}
	if f.timeline != 0 {
		waitInfo := vk.SemaphoreWaitInfo{
			SType:          vk.StructureTypeSemaphoreWaitInfo,
			SemaphoreCount: 1,
			PSemaphores:    []vk.Semaphore{f.timelineSem},
			PValues:        []uint64{f.timeline},
		}
		if ret := vk.WaitSemaphores(f.device.device, &waitInfo, vk.MaxUint64); isError(ret) {
			return NewError(ret)
		}
	} else {
		if ret := vk.WaitForFences(f.device.device, 1, []vk.Fence{f.fence}, vk.True, vk.MaxUint64); isError(ret) {
			return NewError(ret)
		}
	}
	f.observedWait = true
	return nil
}

// Release returns the fence to the device. Binary-backed fences that were
// never waited on are parked on the frame's wait list so the backing
// VkFence is drained before reuse.
func (f *Fence) Release() {
	if atomic.AddInt32(&f.refs, -1) != 0 {
		return
	}
	if f.timeline != 0 {
		return
	}
	if f.internalSync {
		f.device.resetFenceNolock(f.fence, f.observedWait)
	} else {
		f.device.resetFence(f.fence, f.observedWait)
	}
}

// Semaphore wraps a VkSemaphore together with its signal bookkeeping.
// Timeline semaphores are long-lived and queue-owned; binary semaphores are
// recycled if signalled but never consumed, and destroyed once consumed.
type Semaphore struct {
	device         *CoreDevice
	semaphore      vk.Semaphore
	timeline       uint64
	semType        SemaphoreType
	signalled      bool
	pendingWait    bool
	shouldDestroy  bool
	internalSync   bool
	refs           int32
}

func (s *Semaphore) AddRef() *Semaphore {
	atomic.AddInt32(&s.refs, 1)
	return s
}

func (s *Semaphore) Handle() vk.Semaphore { return s.semaphore }

// Consume takes the underlying handle out of the wrapper for a wait
// operation; the semaphore is destroyed rather than recycled afterwards.
func (s *Semaphore) Consume() vk.Semaphore {
	h := s.semaphore
	s.semaphore = vk.NullSemaphore
	s.signalled = false
	s.shouldDestroy = true
	return h
}

func (s *Semaphore) SignalPendingWait() { s.pendingWait = true }

func (s *Semaphore) Release() {
	if atomic.AddInt32(&s.refs, -1) != 0 {
		return
	}
	if s.semaphore == vk.NullSemaphore || s.semType == SemaphoreTypeTimeline {
		return
	}
	if s.internalSync {
		if s.signalled && !s.shouldDestroy {
			s.device.recycleSemaphoreNolock(s.semaphore)
		} else {
			s.device.destroySemaphoreNolock(s.semaphore)
		}
		return
	}
	if s.signalled && !s.shouldDestroy {
		s.device.recycleSemaphore(s.semaphore)
	} else {
		s.device.destroySemaphore(s.semaphore)
	}
}

// Event wraps a VkEvent recycled through the event pool.
type Event struct {
	device       *CoreDevice
	event        vk.Event
	internalSync bool
	refs         int32
}

func (e *Event) Handle() vk.Event { return e.event }

func (e *Event) Release() {
	if atomic.AddInt32(&e.refs, -1) != 0 {
		return
	}
	if e.internalSync {
		e.device.recycleEventNolock(e.event)
	} else {
		e.device.recycleEvent(e.event)
	}
}

// FencePool recycles VkFence handles. Not thread-safe; the device mutex
// guards every entry point.
type FencePool struct {
	device  vk.Device
	vacants []vk.Fence
}

func NewFencePool(device vk.Device) *FencePool {
	return &FencePool{device: device}
}

func (p *FencePool) Request() vk.Fence {
	if n := len(p.vacants); n > 0 {
		f := p.vacants[n-1]
		p.vacants = p.vacants[:n-1]
		return f
	}
	var fence vk.Fence
	ret := vk.CreateFence(p.device, &vk.FenceCreateInfo{
		SType: vk.StructureTypeFenceCreateInfo,
	}, nil, &fence)
	if isError(ret) {
		logger().Error("fence pool: creation failed", "result", int32(ret))
		return vk.NullFence
	}
	return fence
}

func (p *FencePool) Recycle(f vk.Fence) {
	if f != vk.NullFence {
		p.vacants = append(p.vacants, f)
	}
}

func (p *FencePool) Destroy() {
	for _, f := range p.vacants {
		vk.DestroyFence(p.device, f, nil)
	}
	p.vacants = nil
}

// SemaphorePool recycles binary VkSemaphore handles.
type SemaphorePool struct {
	device  vk.Device
	vacants []vk.Semaphore
}

func NewSemaphorePool(device vk.Device) *SemaphorePool {
	return &SemaphorePool{device: device}
}

func (p *SemaphorePool) Request() vk.Semaphore {
	if n := len(p.vacants); n > 0 {
		s := p.vacants[n-1]
		p.vacants = p.vacants[:n-1]
		return s
	}
	var sem vk.Semaphore
	ret := vk.CreateSemaphore(p.device, &vk.SemaphoreCreateInfo{
		SType: vk.StructureTypeSemaphoreCreateInfo,
	}, nil, &sem)
	if isError(ret) {
		logger().Error("semaphore pool: creation failed", "result", int32(ret))
		return vk.NullSemaphore
	}
	return sem
}

func (p *SemaphorePool) Recycle(s vk.Semaphore) {
	if s != vk.NullSemaphore {
		p.vacants = append(p.vacants, s)
	}
}

func (p *SemaphorePool) Destroy() {
	for _, s := range p.vacants {
		vk.DestroySemaphore(p.device, s, nil)
	}
	p.vacants = nil
}

// EventPool recycles VkEvent handles.
type EventPool struct {
	device  vk.Device
	vacants []vk.Event
}

func NewEventPool(device vk.Device) *EventPool {
	return &EventPool{device: device}
}

func (p *EventPool) Request() vk.Event {
	if n := len(p.vacants); n > 0 {
		e := p.vacants[n-1]
		p.vacants = p.vacants[:n-1]
		return e
	}
	var event vk.Event
	ret := vk.CreateEvent(p.device, &vk.EventCreateInfo{
		SType: vk.StructureTypeEventCreateInfo,
	}, nil, &event)
	if isError(ret) {
		logger().Error("event pool: creation failed", "result", int32(ret))
		return vk.NullEvent
	}
	return event
}

func (p *EventPool) Recycle(e vk.Event) {
	if e != vk.NullEvent {
		vk.ResetEvent(p.device, e)
		p.vacants = append(p.vacants, e)
	}
}

func (p *EventPool) Destroy() {
	for _, e := range p.vacants {
		vk.DestroyEvent(p.device, e, nil)
	}
	p.vacants = nil
}

// createTimelineSemaphore builds a Vulkan 1.2 timeline semaphore starting at
// initial.
func createTimelineSemaphore(device vk.Device, initial uint64) (vk.Semaphore, error) {
	typeInfo := vk.SemaphoreTypeCreateInfo{
		SType:         vk.StructureTypeSemaphoreTypeCreateInfo,
		SemaphoreType: vk.SemaphoreTypeTimeline,
		InitialValue:  initial,
	}
	var sem vk.Semaphore
	ret := vk.CreateSemaphore(device, &vk.SemaphoreCreateInfo{
		SType: vk.StructureTypeSemaphoreCreateInfo,
		PNext: unsafe.Pointer(typeInfo.Ref()),
	}, nil, &sem)
	if isError(ret) {
		return vk.NullSemaphore, NewError(ret)
	}
	return sem, nil
}
