// Copyright 2022 Gustavo C. Viegas. All rights reserved.

package driver

import "context"

// GPU is the main interface to an underlying driver
// implementation.
// It is used to create other types and to execute commands.
// A GPU is obtained from a call to Driver.Open.
//
// Work is organized in frames. Within a frame, up to
// Config.Workers command lists are recorded (possibly in
// parallel), then submitted in worker order with Submit.
// EndFrame closes the frame and paces the CPU so that no
// more than Config.FramesInFlight frames are outstanding.
type GPU interface {
	// Driver returns the Driver that owns the GPU.
	Driver() Driver

	// Backend returns the backend tag of the GPU.
	// Every Handle created by the GPU carries this tag.
	Backend() Backend

	// Caps returns the capabilities of the GPU.
	Caps() *Caps

	// NewBuffer creates a new buffer.
	// If data is not nil, it provides the initial
	// contents of the buffer.
	NewBuffer(desc *BufferDesc, data []byte) (Buffer, error)

	// NewTexture creates a new texture.
	// If data is not nil, it must contain one element
	// per subresource, in subresource order (mip levels
	// of the first array slice, then the next slice).
	NewTexture(desc *TextureDesc, data []SubresourceData) (Texture, error)

	// NewSampler creates a new sampler.
	NewSampler(desc *SamplerDesc) (Sampler, error)

	// NewGraphicsPSO creates a new graphics pipeline
	// state.
	NewGraphicsPSO(desc *GraphicsPSODesc) (PSO, error)

	// NewComputePSO creates a new compute pipeline
	// state.
	NewComputePSO(desc *ComputePSODesc) (PSO, error)

	// NewQuery creates a new query.
	NewQuery(desc *QueryDesc) (Query, error)

	// NewSwapchain creates a new swapchain that presents
	// to sf.
	NewSwapchain(sf Surface, desc *SwapchainDesc) (Swapchain, error)

	// CmdList returns the command list of the given worker
	// for the current frame, ready for recording.
	// Calling CmdList again for the same worker within a
	// frame returns the same command list.
	CmdList(worker int) (CmdList, error)

	// FlushUploads submits pending host to device
	// transfers and waits for their completion.
	FlushUploads(ctx context.Context) error

	// Submit submits the command lists for execution,
	// in the order given. Every command list must have
	// been ended.
	Submit(cl []CmdList) error

	// EndFrame signals the end of the current frame and
	// advances to the next one. It blocks only when the
	// number of frames in flight would exceed the
	// configured depth.
	EndFrame(ctx context.Context) error

	// WaitIdle blocks until all submitted work completes.
	WaitIdle(ctx context.Context) error

	// FrameIndex returns the index of the frame slot
	// being recorded, in [0, Config.FramesInFlight).
	FrameIndex() int

	// FrameCount returns the number of frames ended
	// so far.
	FrameCount() uint64

	// Map returns the memory of a staging resource
	// created with CPURead access, and the distance
	// in bytes between rows of its first subresource.
	// The caller must ensure that writes to the
	// resource have completed (e.g., with WaitIdle).
	Map(r Resource) (data []byte, rowPitch int, err error)

	// ValidHandle returns whether h refers to a live
	// descriptor. Stale handles are only detected
	// when the GPU was opened with Config.Debug set.
	ValidHandle(h Handle) bool
}

// Destroyer is the interface that wraps the Destroy method.
// Types that implement this interface hold GPU memory or
// descriptor slots, so Destroy must be called explicitly
// to ensure they are released.
type Destroyer interface {
	Destroy()
}

// Views holds the descriptor handles of a resource.
// A primary handle is non-nil iff the corresponding bind
// flag was requested at creation. Sub views exist only
// when MiscIndependentSlices or MiscIndependentMips was
// requested (never both); they are ordered by slice, or
// by mip level.
type Views struct {
	SRV Handle
	UAV Handle
	RTV Handle
	DSV Handle
	CBV Handle

	SubSRV []Handle
	SubUAV []Handle
	SubRTV []Handle
	SubDSV []Handle
}

// Resource is the interface that buffers and textures
// implement.
type Resource interface {
	Destroyer

	// Views returns the views of the resource.
	Views() *Views

	// SetName sets a debug name.
	SetName(name string)
}

// Buffer is the interface that defines a GPU buffer.
type Buffer interface {
	Resource
	Desc() *BufferDesc
}

// Texture is the interface that defines a GPU texture.
type Texture interface {
	Resource
	Desc() *TextureDesc
}

// Sampler is the interface that defines a sampler.
type Sampler interface {
	Destroyer
	Handle() Handle
}

// PSO is the interface that defines a pipeline state.
type PSO interface {
	Destroyer
	// Compute returns whether this is a compute PSO.
	Compute() bool
}

// Query is the interface that defines a GPU query.
type Query interface {
	Destroyer
	Desc() *QueryDesc
	// Result returns the query result, or false if it
	// is not available yet. It never blocks.
	Result() (uint64, bool)
}

// Allocation is a region of per-frame GPU-visible scratch
// memory. It is valid until the frame that allocated it
// completes execution.
type Allocation struct {
	Buffer Buffer
	Offset int
	Data   []byte
}

// CmdList is the interface that defines a command list.
// A command list belongs to a single (frame, worker) pair
// and must only be used by one goroutine at a time.
//
// Bind calls only record state; the state is validated and
// made visible to the GPU immediately before each draw or
// dispatch. Binding a nil Handle unbinds the slot, which
// then reads as a null descriptor.
type CmdList interface {
	// Worker returns the worker index of the command list.
	Worker() int
	// Frame returns the frame slot of the command list.
	Frame() int

	BindSRV(stage Stage, slot int, h Handle)
	BindUAV(stage Stage, slot int, h Handle)
	BindCBV(stage Stage, slot int, h Handle)
	BindSampler(stage Stage, slot int, h Handle)
	BindVertexBuffers(first int, buf []Buffer, stride, offset []int)
	BindIndexBuffer(buf Buffer, format IndexFmt, offset int)
	// BindRenderTargets binds color and depth/stencil
	// views. A nil dsv binds no depth/stencil view.
	BindRenderTargets(rtv []Handle, dsv Handle)
	BindViewports(vp []Viewport)
	BindScissors(sc []Scissor)
	BindStencilRef(ref uint8)
	BindBlendFactor(c [4]float32)
	BindGraphicsPSO(pso PSO)
	BindComputePSO(pso PSO)

	DrawInstanced(vertCount, instCount, firstVert, firstInst int) error
	DrawIndexedInstanced(idxCount, instCount, firstIdx, baseVert, firstInst int) error
	// Indirect arguments are little-endian uint32s laid
	// out as the direct variant's parameters.
	DrawInstancedIndirect(args Buffer, offset int) error
	DrawIndexedInstancedIndirect(args Buffer, offset int) error
	Dispatch(x, y, z int) error
	DispatchIndirect(args Buffer, offset int) error

	ClearRenderTarget(rtv Handle, color [4]float32)
	ClearDepthStencil(dsv Handle, flags ClearFlag, depth float32, stencil uint8)

	// CopyResource copies every subresource of src to dst.
	// Both must have the same shape. If dst is a staging
	// resource, this downloads src for CPU access.
	CopyResource(dst, src Resource)
	// CopyTextureRegion copies a region of a subresource.
	// A nil box copies the whole subresource.
	CopyTextureRegion(dst Texture, dstSub, x, y, z int, src Texture, srcSub int, box *Box)
	CopyBuffer(dst Buffer, dstOff int64, src Buffer, srcOff, size int64)
	// UpdateBuffer writes data to dst at offset. The data
	// is copied before UpdateBuffer returns.
	UpdateBuffer(dst Buffer, data []byte, offset int64) error
	// AllocateGPU allocates per-frame scratch memory.
	AllocateGPU(size int) (Allocation, error)

	Transition(r Resource, before, after State)
	UAVBarrier(r Resource)

	QueryBegin(q Query)
	QueryEnd(q Query)

	EventBegin(name string)
	EventEnd()
	SetMarker(name string)

	// End ends recording.
	End() error
}
