// Copyright 2022 Gustavo C. Viegas. All rights reserved.

package driver

// State is the type of resource usage states.
// Backends that require explicit state declarations
// insert transition barriers between states. Backends
// with implicit state management ignore them.
type State int

// Resource states.
const (
	// Initial/decayed state of resources.
	StateCommon State = iota
	StateVertexConstant
	StateIndex
	StateRenderTarget
	StateUnorderedAccess
	StateDepthWrite
	StateDepthRead
	StateShaderResource
	StateIndirect
	StateCopySrc
	StateCopyDst
	// Back-buffers must be in this state when presented.
	StatePresent
)

func (s State) String() string {
	switch s {
	case StateCommon:
		return "Common"
	case StateVertexConstant:
		return "VertexConstant"
	case StateIndex:
		return "Index"
	case StateRenderTarget:
		return "RenderTarget"
	case StateUnorderedAccess:
		return "UnorderedAccess"
	case StateDepthWrite:
		return "DepthWrite"
	case StateDepthRead:
		return "DepthRead"
	case StateShaderResource:
		return "ShaderResource"
	case StateIndirect:
		return "Indirect"
	case StateCopySrc:
		return "CopySrc"
	case StateCopyDst:
		return "CopyDst"
	case StatePresent:
		return "Present"
	}
	return "State(?)"
}
