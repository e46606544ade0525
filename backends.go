// Copyright 2024 Gustavo C. Viegas. All rights reserved.

//go:build !rhi_nobackends

package rhi

// Programs built with the rhi_nobackends tag link only the
// backends they import themselves.
import (
	_ "gviegas/rhi/driver/explicit"
	_ "gviegas/rhi/driver/imm"
)
