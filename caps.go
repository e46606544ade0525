// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package rhi

import "gviegas/rhi/driver"

// CheckCapability returns whether the backend supports
// every capability in c.
func (d *Device) CheckCapability(c driver.Cap) bool { return d.caps.Has(c) }

// FormatSupportsTypedUAVLoad returns whether unordered
// access views of format f support typed loads.
func (d *Device) FormatSupportsTypedUAVLoad(f driver.Format) bool { return d.caps.TypedUAVLoad(f) }

// Caps returns the capabilities and limits of the
// backend.
func (d *Device) Caps() driver.Caps { return *d.caps }
