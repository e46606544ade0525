// Copyright 2024 Gustavo C. Viegas. All rights reserved.

//go:build !windows

package rhi

import (
	"fmt"
	"os"
)

func report(title, msg string) {
	fmt.Fprintln(os.Stderr, title+": "+msg)
}
