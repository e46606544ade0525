// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package rhi

import (
	"fmt"
	"os"

	"golang.org/x/sys/windows"
)

func report(title, msg string) {
	t, err := windows.UTF16PtrFromString(title)
	if err != nil {
		fmt.Fprintln(os.Stderr, title+": "+msg)
		return
	}
	m, err := windows.UTF16PtrFromString(msg)
	if err != nil {
		fmt.Fprintln(os.Stderr, title+": "+msg)
		return
	}
	if _, err = windows.MessageBox(0, m, t, windows.MB_OK|windows.MB_ICONERROR); err != nil {
		fmt.Fprintln(os.Stderr, title+": "+msg)
	}
}
