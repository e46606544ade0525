// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package rhi

import (
	"os"

	"github.com/pkg/errors"

	"gviegas/rhi/driver"
)

// exit terminates the process after a fatal error.
var exit = os.Exit

// Fatal reports an unrecoverable error and terminates the
// process. The error is logged, then shown to the user in
// a blocking message box where the platform has one
// (stderr otherwise).
func Fatal(err error) {
	Logger().Error("fatal error", "err", err)
	report("rhi: fatal error", err.Error())
	exit(1)
}

// fatalErrs are the errors that the Device does not
// recover from.
var fatalErrs = [...]error{
	driver.ErrNoDevice,
	driver.ErrFatal,
	driver.ErrDeviceRemoved,
	driver.ErrHeapExhausted,
	driver.ErrDescriptorRing,
	driver.ErrUploadRing,
}

// IsFatal returns whether err is one of the errors that
// terminate the process.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	for _, x := range fatalErrs {
		if errors.Is(err, x) {
			return true
		}
	}
	return false
}

// check calls Fatal if err is fatal. It returns err
// unchanged, which only matters when exit returns.
func check(err error) error {
	if IsFatal(err) {
		Fatal(err)
	}
	return err
}
