// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package rhi

import (
	"os"
	"testing"

	"github.com/pkg/errors"

	"gviegas/rhi/driver"
)

func TestFatal(t *testing.T) {
	var codes []int
	exit = func(code int) { codes = append(codes, code) }
	defer func() { exit = os.Exit }()

	for _, x := range [...]struct {
		err   error
		fatal bool
	}{
		{nil, false},
		{driver.ErrDesc, false},
		{driver.ErrNotStaging, false},
		{ErrNoWorker, false},
		{driver.ErrHeapExhausted, true},
		{errors.Wrap(driver.ErrDescriptorRing, "frame 1"), true},
		{errors.WithMessage(errors.Wrap(driver.ErrDeviceRemoved, "hung"), "Submit"), true},
		{driver.ErrUploadRing, true},
		{driver.ErrNoDevice, true},
	} {
		codes = codes[:0]
		if f := IsFatal(x.err); f != x.fatal {
			t.Fatalf("IsFatal(%v):\nhave %t\nwant %t", x.err, f, x.fatal)
		}
		if err := check(x.err); err != x.err {
			t.Fatalf("check(%v):\nhave %v\nwant %[1]v", x.err, err)
		}
		switch {
		case x.fatal && (len(codes) != 1 || codes[0] != 1):
			t.Fatalf("check(%v): exit codes:\nhave %v\nwant [1]", x.err, codes)
		case !x.fatal && len(codes) != 0:
			t.Fatalf("check(%v): exit codes:\nhave %v\nwant []", x.err, codes)
		}
	}
}

func TestNewConfig(t *testing.T) {
	t.Setenv(BackendEnv, "")
	cfg := newConfig([]Option{WithBackend("explicit"), WithWorkers(3), WithResolution(640, 480)})
	if cfg.Backend != "explicit" || cfg.Workers != 3 || cfg.Width != 640 || cfg.Height != 480 {
		t.Fatalf("newConfig:\nhave %+v\nwant explicit backend, 3 workers, 640x480", cfg)
	}
	t.Setenv(BackendEnv, "imm")
	if cfg = newConfig([]Option{WithBackend("explicit")}); cfg.Backend != "imm" {
		t.Fatalf("newConfig (%s set):\nhave %q\nwant %q", BackendEnv, cfg.Backend, "imm")
	}
	dcfg := cfg.driverConfig()
	if dcfg.Workers != driver.DefaultWorkers || dcfg.FramesInFlight != driver.DefaultFramesInFlight {
		t.Fatalf("Config.driverConfig: workers/frames:\nhave %d/%d\nwant %d/%d",
			dcfg.Workers, dcfg.FramesInFlight, driver.DefaultWorkers, driver.DefaultFramesInFlight)
	}
}
