// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package imm

import (
	"context"

	"github.com/gogpu/gputypes"
	"github.com/pkg/errors"

	"gviegas/rhi/driver"
	"gviegas/rhi/internal/conv"
	"gviegas/rhi/internal/refdev"
)

// swapchain implements driver.Swapchain.
type swapchain struct {
	d      *Driver
	sf     driver.Surface
	sc     *refdev.Swapchain
	format driver.Format
	vsync  bool
	bufs   []*texture
}

// NewSwapchain creates a new swapchain.
// Zero values in desc take the surface size, two
// buffers and driver.RGBA8un.
func (d *Driver) NewSwapchain(sf driver.Surface, desc *driver.SwapchainDesc) (driver.Swapchain, error) {
	if sf == nil {
		return nil, errors.Wrap(driver.ErrSwapchain, "nil surface")
	}
	w, h := desc.Width, desc.Height
	if w <= 0 || h <= 0 {
		w, h = sf.Size()
	}
	format := desc.Format
	if format == driver.FUnknown {
		format = driver.RGBA8un
	}
	if f := conv.Format(format); f == gputypes.TextureFormatUndefined || format.IsDepth() {
		return nil, errors.Wrapf(driver.ErrFormat, "swapchain format %v", format)
	}
	s := &swapchain{d: d, sf: sf, format: format, vsync: desc.VSync}
	sc, err := d.dev.NewSwapchain(d.q, &refdev.SwapchainDesc{
		Width:   w,
		Height:  h,
		Buffers: max(desc.Buffers, 2),
		Format:  conv.Format(format),
	}, func(pix []byte, width, height, rowPitch int) error {
		return sf.Present(&driver.Image{Width: width, Height: height, RowPitch: rowPitch, Format: format, Pix: pix})
	})
	if err != nil {
		if errors.Is(err, refdev.ErrFormat) {
			return nil, errors.Wrap(driver.ErrFormat, err.Error())
		}
		return nil, errors.Wrap(driver.ErrSwapchain, err.Error())
	}
	s.sc = sc
	if err = s.wrap(); err != nil {
		s.unwrap()
		sc.Release()
		return nil, err
	}
	driver.Logger().Info("swapchain created", "width", w, "height", h, "buffers", sc.Len(), "format", format)
	return s, nil
}

func (s *swapchain) wrap() error {
	desc := s.sc.Desc()
	for i := range s.sc.Len() {
		r := s.sc.Buffer(i)
		t := &texture{
			resource: resource{d: s.d, r: r, owned: true},
			desc: driver.TextureDesc{
				Type:      driver.Texture2D,
				Width:     desc.Width,
				Height:    desc.Height,
				Depth:     1,
				ArraySize: 1,
				MipLevels: 1,
				Samples:   1,
				Format:    s.format,
				Bind:      driver.BindRenderTarget,
			},
		}
		s.bufs = append(s.bufs, t)
		h, err := s.d.newView(&t.resource, driver.HeapRTV, refdev.Descriptor{Kind: refdev.DescRTV, Res: r})
		if err != nil {
			return err
		}
		t.views.RTV = h
	}
	return nil
}

func (s *swapchain) unwrap() {
	for _, t := range s.bufs {
		s.d.freeViews(&t.resource)
		t.r.Release()
		t.r = nil
	}
	s.bufs = nil
}

// BackBuffer returns the current back-buffer.
func (s *swapchain) BackBuffer() driver.Texture {
	if len(s.bufs) == 0 {
		return nil
	}
	return s.bufs[s.sc.CurrentIndex()]
}

// Buffers returns every back-buffer.
func (s *swapchain) Buffers() []driver.Texture {
	bufs := make([]driver.Texture, len(s.bufs))
	for i, t := range s.bufs {
		bufs[i] = t
	}
	return bufs
}

// Format returns the back-buffers' format.
func (s *swapchain) Format() driver.Format { return s.format }

// Size returns the back-buffers' size.
func (s *swapchain) Size() (int, int) {
	desc := s.sc.Desc()
	return desc.Width, desc.Height
}

// Resize recreates the back-buffers with a new size.
func (s *swapchain) Resize(ctx context.Context, width, height int) error {
	if w, h := s.Size(); w == width && h == height {
		return nil
	}
	if width <= 0 || height <= 0 {
		return errors.Wrapf(driver.ErrSwapchain, "size %dx%d", width, height)
	}
	if err := s.d.WaitIdle(ctx); err != nil {
		return err
	}
	s.unwrap()
	if err := s.sc.ResizeBuffers(width, height); err != nil {
		if errors.Is(err, refdev.ErrInFlight) {
			err = errors.Wrap(driver.ErrBackBufferInUse, err.Error())
		} else {
			err = errors.Wrap(driver.ErrSwapchain, err.Error())
		}
		if werr := s.wrap(); werr != nil {
			driver.Logger().Error("swapchain lost its back-buffers", "err", werr)
		}
		return err
	}
	driver.Logger().Info("swapchain resized", "width", width, "height", height)
	return s.wrap()
}

// Present presents the current back-buffer.
func (s *swapchain) Present() error {
	interval := 0
	if s.vsync {
		interval = 1
	}
	if err := s.sc.Present(interval); err != nil {
		return errors.Wrap(driver.ErrSwapchain, err.Error())
	}
	return nil
}

// Destroy destroys the swapchain.
func (s *swapchain) Destroy() {
	if s.sc == nil {
		return
	}
	if err := s.d.WaitIdle(context.Background()); err != nil {
		driver.Logger().Warn("swapchain destroyed while GPU not idle", "err", err)
	}
	s.unwrap()
	s.sc.Release()
	s.sc = nil
}
