// Copyright 2022 Gustavo C. Viegas. All rights reserved.

package driver

import (
	"context"
	"errors"
	"sync"
)

// ErrSwapchain represents an error related to a specific
// swapchain.
// This error usually indicates that changes to the surface
// made the swapchain unusable.
var ErrSwapchain = errors.New("driver: swapchain-related error")

// ErrBackBufferInUse means that a swapchain could not be
// resized because its back-buffers are still referenced.
var ErrBackBufferInUse = errors.New("driver: back-buffer still referenced")

// Image is a presented frame.
type Image struct {
	Width    int
	Height   int
	RowPitch int
	Format   Format
	Pix      []byte
}

// Surface is the interface that presentation targets
// implement. Windowing systems are not part of this
// package; they provide a Surface instead.
type Surface interface {
	// Size returns the current size of the surface.
	Size() (width, height int)

	// Present displays img.
	// img is only valid for the duration of the call.
	Present(img *Image) error
}

// Headless is a Surface that keeps a copy of the last
// presented image. It is safe for concurrent use.
type Headless struct {
	mu    sync.Mutex
	w, h  int
	last  Image
	count int
}

// NewHeadless creates a new Headless surface.
func NewHeadless(width, height int) *Headless {
	return &Headless{w: width, h: height}
}

// Size implements Surface.
func (s *Headless) Size() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w, s.h
}

// SetSize changes the reported size.
func (s *Headless) SetSize(width, height int) {
	s.mu.Lock()
	s.w, s.h = width, height
	s.mu.Unlock()
}

// Present implements Surface.
func (s *Headless) Present(img *Image) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last.Width = img.Width
	s.last.Height = img.Height
	s.last.RowPitch = img.RowPitch
	s.last.Format = img.Format
	s.last.Pix = append(s.last.Pix[:0], img.Pix...)
	s.count++
	return nil
}

// Last returns a copy of the last presented image and the
// number of presentations so far.
func (s *Headless) Last() (Image, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	img := s.last
	img.Pix = append([]byte(nil), s.last.Pix...)
	return img, s.count
}

// SwapchainDesc describes a swapchain.
type SwapchainDesc struct {
	Width   int
	Height  int
	Buffers int
	Format  Format
	VSync   bool
}

// Swapchain is the interface that defines a n-buffered
// swapchain for presentation.
// To present, one obtains the current back-buffer,
// transitions it to StateRenderTarget, renders to it,
// transitions it to StatePresent, submits the command
// lists and then calls Present.
type Swapchain interface {
	Destroyer

	// BackBuffer returns the back-buffer to render to.
	// The returned texture changes after each call to
	// Present and Resize. Its home state is
	// StatePresent.
	BackBuffer() Texture

	// Buffers returns every back-buffer, in presentation
	// order. They are valid until the next Resize.
	Buffers() []Texture

	// Format returns the back-buffers' format.
	Format() Format

	// Size returns the back-buffers' size.
	Size() (width, height int)

	// Resize recreates the back-buffers with a new size.
	// It waits for the GPU to finish using them. Textures
	// previously returned by BackBuffer are destroyed.
	Resize(ctx context.Context, width, height int) error

	// Present queues the current back-buffer for
	// presentation and advances to the next one.
	Present() error
}
