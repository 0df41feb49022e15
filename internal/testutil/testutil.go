// Package testutil provides frame fixtures and HTTP helpers shared by the
// package tests.
package testutil

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/banshee-data/thermal.capture/internal/vospi"
)

// FrameOf builds a frame whose pixel (x, y) has display intensity
// pixel(x, y). Padding samples past the geometry stay zero.
func FrameOf(g vospi.Geometry, pixel func(x, y int) uint8) vospi.Frame {
	raw := make([]byte, 2*g.Samples())
	for y := 0; y < g.Height; y++ {
		for x := 0; x < g.Width; x++ {
			// the display byte is the high byte of the little-endian sample
			raw[2*(y*g.Width+x)+1] = pixel(x, y)
		}
	}
	return vospi.Frame{Geometry: g, Raw: raw}
}

// GradientFrame has intensity x+y at every pixel.
func GradientFrame(g vospi.Geometry) vospi.Frame {
	return FrameOf(g, func(x, y int) uint8 { return uint8(x + y) })
}

// FilledFrame has the same intensity everywhere.
func FilledFrame(g vospi.Geometry, v uint8) vospi.Frame {
	return FrameOf(g, func(int, int) uint8 { return v })
}

// NewTestRequest creates a test HTTP request from a loopback address, which
// the /debug/ handlers require.
func NewTestRequest(method, path string) *http.Request {
	req := httptest.NewRequest(method, path, nil)
	req.RemoteAddr = "127.0.0.1:4242"
	return req
}

// Serve runs one request through h.
func Serve(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	h.ServeHTTP(w, NewTestRequest(method, path))
	return w
}
