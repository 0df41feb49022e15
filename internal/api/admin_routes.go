package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"tailscale.com/tsweb"

	"github.com/banshee-data/thermal.capture/internal/db"
	"github.com/banshee-data/thermal.capture/internal/radiometry"
	"github.com/banshee-data/thermal.capture/internal/vospi"
)

const (
	histogramBins = 64
	resyncTimeout = 2 * time.Second
)

// AttachAdminRoutes mounts capture counters, an on-demand resync, an
// intensity histogram and a link health chart under /debug/.
func (s *Server) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	debug.KVFunc("capture", func() any { return s.c.Stats() })
	debug.KVFunc("geometry", func() any { return s.c.Geometry().String() })
	debug.KVFunc("receiver", func() any {
		rx, _ := s.c.LinkStats()
		return rx
	})
	debug.KVFunc("assembler", func() any {
		_, asm := s.c.LinkStats()
		return asm
	})

	debug.HandleFunc("resync", "Drop sync and resynchronize the VoSPI link now", s.handleResync)
	debug.HandleFunc("histogram", "Intensity histogram of the latest capture", s.handleHistogram)
	debug.HandleFunc("link", "Resyncs, sync losses and CRC errors of stored captures", s.handleLinkChart)
}

func (s *Server) handleResync(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), resyncTimeout)
	defer cancel()
	if err := s.c.Resync(ctx); err != nil {
		http.Error(w, fmt.Sprintf("Resync failed: %v", err), captureStatus(err))
		return
	}
	io.WriteString(w, "Resynchronized\n")
}

// handleHistogram plots the stored capture named by ?id= (default newest),
// or a live snapshot when no store is attached.
func (s *Server) handleHistogram(w http.ResponseWriter, r *http.Request) {
	frame, label, err := s.histogramFrame(r)
	if errors.Is(err, db.ErrNotFound) {
		http.Error(w, "No capture stored yet", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	p, err := IntensityHistogram(frame, label)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to plot histogram: %v", err), http.StatusInternalServerError)
		return
	}
	wt, err := p.WriterTo(6*vg.Inch, 4*vg.Inch, "png")
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to render histogram: %v", err), http.StatusInternalServerError)
		return
	}
	var buf bytes.Buffer
	if _, err := wt.WriteTo(&buf); err != nil {
		http.Error(w, fmt.Sprintf("Failed to render histogram: %v", err), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Write(buf.Bytes())
}

func (s *Server) histogramFrame(r *http.Request) (vospi.Frame, string, error) {
	if s.db == nil {
		_, frame, err := s.c.Snapshot(r.Context())
		if err != nil {
			return vospi.Frame{}, "", fmt.Errorf("capture failed: %w", err)
		}
		return frame, "live", nil
	}
	rec, err := s.storedCapture(r.URL.Query().Get("id"))
	if err != nil {
		return vospi.Frame{}, "", err
	}
	return rec.VospiFrame(), rec.CapturedAt.Format(time.RFC3339), nil
}

// IntensityHistogram plots the distribution of display intensities in
// frame.
func IntensityHistogram(frame vospi.Frame, label string) (*plot.Plot, error) {
	vals := radiometry.Intensities(frame)
	if len(vals) == 0 {
		return nil, errors.New("frame has no pixels")
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Intensity %s (%s)", frame.Geometry, label)
	p.X.Label.Text = "Intensity"
	p.Y.Label.Text = "Pixels"
	p.X.Min = 0
	p.X.Max = 256

	h, err := plotter.NewHist(plotter.Values(vals), histogramBins)
	if err != nil {
		return nil, err
	}
	p.Add(h)
	return p, nil
}
