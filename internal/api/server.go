// Package api serves captured frames and capture status over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/thermal.capture/internal/capture"
	"github.com/banshee-data/thermal.capture/internal/db"
	"github.com/banshee-data/thermal.capture/internal/httputil"
	"github.com/banshee-data/thermal.capture/internal/radiometry"
	"github.com/banshee-data/thermal.capture/internal/vospi"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

const (
	defaultListLimit = 20
	maxListLimit     = 1000
)

// Capturer is the part of capture.Capturer the server drives.
type Capturer interface {
	Snapshot(ctx context.Context) (*radiometry.Image, vospi.Frame, error)
	Resync(ctx context.Context) error
	Stats() capture.Stats
	LinkStats() (vospi.ReceiverStats, vospi.AssemblerStats)
	Geometry() vospi.Geometry
	DecodeOptions() radiometry.Options
	Configured() bool
}

var _ Capturer = (*capture.Capturer)(nil)

type Server struct {
	c  Capturer
	db *db.DB
}

// NewServer creates a server for c. store may be nil, in which case only
// live snapshots are available.
func NewServer(c Capturer, store *db.DB) *Server {
	return &Server{
		c:  c,
		db: store,
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Printf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", s.showStatus)
	mux.HandleFunc("/api/capture", s.triggerCapture)
	mux.HandleFunc("/api/captures", s.listCaptures)
	mux.HandleFunc("/api/frame.png", s.serveFrame)
	return mux
}

// Status is the body of GET /api/status.
type Status struct {
	Configured  bool                 `json:"configured"`
	Geometry    string               `json:"geometry"`
	PixelFormat string               `json:"pixel_format"`
	HMirror     bool                 `json:"hmirror"`
	VFlip       bool                 `json:"vflip"`
	Capture     capture.Stats        `json:"capture"`
	Receiver    vospi.ReceiverStats  `json:"receiver"`
	Assembler   vospi.AssemblerStats `json:"assembler"`
}

func (s *Server) status() Status {
	opts := s.c.DecodeOptions()
	rx, asm := s.c.LinkStats()
	return Status{
		Configured:  s.c.Configured(),
		Geometry:    s.c.Geometry().String(),
		PixelFormat: opts.Format.String(),
		HMirror:     opts.HMirror,
		VFlip:       opts.VFlip,
		Capture:     s.c.Stats(),
		Receiver:    rx,
		Assembler:   asm,
	}
}

func (s *Server) showStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSONOK(w, s.status())
}

// captureStatus maps capture errors onto HTTP statuses.
func captureStatus(err error) int {
	switch {
	case errors.Is(err, capture.ErrBusy):
		return http.StatusConflict
	case errors.Is(err, capture.ErrNotConfigured):
		return http.StatusServiceUnavailable
	case errors.Is(err, capture.ErrCaptureTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// triggerCapture takes a live snapshot, records it when a store is
// attached, and returns its description.
func (s *Server) triggerCapture(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}

	_, frame, err := s.c.Snapshot(r.Context())
	if err != nil {
		httputil.WriteJSONError(w, captureStatus(err), fmt.Sprintf("capture failed: %v", err))
		return
	}

	rec := s.newCapture(frame)
	if s.db != nil {
		if err := s.db.RecordCapture(rec); err != nil {
			httputil.InternalServerError(w, fmt.Sprintf("failed to record capture: %v", err))
			return
		}
	}
	httputil.WriteJSON(w, http.StatusCreated, rec)
}

func (s *Server) newCapture(frame vospi.Frame) db.Capture {
	rec := db.NewCapture(frame, s.c.DecodeOptions().Format, time.Now())
	rec.Resyncs = s.c.Stats().Resyncs
	_, asm := s.c.LinkStats()
	rec.SyncLosses = asm.SyncLosses
	rec.CRCErrors = asm.CRCErrors
	return rec
}

func (s *Server) listCaptures(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.db == nil {
		httputil.NotFound(w, "no capture store configured")
		return
	}

	limit := defaultListLimit
	if l := r.URL.Query().Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 1 || n > maxListLimit {
			httputil.BadRequest(w, fmt.Sprintf("invalid 'limit' parameter, want 1-%d", maxListLimit))
			return
		}
		limit = n
	}

	captures, err := s.db.RecentCaptures(limit)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to list captures: %v", err))
		return
	}
	if captures == nil {
		captures = []db.Capture{}
	}
	httputil.WriteJSONOK(w, captures)
}

// serveFrame renders a stored capture as PNG: the one named by ?id=, or the
// newest. ?live=1 takes a fresh snapshot instead of reading the store.
func (s *Server) serveFrame(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	q := r.URL.Query()
	if q.Get("live") == "1" || s.db == nil {
		img, _, err := s.c.Snapshot(r.Context())
		if err != nil {
			httputil.WriteJSONError(w, captureStatus(err), fmt.Sprintf("capture failed: %v", err))
			return
		}
		httputil.WritePNG(w, img.ToImage())
		return
	}

	rec, err := s.storedCapture(q.Get("id"))
	if errors.Is(err, db.ErrNotFound) {
		httputil.NotFound(w, "capture not found")
		return
	}
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to load capture: %v", err))
		return
	}

	opts := s.c.DecodeOptions()
	if f, err := radiometry.ParsePixFormat(rec.PixelFormat); err == nil {
		opts.Format = f
	}
	img, err := radiometry.Decode(rec.VospiFrame(), opts)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to decode capture: %v", err))
		return
	}
	httputil.WritePNG(w, img.ToImage())
}

func (s *Server) storedCapture(id string) (db.Capture, error) {
	if id == "" {
		return s.db.LatestCapture()
	}
	return s.db.LoadCapture(id)
}
