package api

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/thermal.capture/internal/db"
)

// handleLinkChart renders the link counters recorded with the last ?n=
// stored captures (default 200) as an HTML line chart.
func (s *Server) handleLinkChart(w http.ResponseWriter, r *http.Request) {
	if s.db == nil {
		http.Error(w, "No capture store configured", http.StatusNotFound)
		return
	}
	n := defaultListLimit
	if v := r.URL.Query().Get("n"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 1 || parsed > maxListLimit {
			http.Error(w, fmt.Sprintf("invalid 'n' parameter, want 1-%d", maxListLimit), http.StatusBadRequest)
			return
		}
		n = parsed
	}

	captures, err := s.db.RecentCaptures(n)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to list captures: %v", err), http.StatusInternalServerError)
		return
	}

	var buf bytes.Buffer
	if err := LinkChart(captures).Render(&buf); err != nil {
		http.Error(w, fmt.Sprintf("Failed to render chart: %v", err), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(buf.Bytes())
}

// LinkChart plots resyncs, sync losses and CRC errors per capture in
// capture order. captures is newest first, as RecentCaptures returns it.
func LinkChart(captures []db.Capture) *charts.Line {
	x := make([]string, len(captures))
	resyncs := make([]opts.LineData, len(captures))
	losses := make([]opts.LineData, len(captures))
	crc := make([]opts.LineData, len(captures))
	for i, c := range captures {
		j := len(captures) - 1 - i
		x[j] = c.CapturedAt.Format(time.RFC3339)
		resyncs[j] = opts.LineData{Value: c.Resyncs}
		losses[j] = opts.LineData{Value: c.SyncLosses}
		crc[j] = opts.LineData{Value: c.CRCErrors}
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "VoSPI Link Health", Width: "100%", Height: "480px"}),
		charts.WithTitleOpts(opts.Title{Title: "VoSPI Link Health", Subtitle: fmt.Sprintf("captures=%d", len(captures))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithYAxisOpts(opts.YAxis{Name: "count", Type: "value"}),
	)
	line.SetXAxis(x).
		AddSeries("resyncs", resyncs).
		AddSeries("sync_losses", losses).
		AddSeries("crc_errors", crc)
	return line
}
