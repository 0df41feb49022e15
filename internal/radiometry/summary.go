package radiometry

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/thermal.capture/internal/vospi"
)

// Summary describes the intensity distribution of a frame.
type Summary struct {
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"stddev"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
}

// Intensities returns the display byte of every pixel in row-major order.
func Intensities(frame vospi.Frame) []float64 {
	n := frame.Geometry.Width * frame.Geometry.Height
	if n > frame.Len() {
		n = frame.Len()
	}
	out := make([]float64, n)
	for i := range out {
		out[i] = float64(Intensity(frame, i))
	}
	return out
}

// Summarize computes intensity statistics for a frame.
func Summarize(frame vospi.Frame) Summary {
	vals := Intensities(frame)
	if len(vals) == 0 {
		return Summary{}
	}
	mean, std := stat.MeanStdDev(vals, nil)
	return Summary{
		Mean:   mean,
		StdDev: std,
		Min:    floats.Min(vals),
		Max:    floats.Max(vals),
	}
}
