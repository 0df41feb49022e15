package radiometry

import (
	"encoding/binary"
	"image"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/thermal.capture/internal/vospi"
)

// frameOf lays samples out the way they sit in host memory after the
// payload copy.
func frameOf(w, h int, samples []uint16) vospi.Frame {
	raw := make([]byte, 2*len(samples))
	for i, s := range samples {
		binary.LittleEndian.PutUint16(raw[2*i:], s)
	}
	return vospi.Frame{Geometry: vospi.Geometry{Width: w, Height: h}, Raw: raw}
}

func TestDecode_HighByteIsIntensity(t *testing.T) {
	f := frameOf(1, 1, []uint16{0x1234})

	gray, err := Decode(f, Options{Format: FormatGrayscale})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x12}, gray.Pix)

	rgb, err := Decode(f, Options{Format: FormatRGB565})
	require.NoError(t, err)
	assert.Equal(t, Rainbow[0x12], binary.LittleEndian.Uint16(rgb.Pix))
}

func TestDecode_FullGeometry(t *testing.T) {
	g := vospi.GeometrySingleSegment
	samples := make([]uint16, g.Samples())
	for i := range samples {
		samples[i] = uint16(i%256) << 8
	}
	img, err := Decode(frameOf(g.Width, g.Height, samples), Options{Format: FormatGrayscale})
	require.NoError(t, err)
	assert.Equal(t, 80, img.Width)
	assert.Equal(t, 60, img.Height)
	require.Len(t, img.Pix, 80*60)
	for i, v := range img.Pix {
		if v != uint8(i%256) {
			t.Fatalf("pixel %d = %#x", i, v)
		}
	}
}

func TestDecode_Idempotent(t *testing.T) {
	f := frameOf(4, 2, []uint16{0x0100, 0x0200, 0x0300, 0x0400, 0xFF00, 0xFE11, 0x8080, 0x0001})
	before := append([]byte(nil), f.Raw...)

	a, err := Decode(f, Options{Format: FormatRGB565})
	require.NoError(t, err)
	b, err := Decode(f, Options{Format: FormatRGB565})
	require.NoError(t, err)

	if diff := cmp.Diff(a, b); diff != "" {
		t.Errorf("second decode differs (-first +second):\n%s", diff)
	}
	assert.Equal(t, before, f.Raw, "decode modified the frame")
}

func TestDecode_MirrorAndFlip(t *testing.T) {
	// 3x2 frame, intensities 1..6
	f := frameOf(3, 2, []uint16{0x0100, 0x0200, 0x0300, 0x0400, 0x0500, 0x0600})

	tests := []struct {
		name string
		opts Options
		want []byte
	}{
		{"plain", Options{}, []byte{1, 2, 3, 4, 5, 6}},
		{"hmirror", Options{HMirror: true}, []byte{3, 2, 1, 6, 5, 4}},
		{"vflip", Options{VFlip: true}, []byte{4, 5, 6, 1, 2, 3}},
		{"both", Options{HMirror: true, VFlip: true}, []byte{6, 5, 4, 3, 2, 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.opts.Format = FormatGrayscale
			img, err := Decode(f, tt.opts)
			require.NoError(t, err)
			assert.Equal(t, tt.want, img.Pix)
		})
	}
}

func TestDecode_Errors(t *testing.T) {
	f := frameOf(2, 2, []uint16{1, 2, 3, 4})

	_, err := Decode(f, Options{Format: FormatInvalid})
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
	_, err = Decode(f, Options{Format: PixFormat(9)})
	assert.ErrorIs(t, err, ErrUnsupportedFormat)

	short := frameOf(2, 2, []uint16{1, 2, 3})
	_, err = Decode(short, Options{Format: FormatGrayscale})
	assert.ErrorIs(t, err, ErrShortFrame)
}

func TestDecode_CustomPalette(t *testing.T) {
	var pal [256]uint16
	pal[0x7F] = 0xBEEF
	img, err := Decode(frameOf(1, 1, []uint16{0x7F00}), Options{Format: FormatRGB565, Palette: &pal})
	require.NoError(t, err)
	assert.Equal(t, uint16(0xBEEF), binary.LittleEndian.Uint16(img.Pix))
}

func TestParsePixFormat(t *testing.T) {
	f, err := ParsePixFormat("grayscale")
	require.NoError(t, err)
	assert.Equal(t, FormatGrayscale, f)

	f, err = ParsePixFormat("pseudocolor")
	require.NoError(t, err)
	assert.Equal(t, FormatRGB565, f)

	_, err = ParsePixFormat("yuv422")
	assert.ErrorIs(t, err, ErrUnsupportedFormat)

	assert.Equal(t, "rgb565", FormatRGB565.String())
	assert.Equal(t, "PixFormat(7)", PixFormat(7).String())
}

func TestImage_ToImage(t *testing.T) {
	f := frameOf(2, 1, []uint16{0x0000, 0xFF00})

	gray, err := Decode(f, Options{Format: FormatGrayscale})
	require.NoError(t, err)
	gi, ok := gray.ToImage().(*image.Gray)
	require.True(t, ok)
	assert.Equal(t, uint8(0xFF), gi.GrayAt(1, 0).Y)

	rgb, err := Decode(f, Options{Format: FormatRGB565})
	require.NoError(t, err)
	ri, ok := rgb.ToImage().(*image.RGBA)
	require.True(t, ok)
	r, g, b := ExpandRGB565(Rainbow[0xFF])
	c := ri.RGBAAt(1, 0)
	assert.Equal(t, [3]uint8{r, g, b}, [3]uint8{c.R, c.G, c.B})
	assert.Equal(t, 2, rgb.Stride()/rgb.Width)
}

func TestRainbow(t *testing.T) {
	// cold end is blue, hot end is red
	r0, _, b0 := ExpandRGB565(Rainbow[0])
	assert.Greater(t, b0, r0)
	r1, _, b1 := ExpandRGB565(Rainbow[255])
	assert.Greater(t, r1, b1)
	assert.Equal(t, uint16(0xF800), RGB565(0xFF, 0, 0))
	assert.Equal(t, uint16(0x001F), RGB565(0, 0, 0xFF))
}

func TestSummarize(t *testing.T) {
	s := Summarize(frameOf(2, 2, []uint16{0x0200, 0x0400, 0x0600, 0x0800}))
	assert.InDelta(t, 5.0, s.Mean, 1e-9)
	assert.Equal(t, 2.0, s.Min)
	assert.Equal(t, 8.0, s.Max)
	assert.Greater(t, s.StdDev, 0.0)

	assert.Equal(t, Summary{}, Summarize(vospi.Frame{}))
}
