package radiometry

import "math"

// Rainbow is the fixed 256-entry RGB565 pseudocolour palette, running from
// deep blue through green and yellow to red as intensity rises.
var Rainbow = makeRainbow()

func makeRainbow() [256]uint16 {
	var table [256]uint16
	for i := range table {
		// hue 240 (blue) at 0 down to 0 (red) at 255
		hue := 240.0 * (1 - float64(i)/255)
		r, g, b := hsvToRGB(hue, 1, 0.25+0.75*float64(i)/255)
		table[i] = RGB565(r, g, b)
	}
	return table
}

// RGB565 packs 8-bit channels into a 16-bit 5-6-5 colour.
func RGB565(r, g, b uint8) uint16 {
	return uint16(r>>3)<<11 | uint16(g>>2)<<5 | uint16(b>>3)
}

// ExpandRGB565 unpacks a 5-6-5 colour into 8-bit channels.
func ExpandRGB565(c uint16) (r, g, b uint8) {
	r5 := uint8(c >> 11 & 0x1F)
	g6 := uint8(c >> 5 & 0x3F)
	b5 := uint8(c & 0x1F)
	return r5<<3 | r5>>2, g6<<2 | g6>>4, b5<<3 | b5>>2
}

func hsvToRGB(h, s, v float64) (uint8, uint8, uint8) {
	c := v * s
	x := c * (1 - math.Abs(math.Mod(h/60, 2)-1))
	m := v - c

	var r, g, b float64
	switch {
	case h < 60:
		r, g, b = c, x, 0
	case h < 120:
		r, g, b = x, c, 0
	case h < 180:
		r, g, b = 0, c, x
	case h < 240:
		r, g, b = 0, x, c
	case h < 300:
		r, g, b = x, 0, c
	default:
		r, g, b = c, 0, x
	}
	to8 := func(f float64) uint8 { return uint8(math.Round((f + m) * 255)) }
	return to8(r), to8(g), to8(b)
}
