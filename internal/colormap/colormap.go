// Package colormap maps scalar values onto colour ramps.
//
// Everything here runs in per-vertex and per-pixel loops, so malformed input
// degrades to a defined colour instead of returning an error.
package colormap

import (
	"image/color"
	"math"
	"strconv"
	"strings"
)

var (
	opaqueBlack = color.NRGBA{A: 255}
	transparent = color.NRGBA{}
)

// ParseColor parses "#RRGGBB" or "#RRGGBBAA" (the leading '#' is optional).
// Malformed input yields opaque black.
func ParseColor(hex string) color.NRGBA {
	s := strings.TrimPrefix(strings.TrimSpace(hex), "#")
	if len(s) != 6 && len(s) != 8 {
		return opaqueBlack
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return opaqueBlack
	}
	if len(s) == 6 {
		return color.NRGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 255}
	}
	return color.NRGBA{R: uint8(v >> 24), G: uint8(v >> 16), B: uint8(v >> 8), A: uint8(v)}
}

// BuildStops parses a hex ramp. An empty ramp yields a single opaque black stop.
func BuildStops(colors []string) []color.NRGBA {
	if len(colors) == 0 {
		return []color.NRGBA{opaqueBlack}
	}
	stops := make([]color.NRGBA, len(colors))
	for i, c := range colors {
		stops[i] = ParseColor(c)
	}
	return stops
}

// Normalize maps value into [0, 1] relative to [min, max]. It returns false
// for non-finite input. A collapsed range (max <= min) maps every finite value
// to 0.
func Normalize(value, min, max float64) (float64, bool) {
	if !finite(value) || !finite(min) || !finite(max) {
		return 0, false
	}
	if max <= min {
		return 0, true
	}
	t := (value - min) / (max - min)
	return math.Max(0, math.Min(1, t)), true
}

// MapValueToRGBA interpolates the stops at the normalized position of value.
// Values that cannot be normalized map to fully transparent black.
func MapValueToRGBA(value, min, max float64, stops []color.NRGBA) color.NRGBA {
	t, ok := Normalize(value, min, max)
	if !ok {
		return transparent
	}
	return At(stops, t)
}

// At returns the colour at t in [0, 1] along the stops.
func At(stops []color.NRGBA, t float64) color.NRGBA {
	n := len(stops)
	switch {
	case n == 0:
		return opaqueBlack
	case n == 1 || t <= 0:
		return stops[0]
	case t >= 1:
		return stops[n-1]
	}

	pos := t * float64(n-1)
	i := int(math.Floor(pos))
	if i >= n-1 {
		return stops[n-1]
	}
	return Lerp(stops[i], stops[i+1], pos-float64(i))
}

// Lerp blends a towards b by f in [0, 1], channel by channel.
func Lerp(a, b color.NRGBA, f float64) color.NRGBA {
	return color.NRGBA{
		R: lerp8(a.R, b.R, f),
		G: lerp8(a.G, b.G, f),
		B: lerp8(a.B, b.B, f),
		A: lerp8(a.A, b.A, f),
	}
}

// WithOpacity scales the alpha channel by opacity in [0, 1].
func WithOpacity(c color.NRGBA, opacity float64) color.NRGBA {
	if opacity >= 1 {
		return c
	}
	if opacity <= 0 || math.IsNaN(opacity) {
		c.A = 0
		return c
	}
	c.A = uint8(math.Round(float64(c.A) * opacity))
	return c
}

// Luminance returns the Rec. 709 relative luminance of c in [0, 1].
func Luminance(c color.NRGBA) float64 {
	return (0.2126*float64(c.R) + 0.7152*float64(c.G) + 0.0722*float64(c.B)) / 255
}

// ToHex formats c as "#rrggbb", or "#rrggbbaa" when it is not opaque.
func ToHex(c color.NRGBA) string {
	const digits = "0123456789abcdef"
	ch := []uint8{c.R, c.G, c.B}
	if c.A != 255 {
		ch = append(ch, c.A)
	}
	var b strings.Builder
	b.WriteByte('#')
	for _, v := range ch {
		b.WriteByte(digits[v>>4])
		b.WriteByte(digits[v&0x0f])
	}
	return b.String()
}

func lerp8(a, b uint8, f float64) uint8 {
	v := float64(a) + (float64(b)-float64(a))*f
	return uint8(math.Round(math.Max(0, math.Min(255, v))))
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
