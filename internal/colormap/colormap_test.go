package colormap

import (
	"errors"
	"image/color"
	"math"
	"testing"

	"github.com/jobrunner/climap/internal/domain"
)

func TestParseColor(t *testing.T) {
	tests := []struct {
		name string
		hex  string
		want color.NRGBA
	}{
		{"six digits", "#ff8000", color.NRGBA{R: 255, G: 128, B: 0, A: 255}},
		{"no hash", "0000ff", color.NRGBA{B: 255, A: 255}},
		{"eight digits", "#11223380", color.NRGBA{R: 0x11, G: 0x22, B: 0x33, A: 0x80}},
		{"upper case", "#ABCDEF", color.NRGBA{R: 0xab, G: 0xcd, B: 0xef, A: 255}},
		{"empty", "", color.NRGBA{A: 255}},
		{"short form", "#fff", color.NRGBA{A: 255}},
		{"bad digits", "#gg0000", color.NRGBA{A: 255}},
		{"seven digits", "#1234567", color.NRGBA{A: 255}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ParseColor(tt.hex); got != tt.want {
				t.Errorf("ParseColor(%q) = %+v, want %+v", tt.hex, got, tt.want)
			}
		})
	}
}

func TestBuildStopsEmpty(t *testing.T) {
	stops := BuildStops(nil)
	if len(stops) != 1 || stops[0] != (color.NRGBA{A: 255}) {
		t.Errorf("BuildStops(nil) = %+v, want one opaque black stop", stops)
	}
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name     string
		value    float64
		min, max float64
		want     float64
		wantOK   bool
	}{
		{"midpoint", 5, 0, 10, 0.5, true},
		{"below range clamps", -5, 0, 10, 0, true},
		{"above range clamps", 15, 0, 10, 1, true},
		{"collapsed range", 7, 3, 3, 0, true},
		{"inverted range", 7, 10, 0, 0, true},
		{"NaN", math.NaN(), 0, 10, 0, false},
		{"infinite", math.Inf(1), 0, 10, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Normalize(tt.value, tt.min, tt.max)
			if ok != tt.wantOK || math.Abs(got-tt.want) > 1e-12 {
				t.Errorf("Normalize(%v, %v, %v) = %v, %v; want %v, %v",
					tt.value, tt.min, tt.max, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestMapValueToRGBANonFiniteIsTransparent(t *testing.T) {
	stops := BuildStops([]string{"#ff0000", "#00ff00"})
	got := MapValueToRGBA(math.NaN(), 0, 1, stops)
	if got != (color.NRGBA{}) {
		t.Errorf("MapValueToRGBA(NaN) = %+v, want transparent", got)
	}
}

func TestMapValueToRGBAGrayscaleScenario(t *testing.T) {
	stops := BuildStops([]string{"#000000", "#ffffff"})

	tests := []struct {
		value float64
		want  uint8
	}{
		{1, 0},
		{2, 85},
		{3, 170},
		{4, 255},
	}

	prev := -1
	for _, tt := range tests {
		got := MapValueToRGBA(tt.value, 1, 4, stops)
		if got.R != tt.want || got.G != tt.want || got.B != tt.want || got.A != 255 {
			t.Errorf("value %v: got %+v, want gray %d", tt.value, got, tt.want)
		}
		if int(got.R) <= prev {
			t.Errorf("value %v: gray %d not increasing from %d", tt.value, got.R, prev)
		}
		prev = int(got.R)
	}
}

func TestMapValueToRGBAContinuousAtStops(t *testing.T) {
	stops := BuildStops([]string{"#000000", "#ff0000", "#ffff00"})

	at := MapValueToRGBA(0.5, 0, 1, stops)
	below := MapValueToRGBA(0.5-1e-9, 0, 1, stops)
	above := MapValueToRGBA(0.5+1e-9, 0, 1, stops)

	if at != stops[1] {
		t.Errorf("value at stop = %+v, want %+v", at, stops[1])
	}
	if below != at || above != at {
		t.Errorf("discontinuity at stop: below=%+v at=%+v above=%+v", below, at, above)
	}
}

func TestLuminanceMonotonic(t *testing.T) {
	// One 8-bit step of quantization per channel is tolerated.
	const tolerance = 1.0 / 255

	for _, name := range []string{"grayscale", "viridis", "magma", "inferno"} {
		t.Run(name, func(t *testing.T) {
			stops, ok := Stops(name)
			if !ok {
				t.Fatalf("ramp %q not found", name)
			}
			prev := -1.0
			for i := 0; i <= 200; i++ {
				v := float64(i) / 200 * 50
				l := Luminance(MapValueToRGBA(v, 0, 50, stops))
				if l < prev-tolerance {
					t.Fatalf("luminance decreased at value %v: %v < %v", v, l, prev)
				}
				if l > prev {
					prev = l
				}
			}
		})
	}
}

func TestWithOpacity(t *testing.T) {
	c := color.NRGBA{R: 10, G: 20, B: 30, A: 200}

	if got := WithOpacity(c, 1); got != c {
		t.Errorf("opacity 1 changed colour: %+v", got)
	}
	if got := WithOpacity(c, 0.5); got.A != 100 {
		t.Errorf("opacity 0.5 alpha = %d, want 100", got.A)
	}
	if got := WithOpacity(c, 0); got.A != 0 {
		t.Errorf("opacity 0 alpha = %d, want 0", got.A)
	}
}

func TestToHexRoundTrip(t *testing.T) {
	for _, hex := range []string{"#440154", "#fde725", "#11223380"} {
		if got := ToHex(ParseColor(hex)); got != hex {
			t.Errorf("ToHex(ParseColor(%q)) = %q", hex, got)
		}
	}
}

func TestRamp(t *testing.T) {
	if _, err := Ramp("VIRIDIS"); err != nil {
		t.Errorf("Ramp is case-insensitive, got %v", err)
	}

	_, err := Ramp("rainbow")
	if !errors.Is(err, domain.ErrUnknownRamp) {
		t.Errorf("Ramp(rainbow) error = %v, want ErrUnknownRamp", err)
	}

	stops, ok := Stops("rainbow")
	if ok {
		t.Error("Stops(rainbow) should report unknown ramp")
	}
	def, _ := Stops(DefaultRamp)
	if len(stops) != len(def) || stops[0] != def[0] {
		t.Error("unknown ramp should fall back to the default ramp")
	}

	names := Names()
	if len(names) != len(ramps) {
		t.Errorf("Names() returned %d names, want %d", len(names), len(ramps))
	}
}
