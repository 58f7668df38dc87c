package colormap

import (
	"fmt"
	"image/color"
	"sort"
	"strings"

	"github.com/jobrunner/climap/internal/domain"
)

// DefaultRamp is used when a caller asks for an unknown ramp.
const DefaultRamp = "viridis"

var ramps = map[string][]string{
	"viridis": {
		"#440154", "#482878", "#3e4989", "#31688e", "#26828e",
		"#1f9e89", "#35b779", "#6ece58", "#b5de2b", "#fde725",
	},
	"plasma": {
		"#0d0887", "#46039f", "#7201a8", "#9c179e", "#bd3786",
		"#d8576b", "#ed7953", "#fb9f3a", "#fdca26", "#f0f921",
	},
	"inferno": {
		"#000004", "#1b0c41", "#4a0c6b", "#781c6d", "#a52c60",
		"#cf4446", "#ed6925", "#fb9b06", "#f7d13d", "#fcffa4",
	},
	"magma": {
		"#000004", "#180f3d", "#440f76", "#721f81", "#9e2f7f",
		"#cd4071", "#f1605d", "#fd9668", "#feca8d", "#fcfdbf",
	},
	"grayscale": {"#000000", "#ffffff"},
	// Light to dark blues; wetter is darker.
	"precipitation": {
		"#f7fbff", "#deebf7", "#c6dbef", "#9ecae1", "#6baed6",
		"#4292c6", "#2171b5", "#08519c", "#08306b",
	},
	// Diverging blue to red around a neutral midpoint.
	"temperature": {
		"#053061", "#2166ac", "#4393c3", "#92c5de", "#d1e5f0", "#f7f7f7",
		"#fddbc7", "#f4a582", "#d6604d", "#b2182b", "#67001f",
	},
}

// Ramp returns the hex stops of a named ramp.
func Ramp(name string) ([]string, error) {
	r, ok := ramps[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("%q: %w", name, domain.ErrUnknownRamp)
	}
	out := make([]string, len(r))
	copy(out, r)
	return out, nil
}

// Stops resolves a named ramp to colour stops, falling back to DefaultRamp.
// The second result reports whether the requested name was known.
func Stops(name string) ([]color.NRGBA, bool) {
	hex, err := Ramp(name)
	if err != nil {
		hex, _ = Ramp(DefaultRamp)
		return BuildStops(hex), false
	}
	return BuildStops(hex), true
}

// Names returns the available ramp names in sorted order.
func Names() []string {
	names := make([]string, 0, len(ramps))
	for name := range ramps {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
