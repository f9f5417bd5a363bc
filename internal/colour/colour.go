// Package colour converts between the bridge's CIE xy chromaticity and the
// RGB triples reported to panels.
package colour

import (
	"encoding/hex"
	"fmt"
	"math"
	"strings"

	"github.com/lucasb-eyer/go-colorful"

	"github.com/dokzlo13/panelhub/internal/apperr"
)

// RGB is an 8-bit sRGB triple. It encodes to JSON as a three element array.
type RGB [3]uint8

// Black is the colour reported for groups with every light off.
var Black = RGB{0, 0, 0}

// XY is a CIE 1931 chromaticity coordinate.
type XY struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Hex returns the colour as lowercase "rrggbb".
func (c RGB) Hex() string {
	return hex.EncodeToString(c[:])
}

// ParseHex parses "RRGGBB" (an optional leading '#' is accepted).
func ParseHex(s string) (RGB, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(s) != 6 {
		return RGB{}, fmt.Errorf("colour %q: expected 6 hex digits: %w", s, apperr.ErrInvalidArgument)
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return RGB{}, fmt.Errorf("colour %q: %w", s, apperr.ErrInvalidArgument)
	}
	return RGB{b[0], b[1], b[2]}, nil
}

// ToRGB converts a bridge xy/brightness pair to RGB.
//
// The xyY point goes through the wide-gamut D65 matrix and sRGB gamma, and
// is then normalized so the strongest channel is 255. A channel that is
// still negative after flooring is reported as 255; this mirrors what the
// bridge documents at the gamut boundary and is not photometrically
// meaningful.
func ToRGB(xy XY, bri uint8) RGB {
	if xy.Y <= 0 {
		return Black
	}

	Y := float64(bri) / 254
	X := (Y / xy.Y) * xy.X
	Z := (Y / xy.Y) * (1 - xy.X - xy.Y)

	r := X*1.656492 - Y*0.354851 - Z*0.255038
	g := -X*0.707196 + Y*1.655397 + Z*0.036152
	b := X*0.051713 - Y*0.121364 + Z*1.011530

	r, g, b = gammaEncode(r), gammaEncode(g), gammaEncode(b)

	m := math.Max(r, math.Max(g, b))
	if m <= 0 || math.IsNaN(m) {
		return Black
	}

	return RGB{channel(r / m), channel(g / m), channel(b / m)}
}

func gammaEncode(v float64) float64 {
	if v <= 0.0031308 {
		return 12.92 * v
	}
	return 1.055*math.Pow(v, 1/2.4) - 0.055
}

func channel(v float64) uint8 {
	f := math.Floor(v * 255)
	if f < 0 {
		return 255
	}
	if f > 255 {
		return 255
	}
	return uint8(f)
}

// ToChromaticity converts an RGB colour to an xy point inside gamut g.
// Colours the light cannot show are moved to the closest reproducible point.
func ToChromaticity(c RGB, g Gamut) XY {
	col := colorful.Color{
		R: float64(c[0]) / 255,
		G: float64(c[1]) / 255,
		B: float64(c[2]) / 255,
	}
	x, y, _ := col.Xyy()

	p := XY{X: x, Y: y}
	if g.Contains(p) {
		return p
	}
	return g.Closest(p)
}
