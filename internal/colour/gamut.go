package colour

import "strings"

// Gamut is the triangle of xy points a light model can reproduce.
type Gamut struct {
	Name  string
	Red   XY
	Green XY
	Blue  XY
}

var (
	GamutA = Gamut{Name: "A", Red: XY{0.704, 0.296}, Green: XY{0.2151, 0.7106}, Blue: XY{0.138, 0.08}}
	GamutB = Gamut{Name: "B", Red: XY{0.675, 0.322}, Green: XY{0.409, 0.518}, Blue: XY{0.167, 0.04}}
	GamutC = Gamut{Name: "C", Red: XY{0.6915, 0.3083}, Green: XY{0.17, 0.7}, Blue: XY{0.1532, 0.0475}}
)

// DefaultGamut is used for models missing from the table below.
var DefaultGamut = GamutC

var modelGamuts = map[string]Gamut{
	// Living colors, LightStrips, Bloom, Iris
	"LLC001": GamutA, "LLC005": GamutA, "LLC006": GamutA, "LLC007": GamutA,
	"LLC010": GamutA, "LLC011": GamutA, "LLC012": GamutA, "LLC013": GamutA,
	"LLC014": GamutA, "LST001": GamutA,

	// First generation colour bulbs
	"LCT001": GamutB, "LCT002": GamutB, "LCT003": GamutB, "LCT007": GamutB,
	"LLM001": GamutB,

	"LCT010": GamutC, "LCT011": GamutC, "LCT012": GamutC, "LCT014": GamutC,
	"LCT015": GamutC, "LCT016": GamutC, "LLC020": GamutC, "LST002": GamutC,
	"LCA001": GamutC, "LCA002": GamutC, "LCA003": GamutC, "LCG002": GamutC,
}

// GamutForModel returns the gamut for a bridge model ID.
func GamutForModel(model string) Gamut {
	if g, ok := modelGamuts[strings.ToUpper(strings.TrimSpace(model))]; ok {
		return g
	}
	return DefaultGamut
}

// KnownModel reports whether model has an entry in the gamut table.
func KnownModel(model string) bool {
	_, ok := modelGamuts[strings.ToUpper(strings.TrimSpace(model))]
	return ok
}

const containsEpsilon = 1e-9

// Contains reports whether p lies inside the triangle or on its edges.
func (g Gamut) Contains(p XY) bool {
	d1 := cross(p, g.Red, g.Green)
	d2 := cross(p, g.Green, g.Blue)
	d3 := cross(p, g.Blue, g.Red)

	hasNeg := d1 < -containsEpsilon || d2 < -containsEpsilon || d3 < -containsEpsilon
	hasPos := d1 > containsEpsilon || d2 > containsEpsilon || d3 > containsEpsilon
	return !(hasNeg && hasPos)
}

// Closest returns the point on the triangle's edges nearest to p.
func (g Gamut) Closest(p XY) XY {
	candidates := [3]XY{
		closestOnSegment(g.Red, g.Green, p),
		closestOnSegment(g.Green, g.Blue, p),
		closestOnSegment(g.Blue, g.Red, p),
	}

	best := candidates[0]
	bestDist := distSq(p, best)
	for _, c := range candidates[1:] {
		if d := distSq(p, c); d < bestDist {
			best, bestDist = c, d
		}
	}
	return best
}

func cross(p, a, b XY) float64 {
	return (p.X-b.X)*(a.Y-b.Y) - (a.X-b.X)*(p.Y-b.Y)
}

func closestOnSegment(a, b, p XY) XY {
	abx, aby := b.X-a.X, b.Y-a.Y
	apx, apy := p.X-a.X, p.Y-a.Y

	t := (apx*abx + apy*aby) / (abx*abx + aby*aby)
	if t < 0 {
		t = 0
	} else if t > 1 {
		t = 1
	}
	return XY{X: a.X + abx*t, Y: a.Y + aby*t}
}

func distSq(a, b XY) float64 {
	dx, dy := a.X-b.X, a.Y-b.Y
	return dx*dx + dy*dy
}
