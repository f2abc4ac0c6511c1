// Package mapper maintains the automatically discovered room graph, the
// current-room cursor, and the breadth-first layout used to display it.
package mapper

import "strings"

// Direction is one of the ten movement directions a room exit can face.
type Direction string

// Compass directions and vertical movements.
const (
	North     Direction = "north"
	South     Direction = "south"
	East      Direction = "east"
	West      Direction = "west"
	Northeast Direction = "northeast"
	Northwest Direction = "northwest"
	Southeast Direction = "southeast"
	Southwest Direction = "southwest"
	Up        Direction = "up"
	Down      Direction = "down"
)

// Directions lists every direction in catalog order. Layout traversal visits
// exits in exactly this order.
var Directions = []Direction{
	North, South, East, West,
	Northeast, Northwest, Southeast, Southwest,
	Up, Down,
}

// Delta is a 3-D grid offset. Screen y grows downward, so north is dy = -1.
type Delta struct {
	DX, DY, DZ int
}

type directionInfo struct {
	delta Delta
	code  string
	name  string
}

var catalog = map[Direction]directionInfo{
	North:     {Delta{0, -1, 0}, "n", "North"},
	South:     {Delta{0, 1, 0}, "s", "South"},
	East:      {Delta{1, 0, 0}, "e", "East"},
	West:      {Delta{-1, 0, 0}, "w", "West"},
	Northeast: {Delta{1, -1, 0}, "ne", "Northeast"},
	Northwest: {Delta{-1, -1, 0}, "nw", "Northwest"},
	Southeast: {Delta{1, 1, 0}, "se", "Southeast"},
	Southwest: {Delta{-1, 1, 0}, "sw", "Southwest"},
	Up:        {Delta{0, 0, 1}, "u", "Up"},
	Down:      {Delta{0, 0, -1}, "d", "Down"},
}

// byToken resolves both full names and short codes.
var byToken = func() map[string]Direction {
	m := make(map[string]Direction, 2*len(catalog))
	for d, info := range catalog {
		m[string(d)] = d
		m[info.code] = d
	}
	return m
}()

// ParseDirection resolves a direction name or short code, ignoring case and
// surrounding whitespace.
//
// Postcondition: Returns (direction, true) on a match, or ("", false).
func ParseDirection(s string) (Direction, bool) {
	d, ok := byToken[strings.ToLower(strings.TrimSpace(s))]
	return d, ok
}

// Valid reports whether d is in the catalog.
func (d Direction) Valid() bool {
	_, ok := catalog[d]
	return ok
}

// Delta returns the grid offset for d. Unknown directions yield a zero Delta.
func (d Direction) Delta() Delta {
	return catalog[d].delta
}

// Code returns the short display code ("n", "se", "u", ...).
func (d Direction) Code() string {
	return catalog[d].code
}

// DisplayName returns the capitalised display name.
func (d Direction) DisplayName() string {
	return catalog[d].name
}

// Horizontal reports whether d lies on the layout plane.
func (d Direction) Horizontal() bool {
	return d.Valid() && catalog[d].delta.DZ == 0
}

// Opposite returns the reverse direction, or "" for an unknown direction.
func (d Direction) Opposite() Direction {
	switch d {
	case North:
		return South
	case South:
		return North
	case East:
		return West
	case West:
		return East
	case Northeast:
		return Southwest
	case Southwest:
		return Northeast
	case Northwest:
		return Southeast
	case Southeast:
		return Northwest
	case Up:
		return Down
	case Down:
		return Up
	default:
		return ""
	}
}
