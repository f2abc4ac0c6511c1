package mapper

import "sort"

// Exit is a directed edge candidate. An empty TargetRoomID means an exit is
// known to exist but its destination has not been discovered yet.
type Exit struct {
	TargetRoomID string `json:"target_room_id"`
}

// Explored reports whether the exit's destination is known.
func (e Exit) Explored() bool {
	return e.TargetRoomID != ""
}

// Room is one discovered location.
type Room struct {
	// ID uniquely identifies this room within a graph.
	ID string `json:"id"`
	// Name is the display name reported by the server.
	Name string `json:"name"`
	// X, Y, Z are world coordinates; zero when unknown.
	X int `json:"x"`
	Y int `json:"y"`
	Z int `json:"z"`
	// Exits holds at most one exit per direction.
	Exits map[Direction]Exit `json:"exits"`
	// Visited is true once the player has stood in the room.
	Visited bool `json:"visited"`

	// Annotations below are only changed through their own setters.
	Notes string          `json:"notes,omitempty"`
	Zone  string          `json:"zone,omitempty"`
	Tags  map[string]bool `json:"tags,omitempty"`
	// Color is an optional hex colour such as "#ff8800".
	Color string `json:"color,omitempty"`
}

// Clone returns a deep copy of r.
func (r Room) Clone() Room {
	out := r
	if r.Exits != nil {
		out.Exits = make(map[Direction]Exit, len(r.Exits))
		for d, e := range r.Exits {
			out.Exits[d] = e
		}
	}
	if r.Tags != nil {
		out.Tags = make(map[string]bool, len(r.Tags))
		for t := range r.Tags {
			out.Tags[t] = true
		}
	}
	return out
}

// ExitForDirection returns the exit in the given direction, if one exists.
//
// Postcondition: Returns (exit, true) if found, or (Exit{}, false) otherwise.
func (r Room) ExitForDirection(dir Direction) (Exit, bool) {
	e, ok := r.Exits[dir]
	return e, ok
}

// UnexploredExits returns the directions whose destination is unknown, in
// catalog order.
func (r Room) UnexploredExits() []Direction {
	var out []Direction
	for _, d := range Directions {
		if e, ok := r.Exits[d]; ok && !e.Explored() {
			out = append(out, d)
		}
	}
	return out
}

// TagList returns the room's tags sorted alphabetically.
func (r Room) TagList() []string {
	tags := make([]string, 0, len(r.Tags))
	for t := range r.Tags {
		tags = append(tags, t)
	}
	sort.Strings(tags)
	return tags
}

// Graph is a complete copy of a room graph and its current-room cursor.
type Graph struct {
	Rooms map[string]Room `json:"rooms"`
	// CurrentRoomID is empty when no room is current.
	CurrentRoomID string `json:"current_room_id,omitempty"`
}

// NewGraph returns an empty Graph.
func NewGraph() Graph {
	return Graph{Rooms: make(map[string]Room)}
}

// Clone returns a deep copy of g.
func (g Graph) Clone() Graph {
	out := Graph{
		Rooms:         make(map[string]Room, len(g.Rooms)),
		CurrentRoomID: g.CurrentRoomID,
	}
	for id, r := range g.Rooms {
		out.Rooms[id] = r.Clone()
	}
	return out
}

// RoomIDs returns all room ids sorted.
func (g Graph) RoomIDs() []string {
	ids := make([]string, 0, len(g.Rooms))
	for id := range g.Rooms {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
