package mapper

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
)

var hexColor = regexp.MustCompile(`^#([0-9a-fA-F]{3}|[0-9a-fA-F]{6})$`)

// ValidColor reports whether s is a room colour: "#rgb" or "#rrggbb".
// The empty string is not a colour; it clears one.
func ValidColor(s string) bool {
	return hexColor.MatchString(s)
}

// EventKind identifies what changed in a Store.
type EventKind string

// Store change notifications.
const (
	EventRoomUpserted   EventKind = "room_upserted"
	EventRoomAnnotated  EventKind = "room_annotated"
	EventCurrentChanged EventKind = "current_changed"
	EventCleared        EventKind = "cleared"
	EventImported       EventKind = "imported"
)

// Event describes a single Store change. RoomID is empty for graph-wide events.
type Event struct {
	Kind   EventKind
	RoomID string
}

// ImportResult reports how many room records an import accepted.
type ImportResult struct {
	Total    int
	Imported int
	Rejected int
}

// String renders the result as "N of M records imported".
func (r ImportResult) String() string {
	return fmt.Sprintf("%d of %d records imported", r.Imported, r.Total)
}

// Store is the authoritative live room graph plus the current-room cursor.
//
// Store is safe for concurrent use. Every mutation holds the write lock for
// the duration of a single room update; readers always receive copies.
// Listeners run synchronously on the mutating goroutine after the lock is
// released and must not block.
type Store struct {
	mu      sync.RWMutex
	rooms   map[string]*Room
	current string

	lmu       sync.Mutex
	listeners map[int]func(Event)
	nextID    int
}

// NewStore creates an empty Store with no current room.
func NewStore() *Store {
	return &Store{
		rooms:     make(map[string]*Room),
		listeners: make(map[int]func(Event)),
	}
}

// Subscribe registers fn for change notifications.
//
// Precondition: fn must be non-nil.
// Postcondition: Returns a function that removes the subscription.
func (s *Store) Subscribe(fn func(Event)) func() {
	s.lmu.Lock()
	defer s.lmu.Unlock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	return func() {
		s.lmu.Lock()
		defer s.lmu.Unlock()
		delete(s.listeners, id)
	}
}

func (s *Store) notify(ev Event) {
	s.lmu.Lock()
	ids := make([]int, 0, len(s.listeners))
	for id := range s.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func(Event), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, s.listeners[id])
	}
	s.lmu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}

// UpsertRoom creates the room if absent, otherwise merges name and exits into
// it. A non-empty name replaces the old one. Each provided exit with a known
// target overwrites the existing exit in that direction; a provided exit
// with an empty target only adds an unexplored exit where none exists.
// Exits with unknown directions are ignored. Annotations are never touched.
//
// Postcondition: Returns a copy of the stored room and true, or (Room{}, false)
// when id is empty.
func (s *Store) UpsertRoom(id, name string, exits map[Direction]Exit) (Room, bool) {
	if id == "" {
		return Room{}, false
	}
	s.mu.Lock()
	r := s.getOrCreate(id)
	if name != "" {
		r.Name = name
	}
	mergeExits(r, exits)
	out := r.Clone()
	s.mu.Unlock()

	s.notify(Event{Kind: EventRoomUpserted, RoomID: id})
	return out, true
}

// getOrCreate must be called with mu held for writing.
func (s *Store) getOrCreate(id string) *Room {
	r, ok := s.rooms[id]
	if !ok {
		r = &Room{ID: id, Exits: make(map[Direction]Exit)}
		s.rooms[id] = r
	}
	return r
}

func mergeExits(r *Room, exits map[Direction]Exit) {
	for d, e := range exits {
		if !d.Valid() {
			continue
		}
		// An unexplored report never erases a known destination.
		if _, ok := r.Exits[d]; e.Explored() || !ok {
			r.Exits[d] = e
		}
	}
}

// CreateRoom adds a new room at the given world coordinates.
//
// Postcondition: Returns false without changes if id is empty or already present.
func (s *Store) CreateRoom(id, name string, x, y, z int) bool {
	if id == "" {
		return false
	}
	s.mu.Lock()
	if _, ok := s.rooms[id]; ok {
		s.mu.Unlock()
		return false
	}
	s.rooms[id] = &Room{ID: id, Name: name, X: x, Y: y, Z: z, Exits: make(map[Direction]Exit)}
	s.mu.Unlock()

	s.notify(Event{Kind: EventRoomUpserted, RoomID: id})
	return true
}

// AddUnexploredExits records exits in dirs that the room does not have yet.
// Existing exits, explored or not, are kept as they are.
//
// Postcondition: Returns false if the room is unknown.
func (s *Store) AddUnexploredExits(id string, dirs []Direction) bool {
	exits := make(map[Direction]Exit, len(dirs))
	for _, d := range dirs {
		exits[d] = Exit{}
	}
	return s.update(id, EventRoomUpserted, func(r *Room) {
		mergeExits(r, exits)
	})
}

// HandleMovement records that the player walked from the current room in
// direction dir and arrived in room id, which reports exitDirs. The current
// room gains an explored exit toward id. A new arrival room is placed at the
// current room's coordinates plus dir's delta; when it reports the opposite
// exit, that exit is linked back to the room the player came from. All
// reported exits are added as unexplored where not already known, and the
// cursor moves to id.
//
// Precondition: id must be non-empty.
// Postcondition: Returns a copy of the arrival room, or (Room{}, false) if id
// is empty.
func (s *Store) HandleMovement(dir Direction, name string, exitDirs []Direction, id string) (Room, bool) {
	if id == "" {
		return Room{}, false
	}

	s.mu.Lock()
	from, hasFrom := s.rooms[s.current]
	_, existed := s.rooms[id]
	to := s.getOrCreate(id)
	if name != "" {
		to.Name = name
	}
	if !existed && hasFrom && from.ID != id {
		delta := dir.Delta()
		to.X, to.Y, to.Z = from.X+delta.DX, from.Y+delta.DY, from.Z+delta.DZ
	}
	for _, d := range exitDirs {
		if _, ok := to.Exits[d]; !ok && d.Valid() {
			to.Exits[d] = Exit{}
		}
	}
	if hasFrom && dir.Valid() && from.ID != id {
		from.Exits[dir] = Exit{TargetRoomID: id}
		back := dir.Opposite()
		if e, ok := to.Exits[back]; ok && !e.Explored() {
			to.Exits[back] = Exit{TargetRoomID: from.ID}
		}
	}
	to.Visited = true
	s.current = id
	out := to.Clone()
	s.mu.Unlock()

	s.notify(Event{Kind: EventRoomUpserted, RoomID: id})
	s.notify(Event{Kind: EventCurrentChanged, RoomID: id})
	return out, true
}

// SetCurrentRoom moves the cursor to id, which need not exist yet. A known
// room is marked visited. An empty id resets the cursor to none.
func (s *Store) SetCurrentRoom(id string) {
	s.mu.Lock()
	s.current = id
	if r, ok := s.rooms[id]; ok {
		r.Visited = true
	}
	s.mu.Unlock()

	s.notify(Event{Kind: EventCurrentChanged, RoomID: id})
}

// SetRoomNote replaces the room's notes. Unknown ids are ignored.
func (s *Store) SetRoomNote(id, text string) bool {
	return s.update(id, EventRoomAnnotated, func(r *Room) { r.Notes = text })
}

// SetRoomColor sets the room's hex colour ("#rgb" or "#rrggbb"); an empty
// string clears it. Unknown ids and malformed colours are ignored.
func (s *Store) SetRoomColor(id, hex string) bool {
	if hex != "" && !ValidColor(hex) {
		return false
	}
	return s.update(id, EventRoomAnnotated, func(r *Room) { r.Color = hex })
}

// SetRoomTags replaces the room's tag set. Unknown ids are ignored.
func (s *Store) SetRoomTags(id string, tags []string) bool {
	var set map[string]bool
	for _, t := range tags {
		if t == "" {
			continue
		}
		if set == nil {
			set = make(map[string]bool, len(tags))
		}
		set[t] = true
	}
	return s.update(id, EventRoomAnnotated, func(r *Room) { r.Tags = set })
}

// SetRoomZone sets the room's zone label. Unknown ids are ignored.
func (s *Store) SetRoomZone(id, zone string) bool {
	return s.update(id, EventRoomAnnotated, func(r *Room) { r.Zone = zone })
}

// update applies fn to a known room under the write lock.
//
// Postcondition: Returns false and does nothing if id is unknown.
func (s *Store) update(id string, kind EventKind, fn func(*Room)) bool {
	s.mu.Lock()
	r, ok := s.rooms[id]
	if ok {
		fn(r)
	}
	s.mu.Unlock()

	if ok {
		s.notify(Event{Kind: kind, RoomID: id})
	}
	return ok
}

// Clear removes every room and resets the cursor.
func (s *Store) Clear() {
	s.mu.Lock()
	s.rooms = make(map[string]*Room)
	s.current = ""
	s.mu.Unlock()

	s.notify(Event{Kind: EventCleared})
}

// ImportGraph replaces the whole room mapping with g.Rooms. Records with an
// empty id, a key that disagrees with the record id, an exit in an
// unknown direction, or a colour SetRoomColor would refuse are skipped and
// counted. A record with an empty id under
// a non-empty key takes the key as its id. The cursor is only changed when
// g designates a current room.
//
// Postcondition: Returns the accepted and rejected counts.
func (s *Store) ImportGraph(g Graph) ImportResult {
	res := ImportResult{Total: len(g.Rooms)}
	rooms := make(map[string]*Room, len(g.Rooms))
	for key, r := range g.Rooms {
		nr, ok := normalizeRoom(key, r)
		if !ok {
			res.Rejected++
			continue
		}
		rooms[nr.ID] = &nr
		res.Imported++
	}

	s.mu.Lock()
	s.rooms = rooms
	if g.CurrentRoomID != "" {
		s.current = g.CurrentRoomID
	}
	s.mu.Unlock()

	s.notify(Event{Kind: EventImported})
	return res
}

func normalizeRoom(key string, r Room) (Room, bool) {
	if r.ID == "" {
		r.ID = key
	}
	if r.ID == "" || (key != "" && key != r.ID) {
		return Room{}, false
	}
	for d := range r.Exits {
		if !d.Valid() {
			return Room{}, false
		}
	}
	if r.Color != "" && !ValidColor(r.Color) {
		return Room{}, false
	}
	out := r.Clone()
	if out.Exits == nil {
		out.Exits = make(map[Direction]Exit)
	}
	if len(out.Tags) == 0 {
		out.Tags = nil
	}
	return out, true
}

// ExportGraph returns a deep copy of the room mapping.
func (s *Store) ExportGraph() map[string]Room {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]Room, len(s.rooms))
	for id, r := range s.rooms {
		out[id] = r.Clone()
	}
	return out
}

// Snapshot returns a deep copy of the room mapping and the cursor.
func (s *Store) Snapshot() Graph {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g := Graph{Rooms: make(map[string]Room, len(s.rooms)), CurrentRoomID: s.current}
	for id, r := range s.rooms {
		g.Rooms[id] = r.Clone()
	}
	return g
}

// Room returns a copy of the room with the given id.
//
// Postcondition: Returns (room, true) if found, or (Room{}, false) otherwise.
func (s *Store) Room(id string) (Room, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rooms[id]
	if !ok {
		return Room{}, false
	}
	return r.Clone(), true
}

// CurrentRoomID returns the cursor, or "" when no room is current.
func (s *Store) CurrentRoomID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// CurrentRoom returns a copy of the current room if it is known.
func (s *Store) CurrentRoom() (Room, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rooms[s.current]
	if !ok {
		return Room{}, false
	}
	return r.Clone(), true
}

// RoomCount returns the number of rooms in the graph.
func (s *Store) RoomCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rooms)
}

// SearchRooms returns rooms whose id, name, or zone contains query,
// case-insensitively, sorted by id. An empty query matches nothing.
func (s *Store) SearchRooms(query string) []Room {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return nil
	}
	s.mu.RLock()
	var out []Room
	for _, r := range s.rooms {
		if strings.Contains(strings.ToLower(r.ID), q) ||
			strings.Contains(strings.ToLower(r.Name), q) ||
			strings.Contains(strings.ToLower(r.Zone), q) {
			out = append(out, r.Clone())
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
