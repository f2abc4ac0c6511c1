package scripting

import (
	"strings"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"

	"github.com/cory-johannsen/automapper/internal/mapper"
)

// RegisterModules registers the mapper global table into L and redirects
// print to the logger. zone is attached to every log line the script writes.
//
// Precondition: L must be from NewSandboxedState.
// Postcondition: mapper global is defined in L.
func (m *Manager) RegisterModules(L *lua.LState, zone string) {
	mod := L.NewTable()
	L.SetFuncs(mod, map[string]lua.LGFunction{
		"create_room":          m.luaCreateRoom,
		"upsert_room":          m.luaUpsertRoom,
		"get_room":             m.luaGetRoom,
		"set_current_room":     m.luaSetCurrentRoom,
		"get_current_room":     m.luaGetCurrentRoom,
		"search_rooms":         m.luaSearchRooms,
		"add_unexplored_exits": m.luaAddUnexploredExits,
		"handle_movement":      m.luaHandleMovement,
		"set_room_zone":        m.luaSetRoomZone,
		"set_room_note":        m.luaSetRoomNote,
		"set_room_color":       m.luaSetRoomColor,
		"set_room_tags":        m.luaSetRoomTags,
	})
	logger := m.logger.With(zap.String("zone", zone), zap.String("source", "lua"))
	L.SetField(mod, "log", logModule(L, logger))
	L.SetGlobal("mapper", mod)

	L.SetGlobal("print", L.NewFunction(func(L *lua.LState) int {
		parts := make([]string, 0, L.GetTop())
		for i := 1; i <= L.GetTop(); i++ {
			parts = append(parts, L.ToStringMeta(L.Get(i)).String())
		}
		logger.Info(strings.Join(parts, "\t"))
		return 0
	}))
}

func logModule(L *lua.LState, logger *zap.Logger) *lua.LTable {
	levels := map[string]func(string, ...zap.Field){
		"debug": logger.Debug,
		"info":  logger.Info,
		"warn":  logger.Warn,
		"error": logger.Error,
	}
	tbl := L.NewTable()
	for name, fn := range levels {
		fn := fn
		L.SetField(tbl, name, L.NewFunction(func(L *lua.LState) int {
			fn(L.CheckString(1))
			return 0
		}))
	}
	return tbl
}

// mapper.create_room(id, name, x, y, z) -> bool
func (m *Manager) luaCreateRoom(L *lua.LState) int {
	ok := m.store.CreateRoom(L.CheckString(1), L.OptString(2, ""), L.OptInt(3, 0), L.OptInt(4, 0), L.OptInt(5, 0))
	L.Push(lua.LBool(ok))
	return 1
}

// mapper.upsert_room(id, name, exits?) -> room | nil
// exits maps direction names or codes to target ids; "" marks an unexplored exit.
func (m *Manager) luaUpsertRoom(L *lua.LState) int {
	id := L.CheckString(1)
	name := L.OptString(2, "")
	var exits map[mapper.Direction]mapper.Exit
	if tbl := L.OptTable(3, nil); tbl != nil {
		exits = make(map[mapper.Direction]mapper.Exit)
		tbl.ForEach(func(k, v lua.LValue) {
			d, ok := mapper.ParseDirection(k.String())
			if !ok {
				return
			}
			target := ""
			if s, isStr := v.(lua.LString); isStr {
				target = string(s)
			}
			exits[d] = mapper.Exit{TargetRoomID: target}
		})
	}
	r, ok := m.store.UpsertRoom(id, name, exits)
	pushRoom(L, r, ok)
	return 1
}

// mapper.get_room(id) -> room | nil
func (m *Manager) luaGetRoom(L *lua.LState) int {
	r, ok := m.store.Room(L.CheckString(1))
	pushRoom(L, r, ok)
	return 1
}

// mapper.set_current_room(id)
func (m *Manager) luaSetCurrentRoom(L *lua.LState) int {
	m.store.SetCurrentRoom(L.OptString(1, ""))
	return 0
}

// mapper.get_current_room() -> room | nil
func (m *Manager) luaGetCurrentRoom(L *lua.LState) int {
	r, ok := m.store.CurrentRoom()
	pushRoom(L, r, ok)
	return 1
}

// mapper.search_rooms(query) -> {room, ...}
func (m *Manager) luaSearchRooms(L *lua.LState) int {
	out := L.NewTable()
	for _, r := range m.store.SearchRooms(L.CheckString(1)) {
		out.Append(roomTable(L, r))
	}
	L.Push(out)
	return 1
}

// mapper.add_unexplored_exits(id, {dir, ...}) -> bool
func (m *Manager) luaAddUnexploredExits(L *lua.LState) int {
	id := L.CheckString(1)
	dirs := checkDirections(L, 2)
	L.Push(lua.LBool(m.store.AddUnexploredExits(id, dirs)))
	return 1
}

// mapper.handle_movement(dir, name, {dir, ...}, id) -> room | nil
func (m *Manager) luaHandleMovement(L *lua.LState) int {
	d, ok := mapper.ParseDirection(L.CheckString(1))
	if !ok {
		L.ArgError(1, "unknown direction")
		return 0
	}
	name := L.OptString(2, "")
	dirs := checkDirections(L, 3)
	r, ok := m.store.HandleMovement(d, name, dirs, L.CheckString(4))
	pushRoom(L, r, ok)
	return 1
}

func (m *Manager) luaSetRoomZone(L *lua.LState) int {
	L.Push(lua.LBool(m.store.SetRoomZone(L.CheckString(1), L.OptString(2, ""))))
	return 1
}

func (m *Manager) luaSetRoomNote(L *lua.LState) int {
	L.Push(lua.LBool(m.store.SetRoomNote(L.CheckString(1), L.OptString(2, ""))))
	return 1
}

func (m *Manager) luaSetRoomColor(L *lua.LState) int {
	L.Push(lua.LBool(m.store.SetRoomColor(L.CheckString(1), L.OptString(2, ""))))
	return 1
}

// mapper.set_room_tags(id, {tag, ...}) -> bool
func (m *Manager) luaSetRoomTags(L *lua.LState) int {
	id := L.CheckString(1)
	var tags []string
	if tbl := L.OptTable(2, nil); tbl != nil {
		tbl.ForEach(func(_, v lua.LValue) {
			if s, ok := v.(lua.LString); ok {
				tags = append(tags, string(s))
			}
		})
	}
	L.Push(lua.LBool(m.store.SetRoomTags(id, tags)))
	return 1
}

// checkDirections reads an optional array of direction names at arg n.
// Unknown names raise a Lua argument error.
func checkDirections(L *lua.LState, n int) []mapper.Direction {
	tbl := L.OptTable(n, nil)
	if tbl == nil {
		return nil
	}
	var dirs []mapper.Direction
	for i := 1; i <= tbl.Len(); i++ {
		name := tbl.RawGetInt(i).String()
		d, ok := mapper.ParseDirection(name)
		if !ok {
			L.ArgError(n, "unknown direction "+name)
			return nil
		}
		dirs = append(dirs, d)
	}
	return dirs
}

func pushRoom(L *lua.LState, r mapper.Room, ok bool) {
	if !ok {
		L.Push(lua.LNil)
		return
	}
	L.Push(roomTable(L, r))
}

// roomTable converts r to a Lua table. Exits are keyed by direction name
// with "" for unexplored exits; tags are a sorted array.
func roomTable(L *lua.LState, r mapper.Room) *lua.LTable {
	t := L.NewTable()
	L.SetField(t, "id", lua.LString(r.ID))
	L.SetField(t, "name", lua.LString(r.Name))
	L.SetField(t, "x", lua.LNumber(r.X))
	L.SetField(t, "y", lua.LNumber(r.Y))
	L.SetField(t, "z", lua.LNumber(r.Z))
	L.SetField(t, "visited", lua.LBool(r.Visited))
	L.SetField(t, "notes", lua.LString(r.Notes))
	L.SetField(t, "zone", lua.LString(r.Zone))
	L.SetField(t, "color", lua.LString(r.Color))

	exits := L.NewTable()
	for d, e := range r.Exits {
		L.SetField(exits, string(d), lua.LString(e.TargetRoomID))
	}
	L.SetField(t, "exits", exits)

	tags := L.NewTable()
	for _, tag := range r.TagList() {
		tags.Append(lua.LString(tag))
	}
	L.SetField(t, "tags", tags)
	return t
}
