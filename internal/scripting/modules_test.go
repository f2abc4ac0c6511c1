package scripting_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"pgregory.net/rapid"

	"github.com/cory-johannsen/automapper/internal/mapper"
	"github.com/cory-johannsen/automapper/internal/scripting"
)

func runScript(t *testing.T, mgr *scripting.Manager, luaSrc, hook string, args ...lua.LValue) lua.LValue {
	t.Helper()
	dir := writeTempLua(t, "test.lua", luaSrc)
	// Use a unique zone per test to avoid collisions
	zone := "modtest_" + t.Name()
	require.NoError(t, mgr.LoadZone(zone, dir, 0))
	ret, err := mgr.CallHook(zone, hook, args...)
	require.NoError(t, err)
	return ret
}

func TestMapperLog_AllLevels(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	mgr := scripting.NewManager(mapper.NewStore(), zap.New(core))
	defer mgr.Close()

	runScript(t, mgr, `
		function do_all_logs()
			mapper.log.debug("d")
			mapper.log.info("i")
			mapper.log.warn("w")
			mapper.log.error("e")
		end
	`, "do_all_logs")

	levels := map[string]bool{}
	for _, e := range logs.FilterField(zap.String("source", "lua")).All() {
		levels[e.Level.String()] = true
		assert.Equal(t, "modtest_"+t.Name(), e.ContextMap()["zone"])
	}
	assert.True(t, levels["debug"], "expected debug log")
	assert.True(t, levels["info"], "expected info log")
	assert.True(t, levels["warn"], "expected warn log")
	assert.True(t, levels["error"], "expected error log")
}

func TestMapperCreateAndGetRoom(t *testing.T) {
	mgr, store, _ := newTestManager(t)
	ret := runScript(t, mgr, `
		function go()
			assert(mapper.create_room("5001", "Inn", 1, 2, 3))
			assert(not mapper.create_room("5001", "Dup"))
			local r = mapper.get_room("5001")
			return r.name .. ":" .. r.x .. "," .. r.y .. "," .. r.z
		end
	`, "go")
	assert.Equal(t, lua.LString("Inn:1,2,3"), ret)

	r, ok := store.Room("5001")
	require.True(t, ok)
	assert.Equal(t, "Inn", r.Name)
}

func TestMapperGetRoom_UnknownIsNil(t *testing.T) {
	mgr, _, _ := newTestManager(t)
	ret := runScript(t, mgr, `
		function go() return mapper.get_room("missing") == nil and mapper.get_current_room() == nil end
	`, "go")
	assert.Equal(t, lua.LTrue, ret)
}

func TestMapperUpsertRoom_MergesExits(t *testing.T) {
	mgr, store, _ := newTestManager(t)
	ret := runScript(t, mgr, `
		function go()
			mapper.upsert_room("a", "A", {n = "b", east = "", sideways = "x"})
			local r = mapper.upsert_room("a", "", {north = ""})
			return r.name .. "|" .. r.exits.north .. "|" .. r.exits.east
		end
	`, "go")
	assert.Equal(t, lua.LString("A|b|"), ret)

	r, _ := store.Room("a")
	assert.Len(t, r.Exits, 2)
	assert.Equal(t, "b", r.Exits[mapper.North].TargetRoomID)
}

func TestMapperHandleMovement(t *testing.T) {
	mgr, store, _ := newTestManager(t)
	store.CreateRoom("1", "Gate", 0, 0, 0)
	store.SetCurrentRoom("1")

	ret := runScript(t, mgr, `
		function go()
			local r = mapper.handle_movement("n", "Square", {"s", "e"}, "2")
			local cur = mapper.get_current_room()
			return r.id .. "|" .. r.y .. "|" .. r.exits.south .. "|" .. cur.id .. "|" .. tostring(r.visited)
		end
	`, "go")
	assert.Equal(t, lua.LString("2|-1|1|2|true"), ret)

	gate, _ := store.Room("1")
	assert.Equal(t, "2", gate.Exits[mapper.North].TargetRoomID)
}

func TestMapperHandleMovement_BadDirectionIsLuaError(t *testing.T) {
	mgr, store, logs := newTestManager(t)
	ret := runScript(t, mgr, `
		function go() return mapper.handle_movement("sideways", "X", {}, "9") end
	`, "go")
	assert.Equal(t, lua.LNil, ret)
	assert.Equal(t, 0, store.RoomCount())
	assert.Equal(t, 1, logs.FilterMessage("scripting: Lua runtime error").Len())
}

func TestMapperAddUnexploredExits(t *testing.T) {
	mgr, store, _ := newTestManager(t)
	store.CreateRoom("1", "Gate", 0, 0, 0)
	ret := runScript(t, mgr, `
		function go()
			return mapper.add_unexplored_exits("1", {"up", "northwest"}) and not mapper.add_unexplored_exits("nope", {"up"})
		end
	`, "go")
	assert.Equal(t, lua.LTrue, ret)

	r, _ := store.Room("1")
	assert.Equal(t, []mapper.Direction{mapper.Northwest, mapper.Up}, r.UnexploredExits())
}

func TestMapperAnnotations(t *testing.T) {
	mgr, store, _ := newTestManager(t)
	store.CreateRoom("1", "Gate", 0, 0, 0)
	ret := runScript(t, mgr, `
		function go()
			assert(mapper.set_room_zone("1", "town"))
			assert(mapper.set_room_note("1", "watch out"))
			assert(mapper.set_room_color("1", "#abc"))
			assert(not mapper.set_room_color("1", "blue"))
			assert(mapper.set_room_tags("1", {"gate", "safe"}))
			assert(not mapper.set_room_note("missing", "x"))
			local r = mapper.get_room("1")
			return r.zone .. "|" .. r.notes .. "|" .. r.color .. "|" .. table.concat(r.tags, ",")
		end
	`, "go")
	assert.Equal(t, lua.LString("town|watch out|#abc|gate,safe"), ret)

	r, _ := store.Room("1")
	assert.Equal(t, "town", r.Zone)
	assert.Equal(t, []string{"gate", "safe"}, r.TagList())
}

func TestMapperSearchRooms(t *testing.T) {
	mgr, store, _ := newTestManager(t)
	store.CreateRoom("1", "Town Gate", 0, 0, 0)
	store.CreateRoom("2", "Forest", 0, 0, 0)
	store.CreateRoom("3", "Gatehouse", 0, 0, 0)

	ret := runScript(t, mgr, `
		function go()
			local ids = {}
			for _, r in ipairs(mapper.search_rooms("gate")) do table.insert(ids, r.id) end
			return table.concat(ids, ",")
		end
	`, "go")
	assert.Equal(t, lua.LString("1,3"), ret)
}

func TestMapperSetCurrentRoom(t *testing.T) {
	mgr, store, _ := newTestManager(t)
	store.CreateRoom("1", "Gate", 0, 0, 0)
	runScript(t, mgr, `function go() mapper.set_current_room("1") end`, "go")
	assert.Equal(t, "1", store.CurrentRoomID())

	runScript(t, mgr, `function go() mapper.set_current_room() end`, "go")
	assert.Equal(t, "", store.CurrentRoomID())
}

// Property: rooms created from Lua are visible to Go with the same fields.
func TestPropertyLuaCreateRoomVisibleInStore(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		store := mapper.NewStore()
		mgr := scripting.NewManager(store, zap.NewNop())
		defer mgr.Close()

		id := rapid.StringMatching(`[a-z0-9]{1,8}`).Draw(rt, "id")
		name := rapid.StringMatching(`[A-Za-z ]{0,12}`).Draw(rt, "name")
		x := rapid.IntRange(-100, 100).Draw(rt, "x")
		y := rapid.IntRange(-100, 100).Draw(rt, "y")

		dir := writeTempLua(t, "p.lua", fmt.Sprintf(`
			function go() return mapper.create_room(%q, %q, %d, %d, 0) end
		`, id, name, x, y))
		if err := mgr.LoadZone("p", dir, 0); err != nil {
			rt.Fatalf("load: %v", err)
		}
		ret, _ := mgr.CallHook("p", "go")
		if ret != lua.LTrue {
			rt.Fatalf("create_room returned %v", ret)
		}
		r, ok := store.Room(id)
		if !ok || r.Name != name || r.X != x || r.Y != y {
			rt.Fatalf("room mismatch: %+v", r)
		}
	})
}

func TestPrint_GoesToLogger(t *testing.T) {
	mgr, _, logs := newTestManager(t)
	runScript(t, mgr, `function go() print("room", 42, true) end`, "go")
	entries := logs.FilterMessage("room\t42\ttrue").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "lua", entries[0].ContextMap()["source"])
}
