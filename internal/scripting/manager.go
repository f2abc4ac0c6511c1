package scripting

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"

	"github.com/cory-johannsen/automapper/internal/mapper"
)

// globalZone is the reserved key for shared scripts loaded via LoadGlobal.
// CallHook falls back to this VM when no zone VM is found.
const globalZone = "__global__"

// vm is one sandboxed LState. mu serializes every use of L.
type vm struct {
	mu     sync.Mutex
	L      *lua.LState
	limit  int
	cancel context.CancelFunc
}

// Manager owns one sandboxed LState per map zone plus an optional global
// LState, and dispatches hooks to them.
//
// Manager is safe for concurrent use. Calls into the same VM are serialized;
// different VMs run concurrently.
type Manager struct {
	mu     sync.RWMutex
	vms    map[string]*vm
	store  *mapper.Store
	logger *zap.Logger
}

// NewManager creates a Manager whose scripts operate on store.
//
// Precondition: store and logger must be non-nil.
// Postcondition: Returns a non-nil Manager with no VMs loaded.
func NewManager(store *mapper.Store, logger *zap.Logger) *Manager {
	if store == nil {
		panic("scripting.NewManager: store must not be nil")
	}
	if logger == nil {
		panic("scripting.NewManager: logger must not be nil")
	}
	return &Manager{
		vms:    make(map[string]*vm),
		store:  store,
		logger: logger,
	}
}

// LoadZone creates a sandboxed VM for zone, registers the mapper.* module,
// then executes every *.lua file in scriptDir in lexicographic order.
// Hooks for rooms whose Zone equals zone run in this VM.
//
// Precondition: zone must be non-empty; scriptDir must be a readable directory.
// Postcondition: Zone VM is registered, replacing any previous one; returns
// error on Lua load failure.
func (m *Manager) LoadZone(zone, scriptDir string, instLimit int) error {
	return m.loadInto(zone, scriptDir, instLimit)
}

// LoadGlobal creates the VM used for rooms without a zone VM of their own and
// for graph-wide events.
//
// Precondition: scriptDir must be a readable directory.
// Postcondition: Global VM is registered; returns error on Lua load failure.
func (m *Manager) LoadGlobal(scriptDir string, instLimit int) error {
	return m.loadInto(globalZone, scriptDir, instLimit)
}

func (m *Manager) loadInto(key, scriptDir string, instLimit int) error {
	L, cancel := NewSandboxedState(instLimit)
	m.RegisterModules(L, key)

	entries, err := os.ReadDir(scriptDir)
	if err != nil {
		cancel()
		L.Close()
		return fmt.Errorf("scripting: reading script dir %q for %q: %w", scriptDir, key, err)
	}

	var luaFiles []string
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".lua" {
			luaFiles = append(luaFiles, filepath.Join(scriptDir, e.Name()))
		}
	}
	sort.Strings(luaFiles)

	for _, path := range luaFiles {
		cancel()
		cancel = resetBudget(L, instLimit)
		if err := L.DoFile(path); err != nil {
			cancel()
			L.Close()
			return fmt.Errorf("scripting: loading %q for %q: %w", path, key, err)
		}
	}

	next := &vm{L: L, limit: instLimit, cancel: cancel}
	m.mu.Lock()
	old := m.vms[key]
	m.vms[key] = next
	m.mu.Unlock()

	if old != nil {
		old.close()
	}
	m.logger.Debug("scripting: VM loaded",
		zap.String("zone", key),
		zap.Int("files", len(luaFiles)),
	)
	return nil
}

func (m *Manager) lookup(zone string) *vm {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if v, ok := m.vms[zone]; ok {
		return v
	}
	return m.vms[globalZone]
}

// CallHook calls the named Lua global function in zone's VM. If the zone has
// no VM, the global VM is tried as a fallback. Returns (LNil, nil) if the
// hook is not defined or no VM exists. Lua runtime errors, including an
// exhausted instruction budget, are logged at Warn level and never propagated.
//
// Precondition: args must be valid lua.LValue instances.
// Postcondition: Returns the first return value of the hook, or LNil.
func (m *Manager) CallHook(zone, hook string, args ...lua.LValue) (lua.LValue, error) {
	v := m.lookup(zone)
	if v == nil {
		m.logger.Info("scripting: no VM for zone",
			zap.String("zone", zone),
			zap.String("hook", hook),
		)
		return lua.LNil, nil
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	return m.call(v, zone, hook, args...), nil
}

// call must be called with v.mu held.
func (m *Manager) call(v *vm, zone, hook string, args ...lua.LValue) lua.LValue {
	if v.L == nil {
		return lua.LNil
	}
	fn := v.L.GetGlobal(hook)
	if fn.Type() != lua.LTFunction {
		return lua.LNil
	}

	v.cancel()
	v.cancel = resetBudget(v.L, v.limit)
	if err := v.L.CallByParam(lua.P{
		Fn:      fn,
		NRet:    1,
		Protect: true,
	}, args...); err != nil {
		m.logger.Warn("scripting: Lua runtime error",
			zap.String("zone", zone),
			zap.String("hook", hook),
			zap.Error(err),
		)
		return lua.LNil
	}

	ret := v.L.Get(-1)
	v.L.Pop(1)
	return ret
}

// Watch forwards Store events to Lua hooks named "on_" followed by the event
// kind, such as on_room_upserted(room_id). Room events run in the VM of the
// room's zone; graph-wide events run in the global VM. An event raised while
// its VM is already running a hook, including one raised by that hook's own
// mapper.* calls, is dropped.
//
// Postcondition: Returns a function that stops forwarding.
func (m *Manager) Watch() func() {
	return m.store.Subscribe(m.dispatch)
}

func (m *Manager) dispatch(ev mapper.Event) {
	zone := globalZone
	if ev.RoomID != "" {
		if r, ok := m.store.Room(ev.RoomID); ok && r.Zone != "" {
			zone = r.Zone
		}
	}
	v := m.lookup(zone)
	if v == nil {
		return
	}
	if !v.mu.TryLock() {
		m.logger.Debug("scripting: VM busy, event dropped",
			zap.String("zone", zone),
			zap.String("event", string(ev.Kind)),
		)
		return
	}
	defer v.mu.Unlock()
	m.call(v, zone, "on_"+string(ev.Kind), lua.LString(ev.RoomID))
}

// Close releases every VM. Hooks called afterwards are no-ops.
func (m *Manager) Close() {
	m.mu.Lock()
	vms := m.vms
	m.vms = make(map[string]*vm)
	m.mu.Unlock()

	for _, v := range vms {
		v.close()
	}
}

func (v *vm) close() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.L == nil {
		return
	}
	v.cancel()
	v.L.Close()
	v.L = nil
}
