// Package scripting runs user Lua scripts against the live room graph in a
// sandboxed GopherLua VM. Scripts reach the graph only through the mapper.*
// table registered by Manager.
package scripting

import (
	"context"
	"sync/atomic"

	lua "github.com/yuin/gopher-lua"
)

// DefaultInstructionLimit is the maximum number of Lua opcodes a single
// script load or hook call may run when the configured limit is zero.
const DefaultInstructionLimit = 100_000

// safeLibs are the only standard libraries opened in a sandbox.
var safeLibs = []struct {
	name string
	open lua.LGFunction
}{
	{lua.BaseLibName, lua.OpenBase},
	{lua.TabLibName, lua.OpenTable},
	{lua.StringLibName, lua.OpenString},
	{lua.MathLibName, lua.OpenMath},
}

// blockedGlobals are removed after the base library is opened. They load
// code from disk or strings, or expose the collector.
var blockedGlobals = []string{"dofile", "loadfile", "load", "loadstring", "collectgarbage", "require", "module"}

// opBudget is a context that cancels itself once Done has been called limit
// times. GopherLua's mainLoopWithContext calls Done once per opcode, which
// makes this an exact instruction count.
type opBudget struct {
	context.Context
	cancel context.CancelFunc
	left   atomic.Int64
}

// Done spends one instruction and returns the cancellation channel.
func (b *opBudget) Done() <-chan struct{} {
	if b.left.Add(-1) <= 0 {
		b.cancel()
	}
	return b.Context.Done()
}

// newOpBudget returns a budget of limit opcodes.
//
// Precondition: limit > 0.
func newOpBudget(limit int) *opBudget {
	ctx, cancel := context.WithCancel(context.Background())
	b := &opBudget{Context: ctx, cancel: cancel}
	b.left.Store(int64(limit))
	return b
}

// NewSandboxedState creates a GopherLua LState with:
//   - Only safe stdlib loaded: base, table, string, math
//   - Code-loading globals removed (see blockedGlobals)
//   - Execution limited to at most instLimit Lua opcodes until the budget is reset
//
// Precondition: instLimit >= 0; 0 uses DefaultInstructionLimit.
// Postcondition: Returns a non-nil LState ready for RegisterModules and DoFile,
// and the cancel function of its instruction budget. The caller owns both and
// must call cancel and L.Close() when done.
func NewSandboxedState(instLimit int) (*lua.LState, context.CancelFunc) {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	for _, lib := range safeLibs {
		L.Push(L.NewFunction(lib.open))
		L.Push(lua.LString(lib.name))
		L.Call(1, 0)
	}
	for _, name := range blockedGlobals {
		L.SetGlobal(name, lua.LNil)
	}
	return L, resetBudget(L, instLimit)
}

// resetBudget gives L a fresh budget of instLimit opcodes. Manager calls it
// before every script load and hook call.
//
// Postcondition: Returns the cancel function of the new budget.
func resetBudget(L *lua.LState, instLimit int) context.CancelFunc {
	limit := instLimit
	if limit <= 0 {
		limit = DefaultInstructionLimit
	}
	b := newOpBudget(limit)
	L.SetContext(b)
	return b.cancel
}
