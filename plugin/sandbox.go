package plugin

import (
	"context"
	"errors"
	"fmt"
	"time"

	lua "github.com/yuin/gopher-lua"
)

const (
	MaxExecutionTime = 30 * time.Second
)

// heldKey marks a context whose call chain already holds the sandbox, so
// hooks fired from inside a plugin can call back into it.
type heldKey struct{ s *Sandbox }

// newState creates a Lua state with only the safe libraries opened.
func newState() *lua.LState {
	L := lua.NewState(lua.Options{
		SkipOpenLibs: true,
	})

	lua.OpenBase(L)
	lua.OpenTable(L)
	lua.OpenString(L)
	lua.OpenMath(L)

	// Remove dangerous functions from base
	L.SetGlobal("dofile", lua.LNil)
	L.SetGlobal("loadfile", lua.LNil)
	L.SetGlobal("load", lua.LNil)
	L.SetGlobal("loadstring", lua.LNil)
	L.SetGlobal("rawequal", lua.LNil)
	L.SetGlobal("rawget", lua.LNil)
	L.SetGlobal("rawset", lua.LNil)
	L.SetGlobal("getmetatable", lua.LNil)
	L.SetGlobal("setmetatable", lua.LNil)
	L.SetGlobal("collectgarbage", lua.LNil)
	L.SetGlobal("require", lua.LNil)
	L.SetGlobal("module", lua.LNil)

	return L
}

// Sandbox wraps the Lua state of one loaded plugin.
type Sandbox struct {
	L        *lua.LState
	manifest *Manifest
	class    string
	sem      chan struct{}
	closed   bool
}

// NewSandbox creates a new sandboxed Lua environment
func NewSandbox(manifest *Manifest, class string) *Sandbox {
	return &Sandbox{
		L:        newState(),
		manifest: manifest,
		class:    class,
		sem:      make(chan struct{}, 1),
	}
}

// enter acquires the state for the caller. Calls made from code already
// running inside this sandbox reuse the held state.
func (s *Sandbox) enter(ctx context.Context) (context.Context, func(), error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if ctx.Value(heldKey{s}) != nil {
		return ctx, func() {}, nil
	}

	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	}
	if s.closed {
		<-s.sem
		return nil, nil, ErrSandboxClosed
	}

	callCtx, cancel := context.WithTimeout(ctx, MaxExecutionTime)
	callCtx = context.WithValue(callCtx, heldKey{s}, true)
	s.L.SetContext(callCtx)

	return callCtx, func() {
		s.L.RemoveContext()
		cancel()
		<-s.sem
	}, nil
}

func wrapLuaError(callCtx context.Context, what string, err error) error {
	if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w after %v", what, ErrTimeout, MaxExecutionTime)
	}
	return fmt.Errorf("%s failed: %w", what, err)
}

// Close shuts down the sandbox
func (s *Sandbox) Close() {
	s.sem <- struct{}{}
	defer func() { <-s.sem }()

	if s.closed {
		return
	}
	s.closed = true
	s.L.Close()
}

// LoadSource executes the plugin source.
func (s *Sandbox) LoadSource(ctx context.Context, source string) error {
	callCtx, release, err := s.enter(ctx)
	if err != nil {
		return err
	}
	defer release()

	if err := s.L.DoString(source); err != nil {
		return wrapLuaError(callCtx, "plugin load", err)
	}
	return nil
}

// HasFunction reports whether the plugin defines the global function name.
func (s *Sandbox) HasFunction(ctx context.Context, name string) bool {
	_, release, err := s.enter(ctx)
	if err != nil {
		return false
	}
	defer release()

	_, ok := s.L.GetGlobal(name).(*lua.LFunction)
	return ok
}

// CallGlobal calls the global function name. A missing function is skipped
// silently.
func (s *Sandbox) CallGlobal(ctx context.Context, name string, args ...any) error {
	callCtx, release, err := s.enter(ctx)
	if err != nil {
		return err
	}
	defer release()

	fn := s.L.GetGlobal(name)
	if fn == lua.LNil {
		return nil
	}
	if _, ok := fn.(*lua.LFunction); !ok {
		return fmt.Errorf("%s is not a function", name)
	}
	_, err = s.call(callCtx, name, fn, 0, args)
	return err
}

// Call invokes fn with args converted to Lua values and returns nret
// results converted back to Go values.
func (s *Sandbox) Call(ctx context.Context, fn lua.LValue, nret int, args ...any) ([]any, error) {
	callCtx, release, err := s.enter(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	return s.call(callCtx, "callback", fn, nret, args)
}

func (s *Sandbox) call(callCtx context.Context, what string, fn lua.LValue, nret int, args []any) ([]any, error) {
	top := s.L.GetTop()
	defer s.L.SetTop(top)

	s.L.Push(fn)
	for _, arg := range args {
		s.L.Push(goToLua(s.L, arg))
	}

	if err := s.L.PCall(len(args), nret, nil); err != nil {
		return nil, wrapLuaError(callCtx, what, err)
	}

	out := make([]any, nret)
	for i := 0; i < nret; i++ {
		out[i] = luaToGo(s.L.Get(top + 1 + i))
	}
	return out, nil
}

// GetState returns the Lua state. API modules register their globals on it.
func (s *Sandbox) GetState() *lua.LState {
	return s.L
}

// GetManifest returns the plugin manifest
func (s *Sandbox) GetManifest() *Manifest {
	return s.manifest
}

// Class returns the class name of the plugin running in the sandbox.
func (s *Sandbox) Class() string {
	return s.class
}
