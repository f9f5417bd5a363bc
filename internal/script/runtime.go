// Package script lets a Lua file define additional panel commands. All Lua
// execution happens on one worker goroutine.
package script

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
	lua "github.com/yuin/gopher-lua"

	"github.com/dokzlo13/panelhub/internal/apperr"
	"github.com/dokzlo13/panelhub/internal/dispatch"
	"github.com/dokzlo13/panelhub/internal/kv"
)

// Service is the descriptor service of script-defined commands.
const Service = "script"

var (
	ErrRuntimeClosed  = errors.New("lua runtime closed")
	ErrScriptReloaded = errors.New("script reloaded while command was queued")
)

// work is executed on the Lua goroutine.
type work func(ctx context.Context)

// Runtime owns the Lua state and the commands the loaded script defines.
type Runtime struct {
	path       string
	dispatcher *dispatch.Dispatcher
	store      kv.Bucket

	// worker goroutine only
	L        *lua.LState
	commands map[string]struct{}

	workQueue chan work
	closing   chan struct{}
	closeOnce sync.Once
}

// NewRuntime creates a runtime for the script at path. store backs the
// Lua store module and may be nil.
func NewRuntime(path string, d *dispatch.Dispatcher, store kv.Bucket) *Runtime {
	return &Runtime{
		path:       path,
		dispatcher: d,
		store:      store,
		commands:   make(map[string]struct{}),
		workQueue:  make(chan work, 100),
		closing:    make(chan struct{}),
	}
}

// Run executes queued work until ctx ends or Close is called. It is the
// only goroutine that touches Lua.
func (r *Runtime) Run(ctx context.Context) {
	defer r.shutdown()
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.closing:
			return
		case w := <-r.workQueue:
			r.execute(ctx, w)
		}
	}
}

func (r *Runtime) execute(ctx context.Context, w work) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Error().Interface("panic", rec).Msg("Lua work panicked - worker continuing")
		}
	}()
	w(ctx)
}

// shutdown unregisters script commands and releases the state.
func (r *Runtime) shutdown() {
	r.Close()
	for id := range r.commands {
		r.dispatcher.Unregister(id)
	}
	r.commands = map[string]struct{}{}
	if r.L != nil {
		r.L.Close()
		r.L = nil
	}
}

// Close stops the worker. Queued work that has not started is dropped.
func (r *Runtime) Close() {
	r.closeOnce.Do(func() {
		close(r.closing)
	})
}

// do queues fn on the worker and waits for its result.
func (r *Runtime) do(ctx context.Context, fn func() error) error {
	done := make(chan error, 1)
	w := work(func(context.Context) {
		defer func() {
			if rec := recover(); rec != nil {
				done <- fmt.Errorf("lua panic: %v", rec)
			}
		}()
		done <- fn()
	})

	select {
	case <-r.closing:
		return ErrRuntimeClosed
	case <-ctx.Done():
		return ctx.Err()
	case r.workQueue <- w:
	}

	select {
	case <-r.closing:
		return ErrRuntimeClosed
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return err
	}
}

// Reload runs the script in a fresh Lua state and swaps in the commands it
// defines. On failure the previous state and commands stay active.
func (r *Runtime) Reload(ctx context.Context) error {
	return r.do(ctx, func() error { return r.load(ctx) })
}

func (r *Runtime) load(ctx context.Context) error {
	L := lua.NewState()
	panel := newPanelModule(r)
	L.PreloadModule("panel", panel.Loader)
	L.PreloadModule("log", newLogModule().Loader)
	L.PreloadModule("store", newStoreModule(r.store).Loader)

	L.SetContext(ctx)
	if err := L.DoFile(r.path); err != nil {
		L.Close()
		return fmt.Errorf("load script %s: %w", r.path, err)
	}

	next := make(map[string]struct{}, len(panel.defs))
	for _, def := range panel.defs {
		err := r.dispatcher.Register(dispatch.Command{
			ID:          def.id,
			Service:     Service,
			Description: def.description,
			Params:      def.params,
			Handler:     r.handler(L, def),
		})
		if err != nil {
			log.Warn().Err(err).Str("command", def.id).Msg("Failed to register script command")
			continue
		}
		next[def.id] = struct{}{}
	}
	for id := range r.commands {
		if _, ok := next[id]; !ok {
			r.dispatcher.Unregister(id)
		}
	}

	old := r.L
	r.L = L
	r.commands = next
	if old != nil {
		old.Close()
	}

	log.Info().Str("path", r.path).Int("commands", len(next)).Msg("Lua script loaded")
	return nil
}

func (r *Runtime) handler(L *lua.LState, def commandDef) dispatch.HandlerFunc {
	return func(ctx context.Context, args dispatch.Args) (dispatch.Result, error) {
		var result dispatch.Result
		err := r.do(ctx, func() error {
			if r.L != L {
				return ErrScriptReloaded
			}

			tbl := L.NewTable()
			for i, v := range args {
				L.SetField(tbl, def.params[i].Name, valueToLua(v))
			}

			L.SetContext(ctx)
			if err := L.CallByParam(lua.P{Fn: def.fn, NRet: 2, Protect: true}, tbl); err != nil {
				return fmt.Errorf("script command %s: %w", def.id, err)
			}
			ret, failure := L.Get(-2), L.Get(-1)
			L.Pop(2)

			if failure != lua.LNil {
				return fmt.Errorf("%w: %s", apperr.ErrInvalidArgument, lua.LVAsString(failure))
			}
			result = toResult(ret)
			return nil
		})
		return result, err
	}
}
