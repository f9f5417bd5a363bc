package script

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	lua "github.com/yuin/gopher-lua"

	"github.com/dokzlo13/panelhub/internal/dispatch"
	"github.com/dokzlo13/panelhub/internal/kv"
)

type commandDef struct {
	id          string
	description string
	params      []dispatch.Param
	fn          *lua.LFunction
}

// panelModule provides command definition and dispatch to Lua:
//
//	local panel = require("panel")
//	panel.command{ id = "movie", params = {{name = "group", type = "string"}},
//	               handler = function(args) return {ok = true} end }
//	local res, err = panel.dispatch("power", {group = "Kitchen", on = false})
type panelModule struct {
	r    *Runtime
	defs []commandDef
	seen map[string]bool
}

func newPanelModule(r *Runtime) *panelModule {
	return &panelModule{r: r, seen: make(map[string]bool)}
}

func (m *panelModule) Loader(L *lua.LState) int {
	mod := L.NewTable()
	L.SetField(mod, "command", L.NewFunction(m.command))
	L.SetField(mod, "dispatch", L.NewFunction(m.dispatch))
	L.Push(mod)
	return 1
}

func (m *panelModule) command(L *lua.LState) int {
	defn := L.CheckTable(1)

	id := lua.LVAsString(L.GetField(defn, "id"))
	if id == "" {
		L.ArgError(1, "id is required")
		return 0
	}
	if m.seen[id] {
		L.ArgError(1, fmt.Sprintf("command %q defined twice", id))
		return 0
	}
	if existing, ok := m.r.dispatcher.Get(id); ok && existing.Service != Service {
		L.ArgError(1, fmt.Sprintf("command %q is reserved by service %q", id, existing.Service))
		return 0
	}

	fn, ok := L.GetField(defn, "handler").(*lua.LFunction)
	if !ok {
		L.ArgError(1, "handler must be a function")
		return 0
	}

	params, err := parseParams(L.GetField(defn, "params"))
	if err != nil {
		L.ArgError(1, err.Error())
		return 0
	}

	m.seen[id] = true
	m.defs = append(m.defs, commandDef{
		id:          id,
		description: lua.LVAsString(L.GetField(defn, "description")),
		params:      params,
		fn:          fn,
	})
	return 0
}

func parseParams(v lua.LValue) ([]dispatch.Param, error) {
	if v == lua.LNil {
		return nil, nil
	}
	tbl, ok := v.(*lua.LTable)
	if !ok {
		return nil, fmt.Errorf("params must be a list")
	}

	params := make([]dispatch.Param, 0, tbl.Len())
	for i := 1; i <= tbl.Len(); i++ {
		entry, ok := tbl.RawGetInt(i).(*lua.LTable)
		if !ok {
			return nil, fmt.Errorf("params[%d] must be a table", i)
		}
		name := lua.LVAsString(entry.RawGetString("name"))
		if name == "" {
			return nil, fmt.Errorf("params[%d] needs a name", i)
		}
		typ, err := dispatch.ParseType(lua.LVAsString(entry.RawGetString("type")))
		if err != nil {
			return nil, fmt.Errorf("params[%d]: %w", i, err)
		}
		params = append(params, dispatch.Param{
			Name:     name,
			Type:     typ,
			Optional: lua.LVAsBool(entry.RawGetString("optional")),
		})
	}
	return params, nil
}

// dispatch(id, params) -> result | nil, message
func (m *panelModule) dispatch(L *lua.LState) int {
	id := L.CheckString(1)
	params := L.OptTable(2, nil)

	// script commands run on this goroutine; calling one would deadlock
	if cmd, ok := m.r.dispatcher.Get(id); ok && cmd.Service == Service {
		L.RaiseError("cannot dispatch script command %q from a script", id)
		return 0
	}

	raw := map[string]any{}
	if params != nil {
		raw = tableToMap(params)
	}

	res, err := m.r.dispatcher.Dispatch(contextOf(L), nil, id, raw)
	if err != nil {
		L.Push(lua.LNil)
		L.Push(lua.LString(err.Error()))
		return 2
	}
	L.Push(goToLua(L, res))
	return 1
}

// logModule exposes zerolog to scripts: log.info("msg", {field = 1}).
type logModule struct{}

func newLogModule() *logModule { return &logModule{} }

func (m *logModule) Loader(L *lua.LState) int {
	mod := L.NewTable()
	L.SetField(mod, "debug", L.NewFunction(m.at(zerolog.DebugLevel)))
	L.SetField(mod, "info", L.NewFunction(m.at(zerolog.InfoLevel)))
	L.SetField(mod, "warn", L.NewFunction(m.at(zerolog.WarnLevel)))
	L.SetField(mod, "error", L.NewFunction(m.at(zerolog.ErrorLevel)))
	L.Push(mod)
	return 1
}

func (m *logModule) at(level zerolog.Level) lua.LGFunction {
	return func(L *lua.LState) int {
		msg := L.CheckString(1)
		event := log.WithLevel(level).Str("source", "lua")
		if fields := L.OptTable(2, nil); fields != nil {
			for k, v := range tableToMap(fields) {
				event = event.Interface(k, v)
			}
		}
		event.Msg(msg)
		return 0
	}
}

// storeModule persists JSON values for scripts: store.set(key, value,
// ttl_seconds), store.get(key), store.delete(key).
type storeModule struct {
	bucket kv.Bucket
}

func newStoreModule(bucket kv.Bucket) *storeModule {
	if bucket == nil {
		bucket = kv.NewMemoryBucket(Service)
	}
	return &storeModule{bucket: bucket}
}

func (m *storeModule) Loader(L *lua.LState) int {
	mod := L.NewTable()
	L.SetField(mod, "get", L.NewFunction(m.get))
	L.SetField(mod, "set", L.NewFunction(m.set))
	L.SetField(mod, "delete", L.NewFunction(m.delete))
	L.Push(mod)
	return 1
}

func (m *storeModule) get(L *lua.LState) int {
	key := L.CheckString(1)
	raw, ok, err := m.bucket.Get(contextOf(L), key)
	if err != nil {
		L.RaiseError("store get %q: %v", key, err)
		return 0
	}
	if !ok {
		L.Push(lua.LNil)
		return 1
	}

	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		L.RaiseError("store get %q: %v", key, err)
		return 0
	}
	L.Push(goToLua(L, v))
	return 1
}

func (m *storeModule) set(L *lua.LState) int {
	key := L.CheckString(1)
	value := luaToGo(L.CheckAny(2))
	ttl := time.Duration(float64(L.OptNumber(3, 0)) * float64(time.Second))

	raw, err := json.Marshal(value)
	if err != nil {
		L.RaiseError("store set %q: %v", key, err)
		return 0
	}
	if err := m.bucket.Put(contextOf(L), key, raw, ttl); err != nil {
		L.RaiseError("store set %q: %v", key, err)
	}
	return 0
}

func (m *storeModule) delete(L *lua.LState) int {
	key := L.CheckString(1)
	if err := m.bucket.Delete(contextOf(L), key); err != nil {
		L.RaiseError("store delete %q: %v", key, err)
	}
	return 0
}

func contextOf(L *lua.LState) context.Context {
	if ctx := L.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
