package script

import (
	"encoding/json"

	lua "github.com/yuin/gopher-lua"

	"github.com/dokzlo13/panelhub/internal/dispatch"
)

func valueToLua(v dispatch.Value) lua.LValue {
	switch v.Type() {
	case dispatch.TypeBoolean:
		return lua.LBool(v.AsBool())
	case dispatch.TypeNumber:
		return lua.LNumber(v.AsNumber())
	case dispatch.TypeString:
		return lua.LString(v.AsString())
	default:
		return lua.LNil
	}
}

// toResult shapes a handler's return value into a command result. Tables
// with string keys become the result itself; anything else is wrapped
// under "value".
func toResult(v lua.LValue) dispatch.Result {
	switch converted := luaToGo(v).(type) {
	case nil:
		return dispatch.Result{}
	case map[string]any:
		return dispatch.Result(converted)
	default:
		return dispatch.Result{"value": converted}
	}
}

// luaToGo converts a Lua value to JSON-compatible Go. Tables with only
// positive integer keys become slices.
func luaToGo(v lua.LValue) any {
	switch val := v.(type) {
	case lua.LString:
		return string(val)
	case lua.LNumber:
		return float64(val)
	case lua.LBool:
		return bool(val)
	case *lua.LTable:
		isArray := true
		maxIdx := 0
		val.ForEach(func(k, _ lua.LValue) {
			if num, ok := k.(lua.LNumber); ok && num >= 1 {
				if idx := int(num); idx > maxIdx {
					maxIdx = idx
				}
				return
			}
			isArray = false
		})

		if isArray && maxIdx > 0 {
			arr := make([]any, maxIdx)
			val.ForEach(func(k, v lua.LValue) {
				arr[int(k.(lua.LNumber))-1] = luaToGo(v)
			})
			return arr
		}

		obj := make(map[string]any)
		val.ForEach(func(k, v lua.LValue) {
			obj[lua.LVAsString(k)] = luaToGo(v)
		})
		return obj
	case *lua.LNilType:
		return nil
	default:
		return v.String()
	}
}

func tableToMap(tbl *lua.LTable) map[string]any {
	m := make(map[string]any)
	tbl.ForEach(func(k, v lua.LValue) {
		if ks, ok := k.(lua.LString); ok {
			m[string(ks)] = luaToGo(v)
		}
	})
	return m
}

// goToLua converts Go values to Lua. Anything beyond JSON primitives,
// slices and maps (command results carrying structs) goes through a JSON
// round trip first.
func goToLua(L *lua.LState, v any) lua.LValue {
	switch val := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(val)
	case float64:
		return lua.LNumber(val)
	case int:
		return lua.LNumber(val)
	case string:
		return lua.LString(val)
	case []any:
		tbl := L.NewTable()
		for i, item := range val {
			tbl.RawSetInt(i+1, goToLua(L, item))
		}
		return tbl
	case map[string]any:
		tbl := L.NewTable()
		for k, item := range val {
			tbl.RawSetString(k, goToLua(L, item))
		}
		return tbl
	case dispatch.Result:
		return goToLua(L, map[string]any(val))
	default:
		data, err := json.Marshal(val)
		if err != nil {
			return lua.LString(err.Error())
		}
		var generic any
		if err := json.Unmarshal(data, &generic); err != nil {
			return lua.LNil
		}
		return goToLua(L, generic)
	}
}
