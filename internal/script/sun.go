package script

import (
	lua "github.com/yuin/gopher-lua"
)

// Refresher asks an entry to poll soon.
type Refresher interface {
	RequestRefresh(entryID string) bool
}

// sunModule keeps the callbacks registered by the script. Only the Lua
// worker touches it.
type sunModule struct {
	refresher Refresher
	onUpdate  []*lua.LFunction
	onFailure []*lua.LFunction
}

func (m *sunModule) loader(L *lua.LState) int {
	mod := L.NewTable()

	L.SetField(mod, "on_update", L.NewFunction(func(L *lua.LState) int {
		m.onUpdate = append(m.onUpdate, L.CheckFunction(1))
		return 0
	}))
	L.SetField(mod, "on_failure", L.NewFunction(func(L *lua.LState) int {
		m.onFailure = append(m.onFailure, L.CheckFunction(1))
		return 0
	}))
	L.SetField(mod, "refresh", L.NewFunction(m.refresh))

	L.Push(mod)
	return 1
}

// refresh(entry_id) returns true when the request was accepted.
func (m *sunModule) refresh(L *lua.LState) int {
	id := L.CheckString(1)
	ok := m.refresher != nil && m.refresher.RequestRefresh(id)
	L.Push(lua.LBool(ok))
	return 1
}
