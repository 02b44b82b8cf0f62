package config

import (
	lua "github.com/yuin/gopher-lua"
)

// sandboxLuaVM removes everything that could reach the filesystem, spawn
// processes or load further code. string, table and math are kept.
func sandboxLuaVM(L *lua.LState) {
	for _, name := range []string{
		"os",
		"io",
		"debug",
		"require",
		"dofile",
		"loadfile",
		"load",
		"loadstring",
		"module",
		"package",
	} {
		L.SetGlobal(name, lua.LNil)
	}
}

// newSandboxedVM creates a Lua VM with sandboxing applied and a bounded
// call stack.
func newSandboxedVM() *lua.LState {
	L := lua.NewState(lua.Options{
		CallStackSize:       256,
		RegistrySize:        1024 * 8,
		IncludeGoStackTrace: false,
	})
	sandboxLuaVM(L)
	return L
}
