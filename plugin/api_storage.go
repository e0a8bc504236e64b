package plugin

import (
	"database/sql"

	lua "github.com/yuin/gopher-lua"
)

// OptionsAPI provides plugin-local key-value options
type OptionsAPI struct {
	db    *sql.DB
	class string
}

// NewOptionsAPI creates a new options API instance
func NewOptionsAPI(db *sql.DB, class string) *OptionsAPI {
	return &OptionsAPI{
		db:    db,
		class: class,
	}
}

// Register adds the options module to the Lua state
func (s *OptionsAPI) Register(L *lua.LState) {
	optionsMod := L.NewTable()

	optionsMod.RawSetString("get", L.NewFunction(s.get))
	optionsMod.RawSetString("set", L.NewFunction(s.set))
	optionsMod.RawSetString("delete", L.NewFunction(s.delete))

	L.SetGlobal("options", optionsMod)
}

func (s *OptionsAPI) get(L *lua.LState) int {
	key := L.CheckString(1)

	var value []byte
	err := s.db.QueryRowContext(luaContext(L),
		"SELECT value FROM plugin_options WHERE class_name = ? AND key = ?",
		s.class, key,
	).Scan(&value)

	if err != nil {
		L.Push(L.Get(2))
		return 1
	}

	L.Push(lua.LString(string(value)))
	return 1
}

func (s *OptionsAPI) set(L *lua.LState) int {
	key := L.CheckString(1)
	value := L.CheckString(2)

	_, err := s.db.ExecContext(luaContext(L), `
		INSERT INTO plugin_options (class_name, key, value)
		VALUES (?, ?, ?)
		ON CONFLICT(class_name, key) DO UPDATE SET value = excluded.value
	`, s.class, key, []byte(value))

	if err != nil {
		L.Push(lua.LFalse)
		L.Push(lua.LString(err.Error()))
		return 2
	}

	L.Push(lua.LTrue)
	return 1
}

func (s *OptionsAPI) delete(L *lua.LState) int {
	key := L.CheckString(1)

	_, err := s.db.ExecContext(luaContext(L),
		"DELETE FROM plugin_options WHERE class_name = ? AND key = ?",
		s.class, key,
	)

	if err != nil {
		L.Push(lua.LFalse)
		return 1
	}

	L.Push(lua.LTrue)
	return 1
}
