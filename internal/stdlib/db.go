package stdlib

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/netesy/limitly/internal/config"
	"github.com/netesy/limitly/internal/vm"
)

func registerDB(m *vm.VM) {
	m.RegisterNative("dbOpen", dbOpen)
	m.RegisterNative("dbExec", dbExec)
	m.RegisterNative("dbQuery", dbQuery)
	m.RegisterNative("dbClose", dbClose)
}

// DBObject wraps an open SQLite handle as a language value.
type DBObject struct {
	DB   *sql.DB
	Path string
}

func (d *DBObject) Kind() string { return "DB" }

func (d *DBObject) Inspect() string {
	if d.DB == nil {
		return "<db closed>"
	}
	return "<db " + d.Path + ">"
}

func (d *DBObject) Hash() uint32 { return 0 }

var dbType = &vm.Type{Tag: vm.TAG_OBJECT, Name: "db"}

// dbOpen(path) opens (creating if needed) a SQLite database. ":memory:"
// gives a throwaway in-memory database.
func dbOpen(m *vm.VM, args []vm.Value) (vm.Value, error) {
	if len(args) != 1 || !args[0].IsString() {
		return vm.NilVal(), fmt.Errorf("dbOpen expects a path string")
	}
	path := args[0].AsString()
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return errorValue(m, config.IOError, "opening database: "+err.Error()), nil
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return errorValue(m, config.IOError, "setting busy timeout: "+err.Error()), nil
	}
	return vm.ObjVal(dbType, &DBObject{DB: db, Path: path}), nil
}

func dbHandle(args []vm.Value) (*DBObject, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("expects a db handle")
	}
	d, ok := args[0].Obj.(*DBObject)
	if !ok || d.DB == nil {
		return nil, fmt.Errorf("expects an open db handle, got %s", args[0].TypeName())
	}
	return d, nil
}

func sqlArgs(args []vm.Value) []interface{} {
	out := make([]interface{}, len(args))
	for i, a := range args {
		switch {
		case a.IsNil():
			out[i] = nil
		case a.IsBool():
			out[i] = a.AsBool()
		case a.IsInt():
			out[i] = a.AsInt()
		case a.IsFloat():
			out[i] = a.AsFloat()
		default:
			out[i] = a.Inspect()
		}
	}
	return out
}

// dbExec(db, sql, params...) runs a statement and yields the number of
// affected rows.
func dbExec(m *vm.VM, args []vm.Value) (vm.Value, error) {
	d, err := dbHandle(args)
	if err != nil {
		return vm.NilVal(), fmt.Errorf("dbExec %v", err)
	}
	if len(args) < 2 || !args[1].IsString() {
		return vm.NilVal(), fmt.Errorf("dbExec expects a SQL string")
	}
	res, execErr := d.DB.Exec(args[1].AsString(), sqlArgs(args[2:])...)
	if execErr != nil {
		return errorValue(m, config.IOError, execErr.Error()), nil
	}
	affected, _ := res.RowsAffected()
	return vm.IntVal(affected), nil
}

// dbQuery(db, sql, params...) yields a list of dicts, one per row, keyed
// by column name.
func dbQuery(m *vm.VM, args []vm.Value) (vm.Value, error) {
	d, err := dbHandle(args)
	if err != nil {
		return vm.NilVal(), fmt.Errorf("dbQuery %v", err)
	}
	if len(args) < 2 || !args[1].IsString() {
		return vm.NilVal(), fmt.Errorf("dbQuery expects a SQL string")
	}
	rows, queryErr := d.DB.Query(args[1].AsString(), sqlArgs(args[2:])...)
	if queryErr != nil {
		return errorValue(m, config.IOError, queryErr.Error()), nil
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return errorValue(m, config.IOError, err.Error()), nil
	}

	var out []vm.Value
	for rows.Next() {
		raw := make([]interface{}, len(cols))
		ptrs := make([]interface{}, len(cols))
		for i := range raw {
			ptrs[i] = &raw[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return errorValue(m, config.IOError, err.Error()), nil
		}
		row := vm.NewDict()
		for i, col := range cols {
			row.Set(vm.StringVal(col), sqlValue(raw[i]))
		}
		out = append(out, vm.ObjVal(vm.DictType, row))
	}
	if err := rows.Err(); err != nil {
		return errorValue(m, config.IOError, err.Error()), nil
	}
	return vm.ObjVal(vm.ListType, vm.NewList(out)), nil
}

func sqlValue(raw interface{}) vm.Value {
	switch v := raw.(type) {
	case nil:
		return vm.NilVal()
	case bool:
		return vm.BoolVal(v)
	case int64:
		return vm.IntVal(v)
	case float64:
		return vm.FloatVal(v)
	case string:
		return vm.StringVal(v)
	case []byte:
		return vm.StringVal(string(v))
	}
	return vm.StringVal(fmt.Sprintf("%v", raw))
}

func dbClose(m *vm.VM, args []vm.Value) (vm.Value, error) {
	d, err := dbHandle(args)
	if err != nil {
		return vm.NilVal(), fmt.Errorf("dbClose %v", err)
	}
	closeErr := d.DB.Close()
	d.DB = nil
	if closeErr != nil {
		return errorValue(m, config.IOError, closeErr.Error()), nil
	}
	return vm.NilVal(), nil
}
