package stdlib

import (
	"testing"

	"github.com/netesy/limitly/internal/vm"
)

func openTestDB(t *testing.T, m *vm.VM) vm.Value {
	t.Helper()
	v, err := dbOpen(m, []vm.Value{vm.StringVal(":memory:")})
	if err != nil {
		t.Fatalf("dbOpen: %v", err)
	}
	if v.IsError() {
		t.Fatalf("dbOpen error value: %s", v.Inspect())
	}
	t.Cleanup(func() {
		if h, ok := v.Obj.(*DBObject); ok && h.DB != nil {
			h.DB.Close()
		}
	})
	return v
}

func TestDBExecAndQuery(t *testing.T) {
	m := testVM()
	db := openTestDB(t, m)

	res, err := dbExec(m, []vm.Value{db, vm.StringVal(
		"CREATE TABLE kv (k TEXT PRIMARY KEY, v INTEGER)")})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if res.IsError() {
		t.Fatalf("create error value: %s", res.Inspect())
	}

	res, err = dbExec(m, []vm.Value{db,
		vm.StringVal("INSERT INTO kv (k, v) VALUES (?, ?), (?, ?)"),
		vm.StringVal("a"), vm.IntVal(1),
		vm.StringVal("b"), vm.IntVal(2)})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if res.AsInt() != 2 {
		t.Errorf("affected rows got %s, want 2", res.Inspect())
	}

	rows, err := dbQuery(m, []vm.Value{db,
		vm.StringVal("SELECT k, v FROM kv ORDER BY k")})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	list, ok := rows.Obj.(*vm.List)
	if !ok {
		t.Fatalf("got %s, want list", rows.TypeName())
	}
	if len(list.Elements) != 2 {
		t.Fatalf("got %d rows, want 2", len(list.Elements))
	}
	first := list.Elements[0].Obj.(*vm.Dict)
	k, _ := first.Get(vm.StringVal("k"))
	v, _ := first.Get(vm.StringVal("v"))
	if k.AsString() != "a" || v.AsInt() != 1 {
		t.Errorf("first row: %s", list.Elements[0].Inspect())
	}
}

func TestDBQueryWithParams(t *testing.T) {
	m := testVM()
	db := openTestDB(t, m)

	if res, _ := dbExec(m, []vm.Value{db, vm.StringVal(
		"CREATE TABLE n (v INTEGER)")}); res.IsError() {
		t.Fatalf("create: %s", res.Inspect())
	}
	for i := int64(1); i <= 5; i++ {
		dbExec(m, []vm.Value{db, vm.StringVal("INSERT INTO n (v) VALUES (?)"), vm.IntVal(i)})
	}

	rows, err := dbQuery(m, []vm.Value{db,
		vm.StringVal("SELECT v FROM n WHERE v > ?"), vm.IntVal(3)})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	list := rows.Obj.(*vm.List)
	if len(list.Elements) != 2 {
		t.Errorf("got %d rows, want 2", len(list.Elements))
	}
}

func TestDBExecBadSQLGivesErrorValue(t *testing.T) {
	m := testVM()
	db := openTestDB(t, m)

	res, err := dbExec(m, []vm.Value{db, vm.StringVal("NOT ACTUAL SQL")})
	if err != nil {
		t.Fatalf("bad SQL should be a language error, not a host error: %v", err)
	}
	e := res.ErrorValue()
	if e == nil || e.ErrType != "IOError" {
		t.Errorf("got %s, want IOError value", res.Inspect())
	}
}

func TestDBCloseInvalidatesHandle(t *testing.T) {
	m := testVM()
	v, err := dbOpen(m, []vm.Value{vm.StringVal(":memory:")})
	if err != nil || v.IsError() {
		t.Fatalf("open: %v %s", err, v.Inspect())
	}
	if _, err := dbClose(m, []vm.Value{v}); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := dbExec(m, []vm.Value{v, vm.StringVal("SELECT 1")}); err == nil {
		t.Errorf("exec on a closed handle should fail")
	}
}
