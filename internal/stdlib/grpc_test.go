package stdlib

import (
	"os"
	"strings"
	"testing"

	"github.com/netesy/limitly/internal/vm"
)

const storeProto = `syntax = "proto3";
package kv;

message GetRequest {
  string key = 1;
}

message GetResponse {
  string value = 1;
  int64 version = 2;
  repeated string tags = 3;
}

service Store {
  rpc Get(GetRequest) returns (GetResponse);
}
`

// chdir switches to dir for the duration of the test, restoring the
// previous working directory on cleanup (t.Chdir needs Go 1.24+).
func chdir(t *testing.T, dir string) {
	t.Helper()
	old, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Chdir(old) })
}

// loadStoreProto parses the fixture service into the descriptor registry.
func loadStoreProto(t *testing.T, m *vm.VM) {
	t.Helper()
	chdir(t, t.TempDir())
	if err := os.WriteFile("kv.proto", []byte(storeProto), 0o644); err != nil {
		t.Fatal(err)
	}
	v, err := grpcLoadProto(m, []vm.Value{vm.StringVal("kv.proto")})
	if err != nil {
		t.Fatalf("grpcLoadProto: %v", err)
	}
	if e := v.ErrorValue(); e != nil {
		t.Fatalf("grpcLoadProto: %s - %s", e.ErrType, e.Message)
	}
}

func TestLoadProtoPopulatesRegistry(t *testing.T) {
	m := testVM()
	loadStoreProto(t, m)

	if sd := findServiceDescriptor("kv.Store"); sd == nil {
		t.Error("kv.Store not found by qualified name")
	}
	if sd := findServiceDescriptor("Store"); sd == nil {
		t.Error("Store not found by bare name")
	}
	if _, err := findMessageDescriptor("kv.GetRequest"); err != nil {
		t.Errorf("kv.GetRequest: %v", err)
	}
}

func TestLoadProtoMalformedGivesParseErrorValue(t *testing.T) {
	m := testVM()
	chdir(t, t.TempDir())
	if err := os.WriteFile("bad.proto", []byte("syntax = ???"), 0o644); err != nil {
		t.Fatal(err)
	}
	v, err := grpcLoadProto(m, []vm.Value{vm.StringVal("bad.proto")})
	if err != nil {
		t.Fatalf("host error instead of language error: %v", err)
	}
	e := v.ErrorValue()
	if e == nil || e.ErrType != "ParseError" {
		t.Fatalf("got %s, want ParseError value", v.Inspect())
	}
}

func TestFindMethodDescriptor(t *testing.T) {
	m := testVM()
	loadStoreProto(t, m)

	md, err := findMethodDescriptor("kv.Store/Get")
	if err != nil {
		t.Fatalf("findMethodDescriptor: %v", err)
	}
	if md.GetInputType().GetFullyQualifiedName() != "kv.GetRequest" {
		t.Errorf("input type %s", md.GetInputType().GetFullyQualifiedName())
	}
	if md.GetOutputType().GetFullyQualifiedName() != "kv.GetResponse" {
		t.Errorf("output type %s", md.GetOutputType().GetFullyQualifiedName())
	}

	bad := []struct {
		path string
		want string
	}{
		{"kv.Store", "invalid method path"},
		{"kv.Store/", "invalid method path"},
		{"/Get", "invalid method path"},
		{"kv.Missing/Get", "not found in loaded protos"},
		{"kv.Store/Missing", "not found on"},
	}
	for _, tt := range bad {
		t.Run(tt.path, func(t *testing.T) {
			if _, err := findMethodDescriptor(tt.path); err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("got %v, want %q", err, tt.want)
			}
		})
	}
}

func TestProtoEncodeDecodeRoundTrip(t *testing.T) {
	m := testVM()
	loadStoreProto(t, m)

	d := vm.NewDict()
	d.Set(vm.StringVal("value"), vm.StringVal("hello"))
	d.Set(vm.StringVal("version"), vm.IntVal(7))
	tags := vm.NewList([]vm.Value{vm.StringVal("a"), vm.StringVal("b")})
	d.Set(vm.StringVal("tags"), vm.ObjVal(vm.ListType, tags))

	wire, err := protoEncode(m, []vm.Value{vm.StringVal("kv.GetResponse"), vm.ObjVal(vm.DictType, d)})
	if err != nil {
		t.Fatalf("protoEncode: %v", err)
	}
	if e := wire.ErrorValue(); e != nil {
		t.Fatalf("protoEncode: %s - %s", e.ErrType, e.Message)
	}

	back, err := protoDecode(m, []vm.Value{vm.StringVal("kv.GetResponse"), wire})
	if err != nil {
		t.Fatalf("protoDecode: %v", err)
	}
	out, ok := back.Obj.(*vm.Dict)
	if !ok {
		t.Fatalf("got %s, want dict", back.TypeName())
	}
	if v, _ := out.Get(vm.StringVal("value")); v.AsString() != "hello" {
		t.Errorf("value got %s", v.Inspect())
	}
	if v, _ := out.Get(vm.StringVal("version")); v.AsInt() != 7 {
		t.Errorf("version got %s", v.Inspect())
	}
	v, _ := out.Get(vm.StringVal("tags"))
	list, ok := v.Obj.(*vm.List)
	if !ok || len(list.Elements) != 2 || list.Elements[1].AsString() != "b" {
		t.Errorf("tags got %s", v.Inspect())
	}
}

func TestProtoEncodeUnknownMessage(t *testing.T) {
	m := testVM()
	loadStoreProto(t, m)

	v, err := protoEncode(m, []vm.Value{vm.StringVal("kv.Nope"), vm.ObjVal(vm.DictType, vm.NewDict())})
	if err != nil {
		t.Fatalf("host error instead of language error: %v", err)
	}
	e := v.ErrorValue()
	if e == nil || e.ErrType != "TypeConversion" {
		t.Fatalf("got %s, want TypeConversion value", v.Inspect())
	}
}
