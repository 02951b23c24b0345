package stdlib

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/netesy/limitly/internal/config"
	"github.com/netesy/limitly/internal/vm"
)

func registerYaml(m *vm.VM) {
	m.RegisterNative("yamlParse", yamlParse)
	m.RegisterNative("yamlEncode", yamlEncode)
	m.RegisterNative("yamlRead", yamlRead)
	m.RegisterNative("yamlWrite", yamlWrite)
}

// yamlParse(text) parses YAML into language values: mappings become
// dicts, sequences lists, scalars the matching primitive. Malformed
// input yields a ParseError value.
func yamlParse(m *vm.VM, args []vm.Value) (vm.Value, error) {
	if len(args) != 1 || !args[0].IsString() {
		return vm.NilVal(), fmt.Errorf("yamlParse expects a string")
	}
	var data interface{}
	if err := yaml.Unmarshal([]byte(args[0].AsString()), &data); err != nil {
		return errorValue(m, config.ParseError, "YAML parse error: "+err.Error()), nil
	}
	v, err := fromYaml(data)
	if err != nil {
		return errorValue(m, config.ParseError, err.Error()), nil
	}
	return v, nil
}

// fromYaml converts what yaml.Unmarshal produced. yaml.v3 yields int for
// integers (unlike encoding/json's float64) and may key maps by any
// scalar.
func fromYaml(data interface{}) (vm.Value, error) {
	switch v := data.(type) {
	case nil:
		return vm.NilVal(), nil
	case bool:
		return vm.BoolVal(v), nil
	case int:
		return vm.IntVal(int64(v)), nil
	case int64:
		return vm.IntVal(v), nil
	case uint64:
		return vm.UintValOf(vm.UInt64Type, v), nil
	case float64:
		return vm.FloatVal(v), nil
	case string:
		return vm.StringVal(v), nil
	case []interface{}:
		elems := make([]vm.Value, len(v))
		for i, item := range v {
			ev, err := fromYaml(item)
			if err != nil {
				return vm.NilVal(), err
			}
			elems[i] = ev
		}
		return vm.ObjVal(vm.ListType, vm.NewList(elems)), nil
	case map[string]interface{}:
		d := vm.NewDict()
		for k, item := range v {
			ev, err := fromYaml(item)
			if err != nil {
				return vm.NilVal(), err
			}
			d.Set(vm.StringVal(k), ev)
		}
		return vm.ObjVal(vm.DictType, d), nil
	case map[interface{}]interface{}:
		d := vm.NewDict()
		for k, item := range v {
			ev, err := fromYaml(item)
			if err != nil {
				return vm.NilVal(), err
			}
			d.Set(vm.StringVal(fmt.Sprintf("%v", k)), ev)
		}
		return vm.ObjVal(vm.DictType, d), nil
	default:
		return vm.NilVal(), fmt.Errorf("unsupported YAML value type: %T", data)
	}
}

// toGo converts a language value to the plain Go shape yaml.Marshal
// understands.
func toGo(v vm.Value) (interface{}, error) {
	switch obj := v.Obj.(type) {
	case nil:
		switch {
		case v.IsNil():
			return nil, nil
		case v.IsBool():
			return v.AsBool(), nil
		case v.IsInt():
			return v.AsInt(), nil
		case v.IsFloat():
			return v.AsFloat(), nil
		}
	case *vm.String:
		return obj.Val, nil
	case *vm.List:
		out := make([]interface{}, len(obj.Elements))
		for i, e := range obj.Elements {
			g, err := toGo(e)
			if err != nil {
				return nil, err
			}
			out[i] = g
		}
		return out, nil
	case *vm.Tuple:
		out := make([]interface{}, len(obj.Elements))
		for i, e := range obj.Elements {
			g, err := toGo(e)
			if err != nil {
				return nil, err
			}
			out[i] = g
		}
		return out, nil
	case *vm.Dict:
		out := make(map[string]interface{}, obj.Len())
		for _, e := range obj.Entries() {
			g, err := toGo(e.Val)
			if err != nil {
				return nil, err
			}
			out[e.Key.Inspect()] = g
		}
		return out, nil
	}
	return nil, fmt.Errorf("cannot encode %s as YAML", v.TypeName())
}

func yamlEncode(m *vm.VM, args []vm.Value) (vm.Value, error) {
	if len(args) != 1 {
		return vm.NilVal(), fmt.Errorf("yamlEncode expects 1 argument")
	}
	data, err := toGo(args[0])
	if err != nil {
		return errorValue(m, config.TypeConversionError, err.Error()), nil
	}
	out, err := yaml.Marshal(data)
	if err != nil {
		return errorValue(m, config.TypeConversionError, "YAML encoding error: "+err.Error()), nil
	}
	return vm.StringVal(string(out)), nil
}

func yamlRead(m *vm.VM, args []vm.Value) (vm.Value, error) {
	if len(args) != 1 || !args[0].IsString() {
		return vm.NilVal(), fmt.Errorf("yamlRead expects a path string")
	}
	content, err := os.ReadFile(args[0].AsString())
	if err != nil {
		return errorValue(m, config.IOError, "cannot read file: "+err.Error()), nil
	}
	return yamlParse(m, []vm.Value{vm.StringVal(string(content))})
}

func yamlWrite(m *vm.VM, args []vm.Value) (vm.Value, error) {
	if len(args) != 2 || !args[0].IsString() {
		return vm.NilVal(), fmt.Errorf("yamlWrite expects a path string and a value")
	}
	encoded, err := yamlEncode(m, args[1:])
	if err != nil {
		return vm.NilVal(), err
	}
	if encoded.IsError() {
		return encoded, nil
	}
	if err := os.WriteFile(args[0].AsString(), []byte(encoded.AsString()), 0644); err != nil {
		return errorValue(m, config.IOError, "cannot write file: "+err.Error()), nil
	}
	return vm.NilVal(), nil
}

// errorValue builds a language error-union value for native failures.
func errorValue(m *vm.VM, errType, message string) vm.Value {
	m.Types().RegisterErrorType(errType)
	return vm.Value{
		Type: m.Types().MakeErrorUnion(vm.NilType, []string{errType}),
		Obj:  &vm.ErrorObject{ErrType: errType, Message: message},
	}
}
