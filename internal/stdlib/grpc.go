package stdlib

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"

	"github.com/jhump/protoreflect/desc"
	"github.com/jhump/protoreflect/desc/protoparse"
	"github.com/jhump/protoreflect/dynamic"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/descriptorpb"

	"github.com/netesy/limitly/internal/config"
	"github.com/netesy/limitly/internal/vm"
)

// Registry of loaded proto descriptors, shared by client and server
// natives.
var (
	protoRegistry   = make(map[string]*desc.FileDescriptor)
	protoRegistryMu sync.RWMutex
)

func registerGrpc(m *vm.VM) {
	m.RegisterNative("grpcConnect", grpcConnect)
	m.RegisterNative("grpcClose", grpcClose)
	m.RegisterNative("grpcLoadProto", grpcLoadProto)
	m.RegisterNative("grpcInvoke", grpcInvoke)
	m.RegisterNative("grpcServer", grpcServer)
	m.RegisterNative("grpcRegister", grpcRegister)
	m.RegisterNative("grpcServe", grpcServe)
	m.RegisterNative("grpcServeAsync", grpcServeAsync)
	m.RegisterNative("grpcStop", grpcStop)
	m.RegisterNative("protoEncode", protoEncode)
	m.RegisterNative("protoDecode", protoDecode)
}

// GrpcConnObject wraps a client connection.
type GrpcConnObject struct {
	Conn *grpc.ClientConn
}

func (o *GrpcConnObject) Kind() string { return "GRPC_CONN" }
func (o *GrpcConnObject) Inspect() string {
	if o.Conn == nil {
		return "<grpc-conn closed>"
	}
	return "<grpc-conn " + o.Conn.Target() + ">"
}
func (o *GrpcConnObject) Hash() uint32 { return 0 }

// GrpcServerObject wraps a server plus its registered service handlers.
type GrpcServerObject struct {
	Server   *grpc.Server
	Services map[string]vm.Value
}

func (o *GrpcServerObject) Kind() string { return "GRPC_SERVER" }
func (o *GrpcServerObject) Inspect() string {
	return fmt.Sprintf("<grpc-server %d services>", len(o.Services))
}
func (o *GrpcServerObject) Hash() uint32 { return 0 }

var (
	grpcConnType   = &vm.Type{Tag: vm.TAG_OBJECT, Name: "grpcConn"}
	grpcServerType = &vm.Type{Tag: vm.TAG_OBJECT, Name: "grpcServer"}
)

func grpcConnect(m *vm.VM, args []vm.Value) (vm.Value, error) {
	if len(args) != 1 || !args[0].IsString() {
		return vm.NilVal(), fmt.Errorf("grpcConnect expects a target string")
	}
	conn, err := grpc.NewClient(args[0].AsString(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return errorValue(m, config.NetworkError, err.Error()), nil
	}
	return vm.ObjVal(grpcConnType, &GrpcConnObject{Conn: conn}), nil
}

func grpcClose(m *vm.VM, args []vm.Value) (vm.Value, error) {
	if len(args) != 1 {
		return vm.NilVal(), fmt.Errorf("grpcClose expects 1 argument")
	}
	connObj, ok := args[0].Obj.(*GrpcConnObject)
	if !ok {
		return vm.NilVal(), fmt.Errorf("grpcClose expects a connection")
	}
	if connObj.Conn != nil {
		err := connObj.Conn.Close()
		connObj.Conn = nil
		if err != nil {
			return errorValue(m, config.NetworkError, err.Error()), nil
		}
	}
	return vm.NilVal(), nil
}

func grpcLoadProto(m *vm.VM, args []vm.Value) (vm.Value, error) {
	if len(args) != 1 || !args[0].IsString() {
		return vm.NilVal(), fmt.Errorf("grpcLoadProto expects a path string")
	}
	parser := protoparse.Parser{ImportPaths: []string{"."}}
	fds, err := parser.ParseFiles(args[0].AsString())
	if err != nil {
		return errorValue(m, config.ParseError, "failed to parse proto: "+err.Error()), nil
	}
	protoRegistryMu.Lock()
	defer protoRegistryMu.Unlock()
	for _, fd := range fds {
		protoRegistry[fd.GetName()] = fd
	}
	return vm.NilVal(), nil
}

// grpcInvoke(conn, "package.Service/Method", request) performs a unary
// call; the request dict maps to the input message by field name.
func grpcInvoke(m *vm.VM, args []vm.Value) (vm.Value, error) {
	if len(args) != 3 {
		return vm.NilVal(), fmt.Errorf("grpcInvoke expects 3 arguments")
	}
	connObj, ok := args[0].Obj.(*GrpcConnObject)
	if !ok || connObj.Conn == nil {
		return vm.NilVal(), fmt.Errorf("grpcInvoke expects an open connection")
	}
	if !args[1].IsString() {
		return vm.NilVal(), fmt.Errorf("grpcInvoke expects a method path string")
	}
	methodPath := args[1].AsString()

	md, err := findMethodDescriptor(methodPath)
	if err != nil {
		return errorValue(m, config.NetworkError, err.Error()), nil
	}

	reqMsg := dynamic.NewMessage(md.GetInputType())
	if err := valueToDynamicMessage(args[2], reqMsg); err != nil {
		return errorValue(m, config.TypeConversionError, "failed to build request: "+err.Error()), nil
	}
	respMsg := dynamic.NewMessage(md.GetOutputType())

	if methodPath[0] != '/' {
		methodPath = "/" + methodPath
	}
	if err := connObj.Conn.Invoke(context.Background(), methodPath, reqMsg, respMsg); err != nil {
		return errorValue(m, config.NetworkError, "RPC failed: "+err.Error()), nil
	}
	return dynamicMessageToValue(respMsg), nil
}

func grpcServer(m *vm.VM, args []vm.Value) (vm.Value, error) {
	return vm.ObjVal(grpcServerType, &GrpcServerObject{
		Server:   grpc.NewServer(),
		Services: make(map[string]vm.Value),
	}), nil
}

// grpcRegister(server, "package.Service", impl) registers a service. The
// implementation is a dict mapping method names to functions; each unary
// call converts the input message to a dict, invokes the function, and
// converts its result back.
func grpcRegister(m *vm.VM, args []vm.Value) (vm.Value, error) {
	if len(args) != 3 {
		return vm.NilVal(), fmt.Errorf("grpcRegister expects 3 arguments")
	}
	serverObj, ok := args[0].Obj.(*GrpcServerObject)
	if !ok {
		return vm.NilVal(), fmt.Errorf("grpcRegister expects a server")
	}
	if !args[1].IsString() {
		return vm.NilVal(), fmt.Errorf("grpcRegister expects a service name string")
	}
	serviceName := args[1].AsString()
	impl := args[2]
	if _, ok := impl.Obj.(*vm.Dict); !ok {
		return vm.NilVal(), fmt.Errorf("grpcRegister expects a dict of handlers")
	}

	sd := findServiceDescriptor(serviceName)
	if sd == nil {
		return errorValue(m, config.NetworkError,
			fmt.Sprintf("service %s not found in loaded protos", serviceName)), nil
	}

	svcDesc := &grpc.ServiceDesc{
		ServiceName: serviceName,
		HandlerType: (*interface{})(nil),
		Metadata:    sd.GetFile().GetName(),
	}
	handler := &grpcHandler{machine: m, impl: impl}

	for _, method := range sd.GetMethods() {
		if method.IsClientStreaming() || method.IsServerStreaming() {
			continue
		}
		md := method
		svcDesc.Methods = append(svcDesc.Methods, grpc.MethodDesc{
			MethodName: md.GetName(),
			Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, _ grpc.UnaryServerInterceptor) (interface{}, error) {
				h := srv.(*grpcHandler)
				return h.handleUnary(ctx, md, dec)
			},
		})
	}

	serverObj.Server.RegisterService(svcDesc, handler)
	serverObj.Services[serviceName] = impl
	return vm.NilVal(), nil
}

type grpcHandler struct {
	machine *vm.VM
	impl    vm.Value
}

func (h *grpcHandler) handleUnary(ctx context.Context, md *desc.MethodDescriptor, dec func(interface{}) error) (interface{}, error) {
	inMsg := dynamic.NewMessage(md.GetInputType())
	if err := dec(inMsg); err != nil {
		return nil, err
	}

	impl := h.impl.Obj.(*vm.Dict)
	fn, ok := impl.Get(vm.StringVal(md.GetName()))
	if !ok {
		return nil, fmt.Errorf("method %s not found in implementation", md.GetName())
	}

	result, err := h.machine.CallValue(ctx, fn, []vm.Value{dynamicMessageToValue(inMsg)})
	if err != nil {
		return nil, err
	}
	if e := result.ErrorValue(); e != nil {
		return nil, fmt.Errorf("%s: %s", e.ErrType, e.Message)
	}

	outMsg := dynamic.NewMessage(md.GetOutputType())
	if err := valueToDynamicMessage(result, outMsg); err != nil {
		return nil, err
	}
	return outMsg, nil
}

func grpcServe(m *vm.VM, args []vm.Value) (vm.Value, error) {
	serverObj, addr, err := serveArgs(args)
	if err != nil {
		return vm.NilVal(), err
	}
	lis, lerr := net.Listen("tcp", addr)
	if lerr != nil {
		return errorValue(m, config.NetworkError, lerr.Error()), nil
	}
	if serr := serverObj.Server.Serve(lis); serr != nil {
		return errorValue(m, config.NetworkError, serr.Error()), nil
	}
	return vm.NilVal(), nil
}

func grpcServeAsync(m *vm.VM, args []vm.Value) (vm.Value, error) {
	serverObj, addr, err := serveArgs(args)
	if err != nil {
		return vm.NilVal(), err
	}
	lis, lerr := net.Listen("tcp", addr)
	if lerr != nil {
		return errorValue(m, config.NetworkError, lerr.Error()), nil
	}
	go func() { _ = serverObj.Server.Serve(lis) }()
	return vm.NilVal(), nil
}

func serveArgs(args []vm.Value) (*GrpcServerObject, string, error) {
	if len(args) != 2 {
		return nil, "", fmt.Errorf("expects a server and an address")
	}
	serverObj, ok := args[0].Obj.(*GrpcServerObject)
	if !ok {
		return nil, "", fmt.Errorf("expects a grpc server")
	}
	if !args[1].IsString() {
		return nil, "", fmt.Errorf("expects an address string")
	}
	return serverObj, args[1].AsString(), nil
}

func grpcStop(m *vm.VM, args []vm.Value) (vm.Value, error) {
	if len(args) != 1 {
		return vm.NilVal(), fmt.Errorf("grpcStop expects 1 argument")
	}
	serverObj, ok := args[0].Obj.(*GrpcServerObject)
	if !ok {
		return vm.NilVal(), fmt.Errorf("grpcStop expects a server")
	}
	serverObj.Server.GracefulStop()
	return vm.NilVal(), nil
}

// protoEncode(messageName, data) serializes a dict into the named proto
// message; the wire bytes come back as a string.
func protoEncode(m *vm.VM, args []vm.Value) (vm.Value, error) {
	if len(args) != 2 || !args[0].IsString() {
		return vm.NilVal(), fmt.Errorf("protoEncode expects a message name and a value")
	}
	md, err := findMessageDescriptor(args[0].AsString())
	if err != nil {
		return errorValue(m, config.TypeConversionError, err.Error()), nil
	}
	msg := dynamic.NewMessage(md)
	if err := valueToDynamicMessage(args[1], msg); err != nil {
		return errorValue(m, config.TypeConversionError, "encoding error: "+err.Error()), nil
	}
	data, err := msg.Marshal()
	if err != nil {
		return errorValue(m, config.TypeConversionError, "marshal error: "+err.Error()), nil
	}
	return vm.StringVal(string(data)), nil
}

func protoDecode(m *vm.VM, args []vm.Value) (vm.Value, error) {
	if len(args) != 2 || !args[0].IsString() || !args[1].IsString() {
		return vm.NilVal(), fmt.Errorf("protoDecode expects a message name and wire bytes")
	}
	md, err := findMessageDescriptor(args[0].AsString())
	if err != nil {
		return errorValue(m, config.TypeConversionError, err.Error()), nil
	}
	msg := dynamic.NewMessage(md)
	if err := msg.Unmarshal([]byte(args[1].AsString())); err != nil {
		return errorValue(m, config.TypeConversionError, "unmarshal error: "+err.Error()), nil
	}
	return dynamicMessageToValue(msg), nil
}

// ---- descriptor lookup ----

func findServiceDescriptor(name string) *desc.ServiceDescriptor {
	protoRegistryMu.RLock()
	defer protoRegistryMu.RUnlock()
	for _, fd := range protoRegistry {
		if sd := fd.FindService(name); sd != nil {
			return sd
		}
		for _, sd := range fd.GetServices() {
			if sd.GetFullyQualifiedName() == name || sd.GetName() == name {
				return sd
			}
		}
	}
	return nil
}

func findMethodDescriptor(path string) (*desc.MethodDescriptor, error) {
	idx := strings.LastIndex(path, "/")
	if idx <= 0 || idx == len(path)-1 {
		return nil, fmt.Errorf("invalid method path %q, expected 'package.Service/Method'", path)
	}
	serviceName, methodName := path[:idx], path[idx+1:]

	sd := findServiceDescriptor(serviceName)
	if sd == nil {
		return nil, fmt.Errorf("service %s not found in loaded protos", serviceName)
	}
	md := sd.FindMethodByName(methodName)
	if md == nil {
		return nil, fmt.Errorf("method %s not found on %s", methodName, serviceName)
	}
	return md, nil
}

func findMessageDescriptor(name string) (*desc.MessageDescriptor, error) {
	protoRegistryMu.RLock()
	defer protoRegistryMu.RUnlock()
	for _, fd := range protoRegistry {
		if md := fd.FindMessage(name); md != nil {
			return md, nil
		}
	}
	return nil, fmt.Errorf("message type %q not found", name)
}

// ---- message conversion ----

// valueToDynamicMessage populates a dynamic message from a dict, field by
// field. Unknown fields are ignored.
func valueToDynamicMessage(v vm.Value, msg *dynamic.Message) error {
	d, ok := v.Obj.(*vm.Dict)
	if !ok {
		return fmt.Errorf("expected a dict, got %s", v.TypeName())
	}
	for _, e := range d.Entries() {
		fd := msg.GetMessageDescriptor().FindFieldByName(e.Key.Inspect())
		if fd == nil {
			continue
		}
		pv, err := toProtoValue(e.Val, fd)
		if err != nil {
			return fmt.Errorf("field %s: %v", e.Key.Inspect(), err)
		}
		if pv != nil {
			msg.SetField(fd, pv)
		}
	}
	return nil
}

func toProtoValue(v vm.Value, fd *desc.FieldDescriptor) (interface{}, error) {
	if fd.IsRepeated() {
		list, ok := v.Obj.(*vm.List)
		if !ok {
			return nil, fmt.Errorf("expected a list for repeated field")
		}
		var slice []interface{}
		for _, item := range list.Elements {
			pv, err := toProtoScalar(item, fd)
			if err != nil {
				return nil, err
			}
			slice = append(slice, pv)
		}
		return slice, nil
	}
	if v.IsNil() {
		return nil, nil
	}
	return toProtoScalar(v, fd)
}

func toProtoScalar(v vm.Value, fd *desc.FieldDescriptor) (interface{}, error) {
	switch fd.GetType() {
	case descriptorpb.FieldDescriptorProto_TYPE_INT32,
		descriptorpb.FieldDescriptorProto_TYPE_SINT32,
		descriptorpb.FieldDescriptorProto_TYPE_SFIXED32:
		if v.IsInt() {
			return int32(v.AsInt()), nil
		}
	case descriptorpb.FieldDescriptorProto_TYPE_INT64,
		descriptorpb.FieldDescriptorProto_TYPE_SINT64,
		descriptorpb.FieldDescriptorProto_TYPE_SFIXED64:
		if v.IsInt() {
			return v.AsInt(), nil
		}
	case descriptorpb.FieldDescriptorProto_TYPE_UINT32,
		descriptorpb.FieldDescriptorProto_TYPE_FIXED32:
		if v.IsInt() {
			return uint32(v.AsInt()), nil
		}
	case descriptorpb.FieldDescriptorProto_TYPE_UINT64,
		descriptorpb.FieldDescriptorProto_TYPE_FIXED64:
		if v.IsInt() {
			return v.AsUint(), nil
		}
	case descriptorpb.FieldDescriptorProto_TYPE_FLOAT:
		if v.IsFloat() || v.IsInt() {
			return float32(v.AsFloat()), nil
		}
	case descriptorpb.FieldDescriptorProto_TYPE_DOUBLE:
		if v.IsFloat() || v.IsInt() {
			return v.AsFloat(), nil
		}
	case descriptorpb.FieldDescriptorProto_TYPE_BOOL:
		if v.IsBool() {
			return v.AsBool(), nil
		}
	case descriptorpb.FieldDescriptorProto_TYPE_STRING:
		return v.Inspect(), nil
	case descriptorpb.FieldDescriptorProto_TYPE_BYTES:
		if v.IsString() {
			return []byte(v.AsString()), nil
		}
	case descriptorpb.FieldDescriptorProto_TYPE_MESSAGE:
		msg := dynamic.NewMessage(fd.GetMessageType())
		if err := valueToDynamicMessage(v, msg); err != nil {
			return nil, err
		}
		return msg, nil
	case descriptorpb.FieldDescriptorProto_TYPE_ENUM:
		if v.IsInt() {
			return int32(v.AsInt()), nil
		}
		if v.IsString() {
			if ev := fd.GetEnumType().FindValueByName(v.AsString()); ev != nil {
				return ev.GetNumber(), nil
			}
		}
	}
	return nil, fmt.Errorf("unsupported conversion from %s to %v", v.TypeName(), fd.GetType())
}

func dynamicMessageToValue(msg *dynamic.Message) vm.Value {
	d := vm.NewDict()
	for _, fd := range msg.GetMessageDescriptor().GetFields() {
		d.Set(vm.StringVal(fd.GetName()), fromProtoValue(msg.GetField(fd), fd))
	}
	return vm.ObjVal(vm.DictType, d)
}

func fromProtoValue(raw interface{}, fd *desc.FieldDescriptor) vm.Value {
	if raw == nil {
		return vm.NilVal()
	}
	if fd.IsRepeated() {
		slice, ok := raw.([]interface{})
		if !ok {
			return vm.ObjVal(vm.ListType, vm.NewList(nil))
		}
		elems := make([]vm.Value, len(slice))
		for i, item := range slice {
			elems[i] = fromProtoScalar(item)
		}
		return vm.ObjVal(vm.ListType, vm.NewList(elems))
	}
	return fromProtoScalar(raw)
}

func fromProtoScalar(raw interface{}) vm.Value {
	switch v := raw.(type) {
	case int32:
		return vm.IntVal(int64(v))
	case int64:
		return vm.IntVal(v)
	case uint32:
		return vm.IntVal(int64(v))
	case uint64:
		return vm.UintValOf(vm.UInt64Type, v)
	case float32:
		return vm.Float32Val(v)
	case float64:
		return vm.FloatVal(v)
	case bool:
		return vm.BoolVal(v)
	case string:
		return vm.StringVal(v)
	case []byte:
		return vm.StringVal(string(v))
	case *dynamic.Message:
		return dynamicMessageToValue(v)
	case int:
		return vm.IntVal(int64(v))
	}
	return vm.NilVal()
}
