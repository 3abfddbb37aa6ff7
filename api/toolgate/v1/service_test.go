package toolgatev1

import (
	"reflect"
	"testing"
)

func TestServiceDescCoversServerInterface(t *testing.T) {
	iface := reflect.TypeOf((*ToolGateServer)(nil)).Elem()

	described := make(map[string]bool)
	for _, m := range ServiceDesc.Methods {
		if described[m.MethodName] {
			t.Errorf("method %s registered twice", m.MethodName)
		}
		described[m.MethodName] = true
		if m.Handler == nil {
			t.Errorf("method %s has no handler", m.MethodName)
		}
		if _, ok := iface.MethodByName(m.MethodName); !ok {
			t.Errorf("method %s is not part of ToolGateServer", m.MethodName)
		}
	}
	for i := 0; i < iface.NumMethod(); i++ {
		if name := iface.Method(i).Name; !described[name] {
			t.Errorf("ToolGateServer.%s is not registered", name)
		}
	}
}

func TestServiceDescHasNoProtoMetadata(t *testing.T) {
	if ServiceDesc.Metadata != nil {
		t.Fatalf("Metadata names a source file that does not exist: %v", ServiceDesc.Metadata)
	}
	if got := FullMethod(MethodEvaluate); got != "/toolgate.v1.ToolGate/Evaluate" {
		t.Fatalf("unexpected full method %q", got)
	}
}
