package toolgate

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"testing"
	"time"
)

func TestRemoteUnreachableFailsClosed(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := lis.Addr().String()
	lis.Close()

	remote, err := Dial(addr, WithTimeout(500*time.Millisecond))
	if err != nil {
		t.Fatal(err)
	}
	defer remote.Close()

	reg := New(remote)
	called := false
	reg.Register("read_file", func(ctx context.Context, args json.RawMessage) (any, error) {
		called = true
		return nil, nil
	})

	_, err = reg.Call(context.Background(), "read_file", nil)
	if !errors.Is(err, ErrServerUnreachable) {
		t.Fatalf("expected unreachable error, got %v", err)
	}
	var denied *DeniedError
	if errors.As(err, &denied) {
		t.Error("an unaudited local deny must not look like an audited one")
	}
	if called {
		t.Error("tool ran without a reachable policy server")
	}
}
