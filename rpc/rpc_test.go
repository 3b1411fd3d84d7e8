package rpc

import (
	"fmt"
	"path/filepath"
	"strings"
	"testing"
)

type EchoRequest struct {
	Text  string
	Times int
}

func init() {
	AddFunc("rpc_test.Echo", func(req EchoRequest) (string, error) {
		if req.Times < 0 {
			return "", fmt.Errorf("bad repeat count %d", req.Times)
		}
		return strings.Repeat(req.Text, req.Times), nil
	})
}

func TestCall(t *testing.T) {
	addr := UnixPrefix + filepath.Join(t.TempDir(), "rpc.sock")
	if err := StartServer(addr); err != nil {
		t.Fatalf("unable to start server: %v\n", err)
	}
	defer StopServer(addr)

	if err := StartServer(addr); err != ErrServerRunning {
		t.Errorf("expected error on second start, got %v\n", err)
	}

	c := NewClient(addr)
	defer c.Close()

	resp, err := c.Call("rpc_test.Echo", EchoRequest{Text: "ab", Times: 3})
	if err != nil {
		t.Fatalf("call failed: %v\n", err)
	}
	if s, ok := resp.(string); !ok || s != "ababab" {
		t.Errorf("expected ababab, got %v\n", resp)
	}

	if _, err := c.Call("rpc_test.Echo", EchoRequest{Text: "ab", Times: -1}); err == nil {
		t.Errorf("expected remote error to be returned\n")
	}
}

func TestStopServer(t *testing.T) {
	if err := StopServer("nowhere:1"); err != ErrNoServerRunning && err != ErrServerNotFound {
		t.Errorf("expected error stopping unknown server, got %v\n", err)
	}
	var c *Client
	if _, err := c.Call("rpc_test.Echo", EchoRequest{}); err != ErrClientUninitialized {
		t.Errorf("expected uninitialized client error, got %v\n", err)
	}
}
