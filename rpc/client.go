package rpc

import (
	"strings"
	"time"

	"github.com/valyala/gorpc"
)

// Client sends named calls to a remote sliceview server.
type Client struct {
	c  *gorpc.Client
	dc *gorpc.DispatcherClient
}

// NewClient returns a started client for the given address.  See StartServer for
// the address format.
func NewClient(address string) *Client {
	var c *gorpc.Client
	if path, isUnix := strings.CutPrefix(address, UnixPrefix); isUnix {
		c = gorpc.NewUnixClient(path)
	} else {
		c = gorpc.NewTCPClient(address)
	}
	c.Start()
	return &Client{c: c, dc: dispatcher.NewFuncClient(c)}
}

// Call sends the request to the named function and waits for its response.
func (c *Client) Call(name string, req interface{}) (interface{}, error) {
	if c == nil || c.dc == nil {
		return nil, ErrClientUninitialized
	}
	return c.dc.Call(name, req)
}

// CallTimeout is Call with an explicit timeout.
func (c *Client) CallTimeout(name string, req interface{}, timeout time.Duration) (interface{}, error) {
	if c == nil || c.dc == nil {
		return nil, ErrClientUninitialized
	}
	return c.dc.CallTimeout(name, req, timeout)
}

// Close stops the client.
func (c *Client) Close() {
	if c != nil && c.c != nil {
		c.c.Stop()
		c.dc = nil
	}
}
