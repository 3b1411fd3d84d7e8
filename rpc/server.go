/*
	This file implements messaging with remote hosts using gorpc.
*/

package rpc

import (
	"errors"
	"strings"
	"sync"

	"github.com/valyala/gorpc"

	"github.com/janelia-flyem/sliceview/sv"
)

const (
	// DefaultAddress is the default address for messages to this sliceview server.
	DefaultAddress = "localhost:8002"

	// UnixPrefix marks an address as a unix socket path.
	UnixPrefix = "unix:"
)

var (
	// dispatcher routes named calls to registered functions.
	dispatcher *gorpc.Dispatcher

	// servers assigned to different addresses
	servers   map[string]*gorpc.Server
	serversMu sync.Mutex
)

var (
	ErrNoServerRunning     = errors.New("no servers are running")
	ErrServerNotFound      = errors.New("server not found")
	ErrServerRunning       = errors.New("server already running at address")
	ErrClientUninitialized = errors.New("client not initialized")
)

func init() {
	dispatcher = gorpc.NewDispatcher()
	servers = make(map[string]*gorpc.Server)
}

// AddFunc registers a function under the given name.  The function must have one of
// the signatures accepted by gorpc.Dispatcher.AddFunc.  All functions must be added
// before any server or client is created.
func AddFunc(name string, f interface{}) {
	dispatcher.AddFunc(name, f)
}

// RegisterType registers a type sent as an interface{} value.
func RegisterType(x interface{}) {
	gorpc.RegisterType(x)
}

// StartServer starts a RPC server at the given address, which is either "host:port"
// or a unix socket path prefixed by "unix:".  It returns once the server listens.
func StartServer(address string) error {
	gorpc.SetErrorLogger(sv.Errorf) // Send gorpc errors to appropriate error log.

	serversMu.Lock()
	defer serversMu.Unlock()
	if _, found := servers[address]; found {
		return ErrServerRunning
	}
	var s *gorpc.Server
	if path, isUnix := strings.CutPrefix(address, UnixPrefix); isUnix {
		s = gorpc.NewUnixServer(path, dispatcher.NewHandlerFunc())
	} else {
		s = gorpc.NewTCPServer(address, dispatcher.NewHandlerFunc())
	}
	if err := s.Start(); err != nil {
		return err
	}
	servers[address] = s
	sv.Infof("RPC server listening at %s\n", address)
	return nil
}

// StopServer halts the given server.
func StopServer(address string) error {
	serversMu.Lock()
	defer serversMu.Unlock()
	if len(servers) == 0 {
		return ErrNoServerRunning
	}
	s, found := servers[address]
	if !found {
		return ErrServerNotFound
	}
	delete(servers, address)
	s.Stop()
	return nil
}

// Shutdown halts all RPC servers.
func Shutdown() {
	serversMu.Lock()
	defer serversMu.Unlock()
	for _, s := range servers {
		s.Stop()
	}
	sv.Infof("Halted %d RPC servers.\n", len(servers))
	servers = make(map[string]*gorpc.Server)
}
