package server

import (
	"context"
	"sync"
	"time"

	"github.com/janelia-flyem/sliceview/rpc"
)

// RPCTimeout bounds how long a remote call waits for the worker.
const RPCTimeout = 30 * time.Second

var (
	rpcWorker   *Worker
	rpcWorkerMu sync.RWMutex
)

func setRPCWorker(w *Worker) {
	rpcWorkerMu.Lock()
	rpcWorker = w
	rpcWorkerMu.Unlock()
}

func sendRPC(msg interface{}) (interface{}, error) {
	rpcWorkerMu.RLock()
	w := rpcWorker
	rpcWorkerMu.RUnlock()
	if w == nil {
		return nil, ErrWorkerStopped
	}
	ctx, cancel := context.WithTimeout(context.Background(), RPCTimeout)
	defer cancel()
	return w.Send(ctx, msg)
}

// addRPC registers a remote call named "sliceview.<message>" returning a value.
func addRPC[M any, R any](name string) {
	rpc.AddFunc("sliceview."+name, func(msg M) (R, error) {
		var resp R
		value, err := sendRPC(msg)
		if err != nil || value == nil {
			return resp, err
		}
		return value.(R), nil
	})
}

// addRPCNoResult registers a remote call that only returns an error.
func addRPCNoResult[M any](name string) {
	rpc.AddFunc("sliceview."+name, func(msg M) error {
		_, err := sendRPC(msg)
		return err
	})
}

func init() {
	addRPC[NewSliceView, string]("NewSliceView")
	addRPCNoResult[UpdateView]("UpdateView")
	addRPCNoResult[SetPrefetch]("SetPrefetch")
	addRPCNoResult[SetVisibility]("SetVisibility")
	addRPCNoResult[DisposeSliceView]("DisposeSliceView")
	addRPC[NewRenderLayer, string]("NewRenderLayer")
	addRPCNoResult[AddVisibleLayer]("AddVisibleLayer")
	addRPCNoResult[RemoveVisibleLayer]("RemoveVisibleLayer")
	addRPCNoResult[UpdateLayerTransform]("UpdateLayerTransform")
	addRPCNoResult[UpdateMIPLevelConstraints]("UpdateMIPLevelConstraints")
	addRPCNoResult[DisposeRenderLayer]("DisposeRenderLayer")
	addRPC[DescribeLayer, LayerDescription]("DescribeLayer")
	addRPC[DescribeView, ViewDescription]("DescribeView")
}

// Client calls a remote sliceview server through RPC.
type Client struct {
	c *rpc.Client
}

// NewClient returns a client for the RPC address of a running server.
func NewClient(address string) *Client {
	return &Client{c: rpc.NewClient(address)}
}

// Send sends a worker message, e.g., UpdateView, and returns the remote result.
func (c *Client) Send(msg interface{}) (interface{}, error) {
	return c.c.Call(rpcName(msg), msg)
}

func (c *Client) Close() {
	c.c.Close()
}

func rpcName(msg interface{}) string {
	switch msg.(type) {
	case NewSliceView:
		return "sliceview.NewSliceView"
	case UpdateView:
		return "sliceview.UpdateView"
	case SetPrefetch:
		return "sliceview.SetPrefetch"
	case SetVisibility:
		return "sliceview.SetVisibility"
	case DisposeSliceView:
		return "sliceview.DisposeSliceView"
	case NewRenderLayer:
		return "sliceview.NewRenderLayer"
	case AddVisibleLayer:
		return "sliceview.AddVisibleLayer"
	case RemoveVisibleLayer:
		return "sliceview.RemoveVisibleLayer"
	case UpdateLayerTransform:
		return "sliceview.UpdateLayerTransform"
	case UpdateMIPLevelConstraints:
		return "sliceview.UpdateMIPLevelConstraints"
	case DisposeRenderLayer:
		return "sliceview.DisposeRenderLayer"
	case DescribeLayer:
		return "sliceview.DescribeLayer"
	case DescribeView:
		return "sliceview.DescribeView"
	default:
		return ""
	}
}
