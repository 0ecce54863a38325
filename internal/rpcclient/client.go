// Package rpcclient is a synchronous RPC client stub: dial, send one
// sentinel-framed request, block for the response.
package rpcclient

import (
	"bytes"
	"fmt"
	"time"

	gojson "github.com/goccy/go-json"

	"github.com/B777B2056/jrNetWork/internal/reactor"
	"github.com/B777B2056/jrNetWork/internal/rpc"
)

// recvChunk is the read size used while accumulating a response frame.
const recvChunk = 4096

// Client is a blocking-mode Connection wrapper performing one
// request/response RPC round trip per Call.
type Client struct {
	conn *reactor.Connection
}

// Dial connects to addr ("host:port") and returns a ready Client. A zero
// timeout means no connect deadline.
func Dial(addr string, timeout time.Duration) (*Client, error) {
	conn, err := reactor.Connect("tcp", addr, timeout)
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn}, nil
}

// Call marshals name(params...) into the {"name", "parameters"} wire
// shape, sends it sentinel-terminated, and blocks until the matching
// sentinel-terminated response arrives. It returns the raw
// return_value JSON on success, or an error built from error_msg on
// failure.
func (c *Client) Call(name string, params ...interface{}) (gojson.RawMessage, error) {
	raw := make([]gojson.RawMessage, len(params))
	for i, p := range params {
		b, err := gojson.Marshal(p)
		if err != nil {
			return nil, err
		}
		raw[i] = b
	}

	wire, err := rpc.EncodeRequest(rpc.Request{Name: name, Parameters: raw})
	if err != nil {
		return nil, err
	}
	if !c.conn.Send(wire) {
		return nil, fmt.Errorf("rpcclient: send failed")
	}

	frame, err := c.readFrame()
	if err != nil {
		return nil, err
	}
	resp, err := rpc.DecodeResponse(frame)
	if err != nil {
		return nil, err
	}
	if resp.ErrorFlag {
		return nil, fmt.Errorf("%s", resp.ErrorMsg)
	}
	return resp.ReturnValue, nil
}

// readFrame blocks on successive Recv calls until a full sentinel byte
// has been observed, returning everything that preceded it.
func (c *Client) readFrame() ([]byte, error) {
	var buf []byte
	for {
		chunk, ok := c.conn.Recv(recvChunk)
		if !ok {
			return nil, fmt.Errorf("rpcclient: connection closed before a full response was received")
		}
		buf = append(buf, chunk...)
		if idx := bytes.IndexByte(buf, rpc.Sentinel); idx >= 0 {
			return buf[:idx], nil
		}
	}
}

// Close releases the client's socket.
func (c *Client) Close() error { return c.conn.Disconnect() }
