// Package rpc implements the sentinel-framed JSON-RPC protocol: each
// request and response is one JSON object terminated by the ASCII
// byte '#'.
package rpc

import (
	"bytes"
	"errors"

	gojson "github.com/goccy/go-json"
)

// Sentinel is the byte that terminates every request and response
// object. The encoder never emits it inside a payload: valid JSON has no
// '#' outside a quoted string, and EncodeRequest/EncodeResponse rewrite
// any '#' inside a string as the six-byte JSON escape for U+0023.
const Sentinel = '#'

// escapedSentinel is the JSON string escape that stands in for Sentinel.
var escapedSentinel = []byte("\\u0023")

// ErrMethodNotFound is the exact error_msg sent for an unregistered
// method name.
var ErrMethodNotFound = errors.New("Target method NOT found")

// Request is the wire shape of one RPC call: {"name": ..., "parameters": [...]}.
type Request struct {
	Name       string              `json:"name"`
	Parameters []gojson.RawMessage `json:"parameters"`
}

// Response is the wire shape of one RPC reply.
type Response struct {
	ErrorFlag   bool              `json:"error_flag"`
	ReturnValue gojson.RawMessage `json:"return_value,omitempty"`
	ErrorMsg    string            `json:"error_msg,omitempty"`
}

// EncodeRequest marshals req and appends the sentinel byte.
func EncodeRequest(req Request) ([]byte, error) {
	b, err := gojson.Marshal(req)
	if err != nil {
		return nil, err
	}
	b = bytes.ReplaceAll(b, []byte{Sentinel}, escapedSentinel)
	return append(b, Sentinel), nil
}

// DecodeRequest unmarshals the JSON object preceding the sentinel byte
// (the sentinel itself must already have been stripped by the caller,
// typically via SplitFrames).
func DecodeRequest(frame []byte) (Request, error) {
	var req Request
	err := gojson.Unmarshal(frame, &req)
	return req, err
}

// EncodeResponse marshals resp and appends the sentinel byte.
func EncodeResponse(resp Response) ([]byte, error) {
	b, err := gojson.Marshal(resp)
	if err != nil {
		return nil, err
	}
	b = bytes.ReplaceAll(b, []byte{Sentinel}, escapedSentinel)
	return append(b, Sentinel), nil
}

// DecodeResponse unmarshals one sentinel-stripped response frame.
func DecodeResponse(frame []byte) (Response, error) {
	var resp Response
	err := gojson.Unmarshal(frame, &resp)
	return resp, err
}

// SplitFrames scans buf for sentinel-terminated frames and returns the
// complete ones (sentinel stripped) plus whatever trailing bytes remain
// unterminated, for the caller to prepend to the next read.
func SplitFrames(buf []byte) (frames [][]byte, remainder []byte) {
	start := 0
	for i, b := range buf {
		if b == Sentinel {
			frames = append(frames, buf[start:i])
			start = i + 1
		}
	}
	remainder = buf[start:]
	return frames, remainder
}

// NewErrorResponse builds the {"error_flag":true,"error_msg":...} shape
// used for both an unknown method and a procedure's own failure (a
// recovered panic or returned error).
func NewErrorResponse(msg string) Response {
	return Response{ErrorFlag: true, ErrorMsg: msg}
}

// NewSuccessResponse builds the {"error_flag":false,"return_value":...}
// shape for a procedure call that completed normally.
func NewSuccessResponse(value gojson.RawMessage) Response {
	return Response{ErrorFlag: false, ReturnValue: value}
}
