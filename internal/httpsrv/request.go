// Package httpsrv implements the HTTP/1.0 request/response framing and
// CGI execution path behind the reactor's READ callback: a fixed
// status-line/header/body grammar, GET serving static files or forking
// CGI when the URL carries a query string, and POST handing an
// "...RPC"-suffixed URL's body to internal/rpc. Requests are parsed by
// a buffered scan over accumulated bytes, the shape
// internal/rpc.SplitFrames already uses for sentinel framing.
package httpsrv

import (
	"bytes"
	"errors"
	"strconv"
	"strings"
)

// errIncomplete signals that buf does not yet hold a full request; the
// caller should wait for more bytes from the next READ readiness.
var errIncomplete = errors.New("httpsrv: incomplete request")

// Request is one parsed HTTP/1.0 request.
type Request struct {
	Method string
	URL    string
	Body   []byte
}

// httpVersion is the only version this server speaks or claims.
const httpVersion = "HTTP/1.0"

// TryParseRequest scans buf for one complete HTTP/1.0 request: a status
// line, zero or more headers, a blank line, and (if Content-Length is
// present) a body of that many bytes. It returns errIncomplete if buf
// does not yet hold all of that, so the caller can keep accumulating
// across READ callbacks. Method and header names are matched
// case-insensitively and header values have leading spaces trimmed.
func TryParseRequest(buf []byte) (*Request, int, error) {
	headerEnd := bytes.Index(buf, []byte("\r\n\r\n"))
	if headerEnd < 0 {
		return nil, 0, errIncomplete
	}

	lines := bytes.Split(buf[:headerEnd], []byte("\r\n"))
	if len(lines) == 0 || len(lines[0]) == 0 {
		return nil, headerEnd + 4, errors.New("httpsrv: empty request line")
	}

	parts := bytes.Fields(lines[0])
	if len(parts) < 2 {
		return nil, headerEnd + 4, errors.New("httpsrv: malformed request line")
	}
	method := strings.ToUpper(string(parts[0]))
	url := string(parts[1])

	headers := make(map[string]string, len(lines)-1)
	for _, line := range lines[1:] {
		idx := bytes.IndexByte(line, ':')
		if idx < 0 {
			continue
		}
		key := strings.ToLower(strings.TrimSpace(string(line[:idx])))
		val := strings.TrimLeft(string(line[idx+1:]), " ")
		headers[key] = val
	}

	bodyStart := headerEnd + 4
	contentLength := 0
	if v, ok := headers["content-length"]; ok {
		contentLength, _ = strconv.Atoi(v)
	}
	if len(buf)-bodyStart < contentLength {
		return nil, 0, errIncomplete
	}

	body := append([]byte(nil), buf[bodyStart:bodyStart+contentLength]...)
	consumed := bodyStart + contentLength
	return &Request{Method: method, URL: url, Body: body}, consumed, nil
}
