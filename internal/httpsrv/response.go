package httpsrv

import (
	"fmt"
	"strconv"
)

// statusText lists the only five status codes this server ever emits.
var statusText = map[int]string{
	200: "OK",
	400: "Bad Request",
	404: "Not Found",
	500: "Internal Server Error",
	501: "Not Implemented",
}

// BuildResponse renders the status line, the fixed Server/Connection
// headers plus a computed Content-Length, a blank line, and body.
func BuildResponse(code int, body []byte) []byte {
	reason, ok := statusText[code]
	if !ok {
		reason = "Unknown"
	}
	out := make([]byte, 0, len(body)+128)
	out = append(out, fmt.Sprintf("%s %d %s\r\n", httpVersion, code, reason)...)
	out = append(out, "Server: jrHTTP\r\n"...)
	out = append(out, "Connection: Keep-Alive\r\n"...)
	out = append(out, "Content-Length: "+strconv.Itoa(len(body))+"\r\n"...)
	out = append(out, "\r\n"...)
	out = append(out, body...)
	return out
}
