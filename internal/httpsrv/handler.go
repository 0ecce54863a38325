package httpsrv

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/B777B2056/jrNetWork/internal/reactor"
	"github.com/B777B2056/jrNetWork/internal/rpc"
)

// connState is the per-connection scratch NewHandler keeps in
// Connection.UserData: bytes received so far that do not yet contain a
// complete HTTP/1.0 request.
type connState struct {
	pending []byte
}

// NewHandler returns a reactor.ReadHandler speaking HTTP/1.0: GET serves
// a static file under workDir or forks CGI when the URL carries a query
// string; POST to a URL ending in "RPC" is handed to reg; any other POST
// is logged and otherwise ignored.
func NewHandler(workDir string, reg *rpc.Registry, log *logrus.Entry) reactor.ReadHandler {
	return func(conn *reactor.Connection) bool {
		st, _ := conn.UserData.(*connState)
		if st == nil {
			st = &connState{}
			conn.UserData = st
		}

		for {
			chunk, ok := conn.Recv(maxFrameRead)
			if !ok {
				return false
			}
			if len(chunk) == 0 {
				break
			}
			st.pending = append(st.pending, chunk...)
		}

		for {
			req, consumed, err := TryParseRequest(st.pending)
			if err == errIncomplete {
				return true
			}
			if err != nil {
				conn.Send(BuildResponse(400, nil))
				st.pending = st.pending[consumed:]
				continue
			}
			st.pending = st.pending[consumed:]
			handleOne(workDir, reg, log, conn, req)
		}
	}
}

const maxFrameRead = 1 << 20

func handleOne(workDir string, reg *rpc.Registry, log *logrus.Entry, conn *reactor.Connection, req *Request) {
	switch req.Method {
	case "GET":
		code, body := handleGet(workDir, req.URL)
		conn.Send(BuildResponse(code, body))
	case "POST":
		if strings.HasSuffix(req.URL, "RPC") {
			body := handleRPC(reg, log, req.Body)
			conn.Send(BuildResponse(200, body))
		} else if log != nil {
			log.WithField("url", req.URL).Info("Normal POST Req")
		}
	case "HEAD", "PUT", "DELETE", "OPTIONS", "PATCH", "CONNECT", "TRACE":
		conn.Send(BuildResponse(501, nil))
	default:
		conn.Send(BuildResponse(400, nil))
	}
}

// handleGet serves a static file under workDir, or forks CGI when the
// URL contains a '?'.
func handleGet(workDir, url string) (int, []byte) {
	if idx := strings.IndexByte(url, '?'); idx >= 0 {
		path := url[:idx]
		query := url[idx+1:]
		scriptPath, ok := safeJoin(workDir, path)
		if !ok {
			return 400, nil
		}
		out, err := execCGI(scriptPath, "GET", query)
		if err != nil {
			return 500, nil
		}
		return 200, out
	}

	path, ok := safeJoin(workDir, url)
	if !ok {
		return 400, nil
	}
	body, err := os.ReadFile(path)
	if err != nil {
		return 404, nil
	}
	return 200, body
}

// handleRPC hands req.Body to the RPC registry and returns the
// sentinel-framed JSON reply.
func handleRPC(reg *rpc.Registry, log *logrus.Entry, body []byte) []byte {
	frames, _ := rpc.SplitFrames(append(append([]byte(nil), body...), rpc.Sentinel))
	if len(frames) == 0 {
		out, _ := rpc.EncodeResponse(rpc.NewErrorResponse("empty RPC body"))
		return out
	}
	var resp rpc.Response
	req, err := rpc.DecodeRequest(frames[0])
	if err != nil {
		resp = rpc.NewErrorResponse(err.Error())
	} else if value, err := reg.Invoke(req.Name, req.Parameters); err != nil {
		if log != nil {
			log.WithField("method", req.Name).Warn(err.Error())
		}
		resp = rpc.NewErrorResponse(err.Error())
	} else {
		resp = rpc.NewSuccessResponse(value)
	}
	out, _ := rpc.EncodeResponse(resp)
	return out
}

// safeJoin joins workDir and urlPath, rejecting any result that escapes
// workDir via "..": serving arbitrary filesystem paths to an
// unauthenticated TCP client would be a path-traversal hole.
func safeJoin(workDir, urlPath string) (string, bool) {
	full := filepath.Join(workDir, urlPath)
	rel, err := filepath.Rel(workDir, full)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", false
	}
	return full, true
}
