package rpc

import (
	"github.com/sirupsen/logrus"

	"github.com/B777B2056/jrNetWork/internal/reactor"
)

// maxFrameRead bounds a single Connection.Recv call inside the read
// handler; the sentinel framer reassembles frames split across several
// of these regardless of where the boundary falls.
const maxFrameRead = 1 << 20

// connState is the per-connection scratch NewReadHandler keeps in
// Connection.UserData: bytes received so far that do not yet contain a
// complete sentinel-terminated frame.
type connState struct {
	pending []byte
}

// NewReadHandler returns a reactor.ReadHandler that frames '#'-terminated
// JSON requests off conn's receive buffer, dispatches each through reg,
// and writes the sentinel-terminated JSON response back, accumulating
// partial frames across READ callbacks.
func NewReadHandler(reg *Registry, log *logrus.Entry) reactor.ReadHandler {
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

		frames, remainder := SplitFrames(st.pending)
		if len(remainder) == 0 {
			st.pending = nil
		} else {
			st.pending = append([]byte(nil), remainder...)
		}

		for _, frame := range frames {
			resp := dispatch(reg, frame, log)
			out, err := EncodeResponse(resp)
			if err != nil {
				if log != nil {
					log.WithError(err).Warn("rpc: failed to encode response")
				}
				continue
			}
			conn.Send(out)
		}
		return true
	}
}

// dispatch decodes one request frame, invokes it against reg, and builds
// the success/failure Response shape. A malformed frame or an unknown
// method both become error_flag=true responses; neither tears down the
// connection.
func dispatch(reg *Registry, frame []byte, log *logrus.Entry) Response {
	req, err := DecodeRequest(frame)
	if err != nil {
		if log != nil {
			log.WithError(err).Warn("rpc: malformed request frame")
		}
		return NewErrorResponse(err.Error())
	}
	value, err := reg.Invoke(req.Name, req.Parameters)
	if err != nil {
		if log != nil {
			log.WithFields(logrus.Fields{"method": req.Name}).Warn(err.Error())
		}
		return NewErrorResponse(err.Error())
	}
	return NewSuccessResponse(value)
}
