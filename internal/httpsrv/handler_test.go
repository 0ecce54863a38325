//go:build linux

package httpsrv

import (
	"bufio"
	"bytes"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/B777B2056/jrNetWork/internal/procedures"
	"github.com/B777B2056/jrNetWork/internal/reactor"
	"github.com/B777B2056/jrNetWork/internal/rpc"
)

func discardLog() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func TestHandleGetServesStaticFile(t *testing.T) {
	dir := t.TempDir()
	want := []byte("<html>hi</html>")
	if err := os.WriteFile(filepath.Join(dir, "index.html"), want, 0o644); err != nil {
		t.Fatal(err)
	}

	code, body := handleGet(dir, "/index.html")
	if code != 200 || !bytes.Equal(body, want) {
		t.Fatalf("handleGet = %d, %q, want 200, %q", code, body, want)
	}
}

func TestHandleGetMissingFileIs404(t *testing.T) {
	code, _ := handleGet(t.TempDir(), "/absent.html")
	if code != 404 {
		t.Fatalf("handleGet = %d, want 404", code)
	}
}

func TestHandleGetRejectsTraversal(t *testing.T) {
	code, _ := handleGet(t.TempDir(), "/../../etc/passwd")
	if code == 200 {
		t.Fatalf("traversal URL must not be served")
	}
}

func TestHandleGetRunsCGIOnQueryString(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "hello.cgi")
	src := "#!/bin/sh\nprintf 'method=%s query=%s' \"$REQUEST_METHOD\" \"$QUERY_STRING\"\n"
	if err := os.WriteFile(script, []byte(src), 0o755); err != nil {
		t.Fatal(err)
	}

	code, body := handleGet(dir, "/hello.cgi?a=1&b=2")
	if code != 200 {
		t.Fatalf("CGI GET = %d, want 200", code)
	}
	if string(body) != "method=GET query=a=1&b=2" {
		t.Fatalf("CGI output = %q", body)
	}
}

func TestHandleGetCGIFailureIs500(t *testing.T) {
	code, _ := handleGet(t.TempDir(), "/absent.cgi?x=1")
	if code != 500 {
		t.Fatalf("failed CGI = %d, want 500", code)
	}
}

func TestHandleRPCDispatchesBody(t *testing.T) {
	reg := rpc.NewRegistry()
	procedures.Register(reg)

	body := handleRPC(reg, discardLog(), []byte(`{"name":"int_sort","parameters":[[3,1,2]]}`))
	if !strings.Contains(string(body), `"return_value":[1,2,3]`) {
		t.Fatalf("RPC body = %s", body)
	}
	if body[len(body)-1] != rpc.Sentinel {
		t.Fatalf("HTTP-carried RPC reply must stay sentinel-terminated")
	}

	body = handleRPC(reg, discardLog(), []byte(`{"name":"nope","parameters":[]}`))
	if !strings.Contains(string(body), "Target method NOT found") {
		t.Fatalf("RPC error body = %s", body)
	}
}

func startHTTPServer(t *testing.T, workDir string) string {
	t.Helper()
	reg := rpc.NewRegistry()
	reg.Register("echo", func(s string) string { return s })

	r, err := reactor.New(reactor.Config{
		Addr:        "127.0.0.1:0",
		MaxTaskNum:  64,
		MaxPoolSize: 4,
		Logger:      discardLog(),
	})
	if err != nil {
		t.Fatal(err)
	}
	r.OnRead(NewHandler(workDir, reg, discardLog()))

	done := make(chan error, 1)
	go func() { done <- r.Run() }()
	t.Cleanup(func() {
		r.Stop()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Errorf("server did not stop")
		}
		r.Close()
	})
	return r.Addr().String()
}

func roundTrip(t *testing.T, addr, raw string) *http.Response {
	t.Helper()
	c, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { c.Close() })
	if _, err := c.Write([]byte(raw)); err != nil {
		t.Fatal(err)
	}
	c.SetReadDeadline(time.Now().Add(5 * time.Second))
	resp, err := http.ReadResponse(bufio.NewReader(c), nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestHTTPGetStaticEndToEnd(t *testing.T) {
	dir := t.TempDir()
	want := "<html>static body</html>"
	if err := os.WriteFile(filepath.Join(dir, "index.html"), []byte(want), 0o644); err != nil {
		t.Fatal(err)
	}
	addr := startHTTPServer(t, dir)

	resp := roundTrip(t, addr, "GET /index.html HTTP/1.0\r\n\r\n")
	if resp.StatusCode != 200 {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if resp.Header.Get("Server") != "jrHTTP" {
		t.Fatalf("Server header = %q, want jrHTTP", resp.Header.Get("Server"))
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	if string(body) != want {
		t.Fatalf("body = %q, want %q", body, want)
	}
}

func TestHTTPGetMissingEndToEnd(t *testing.T) {
	addr := startHTTPServer(t, t.TempDir())
	resp := roundTrip(t, addr, "GET /absent.html HTTP/1.0\r\n\r\n")
	if resp.StatusCode != 404 {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestHTTPPostRPCEndToEnd(t *testing.T) {
	addr := startHTTPServer(t, t.TempDir())

	reqBody := `{"name":"echo","parameters":["over http"]}`
	raw := "POST /callRPC HTTP/1.0\r\n" +
		"Content-Length: " + strconv.Itoa(len(reqBody)) + "\r\n" +
		"\r\n" + reqBody
	resp := roundTrip(t, addr, raw)
	if resp.StatusCode != 200 {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(body), `"return_value":"over http"`) {
		t.Fatalf("RPC-over-HTTP body = %s", body)
	}
}

func TestHTTPUnimplementedMethodEndToEnd(t *testing.T) {
	addr := startHTTPServer(t, t.TempDir())
	resp := roundTrip(t, addr, "DELETE /x HTTP/1.0\r\n\r\n")
	if resp.StatusCode != 501 {
		t.Fatalf("status = %d, want 501", resp.StatusCode)
	}
}
