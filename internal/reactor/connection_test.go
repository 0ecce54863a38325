package reactor

import (
	"bytes"
	"net"
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

// socketPair wraps one end of a connected AF_UNIX stream pair in a
// Connection with the requested mode and hands the far end back as a raw
// fd for the test to drive.
func socketPair(t *testing.T, mode IOMode) (*Connection, int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		t.Fatal(err)
	}
	if mode == NonBlocking {
		if err := unix.SetNonblock(fds[0], true); err != nil {
			t.Fatal(err)
		}
	}
	conn := newConnection(fds[0], mode)
	t.Cleanup(func() {
		conn.Disconnect()
		unix.Close(fds[1])
	})
	return conn, fds[1]
}

func TestRecvNonBlockingDrainsUntilWouldBlock(t *testing.T) {
	conn, far := socketPair(t, NonBlocking)
	if _, err := unix.Write(far, []byte("hello world")); err != nil {
		t.Fatal(err)
	}

	got, ok := conn.Recv(5)
	if !ok {
		t.Fatalf("Recv reported failure")
	}
	if string(got) != "hello" {
		t.Fatalf("Recv(5) = %q, want %q", got, "hello")
	}
	if conn.RecvBuf.Size() != 6 {
		t.Fatalf("RecvBuf.Size() = %d, want 6", conn.RecvBuf.Size())
	}

	// the socket is drained; a second Recv serves the buffered remainder
	got, ok = conn.Recv(64)
	if !ok || string(got) != " world" {
		t.Fatalf("Recv(64) = %q, %v, want %q, true", got, ok, " world")
	}
}

func TestRecvNonBlockingEmptySocket(t *testing.T) {
	conn, _ := socketPair(t, NonBlocking)
	got, ok := conn.Recv(16)
	if !ok {
		t.Fatalf("Recv on an idle open socket must not report failure")
	}
	if len(got) != 0 {
		t.Fatalf("Recv on an idle socket = %q, want empty", got)
	}
}

func TestRecvNonBlockingPeerClosed(t *testing.T) {
	conn, far := socketPair(t, NonBlocking)
	unix.Close(far)
	if _, ok := conn.Recv(16); ok {
		t.Fatalf("Recv after peer close must report failure")
	}
}

func TestRecvNonBlockingPeerClosedServesBufferedTail(t *testing.T) {
	conn, far := socketPair(t, NonBlocking)
	if _, err := unix.Write(far, []byte("bye")); err != nil {
		t.Fatal(err)
	}
	unix.Close(far)

	// the final bytes before the close are still delivered
	got, ok := conn.Recv(16)
	if !ok || string(got) != "bye" {
		t.Fatalf("Recv = %q, %v, want %q, true", got, ok, "bye")
	}
	if _, ok := conn.Recv(16); ok {
		t.Fatalf("Recv after the tail drained must report failure")
	}
}

func TestRecvSendBlocking(t *testing.T) {
	conn, far := socketPair(t, Blocking)
	if _, err := unix.Write(far, []byte("ping")); err != nil {
		t.Fatal(err)
	}
	got, ok := conn.Recv(16)
	if !ok || string(got) != "ping" {
		t.Fatalf("Recv = %q, %v, want %q, true", got, ok, "ping")
	}

	if !conn.Send([]byte("pong")) {
		t.Fatalf("Send failed")
	}
	buf := make([]byte, 16)
	n, err := unix.Read(far, buf)
	if err != nil || string(buf[:n]) != "pong" {
		t.Fatalf("far side read %q, %v, want %q", buf[:n], err, "pong")
	}
}

func TestSendNonBlockingQueuesUnsentTail(t *testing.T) {
	conn, far := socketPair(t, NonBlocking)
	if err := unix.SetsockoptInt(conn.FD, unix.SOL_SOCKET, unix.SO_SNDBUF, 4096); err != nil {
		t.Fatal(err)
	}

	payload := bytes.Repeat([]byte{0xab}, 1<<20)
	if !conn.Send(payload) {
		t.Fatalf("Send failed")
	}
	if conn.IsSendAll() {
		t.Fatalf("a 1 MiB write into a 4 KiB send buffer cannot complete in one call")
	}

	// drain the far side while flushing until the tail is gone
	received := make(chan []byte, 1)
	go func() {
		var all []byte
		buf := make([]byte, 64*1024)
		for len(all) < len(payload) {
			n, err := unix.Read(far, buf)
			if err != nil || n == 0 {
				break
			}
			all = append(all, buf[:n]...)
		}
		received <- all
	}()

	deadline := time.Now().Add(5 * time.Second)
	for !conn.flushSendBuf() {
		if time.Now().After(deadline) {
			t.Fatalf("send buffer did not drain in time")
		}
		time.Sleep(time.Millisecond)
	}
	if !conn.IsSendAll() {
		t.Fatalf("IsSendAll must report true after a full flush")
	}

	select {
	case all := <-received:
		if !bytes.Equal(all, payload) {
			t.Fatalf("peer received %d bytes, want %d intact bytes", len(all), len(payload))
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("peer never received the full payload")
	}
}

func TestConnectAndExchange(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err != nil {
			return
		}
		accepted <- c
	}()

	conn, err := Connect("tcp", ln.Addr().String(), time.Second)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Disconnect()
	if conn.Mode != Blocking {
		t.Fatalf("Connect must produce a blocking-mode connection")
	}
	if conn.PeerAddr() == nil {
		t.Fatalf("PeerAddr must be recorded on connect")
	}

	if !conn.Send([]byte("hi")) {
		t.Fatalf("Send failed")
	}
	server := <-accepted
	defer server.Close()
	buf := make([]byte, 4)
	n, err := server.Read(buf)
	if err != nil || string(buf[:n]) != "hi" {
		t.Fatalf("server read %q, %v, want %q", buf[:n], err, "hi")
	}
}

func TestDisconnectIsIdempotent(t *testing.T) {
	conn, _ := socketPair(t, NonBlocking)
	if err := conn.Disconnect(); err != nil {
		t.Fatal(err)
	}
	if err := conn.Disconnect(); err != nil {
		t.Fatalf("second Disconnect must be a no-op, got %v", err)
	}
}
