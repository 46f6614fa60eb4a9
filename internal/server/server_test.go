package server

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gravwell/loghogd/internal/dlog"
	"github.com/gravwell/loghogd/internal/wire"
)

type recordingProcessor struct {
	mu  sync.Mutex
	got [][]byte
}

func (r *recordingProcessor) Process(raw []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, append([]byte(nil), raw...))
}

func (r *recordingProcessor) snapshot() [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([][]byte, len(r.got))
	copy(out, r.got)
	return out
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func newTestServer(t *testing.T) (*Server, *recordingProcessor) {
	t.Helper()
	proc := &recordingProcessor{}
	log := dlog.New(nopWriteCloser{})
	return New(proc, log), proc
}

type nopWriteCloser struct{}

func (nopWriteCloser) Write(p []byte) (int, error) { return len(p), nil }
func (nopWriteCloser) Close() error                { return nil }

func TestUDPSingleDatagram(t *testing.T) {
	srv, proc := newTestServer(t)
	require.NoError(t, srv.Start(Config{UDP: []Addr{{Host: "127.0.0.1", Port: 0}}}))
	defer srv.Shutdown()

	addr := srv.listeners[0].(net.PacketConn).LocalAddr()
	conn, err := net.Dial("udp", addr.String())
	require.NoError(t, err)
	defer conn.Close()

	frame, err := wire.Encode([]byte(`{"body":"hi"}`), false)
	require.NoError(t, err)
	_, err = conn.Write(frame)
	require.NoError(t, err)

	waitFor(t, func() bool { return len(proc.snapshot()) == 1 })
	require.Equal(t, []byte(`{"body":"hi"}`), proc.snapshot()[0])
}

func TestTCPTwoBackToBackFrames(t *testing.T) {
	srv, proc := newTestServer(t)
	require.NoError(t, srv.Start(Config{TCP: []Addr{{Host: "127.0.0.1", Port: 0}}}))
	defer srv.Shutdown()

	addr := srv.listeners[0].(net.Listener).Addr()
	conn, err := net.Dial("tcp", addr.String())
	require.NoError(t, err)
	defer conn.Close()

	f1, _ := wire.Encode([]byte(`x`), false)
	f2, _ := wire.Encode([]byte(`y`), false)
	_, err = conn.Write(append(f1, f2...))
	require.NoError(t, err)

	waitFor(t, func() bool { return len(proc.snapshot()) == 2 })
	got := proc.snapshot()
	require.Equal(t, []byte(`x`), got[0])
	require.Equal(t, []byte(`y`), got[1])
}

func TestTCPPartialFrameAcrossReads(t *testing.T) {
	srv, proc := newTestServer(t)
	require.NoError(t, srv.Start(Config{TCP: []Addr{{Host: "127.0.0.1", Port: 0}}}))
	defer srv.Shutdown()

	addr := srv.listeners[0].(net.Listener).Addr()
	conn, err := net.Dial("tcp", addr.String())
	require.NoError(t, err)
	defer conn.Close()

	frame, _ := wire.Encode([]byte(`hello world`), false)
	_, err = conn.Write(frame[:6])
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)
	require.Empty(t, proc.snapshot())

	_, err = conn.Write(frame[6:])
	require.NoError(t, err)

	waitFor(t, func() bool { return len(proc.snapshot()) == 1 })
	require.Equal(t, []byte(`hello world`), proc.snapshot()[0])
}

func TestGzipPayloadDecodesIdentically(t *testing.T) {
	srv, proc := newTestServer(t)
	require.NoError(t, srv.Start(Config{TCP: []Addr{{Host: "127.0.0.1", Port: 0}}}))
	defer srv.Shutdown()

	addr := srv.listeners[0].(net.Listener).Addr()
	conn, err := net.Dial("tcp", addr.String())
	require.NoError(t, err)
	defer conn.Close()

	frame, err := wire.Encode([]byte(`{"body":"compressed"}`), true)
	require.NoError(t, err)
	_, err = conn.Write(frame)
	require.NoError(t, err)

	waitFor(t, func() bool { return len(proc.snapshot()) == 1 })
	require.Equal(t, []byte(`{"body":"compressed"}`), proc.snapshot()[0])
}

func TestShutdownClosesListenersAndConnections(t *testing.T) {
	srv, _ := newTestServer(t)
	require.NoError(t, srv.Start(Config{TCP: []Addr{{Host: "127.0.0.1", Port: 0}}}))

	addr := srv.listeners[0].(net.Listener).Addr()
	conn, err := net.Dial("tcp", addr.String())
	require.NoError(t, err)
	defer conn.Close()

	waitFor(t, func() bool {
		srv.mu.Lock()
		defer srv.mu.Unlock()
		return len(srv.conns) == 1
	})

	srv.Shutdown()

	_, err = net.Dial("tcp", addr.String())
	require.Error(t, err)
}
