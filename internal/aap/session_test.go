package aap

import (
	"bufio"
	"context"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/daemonp/aap2mqtt/internal/log"
	"github.com/daemonp/aap2mqtt/internal/state"
	"github.com/daemonp/aap2mqtt/internal/types"
)

const waitFor = 2 * time.Second

type peer struct {
	ln    net.Listener
	conns chan net.Conn
}

func newPeer(t *testing.T) *peer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	p := &peer{ln: ln, conns: make(chan net.Conn, 4)}
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			p.conns <- conn
		}
	}()
	t.Cleanup(func() { ln.Close() })
	return p
}

func (p *peer) config() SessionConfig {
	addr := p.ln.Addr().(*net.TCPAddr)
	return SessionConfig{Host: "127.0.0.1", Port: addr.Port, ConnectTimeout: time.Second}
}

func (p *peer) accept(t *testing.T) net.Conn {
	t.Helper()
	select {
	case conn := <-p.conns:
		t.Cleanup(func() { conn.Close() })
		return conn
	case <-time.After(waitFor):
		t.Fatal("panel connection was not accepted")
		return nil
	}
}

type recorder struct {
	mu     sync.Mutex
	states []types.SessionState
}

func (r *recorder) record(st types.SessionState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, st)
}

func (r *recorder) get() []types.SessionState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]types.SessionState(nil), r.states...)
}

func newTestSession(t *testing.T, cfg SessionConfig) (*Session, *state.Store, *recorder) {
	t.Helper()
	store := state.New(log.NewNop())
	t.Cleanup(store.Close)
	rec := &recorder{}
	s := NewSession(cfg, store, log.NewNop())
	s.OnStateChange(rec.record)
	return s, store, rec
}

func runSession(ctx context.Context, s *Session) <-chan error {
	errc := make(chan error, 1)
	go func() { errc <- s.Run(ctx) }()
	return errc
}

func waitErr(t *testing.T, errc <-chan error) error {
	t.Helper()
	select {
	case err := <-errc:
		return err
	case <-time.After(waitFor):
		t.Fatal("session did not finish")
		return nil
	}
}

func zoneIs(store *state.Store, zone types.ZoneID, want bool) func() bool {
	return func() bool {
		active, known := store.Current().Get(zone)
		return known && active == want
	}
}

func TestSessionAppliesPanelLines(t *testing.T) {
	p := newPeer(t)
	s, store, _ := newTestSession(t, p.config())
	errc := runSession(context.Background(), s)
	conn := p.accept(t)

	_, err := conn.Write([]byte("ZO1\r\nRO\rZC2\nhello\n\n"))
	require.NoError(t, err)

	require.Eventually(t, zoneIs(store, 1, true), waitFor, 10*time.Millisecond)
	require.Eventually(t, zoneIs(store, 2, false), waitFor, 10*time.Millisecond)
	require.Equal(t, 2, store.Current().Len())

	s.Close()
	require.NoError(t, waitErr(t, errc))
	require.Equal(t, types.SessionClosed, s.State())
}

func TestSessionPartialLineAtEOF(t *testing.T) {
	p := newPeer(t)
	s, store, rec := newTestSession(t, p.config())
	errc := runSession(context.Background(), s)
	conn := p.accept(t)

	_, err := conn.Write([]byte("ZO3\nZO4"))
	require.NoError(t, err)
	require.NoError(t, conn.Close())

	require.ErrorIs(t, waitErr(t, errc), ErrStreamClosed)
	require.Equal(t, types.SessionClosed, s.State())

	snap := store.Current()
	active, known := snap.Get(3)
	require.True(t, known)
	require.True(t, active)
	active, known = snap.Get(4)
	require.True(t, known)
	require.True(t, active)

	require.Equal(t, []types.SessionState{
		types.SessionConnecting,
		types.SessionConnected,
		types.SessionClosed,
	}, rec.get())
}

func TestSessionSend(t *testing.T) {
	p := newPeer(t)
	s, _, _ := newTestSession(t, p.config())

	require.ErrorIs(t, s.Send(types.OutputCommand{Output: 4}), ErrNotConnected)

	errc := runSession(context.Background(), s)
	conn := p.accept(t)
	require.Eventually(t, func() bool { return s.State() == types.SessionConnected }, waitFor, 10*time.Millisecond)

	require.NoError(t, s.Send(types.OutputCommand{Output: 4}))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(waitFor)))
	line, err := bufio.NewReader(conn).ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, "OUTPUTON 4\n", line)

	s.Close()
	require.NoError(t, waitErr(t, errc))
	require.ErrorIs(t, s.Send(types.OutputCommand{Output: 4}), ErrNotConnected)
}

func TestSessionConnectFailed(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	s, store, rec := newTestSession(t, SessionConfig{Host: "127.0.0.1", Port: port, ConnectTimeout: time.Second})
	err = s.Run(context.Background())
	require.ErrorIs(t, err, ErrConnectFailed)
	require.Equal(t, types.SessionFailed, s.State())
	require.Equal(t, 0, store.Current().Len())
	require.Equal(t, []types.SessionState{types.SessionConnecting, types.SessionFailed}, rec.get())
}

func TestSessionCancel(t *testing.T) {
	p := newPeer(t)
	s, _, rec := newTestSession(t, p.config())
	ctx, cancel := context.WithCancel(context.Background())
	errc := runSession(ctx, s)
	conn := p.accept(t)
	require.Eventually(t, func() bool { return s.State() == types.SessionConnected }, waitFor, 10*time.Millisecond)

	cancel()
	require.NoError(t, waitErr(t, errc))
	require.Equal(t, types.SessionClosed, s.State())
	require.Equal(t, []types.SessionState{
		types.SessionConnecting,
		types.SessionConnected,
		types.SessionClosing,
		types.SessionClosed,
	}, rec.get())

	// The socket is closed, so the peer sees EOF.
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(waitFor)))
	_, err := conn.Read(make([]byte, 1))
	require.Error(t, err)
}

func TestSessionCloseBeforeRun(t *testing.T) {
	p := newPeer(t)
	s, _, _ := newTestSession(t, p.config())
	s.Close()
	s.Close()
	require.NoError(t, s.Run(context.Background()))
	require.Equal(t, types.SessionClosed, s.State())
}

func TestSessionSingleUse(t *testing.T) {
	p := newPeer(t)
	s, _, _ := newTestSession(t, p.config())
	errc := runSession(context.Background(), s)
	conn := p.accept(t)
	require.NoError(t, conn.Close())
	require.ErrorIs(t, waitErr(t, errc), ErrStreamClosed)

	require.Error(t, s.Run(context.Background()))
}

func TestSessionSurvivesOversizedLine(t *testing.T) {
	p := newPeer(t)
	s, store, _ := newTestSession(t, p.config())
	errc := runSession(context.Background(), s)
	conn := p.accept(t)

	_, err := conn.Write([]byte(strings.Repeat("x", 70*1024) + "\nZO1\n"))
	require.NoError(t, err)

	require.Eventually(t, zoneIs(store, 1, true), waitFor, 10*time.Millisecond)
	require.Equal(t, types.SessionConnected, s.State())
	require.Equal(t, 1, store.Current().Len())

	s.Close()
	require.NoError(t, waitErr(t, errc))
}

func TestSessionSendAfterStopWritesNothing(t *testing.T) {
	p := newPeer(t)
	s, _, _ := newTestSession(t, p.config())
	ctx, cancel := context.WithCancel(context.Background())
	errc := runSession(ctx, s)
	conn := p.accept(t)
	require.Eventually(t, func() bool { return s.State() == types.SessionConnected }, waitFor, 10*time.Millisecond)

	cancel()
	require.NoError(t, waitErr(t, errc))
	require.ErrorIs(t, s.Send(types.OutputCommand{Output: 4}), ErrNotConnected)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(waitFor)))
	data, err := io.ReadAll(conn)
	require.NoError(t, err)
	require.Empty(t, data)
}

func TestSessionStopRacingHangUpEndsTerminal(t *testing.T) {
	for i := 0; i < 50; i++ {
		p := newPeer(t)
		s, _, rec := newTestSession(t, p.config())
		errc := runSession(context.Background(), s)
		conn := p.accept(t)
		require.Eventually(t, func() bool { return s.State() == types.SessionConnected }, waitFor, time.Millisecond)

		go conn.Close()
		go s.Close()

		err := waitErr(t, errc)
		if err != nil {
			require.ErrorIs(t, err, ErrStreamClosed)
		}
		require.True(t, s.State().Terminal(), "iteration %d ended %s", i, s.State())

		states := rec.get()
		require.Equal(t, types.SessionClosed, states[len(states)-1], "iteration %d: %v", i, states)
	}
}
