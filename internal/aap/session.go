package aap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/daemonp/aap2mqtt/internal/log"
	"github.com/daemonp/aap2mqtt/internal/metrics"
	"github.com/daemonp/aap2mqtt/internal/types"
)

const (
	DefaultConnectTimeout = 10 * time.Second
	DefaultWriteTimeout   = 5 * time.Second

	maxLineLength  = 64 * 1024
	readBufferSize = 512
)

// Sink receives every decoded event. state.Store is the production implementation.
type Sink interface {
	Apply(ev types.Event) (bool, types.Snapshot)
}

type SessionConfig struct {
	Host           string
	Port           int
	ConnectTimeout time.Duration
	WriteTimeout   time.Duration
}

func (c SessionConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Session owns a single TCP connection to the panel. It is used once: Run moves it
// from Idle to Closed or Failed and a new Session is needed to connect again.
type Session struct {
	cfg  SessionConfig
	sink Sink
	log  *log.Logger

	mu       sync.Mutex
	state    types.SessionState
	conn     net.Conn
	cancel   context.CancelFunc
	closing  bool
	onChange func(types.SessionState)

	writeMu sync.Mutex
}

func NewSession(cfg SessionConfig, sink Sink, logger *log.Logger) *Session {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	return &Session{
		cfg:  cfg,
		sink: sink,
		log:  logger,
	}
}

// OnStateChange registers fn to be called on every state transition. Call it before Run.
func (s *Session) OnStateChange(fn func(types.SessionState)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = fn
}

func (s *Session) State() types.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(state types.SessionState) {
	s.mu.Lock()
	if s.state == state {
		s.mu.Unlock()
		return
	}
	s.state = state
	fn := s.onChange
	s.mu.Unlock()

	s.notify(fn, state)
}

// transition moves the session from one state to another and reports whether
// it was still in from.
func (s *Session) transition(from, to types.SessionState) bool {
	s.mu.Lock()
	if s.state != from {
		s.mu.Unlock()
		return false
	}
	s.state = to
	fn := s.onChange
	s.mu.Unlock()

	s.notify(fn, to)
	return true
}

func (s *Session) notify(fn func(types.SessionState), state types.SessionState) {
	s.log.Debug("Session %s is %s", s.cfg.Addr(), state)
	if fn != nil {
		fn(state)
	}
}

// Run connects and reads until the panel hangs up, the connection fails, ctx is
// cancelled or Close is called. A clean stop returns nil, a hang-up returns
// ErrStreamClosed and everything else wraps ErrConnectFailed or ErrTransport.
func (s *Session) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.mu.Lock()
	if s.state != types.SessionIdle {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("aap: session already %s", state)
	}
	if s.closing {
		s.mu.Unlock()
		s.setState(types.SessionClosed)
		return nil
	}
	s.cancel = cancel
	s.mu.Unlock()

	s.setState(types.SessionConnecting)
	addr := s.cfg.Addr()
	s.log.Debug("Attempting to connect to %s", addr)

	dialCtx, dialCancel := context.WithTimeout(runCtx, s.cfg.ConnectTimeout)
	var d net.Dialer
	conn, err := d.DialContext(dialCtx, "tcp", addr)
	dialCancel()
	if err != nil {
		if runCtx.Err() != nil {
			s.setState(types.SessionClosed)
			return nil
		}
		s.setState(types.SessionFailed)
		return fmt.Errorf("%w: %s: %w", ErrConnectFailed, addr, err)
	}

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	s.setState(types.SessionConnected)
	s.log.Info("Connected to panel at %s", addr)

	// Closing the socket is what unblocks a pending read.
	stopped := make(chan struct{})
	stop := context.AfterFunc(runCtx, func() {
		defer close(stopped)
		s.transition(types.SessionConnected, types.SessionClosing)
		conn.Close()
	})

	err = s.readLoop(conn)
	if !stop() {
		// The stop callback has started; let its Closing land before the final state.
		<-stopped
	}
	conn.Close()

	switch {
	case runCtx.Err() != nil:
		s.setState(types.SessionClosed)
		return nil
	case err == nil:
		s.log.Warn("Connection closed by panel at %s", addr)
		s.setState(types.SessionClosed)
		return ErrStreamClosed
	default:
		s.log.Error("Read error from %s: %v", addr, err)
		s.setState(types.SessionFailed)
		return fmt.Errorf("%w: read: %w", ErrTransport, err)
	}
}

// readLoop feeds the socket to the line splitter until EOF, which returns nil, or
// a read error. A line without a terminator is still decoded at EOF.
func (s *Session) readLoop(conn net.Conn) error {
	lines := newLineSplitter(maxLineLength)
	buf := make([]byte, readBufferSize)
	for {
		n, err := conn.Read(buf)
		lines.feed(buf[:n], s.handleLine, s.dropLine)
		if errors.Is(err, io.EOF) {
			lines.flush(s.handleLine, s.dropLine)
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func (s *Session) dropLine(size int) {
	metrics.LinesTotal.WithLabelValues("oversized").Inc()
	s.log.Warn("Discarded a %d byte line from the panel, longer than %d", size, maxLineLength)
}

func (s *Session) handleLine(line string) {
	if strings.TrimSpace(line) == "" {
		return
	}

	ev := Decode(line)
	switch e := ev.(type) {
	case types.ZoneChanged:
		metrics.LinesTotal.WithLabelValues("zone").Inc()
	case types.SystemStatus:
		metrics.LinesTotal.WithLabelValues("system").Inc()
		s.log.Info("Panel reports %s", e)
	case types.Unknown:
		metrics.LinesTotal.WithLabelValues("unknown").Inc()
		s.log.Panel("Unknown message: %s", e.Raw)
	}

	if changed, _ := s.sink.Apply(ev); changed {
		s.log.Info("Panel reports %s", ev)
	}
}

// Send writes cmd to the panel. It fails with ErrNotConnected unless the session
// is Connected and never queues.
func (s *Session) Send(cmd types.Command) error {
	s.mu.Lock()
	conn := s.conn
	connected := s.state == types.SessionConnected
	s.mu.Unlock()

	if !connected || conn == nil {
		return ErrNotConnected
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout)); err != nil {
		return fmt.Errorf("%w: set write deadline: %w", ErrTransport, err)
	}
	if _, err := conn.Write(Encode(cmd)); err != nil {
		// Let the read loop unwind and report the failure.
		conn.Close()
		return fmt.Errorf("%w: write %q: %w", ErrTransport, cmd.Line(), err)
	}

	s.log.Debug("Sent command: %s", cmd.Line())
	return nil
}

// Close stops the session. It is safe to call at any time and more than once.
func (s *Session) Close() {
	s.mu.Lock()
	s.closing = true
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}
