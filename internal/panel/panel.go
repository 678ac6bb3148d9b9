package panel

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/daemonp/aap2mqtt/internal/aap"
	"github.com/daemonp/aap2mqtt/internal/config"
	"github.com/daemonp/aap2mqtt/internal/log"
	"github.com/daemonp/aap2mqtt/internal/metrics"
	"github.com/daemonp/aap2mqtt/internal/state"
	"github.com/daemonp/aap2mqtt/internal/types"
)

// Target is the panel controller address.
type Target struct {
	Host string
	Port int
}

func TargetFrom(cfg config.PanelConfig) Target {
	return Target{Host: cfg.Host, Port: cfg.Port}
}

func (t Target) String() string {
	return net.JoinHostPort(t.Host, strconv.Itoa(t.Port))
}

func (t Target) validate() error {
	if strings.TrimSpace(t.Host) == "" {
		return fmt.Errorf("%w: empty host", ErrInvalidTarget)
	}
	if t.Port < 1 || t.Port > 65535 {
		return fmt.Errorf("%w: port %d", ErrInvalidTarget, t.Port)
	}
	return nil
}

// StateHandler is told about session transitions. err is set when a session ends
// with a failure or a hang-up.
type StateHandler func(state types.SessionState, err error)

// Manager keeps at most one Session open against its target and owns the zone store.
type Manager struct {
	cfg   config.PanelConfig
	log   *log.Logger
	store *state.Store

	mu      sync.Mutex
	target  Target
	session *aap.Session
	cancel  context.CancelFunc
	done    chan struct{}
	lastErr error

	stateMu   sync.RWMutex
	stateSubs []StateHandler
}

func NewManager(cfg config.PanelConfig, logger *log.Logger) *Manager {
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = 5 * time.Second
	}
	m := &Manager{
		cfg:   cfg,
		log:   logger,
		store: state.New(logger.With("store")),
	}
	m.store.SubscribeEvents(recordEvent)
	return m
}

func recordEvent(ev types.Event) {
	switch e := ev.(type) {
	case types.ZoneChanged:
		metrics.ZoneActive.WithLabelValues(strconv.Itoa(int(e.Zone))).Set(metrics.BoolAs(e.Active))
	case types.SystemStatus:
		metrics.SystemReady.Set(metrics.BoolAs(e.Ready))
	}
}

// Start begins connecting to target and returns without waiting for the outcome.
// It does nothing if a session for target is already alive.
func (m *Manager) Start(target Target) error {
	if err := target.validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running() {
		if target != m.target {
			return fmt.Errorf("%w: %s", ErrTargetMismatch, m.target)
		}
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.target = target
	m.cancel = cancel
	m.done = make(chan struct{})
	m.lastErr = nil
	m.session = m.newSession(target)

	m.log.Info("Connecting to panel at %s", target)
	go m.supervise(ctx, target, m.session, m.done)
	return nil
}

// running must be called with mu held.
func (m *Manager) running() bool {
	if m.done == nil {
		return false
	}
	select {
	case <-m.done:
		return false
	default:
		return true
	}
}

func (m *Manager) newSession(target Target) *aap.Session {
	s := aap.NewSession(aap.SessionConfig{
		Host:           target.Host,
		Port:           target.Port,
		ConnectTimeout: m.cfg.ConnectTimeout,
	}, m.store, m.log.With("session"))
	s.OnStateChange(func(st types.SessionState) {
		metrics.PanelConnected.Set(metrics.BoolAs(st == types.SessionConnected))
		if !st.Terminal() {
			m.notifyState(st, nil)
		}
	})
	return s
}

func (m *Manager) newBackOff() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = m.cfg.Reconnect.InitialInterval
	bo.MaxInterval = m.cfg.Reconnect.MaxInterval
	bo.MaxElapsedTime = m.cfg.Reconnect.MaxElapsedTime
	bo.Reset()
	return bo
}

func (m *Manager) supervise(ctx context.Context, target Target, session *aap.Session, done chan struct{}) {
	defer close(done)

	bo := m.newBackOff()
	for {
		err := session.Run(ctx)
		m.finish(session, err)

		if ctx.Err() != nil || !m.cfg.Reconnect.IsEnabled() {
			return
		}

		// A session that got as far as connecting resets the delay.
		if !errors.Is(err, aap.ErrConnectFailed) {
			bo.Reset()
		}
		wait := bo.NextBackOff()
		if wait == backoff.Stop {
			m.log.Error("Giving up reconnecting to %s", target)
			return
		}

		m.log.Warn("Reconnecting to %s in %s", target, wait.Round(time.Millisecond))
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		metrics.ReconnectsTotal.Inc()
		session = m.newSession(target)
		m.mu.Lock()
		m.session = session
		m.mu.Unlock()
	}
}

func (m *Manager) finish(session *aap.Session, err error) {
	result := "stopped"
	switch {
	case errors.Is(err, aap.ErrStreamClosed):
		result = "closed"
	case errors.Is(err, aap.ErrConnectFailed):
		result = "connect_failed"
		m.log.Error("Failed to connect to panel: %v", err)
	case err != nil:
		result = "failed"
	}
	metrics.SessionsTotal.WithLabelValues(result).Inc()

	m.mu.Lock()
	m.lastErr = err
	m.mu.Unlock()

	m.notifyState(session.State(), err)
}

// Stop closes the session and waits, bounded by the configured stop timeout,
// for the socket to close and background work to finish.
func (m *Manager) Stop() error {
	m.mu.Lock()
	cancel, done, session := m.cancel, m.done, m.session
	m.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	if session != nil {
		session.Close()
	}

	timer := time.NewTimer(m.cfg.StopTimeout)
	defer timer.Stop()
	select {
	case <-done:
		return nil
	case <-timer.C:
		m.log.Warn("Panel session did not stop within %s", m.cfg.StopTimeout)
		return ErrStopTimeout
	}
}

// Close stops the session and the notification dispatcher.
func (m *Manager) Close() error {
	err := m.Stop()
	m.store.Close()
	return err
}

// SendCommand asks the panel to activate output.
func (m *Manager) SendCommand(output int) error {
	if output < 1 {
		return fmt.Errorf("%w: %d", ErrInvalidOutput, output)
	}
	return m.Send(types.OutputCommand{Output: output})
}

func (m *Manager) Send(cmd types.Command) error {
	m.mu.Lock()
	session := m.session
	m.mu.Unlock()

	if session == nil {
		return ErrNotConnected
	}
	if err := session.Send(cmd); err != nil {
		metrics.CommandErrorsTotal.Inc()
		return fmt.Errorf("send %q: %w", cmd.Line(), err)
	}
	metrics.CommandsTotal.Inc()
	m.log.Info("Sent %s to panel", cmd.Line())
	return nil
}

func (m *Manager) State() types.SessionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return types.SessionIdle
	}
	st := m.session.State()
	if st == types.SessionIdle && m.running() {
		return types.SessionConnecting
	}
	return st
}

// Err returns how the most recent session ended, nil if it is still running or
// was stopped on request.
func (m *Manager) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// Done is closed when the current supervisor gives up or is stopped. It returns
// nil before the first Start.
func (m *Manager) Done() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.done
}

func (m *Manager) Snapshot() types.Snapshot {
	return m.store.Current()
}

func (m *Manager) Subscribe(fn state.SnapshotHandler) func() {
	return m.store.Subscribe(fn)
}

func (m *Manager) SubscribeEvents(fn state.EventHandler) func() {
	return m.store.SubscribeEvents(fn)
}

func (m *Manager) SubscribeState(fn StateHandler) {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	m.stateSubs = append(m.stateSubs, fn)
}

func (m *Manager) notifyState(st types.SessionState, err error) {
	m.stateMu.RLock()
	subs := append([]StateHandler(nil), m.stateSubs...)
	m.stateMu.RUnlock()
	for _, fn := range subs {
		fn(st, err)
	}
}
