package state

import (
	"sync"
	"sync/atomic"

	"github.com/daemonp/aap2mqtt/internal/log"
	"github.com/daemonp/aap2mqtt/internal/types"
)

type SnapshotHandler func(types.Snapshot)

type EventHandler func(types.Event)

// Store holds the latest zone snapshot. Readers never block: Current loads an
// atomic pointer to a snapshot that is never modified after publication.
// Notifications are delivered in apply order by a single dispatcher goroutine
// so that a slow subscriber cannot stall the caller of Apply.
type Store struct {
	log *log.Logger

	current atomic.Pointer[types.Snapshot]
	applyMu sync.Mutex

	subMu         sync.RWMutex
	nextID        int
	snapshotSubs  map[int]SnapshotHandler
	eventSubs     map[int]EventHandler
	snapshotOrder []int
	eventOrder    []int

	queueMu sync.Mutex
	queue   []notification
	wake    chan struct{}
	done    chan struct{}
	stopped chan struct{}
	once    sync.Once
}

type notification struct {
	snapshotSubs []SnapshotHandler
	eventSubs    []EventHandler
	snapshot     types.Snapshot
	event        types.Event
}

func New(logger *log.Logger) *Store {
	s := &Store{
		log:          logger,
		snapshotSubs: make(map[int]SnapshotHandler),
		eventSubs:    make(map[int]EventHandler),
		wake:         make(chan struct{}, 1),
		done:         make(chan struct{}),
		stopped:      make(chan struct{}),
	}
	empty := types.NewSnapshot(nil)
	s.current.Store(&empty)
	go s.dispatch()
	return s
}

func (s *Store) Current() types.Snapshot {
	return *s.current.Load()
}

// Apply folds ev into the snapshot. Only a ZoneChanged that differs from the stored
// value produces a new snapshot and a subscriber notification. Every event is
// forwarded to event subscribers.
func (s *Store) Apply(ev types.Event) (bool, types.Snapshot) {
	s.applyMu.Lock()
	defer s.applyMu.Unlock()

	snap := s.Current()
	changed := false

	if zc, ok := ev.(types.ZoneChanged); ok {
		if prev, known := snap.Get(zc.Zone); !known || prev != zc.Active {
			snap = snap.With(zc.Zone, zc.Active)
			s.current.Store(&snap)
			changed = true
		}
	}

	s.subMu.RLock()
	n := notification{event: ev, snapshot: snap}
	for _, id := range s.eventOrder {
		n.eventSubs = append(n.eventSubs, s.eventSubs[id])
	}
	if changed {
		for _, id := range s.snapshotOrder {
			n.snapshotSubs = append(n.snapshotSubs, s.snapshotSubs[id])
		}
	}
	s.subMu.RUnlock()

	if len(n.eventSubs) > 0 || len(n.snapshotSubs) > 0 {
		s.enqueue(n)
	}
	return changed, snap
}

// Subscribe registers fn for every snapshot change. The returned func removes it.
func (s *Store) Subscribe(fn SnapshotHandler) func() {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	id := s.nextID
	s.nextID++
	s.snapshotSubs[id] = fn
	s.snapshotOrder = append(s.snapshotOrder, id)
	return func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		delete(s.snapshotSubs, id)
		s.snapshotOrder = without(s.snapshotOrder, id)
	}
}

// SubscribeEvents registers fn for every decoded event, changed or not.
func (s *Store) SubscribeEvents(fn EventHandler) func() {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	id := s.nextID
	s.nextID++
	s.eventSubs[id] = fn
	s.eventOrder = append(s.eventOrder, id)
	return func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		delete(s.eventSubs, id)
		s.eventOrder = without(s.eventOrder, id)
	}
}

// Close delivers what is already queued and stops the dispatcher.
func (s *Store) Close() {
	s.once.Do(func() { close(s.done) })
	<-s.stopped
}

func (s *Store) enqueue(n notification) {
	s.queueMu.Lock()
	s.queue = append(s.queue, n)
	s.queueMu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Store) dispatch() {
	defer close(s.stopped)
	for {
		select {
		case <-s.wake:
			s.drain()
		case <-s.done:
			s.drain()
			return
		}
	}
}

func (s *Store) drain() {
	for {
		s.queueMu.Lock()
		if len(s.queue) == 0 {
			s.queueMu.Unlock()
			return
		}
		n := s.queue[0]
		s.queue[0] = notification{}
		s.queue = s.queue[1:]
		s.queueMu.Unlock()

		for _, fn := range n.eventSubs {
			s.call(func() { fn(n.event) })
		}
		for _, fn := range n.snapshotSubs {
			s.call(func() { fn(n.snapshot) })
		}
	}
}

func (s *Store) call(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("Subscriber panic: %v", r)
		}
	}()
	fn()
}

func without(ids []int, id int) []int {
	out := ids[:0:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
