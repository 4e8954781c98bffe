// Package readers tracks connected change-feed consumers: TCP push
// sessions and HTTP long-poll sessions, their table subscriptions and
// their bounded outbound queues.
package readers

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/MyJetTools/my-no-sql-server-sub000/timeutils"
)

// Kind is the session's transport.
type Kind int

// Session kinds.
const (
	KindTCP Kind = iota
	KindHTTP
)

func (k Kind) String() string {
	if k == KindTCP {
		return "tcp"
	}
	return "http"
}

// MaxPendingBytes bounds a session's outbound queue. Overflow closes
// the session; a reader that cannot keep up must resubscribe rather
// than receive a gapped stream.
const MaxPendingBytes = 4 << 20

// Session is one connected reader.
type Session struct {
	ID   int64
	Kind Kind
	IP   string

	mu          sync.Mutex
	name        string
	version     string
	tables      map[string]struct{}
	queue       [][]byte
	pending     int64
	closed      bool
	firstInit   map[string]struct{} // tables awaiting a deferred first-init
	initPending map[string]struct{} // tables whose snapshot has not been delivered yet

	lastIncoming atomic.Int64

	// notify wakes the transport's writer; buffered so Enqueue never
	// blocks on it.
	notify chan struct{}

	onClose func(*Session)
}

func newSession(id int64, kind Kind, ip string, onClose func(*Session)) *Session {
	s := &Session{
		ID:          id,
		Kind:        kind,
		IP:          ip,
		tables:      make(map[string]struct{}),
		firstInit:   make(map[string]struct{}),
		initPending: make(map[string]struct{}),
		notify:      make(chan struct{}, 1),
		onClose:     onClose,
	}
	s.lastIncoming.Store(timeutils.NowMicros())
	return s
}

// SetGreeting records the client's self-introduction. A semicolon
// separates the app name from its version.
func (s *Session) SetGreeting(name string) {
	appName, version := name, ""
	for i := 0; i < len(name); i++ {
		if name[i] == ';' {
			appName, version = name[:i], name[i+1:]
			break
		}
	}
	s.mu.Lock()
	s.name = appName
	s.version = version
	s.mu.Unlock()
}

// Name returns the greeted app name.
func (s *Session) Name() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.name
}

// Version returns the greeted app version.
func (s *Session) Version() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

// MarkTraffic records incoming traffic; idle reaping keys off it.
func (s *Session) MarkTraffic(now int64) {
	s.lastIncoming.Store(now)
}

// LastIncoming returns the last incoming-traffic moment.
func (s *Session) LastIncoming() int64 {
	return s.lastIncoming.Load()
}

// Subscribe adds a table subscription and marks its snapshot pending.
// Delta events are withheld until the snapshot delivery clears the
// mark, so the reader never sees an update ahead of its InitTable.
// It reports whether the subscription is new.
func (s *Session) Subscribe(table string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	if _, ok := s.tables[table]; ok {
		return false
	}
	s.tables[table] = struct{}{}
	s.initPending[table] = struct{}{}
	return true
}

// Unsubscribe removes a table subscription.
func (s *Session) Unsubscribe(table string) {
	s.mu.Lock()
	delete(s.tables, table)
	delete(s.firstInit, table)
	delete(s.initPending, table)
	s.mu.Unlock()
}

// InitPending reports whether the table's first snapshot is still
// undelivered.
func (s *Session) InitPending(table string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.initPending[table]
	return ok
}

// ClearInitPending opens the table's delta stream after its snapshot
// went out.
func (s *Session) ClearInitPending(table string) {
	s.mu.Lock()
	delete(s.initPending, table)
	s.mu.Unlock()
}

// SubscribedTo reports whether the session wants the table's events.
func (s *Session) SubscribedTo(table string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tables[table]
	return ok
}

// Tables returns the subscribed table names, sorted.
func (s *Session) Tables() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	tables := make([]string, 0, len(s.tables))
	for table := range s.tables {
		tables = append(tables, table)
	}
	sort.Strings(tables)
	return tables
}

// DeferFirstInit records that the table's snapshot delivery waits for
// server initialization.
func (s *Session) DeferFirstInit(table string) {
	s.mu.Lock()
	s.firstInit[table] = struct{}{}
	s.mu.Unlock()
}

// TakeDeferredFirstInits returns and clears the deferred snapshot set.
func (s *Session) TakeDeferredFirstInits() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.firstInit) == 0 {
		return nil
	}
	tables := make([]string, 0, len(s.firstInit))
	for table := range s.firstInit {
		tables = append(tables, table)
	}
	s.firstInit = make(map[string]struct{})
	sort.Strings(tables)
	return tables
}

// Enqueue appends encoded bytes to the outbound queue. It reports
// false when the queue would exceed MaxPendingBytes or the session is
// closed; the caller must then close the session.
func (s *Session) Enqueue(encoded []byte) bool {
	if len(encoded) == 0 {
		return true
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	if s.pending+int64(len(encoded)) > MaxPendingBytes {
		s.mu.Unlock()
		return false
	}
	s.queue = append(s.queue, encoded)
	s.pending += int64(len(encoded))
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
	return true
}

// Dequeue takes all queued frames. The transport writer calls it
// after Wait signals.
func (s *Session) Dequeue() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	frames := s.queue
	s.queue = nil
	s.pending = 0
	return frames
}

// PendingBytes returns the outbound backlog size.
func (s *Session) PendingBytes() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}

// Wait returns the channel signalled when frames arrive or the
// session closes.
func (s *Session) Wait() <-chan struct{} {
	return s.notify
}

// Close marks the session closed and removes it from the registry.
// Safe to call more than once.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.queue = nil
	s.pending = 0
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
	if s.onClose != nil {
		s.onClose(s)
	}
}

// Closed reports whether Close ran.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
