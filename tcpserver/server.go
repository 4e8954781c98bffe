// Package tcpserver serves the framed change-notification protocol.
// Readers connect, greet, subscribe to tables and then receive pushed
// snapshots and deltas until they disconnect or fall behind.
package tcpserver

import (
	"net"
	"sync"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/MyJetTools/my-no-sql-server-sub000/events"
	"github.com/MyJetTools/my-no-sql-server-sub000/ops"
	"github.com/MyJetTools/my-no-sql-server-sub000/readers"
	"github.com/MyJetTools/my-no-sql-server-sub000/readers/wire"
	"github.com/MyJetTools/my-no-sql-server-sub000/timeutils"
)

// Server accepts reader connections on the push port.
type Server struct {
	Core     *ops.Core
	Registry *readers.Registry

	mu       sync.Mutex
	listener net.Listener
	stopping bool
	wg       sync.WaitGroup
}

// NewServer wires a TCP push server.
func NewServer(core *ops.Core, registry *readers.Registry) *Server {
	return &Server{Core: core, Registry: registry}
}

// Serve listens on addr and accepts until Stop. It blocks.
func (s *Server) Serve(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrapf(err, "failed to listen on %s", addr)
	}
	s.mu.Lock()
	if s.stopping {
		s.mu.Unlock()
		_ = listener.Close()
		return nil
	}
	s.listener = listener
	s.mu.Unlock()

	log.WithField("addr", addr).Info("tcp reader server listening")
	for {
		conn, err := listener.Accept()
		if err != nil {
			s.mu.Lock()
			stopping := s.stopping
			s.mu.Unlock()
			if stopping {
				return nil
			}
			return errors.Wrap(err, "accept failed")
		}
		s.wg.Add(1)
		go s.handle(conn)
	}
}

// Stop closes the listener and waits for connection handlers.
func (s *Server) Stop() {
	s.mu.Lock()
	s.stopping = true
	listener := s.listener
	s.mu.Unlock()
	if listener != nil {
		_ = listener.Close()
	}
	s.wg.Wait()
}

func (s *Server) handle(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	ip := ""
	if addr := conn.RemoteAddr(); addr != nil {
		ip = addr.String()
	}
	session := s.Registry.Register(readers.KindTCP, ip)
	defer session.Close()

	// Writer drains the session queue onto the socket; closing the
	// session wakes it up one last time.
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			<-session.Wait()
			for _, frame := range session.Dequeue() {
				if _, err := conn.Write(frame); err != nil {
					session.Close()
					return
				}
			}
			if session.Closed() {
				return
			}
		}
	}()

	reader := wire.NewFrameReader(conn)
	for {
		frame, err := reader.Next()
		if err != nil {
			break
		}
		session.MarkTraffic(timeutils.NowMicros())
		if !s.dispatch(session, frame) {
			break
		}
	}
	session.Close()
	<-writerDone
}

// dispatch runs one client command. It reports false when the
// connection must drop.
func (s *Server) dispatch(session *readers.Session, frame wire.Frame) bool {
	cmd, err := wire.DecodeCommand(frame)
	if err != nil {
		log.WithFields(log.Fields{
			"session": session.ID,
			"err":     err,
		}).Warning("bad frame from reader")
		session.Enqueue(wire.ErrorFrame(err.Error()))
		return false
	}
	now := timeutils.NowMicros()

	switch c := cmd.(type) {
	case wire.PingCmd:
		return session.Enqueue(wire.Pong())

	case wire.GreetingCmd:
		session.SetGreeting(c.Name)
		log.WithFields(log.Fields{
			"session": session.ID,
			"name":    session.Name(),
			"version": session.Version(),
		}).Info("reader greeted")
		return true

	case wire.SubscribeCmd:
		return s.subscribe(session, c.Table, now)

	case wire.UnsubscribeCmd:
		session.Unsubscribe(c.Table)
		return true

	case wire.PartitionsReadTimeCmd:
		if err := s.Core.MarkPartitionsRead(c.Table, c.PartitionKeys, now); err != nil {
			return session.Enqueue(wire.ErrorFrame(err.Error()))
		}
		return session.Enqueue(wire.Confirmation(c.ConfirmationID))

	case wire.RowsReadTimeCmd:
		if err := s.Core.MarkRowsRead(c.Table, c.PartitionKey, c.RowKeys, now); err != nil {
			return session.Enqueue(wire.ErrorFrame(err.Error()))
		}
		return session.Enqueue(wire.Confirmation(c.ConfirmationID))

	case wire.PartitionsExpirationCmd:
		at, has := expirationArg(c.Expires)
		if err := s.Core.SetPartitionsExpiration(c.Table, c.PartitionKeys, at, has); err != nil {
			return session.Enqueue(wire.ErrorFrame(err.Error()))
		}
		return session.Enqueue(wire.Confirmation(c.ConfirmationID))

	case wire.RowsExpirationCmd:
		at, has := expirationArg(c.Expires)
		if err := s.Core.SetRowsExpiration(c.Table, c.PartitionKey, c.RowKeys, at, has); err != nil {
			return session.Enqueue(wire.ErrorFrame(err.Error()))
		}
		return session.Enqueue(wire.Confirmation(c.ConfirmationID))
	}
	return true
}

func expirationArg(expires int64) (int64, bool) {
	if expires == wire.NoExpiration {
		return 0, false
	}
	return expires, true
}

// subscribe registers interest in a table and queues the snapshot
// marker. The dispatcher consumer captures the snapshot at delivery
// and holds the table's deltas back until it went out. Before server
// initialization the marker is deferred; the post-init pass pushes it.
func (s *Server) subscribe(session *readers.Session, tableName string, now int64) bool {
	if !session.Subscribe(tableName) {
		return true
	}
	if !s.Core.Initialized.IsSet() {
		session.DeferFirstInit(tableName)
		return true
	}
	if _, ok := s.Core.DB.GetTable(tableName); !ok {
		session.Unsubscribe(tableName)
		return session.Enqueue(wire.TableNotFound(tableName))
	}
	s.Core.Dispatcher.Push(events.TableFirstInit{
		EventBase:     events.NewEventBase(tableName, events.ClientSource(events.Immediately), now),
		TargetSession: session.ID,
	})
	return true
}
