package api

import (
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/MyJetTools/my-no-sql-server-sub000/db"
	"github.com/MyJetTools/my-no-sql-server-sub000/events"
	"github.com/MyJetTools/my-no-sql-server-sub000/readers"
	"github.com/MyJetTools/my-no-sql-server-sub000/readers/wire"
	"github.com/MyJetTools/my-no-sql-server-sub000/timeutils"
)

// LongPollTimeout bounds how long GetChanges holds a request open.
const LongPollTimeout = 30 * time.Second

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// ReaderGreeting opens an HTTP reader session.
func (h *Handlers) ReaderGreeting(w http.ResponseWriter, r *http.Request) {
	session := h.App.Registry.Register(readers.KindHTTP, remoteIP(r))
	session.SetGreeting(r.URL.Query().Get("name"))
	session.MarkTraffic(timeutils.NowMicros())
	writeJSON(w, http.StatusOK, map[string]string{
		"session": strconv.FormatInt(session.ID, 10),
	})
}

func (h *Handlers) readerSession(w http.ResponseWriter, r *http.Request) (*readers.Session, bool) {
	id, err := strconv.ParseInt(r.Header.Get("session"), 10, 64)
	if err != nil {
		writeText(w, http.StatusUnauthorized, "missing or malformed session header")
		return nil, false
	}
	session, ok := h.App.Registry.Get(id)
	if !ok {
		writeText(w, http.StatusUnauthorized, "unknown session")
		return nil, false
	}
	session.MarkTraffic(timeutils.NowMicros())
	return session, true
}

// ReaderSubscribe subscribes the session to a table and queues the
// table's snapshot as the first batch of changes.
func (h *Handlers) ReaderSubscribe(w http.ResponseWriter, r *http.Request) {
	session, ok := h.readerSession(w, r)
	if !ok {
		return
	}
	name, err := queryTableName(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if !session.Subscribe(name) {
		writeText(w, http.StatusOK, "OK")
		return
	}
	if !h.App.Core.Initialized.IsSet() {
		session.DeferFirstInit(name)
		writeText(w, http.StatusOK, "OK")
		return
	}
	if _, found := h.App.DB.GetTable(name); !found {
		session.Unsubscribe(name)
		writeError(w, db.ErrTableNotFound)
		return
	}
	// Snapshot stays nil; the dispatcher consumer captures it at
	// delivery and holds the table's deltas back until then.
	h.App.Dispatcher.Push(events.TableFirstInit{
		EventBase:     events.NewEventBase(name, events.ClientSource(events.Immediately), timeutils.NowMicros()),
		TargetSession: session.ID,
	})
	writeText(w, http.StatusOK, "OK")
}

// ReaderGetChanges long-polls the session's queue. It answers as soon
// as frames are available and with an empty body after the deadline.
func (h *Handlers) ReaderGetChanges(w http.ResponseWriter, r *http.Request) {
	session, ok := h.readerSession(w, r)
	if !ok {
		return
	}
	deadline := time.NewTimer(LongPollTimeout)
	defer deadline.Stop()
	for {
		frames := session.Dequeue()
		if len(frames) > 0 {
			w.Header().Set("Content-Type", "application/octet-stream")
			w.WriteHeader(http.StatusOK)
			for _, frame := range frames {
				if _, err := w.Write(frame); err != nil {
					return
				}
			}
			return
		}
		select {
		case <-session.Wait():
		case <-deadline.C:
			w.Header().Set("Content-Type", "application/octet-stream")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write(wire.EmptyLongPoll())
			return
		case <-r.Context().Done():
			return
		}
		if session.Closed() {
			writeText(w, http.StatusGone, "session closed")
			return
		}
	}
}

// ReaderPing keeps an idle session alive.
func (h *Handlers) ReaderPing(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.readerSession(w, r); !ok {
		return
	}
	writeText(w, http.StatusOK, "OK")
}
