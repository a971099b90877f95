package stream

import (
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
)

// session is the in-memory state of one live stream. It is never
// persisted: a restart drops all sessions and agents reconnect. The
// mutex serializes stream writes: the keepalive ticker and the opening
// goroutine share the connection, and interleaved partial frames would
// corrupt the event stream.
type session struct {
	id           string
	subscriberID int32
	openedAt     time.Time

	mutex       sync.Mutex
	w           io.Writer
	flusher     http.Flusher
	initialized bool
}

func newSession(subscriberID int32, w io.Writer, flusher http.Flusher) *session {
	return &session{
		id:           uuid.NewString(),
		subscriberID: subscriberID,
		openedAt:     time.Now(),
		w:            w,
		flusher:      flusher,
	}
}

func (s *session) sendEvent(event, data string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

func (s *session) initialize() {
	s.mutex.Lock()
	s.initialized = true
	s.mutex.Unlock()
}

func (s *session) isInitialized() bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.initialized
}

// sessionTable is the keyed registry of live sessions: insert on stream
// open, remove synchronously on close so commands against a dead
// session id fail fast with session-not-found.
type sessionTable struct {
	mutex    sync.Mutex
	sessions map[string]*session
}

func newSessionTable() *sessionTable {
	return &sessionTable{sessions: make(map[string]*session)}
}

func (t *sessionTable) add(s *session) {
	t.mutex.Lock()
	t.sessions[s.id] = s
	t.mutex.Unlock()
}

func (t *sessionTable) remove(id string) {
	t.mutex.Lock()
	delete(t.sessions, id)
	t.mutex.Unlock()
}

func (t *sessionTable) get(id string) (*session, bool) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	s, ok := t.sessions[id]
	return s, ok
}

func (t *sessionTable) count() int {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	return len(t.sessions)
}
