package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"equipviz/internal/core"
	"equipviz/internal/metrics"
)

// Session is one signed-in user's dashboard state. It lives only in memory.
type Session struct {
	id        string
	username  string
	createdAt time.Time

	// ctx is canceled when the session closes; every backend call is bound to it.
	ctx    context.Context
	cancel context.CancelFunc

	mu             sync.Mutex
	closed         bool
	generation     uint64
	creds          core.Credentials
	summary        *core.Summary
	activeID       core.DatasetID
	history        []core.HistoryEntry
	historyIssued  uint64
	historyApplied uint64
	// historyEpoch advances with every stored upload; refreshes of different
	// epochs never share a backend request.
	historyEpoch uint64
	uploadSeq      uint64
	uploadCancel   context.CancelFunc
	message        string
	messageOK      bool
	alert          string
}

// State is a read-only snapshot used for rendering.
type State struct {
	ID         string
	Username   string
	Summary    *core.Summary
	ActiveID   core.DatasetID
	History    []core.HistoryEntry
	Message    string
	MessageOK  bool
	Generation uint64
}

// HasSummary reports whether a dataset is on display.
func (s State) HasSummary() bool {
	return s.Summary != nil
}

// IsActive reports whether id is the dataset on display.
func (s State) IsActive(id core.DatasetID) bool {
	return id.Valid() && id == s.ActiveID
}

func newSession(creds core.Credentials) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		id:        uuid.NewString(),
		username:  creds.Username,
		createdAt: time.Now(),
		ctx:       ctx,
		cancel:    cancel,
		creds:     creds,
	}
}

func (s *Session) ID() string { return s.id }

// Username stays readable after close for audit records.
func (s *Session) Username() string { return s.username }

func (s *Session) CreatedAt() time.Time { return s.createdAt }

// Done is closed when the session is logged out or evicted.
func (s *Session) Done() <-chan struct{} { return s.ctx.Done() }

func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Snapshot copies the displayable state.
func (s *Session) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := State{
		ID:         s.id,
		Username:   s.username,
		ActiveID:   s.activeID,
		History:    append([]core.HistoryEntry(nil), s.history...),
		Message:    s.message,
		MessageOK:  s.messageOK,
		Generation: s.generation,
	}
	if s.summary != nil {
		sum := *s.summary
		st.Summary = &sum
	}
	return st
}

// ActiveID is the dataset whose summary is on display.
func (s *Session) ActiveID() core.DatasetID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeID
}

// TakeAlert returns the pending alert and clears it.
func (s *Session) TakeAlert() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	a := s.alert
	s.alert = ""
	return a
}

func (s *Session) setAlert(msg string) {
	s.mu.Lock()
	s.alert = msg
	s.mu.Unlock()
}

// call captures what a backend call needs and binds ctx to the session lifetime.
type call struct {
	ctx    context.Context
	cancel context.CancelFunc
	gen    uint64
	creds  core.Credentials
}

func (s *Session) begin(parent context.Context) (call, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return call{}, ErrSessionClosed
	}
	ctx, cancel := bind(parent, s.ctx)
	return call{ctx: ctx, cancel: cancel, gen: s.generation, creds: s.creds}, nil
}

// bind derives a context from parent that is also canceled when lifetime ends.
func bind(parent, lifetime context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancelCause(parent)
	stop := context.AfterFunc(lifetime, func() { cancel(ErrSessionClosed) })
	return ctx, func() {
		stop()
		cancel(nil)
	}
}

// currentLocked reports whether a result captured at gen may still be applied.
func (s *Session) currentLocked(gen uint64) bool {
	return !s.closed && s.generation == gen
}

// close clears credentials and data, cancels in-flight calls and advances the
// generation so late responses are discarded. It reports whether this call closed it.
func (s *Session) close() bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	s.closed = true
	s.generation++
	s.creds = core.Credentials{}
	s.summary = nil
	s.activeID = 0
	s.history = nil
	s.message = ""
	s.alert = ""
	s.uploadCancel = nil
	s.mu.Unlock()

	s.cancel()
	return true
}

func staleResponse(op string) {
	metrics.StaleResponses.WithLabelValues(op).Inc()
}
