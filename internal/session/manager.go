package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"equipviz/internal/analysis"
	"equipviz/internal/core"
	"equipviz/internal/log"
	"equipviz/internal/metrics"
	"equipviz/internal/spreadsheet"
)

const sinkTimeout = 5 * time.Second

// User-facing status texts.
const (
	MsgUploadSuccessful = "Upload successful"
	MsgUploadFailed     = "Upload failed"
)

// Manager runs every dashboard operation against a session.
type Manager struct {
	backend analysis.Backend
	store   *Store
	guard   LoginGuard
	sinks   []ActivitySink
	logger  *log.Logger
	flights singleflight.Group
}

// Option configures a Manager.
type Option func(*Manager)

// WithLoginGuard enables login lockout.
func WithLoginGuard(g LoginGuard) Option {
	return func(m *Manager) {
		if g != nil {
			m.guard = g
		}
	}
}

// WithActivitySinks adds audit sinks; nil entries are skipped.
func WithActivitySinks(sinks ...ActivitySink) Option {
	return func(m *Manager) {
		for _, s := range sinks {
			if s != nil {
				m.sinks = append(m.sinks, s)
			}
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l.WithComponent(log.ComponentSession)
		}
	}
}

func NewManager(backend analysis.Backend, store *Store, opts ...Option) *Manager {
	m := &Manager{
		backend: backend,
		store:   store,
		guard:   noGuard{},
		logger:  log.Default().WithComponent(log.ComponentSession),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Get returns the open session with the given id.
func (m *Manager) Get(id string) (*Session, bool) {
	return m.store.Get(id)
}

func loginKey(username, clientIP string) string {
	return strings.ToLower(username) + "|" + clientIP
}

// Login verifies the credentials against the analysis service and, on
// success, opens a session and loads its history once.
func (m *Manager) Login(ctx context.Context, username, password, clientIP string) (*Session, error) {
	creds := core.NewCredentials(username, password)
	if err := creds.Validate(); err != nil {
		metrics.LoginAttempts.WithLabelValues("missing").Inc()
		return nil, fmt.Errorf("%w: %w", ErrMissingCredentials, err)
	}

	key := loginKey(creds.Username, clientIP)
	if locked, remaining := m.guard.Locked(key); locked {
		metrics.LoginAttempts.WithLabelValues("locked").Inc()
		m.logger.WarnContext(ctx, "Login rejected while locked out",
			log.FieldUsername, creds.Username,
			log.FieldClientIP, clientIP,
			"remaining", remaining.Round(time.Second))
		return nil, &LockedOutError{Remaining: remaining}
	}

	if err := m.backend.VerifyLogin(ctx, creds); err != nil {
		if errors.Is(err, analysis.ErrUnauthorized) {
			m.guard.Fail(key)
			metrics.LoginAttempts.WithLabelValues("invalid").Inc()
			m.logger.InfoContext(ctx, "Login rejected", log.FieldUsername, creds.Username, log.FieldClientIP, clientIP)
			m.record(ctx, core.NewActivity(creds.Username, core.ActivityLoginFailed))
			return nil, fmt.Errorf("%w: %w", ErrInvalidCredentials, err)
		}
		metrics.LoginAttempts.WithLabelValues(metrics.Outcome(err)).Inc()
		m.logger.WarnContext(ctx, "Login verification failed", log.FieldUsername, creds.Username, log.FieldError, err)
		return nil, fmt.Errorf("verify login: %w", err)
	}

	m.guard.Succeed(key)
	metrics.LoginAttempts.WithLabelValues("success").Inc()

	sess := newSession(creds)
	m.store.Add(sess)
	m.logger.InfoContext(ctx, "Session created", log.FieldSessionID, sess.ID(), log.FieldUsername, sess.Username())
	m.record(ctx, core.NewActivity(sess.Username(), core.ActivityLogin))

	_ = m.RefreshHistory(ctx, sess)
	return sess, nil
}

// Logout closes the session regardless of its state. Unknown ids are ignored.
func (m *Manager) Logout(ctx context.Context, id string) {
	sess, ok := m.store.Get(id)
	if !m.store.Remove(id) || !ok {
		return
	}
	m.logger.InfoContext(ctx, "Session closed by logout", log.FieldSessionID, id, log.FieldUsername, sess.Username())
	m.record(ctx, core.NewActivity(sess.Username(), core.ActivityLogout))
}

// RefreshHistory replaces the session's history list. Concurrent refreshes of
// one session share a single request unless an upload landed in between; a
// response older than the one already applied is dropped. Failures are logged
// and returned, never shown.
func (m *Manager) RefreshHistory(ctx context.Context, sess *Session) error {
	c, err := sess.begin(ctx)
	if err != nil {
		return err
	}
	defer c.cancel()

	sess.mu.Lock()
	sess.historyIssued++
	seq := sess.historyIssued
	key := fmt.Sprintf("%s/%d", sess.ID(), sess.historyEpoch)
	sess.mu.Unlock()

	// The shared request outlives any one caller's request context but not the session.
	ch := m.flights.DoChan(key, func() (any, error) {
		fctx, cancel := bind(context.WithoutCancel(ctx), sess.ctx)
		defer cancel()
		return m.backend.ListHistory(fctx, c.creds)
	})

	var v any
	select {
	case res := <-ch:
		v, err = res.Val, res.Err
	case <-c.ctx.Done():
		err = context.Cause(c.ctx)
	}
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, ErrSessionClosed) {
			m.logger.DebugContext(ctx, "History refresh canceled", log.FieldSessionID, sess.ID())
		} else {
			m.logger.WarnContext(ctx, "History refresh failed", log.FieldSessionID, sess.ID(), log.FieldError, err)
		}
		return fmt.Errorf("refresh history: %w", err)
	}
	history := v.([]core.HistoryEntry)

	sess.mu.Lock()
	defer sess.mu.Unlock()
	if !sess.currentLocked(c.gen) {
		staleResponse(log.OpHistory)
		return ErrSessionClosed
	}
	if seq < sess.historyApplied {
		staleResponse(log.OpHistory)
		return nil
	}
	sess.historyApplied = seq
	sess.history = append([]core.HistoryEntry(nil), history...)
	return nil
}

// Upload sends a dataset to the analysis service and displays the returned
// summary. A newer upload in the same session cancels this one.
func (m *Manager) Upload(ctx context.Context, sess *Session, filename string, r io.Reader) (core.UploadResult, error) {
	if filename == "" || r == nil {
		return core.UploadResult{}, ErrNoFile
	}

	name, body, err := spreadsheet.PrepareUpload(filename, r)
	if err != nil {
		m.failUpload(ctx, sess, filename, err, err.Error())
		return core.UploadResult{}, err
	}

	c, err := sess.begin(ctx)
	if err != nil {
		return core.UploadResult{}, err
	}
	defer c.cancel()

	sess.mu.Lock()
	if sess.uploadCancel != nil {
		sess.uploadCancel()
	}
	sess.uploadSeq++
	seq := sess.uploadSeq
	sess.uploadCancel = c.cancel
	sess.mu.Unlock()

	res, err := m.backend.UploadDataset(c.ctx, c.creds, name, body)

	sess.mu.Lock()
	switch {
	case !sess.currentLocked(c.gen):
		sess.mu.Unlock()
		staleResponse(log.OpUpload)
		return core.UploadResult{}, ErrSessionClosed
	case seq != sess.uploadSeq:
		sess.mu.Unlock()
		staleResponse(log.OpUpload)
		return core.UploadResult{}, ErrSuperseded
	}
	sess.uploadCancel = nil
	if err != nil {
		sess.mu.Unlock()
		m.failUpload(ctx, sess, name, err, analysis.Message(err))
		return core.UploadResult{}, fmt.Errorf("upload %s: %w", name, err)
	}
	sum := res.Summary
	sess.summary = &sum
	sess.activeID = res.ID
	sess.historyEpoch++
	sess.message = MsgUploadSuccessful
	sess.messageOK = true
	sess.mu.Unlock()

	m.logger.InfoContext(ctx, "Dataset uploaded",
		log.FieldSessionID, sess.ID(),
		log.FieldUsername, sess.Username(),
		log.FieldFilename, name,
		log.FieldDatasetID, int64(res.ID))

	_ = m.RefreshHistory(ctx, sess)

	if !res.ID.Valid() {
		res.ID = m.adoptUploadedID(sess, seq, name)
	}

	a := core.NewActivity(sess.Username(), core.ActivityUpload)
	a.DatasetID = res.ID
	a.Filename = name
	m.record(ctx, a)
	return res, nil
}

// adoptUploadedID fills in the active id when the service did not return one,
// using the newest history entry with the uploaded file name.
func (m *Manager) adoptUploadedID(sess *Session, seq uint64, name string) core.DatasetID {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.closed || seq != sess.uploadSeq || sess.activeID.Valid() {
		return sess.activeID
	}
	if e, ok := core.NewestByFilename(sess.history, name); ok {
		sess.activeID = e.ID
	}
	return sess.activeID
}

func (m *Manager) failUpload(ctx context.Context, sess *Session, filename string, err error, detail string) {
	msg := MsgUploadFailed
	if detail != "" {
		msg += ": " + detail
	}
	sess.mu.Lock()
	if !sess.closed {
		sess.message = msg
		sess.messageOK = false
	}
	sess.mu.Unlock()

	m.logger.WarnContext(ctx, "Upload failed",
		log.FieldSessionID, sess.ID(),
		log.FieldFilename, filename,
		log.FieldError, err)

	a := core.NewActivity(sess.Username(), core.ActivityUploadFailed)
	a.Filename = filename
	a.Detail = detail
	m.record(ctx, a)
}

// View displays the summary embedded in a history entry. It never calls the service.
func (m *Manager) View(sess *Session, id core.DatasetID) error {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.closed {
		return ErrSessionClosed
	}
	e, ok := core.FindEntry(sess.history, id)
	if !ok {
		sess.alert = "Dataset " + id.String() + " is not in the upload history"
		return fmt.Errorf("%w: %s", ErrEntryNotFound, id)
	}
	sum := e.Summary
	sess.summary = &sum
	sess.activeID = e.ID
	return nil
}

// FetchReport downloads the PDF report of one dataset.
func (m *Manager) FetchReport(ctx context.Context, sess *Session, id core.DatasetID) (core.Report, error) {
	if !id.Valid() {
		sess.setAlert("No dataset selected for the report")
		return core.Report{}, ErrNoActiveDataset
	}

	c, err := sess.begin(ctx)
	if err != nil {
		return core.Report{}, err
	}
	defer c.cancel()

	rep, err := m.backend.FetchReport(c.ctx, c.creds, id)

	sess.mu.Lock()
	if !sess.currentLocked(c.gen) {
		sess.mu.Unlock()
		staleResponse(log.OpReport)
		return core.Report{}, ErrSessionClosed
	}
	if err != nil {
		alert := "Failed to download report"
		if msg := analysis.Message(err); msg != "" {
			alert += ": " + msg
		}
		sess.alert = alert
		sess.mu.Unlock()
		m.logger.WarnContext(ctx, "Report download failed", log.FieldSessionID, sess.ID(), log.FieldDatasetID, int64(id), log.FieldError, err)
		return core.Report{}, fmt.Errorf("report %s: %w", id, err)
	}
	sess.mu.Unlock()

	metrics.ReportBytes.Add(float64(len(rep.Data)))
	a := core.NewActivity(sess.Username(), core.ActivityReport)
	a.DatasetID = id
	m.record(ctx, a)
	return rep, nil
}

// ActiveReport downloads the report of the dataset on display.
func (m *Manager) ActiveReport(ctx context.Context, sess *Session) (core.Report, error) {
	return m.FetchReport(ctx, sess, sess.ActiveID())
}

// record hands an activity to every sink. Sink failures never fail the action.
func (m *Manager) record(ctx context.Context, a core.Activity) {
	if len(m.sinks) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sinkTimeout)
	defer cancel()
	for _, s := range m.sinks {
		if err := s.Record(ctx, a); err != nil {
			m.logger.WarnContext(ctx, "Activity sink failed", "kind", a.Kind, log.FieldError, err)
		}
	}
}
