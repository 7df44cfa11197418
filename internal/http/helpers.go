package http

import (
	"bytes"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/sessions"

	"equipviz/internal/analysis"
	"equipviz/internal/core"
	"equipviz/internal/log"
	"equipviz/internal/session"
)

const (
	sessionCookieName = "equipviz_session"
	sessionIDKey      = "sid"
)

// pageData feeds every template.
type pageData struct {
	State           session.State
	Alert           string
	LoginError      string
	Username        string
	Activities      []core.Activity
	ActivityEnabled bool
}

var templateFuncs = template.FuncMap{
	"fixed2": func(v float64) string {
		return strconv.FormatFloat(v, 'f', 2, 64)
	},
	"uploadedAt": func(s string) string {
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return t.Local().Format("2006-01-02 15:04")
		}
		return s
	},
	"activityTime": func(t time.Time) string {
		return t.Local().Format("2006-01-02 15:04")
	},
	"activityLabel": activityLabel,
	"chartValid": func(sum *core.Summary) bool {
		return sum != nil && sum.Validate() == nil
	},
}

func activityLabel(a core.Activity) string {
	switch a.Kind {
	case core.ActivityLogin:
		return "Signed in"
	case core.ActivityLoginFailed:
		return "Failed sign-in"
	case core.ActivityLogout:
		return "Signed out"
	case core.ActivityUpload:
		return "Uploaded " + a.Filename
	case core.ActivityUploadFailed:
		return "Upload of " + a.Filename + " failed"
	case core.ActivityReport:
		return "Downloaded report " + a.DatasetID.String()
	default:
		return string(a.Kind)
	}
}

func isHTMX(r *http.Request) bool {
	return r.Header.Get("HX-Request") == "true"
}

// renderBytes executes a named template into memory so a failure never
// leaves a half-written response.
func (s *Server) renderBytes(name string, data any) ([]byte, error) {
	var buf bytes.Buffer
	if err := s.templates.ExecuteTemplate(&buf, name, data); err != nil {
		return nil, fmt.Errorf("render %s: %w", name, err)
	}
	return buf.Bytes(), nil
}

func (s *Server) render(w http.ResponseWriter, r *http.Request, status int, name string, data any) {
	body, err := s.renderBytes(name, data)
	if err != nil {
		log.FromContext(r.Context()).WithComponent(log.ComponentTemplate).ErrorContext(r.Context(), "Template render failed",
			log.FieldOperation, log.OpRender,
			log.FieldError, err)
		InternalServerError("Something went wrong").Write(w)
		return
	}
	NewHTMXResponse().Status(status).BodyHTML(body).Write(w)
}

// sessionID reads the session id from the signed cookie. A cookie that fails
// verification reads as absent.
func (s *Server) sessionID(r *http.Request) (string, bool) {
	c, err := s.cookies.Get(r, sessionCookieName)
	if err != nil {
		return "", false
	}
	id, ok := c.Values[sessionIDKey].(string)
	return id, ok && id != ""
}

// currentSession resolves the session cookie.
func (s *Server) currentSession(r *http.Request) (*session.Session, bool) {
	id, ok := s.sessionID(r)
	if !ok {
		return nil, false
	}
	return s.manager.Get(id)
}

func (s *Server) setSessionCookie(w http.ResponseWriter, r *http.Request, id string) error {
	c, err := s.cookies.New(r, sessionCookieName)
	if err != nil && c == nil {
		return err
	}
	c.Values[sessionIDKey] = id
	return c.Save(r, w)
}

func (s *Server) clearSessionCookie(w http.ResponseWriter, r *http.Request) {
	c, _ := s.cookies.New(r, sessionCookieName)
	if c == nil {
		return
	}
	c.Values = map[any]any{}
	c.Options.MaxAge = -1
	if err := c.Save(r, w); err != nil {
		log.FromContext(r.Context()).WarnContext(r.Context(), "Clearing session cookie failed", log.FieldError, err)
	}
}

func newCookieStore(key []byte, secure bool) *sessions.CookieStore {
	store := sessions.NewCookieStore(key)
	store.Options = &sessions.Options{
		Path:     "/",
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}
	return store
}

// redirectHome sends the browser back to the dashboard or login screen.
func redirectHome(w http.ResponseWriter, r *http.Request) {
	if isHTMX(r) {
		w.Header().Set("HX-Redirect", "/")
		w.WriteHeader(http.StatusOK)
		return
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// loginFailure maps a login error onto the text shown on the login screen
// and the response status.
func loginFailure(err error) (string, int) {
	var (
		se     *analysis.StatusError
		locked *session.LockedOutError
	)
	switch {
	case errors.Is(err, session.ErrMissingCredentials):
		return "Enter username and password", http.StatusUnprocessableEntity
	case errors.As(err, &locked):
		return "Too many failed attempts, retry in " + locked.RetryIn().String(), http.StatusTooManyRequests
	case errors.Is(err, session.ErrLockedOut):
		return "Too many failed attempts", http.StatusTooManyRequests
	case errors.Is(err, session.ErrInvalidCredentials):
		return "Wrong username or password", http.StatusUnauthorized
	case errors.Is(err, analysis.ErrUnavailable):
		return "Analysis service unavailable, try again", http.StatusServiceUnavailable
	case errors.As(err, &se):
		return fmt.Sprintf("Login failed (status %d)", se.StatusCode), http.StatusBadGateway
	default:
		return "Login failed", http.StatusBadGateway
	}
}

// chartPayload is the JSON the dashboard chart is drawn from. Unavailable
// marks a summary whose labels and values cannot be paired.
type chartPayload struct {
	Label       string    `json:"label"`
	Labels      []string  `json:"labels"`
	Values      []float64 `json:"values"`
	Unavailable bool      `json:"unavailable,omitempty"`
}

func newChartPayload(sum *core.Summary) chartPayload {
	p := chartPayload{Label: "Equipment Count", Labels: []string{}, Values: []float64{}}
	if sum == nil {
		return p
	}
	if err := sum.Validate(); err != nil {
		p.Unavailable = true
		return p
	}
	for _, pt := range sum.Points() {
		p.Labels = append(p.Labels, pt.Label)
		p.Values = append(p.Values, pt.Value)
	}
	return p
}
