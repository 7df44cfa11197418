package http

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"equipviz/internal/core"
	"equipviz/internal/log"
	"equipviz/internal/session"
)

const multipartMemory = 1 << 20

// requireSession resolves the session or sends the browser to the login screen.
func (s *Server) requireSession(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	sess, ok := s.currentSession(r)
	if !ok {
		s.clearSessionCookie(w, r)
		redirectHome(w, r)
		return nil, false
	}
	return sess, true
}

// respondDashboard answers an HTMX request with the main partial, or redirects
// a plain form post back to the dashboard.
func (s *Server) respondDashboard(w http.ResponseWriter, r *http.Request, sess *session.Session, resp *HTMXResponseBuilder) {
	if !isHTMX(r) {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	if alert := sess.TakeAlert(); alert != "" {
		resp.TriggerErrorNotification(alert)
	}
	body, err := s.renderBytes("dashboard_main", s.dashboardData(r, sess))
	if err != nil {
		log.FromContext(r.Context()).WithComponent(log.ComponentTemplate).ErrorContext(r.Context(), "Template render failed",
			log.FieldOperation, log.OpRender,
			log.FieldError, err)
		InternalServerError("Something went wrong").Write(w)
		return
	}
	resp.BodyHTML(body).Write(w)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.requireSession(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			ErrorResponse(http.StatusRequestEntityTooLarge, "File is larger than "+strconv.FormatInt(s.maxUploadBytes>>20, 10)+" MB").Write(w)
			return
		}
		if !errors.Is(err, http.ErrNotMultipart) {
			BadRequestError("Invalid upload").Write(w)
			return
		}
	}
	if r.MultipartForm != nil {
		defer func() { _ = r.MultipartForm.RemoveAll() }()
	}

	var (
		filename string
		result   core.UploadResult
		err      error
	)
	file, hdr, ferr := r.FormFile("file")
	if ferr == nil {
		defer file.Close()
		filename = hdr.Filename
		result, err = s.manager.Upload(r.Context(), sess, filename, file)
	} else {
		err = session.ErrNoFile
	}

	resp := NewHTMXResponse()
	switch {
	case err == nil:
		resp.TriggerDatasetChanged(int64(result.ID)).TriggerSuccessNotification(session.MsgUploadSuccessful)
	case errors.Is(err, session.ErrNoFile):
		resp.TriggerNotification(NotificationWarning, "Select a CSV or Excel file first", 4000)
	case errors.Is(err, session.ErrSessionClosed):
		s.clearSessionCookie(w, r)
		redirectHome(w, r)
		return
	case errors.Is(err, session.ErrSuperseded):
		// a newer upload owns the dashboard now
	default:
		resp.TriggerErrorNotification(sess.Snapshot().Message)
		log.FromContext(r.Context()).InfoContext(r.Context(), "Upload rejected",
			log.FieldOperation, log.OpUpload,
			log.FieldSessionID, sess.ID(),
			log.FieldFilename, filename,
			log.FieldError, err)
	}
	s.respondDashboard(w, r, sess, resp)
}

func (s *Server) handleView(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.requireSession(w, r)
	if !ok {
		return
	}
	id, err := core.ParseDatasetID(chi.URLParam(r, "id"))
	if err != nil {
		BadRequestError("Invalid dataset id").Write(w)
		return
	}

	resp := NewHTMXResponse()
	switch err := s.manager.View(sess, id); {
	case err == nil:
		resp.TriggerDatasetChanged(int64(id))
	case errors.Is(err, session.ErrSessionClosed):
		s.clearSessionCookie(w, r)
		redirectHome(w, r)
		return
	}
	s.respondDashboard(w, r, sess, resp)
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.requireSession(w, r)
	if !ok {
		return
	}
	id, err := core.ParseDatasetID(chi.URLParam(r, "id"))
	if err != nil {
		BadRequestError("Invalid dataset id").Write(w)
		return
	}
	rep, err := s.manager.FetchReport(r.Context(), sess, id)
	s.sendReport(w, r, rep, err)
}

// handleActiveReport downloads the report of the dataset on display.
func (s *Server) handleActiveReport(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.requireSession(w, r)
	if !ok {
		return
	}
	rep, err := s.manager.ActiveReport(r.Context(), sess)
	s.sendReport(w, r, rep, err)
}

// sendReport streams the PDF as an attachment. On failure the session holds
// an alert and the browser returns to the dashboard to show it.
func (s *Server) sendReport(w http.ResponseWriter, r *http.Request, rep core.Report, err error) {
	if err != nil {
		if errors.Is(err, session.ErrSessionClosed) {
			s.clearSessionCookie(w, r)
		}
		redirectHome(w, r)
		return
	}
	w.Header().Set("Content-Type", rep.ContentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+rep.Filename+`"`)
	w.Header().Set("Content-Length", strconv.Itoa(len(rep.Data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(rep.Data)
}

// handleChart returns the distribution of the displayed summary.
func (s *Server) handleChart(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.currentSession(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "not signed in"})
		return
	}
	writeJSON(w, http.StatusOK, newChartPayload(sess.Snapshot().Summary))
}
