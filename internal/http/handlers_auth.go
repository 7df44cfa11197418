package http

import (
	"net/http"

	"equipviz/internal/log"
	"equipviz/internal/session"
)

// handleIndex shows the dashboard to a signed-in user and the login screen otherwise.
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.currentSession(r)
	if !ok {
		if _, err := r.Cookie(sessionCookieName); err == nil {
			s.clearSessionCookie(w, r)
		}
		s.render(w, r, http.StatusOK, "login_page", pageData{})
		return
	}

	data := s.dashboardData(r, sess)
	data.Alert = sess.TakeAlert()
	s.render(w, r, http.StatusOK, "dashboard_page", data)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		s.render(w, r, http.StatusBadRequest, "login_page", pageData{LoginError: "Invalid form submission"})
		return
	}
	username := r.PostFormValue("username")
	clientIP := s.detector.ExtractClientIP(r)

	sess, err := s.manager.Login(r.Context(), username, r.PostFormValue("password"), clientIP)
	if err != nil {
		msg, status := loginFailure(err)
		log.FromContext(r.Context()).InfoContext(r.Context(), "Login failed",
			log.FieldOperation, log.OpLogin,
			log.FieldUsername, username,
			log.FieldClientIP, clientIP,
			log.FieldStatusCode, status)
		s.render(w, r, status, "login_page", pageData{LoginError: msg, Username: username})
		return
	}

	if err := s.setSessionCookie(w, r, sess.ID()); err != nil {
		log.FromContext(r.Context()).ErrorContext(r.Context(), "Saving session cookie failed",
			log.FieldOperation, log.OpLogin,
			log.FieldSessionID, sess.ID(),
			log.FieldError, err)
		s.manager.Logout(r.Context(), sess.ID())
		s.render(w, r, http.StatusInternalServerError, "login_page", pageData{LoginError: "Login failed", Username: username})
		return
	}
	redirectHome(w, r)
}

// handleLogout always ends on the login screen, whatever the session state.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if id, ok := s.sessionID(r); ok {
		s.manager.Logout(r.Context(), id)
	}
	s.clearSessionCookie(w, r)
	redirectHome(w, r)
}

func (s *Server) dashboardData(r *http.Request, sess *session.Session) pageData {
	data := pageData{State: sess.Snapshot()}
	if s.activity == nil {
		return data
	}
	data.ActivityEnabled = true
	activities, err := s.activity.Recent(r.Context(), sess.Username(), recentActivityLimit)
	if err != nil {
		log.FromContext(r.Context()).WarnContext(r.Context(), "Loading activity failed",
			log.FieldUsername, sess.Username(),
			log.FieldError, err)
		return data
	}
	data.Activities = activities
	return data
}
