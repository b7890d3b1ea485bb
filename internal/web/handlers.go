package web

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/manash/vardash/internal/backend"
	"github.com/manash/vardash/internal/dashboard"
	"github.com/manash/vardash/pkg/models"
)

type page struct {
	Title       string
	User        *models.User
	Error       string
	Welcome     string
	Snapshot    dashboard.Snapshot
	Gallery     *dashboard.AdminGallery
	Placeholder string
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Write([]byte("ok"))
}

func (s *Server) handleHome(w http.ResponseWriter, r *http.Request) {
	v, ok := s.mounted(w, r, false)
	if !ok {
		return
	}
	if v == nil {
		s.render(w, http.StatusOK, "welcome", page{Title: "Dashboard", Welcome: dashboard.WelcomeText})
		return
	}

	switch dashboard.SelectView(v.user) {
	case dashboard.ViewAdmin:
		s.renderGallery(w, r, v, s.opts.AdminDefaultUserID)
	default:
		s.render(w, http.StatusOK, "user", page{Title: "Dashboard", User: v.user, Snapshot: v.dash.Snapshot()})
	}
}

func (s *Server) handleAdminImages(w http.ResponseWriter, r *http.Request) {
	v, ok := s.mounted(w, r, true)
	if !ok {
		return
	}
	if !v.user.IsAdmin() {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	userID, err := models.ParseUserID(mux.Vars(r)["userId"])
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.renderGallery(w, r, v, userID)
}

func (s *Server) renderGallery(w http.ResponseWriter, r *http.Request, v *viewState, userID int64) {
	gallery := dashboard.LoadAdminGallery(r.Context(), v.backend, userID)
	s.render(w, http.StatusOK, "admin", page{
		Title:       "Admin Dashboard",
		User:        v.user,
		Gallery:     gallery,
		Placeholder: gallery.Placeholder(),
	})
}

func (s *Server) handleLoginForm(w http.ResponseWriter, r *http.Request) {
	s.render(w, http.StatusOK, "login", page{Title: "Sign in"})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimSpace(r.FormValue("token"))
	if token == "" {
		s.render(w, http.StatusBadRequest, "login", page{Title: "Sign in", Error: "Enter your API token."})
		return
	}

	b, err := s.newBackend(s.backendConfig(token))
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to create backend client", "error", err)
		http.Error(w, "backend unavailable", http.StatusBadGateway)
		return
	}
	user, err := b.CurrentUser(r.Context())
	if errors.Is(err, backend.ErrUnauthorized) {
		s.render(w, http.StatusUnauthorized, "login", page{Title: "Sign in", Error: "That token was rejected."})
		return
	}
	if err != nil {
		slog.ErrorContext(r.Context(), "user lookup failed", "error", err)
		s.render(w, http.StatusBadGateway, "login", page{Title: "Sign in", Error: "The backend is unreachable."})
		return
	}

	sess := s.session(r)
	if old, _ := sess.Values[keySessionID].(string); old != "" {
		s.states.Delete(old)
	}
	sid := uuid.New().String()
	sess.Values[keyToken] = token
	sess.Values[keySessionID] = sid
	if err := sess.Save(r, w); err != nil {
		slog.ErrorContext(r.Context(), "failed to save session", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	s.mount(r.Context(), sid, token, b, user)
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	sess := s.session(r)
	if sid, _ := sess.Values[keySessionID].(string); sid != "" {
		s.states.Delete(sid)
	}
	s.clearSession(w, r)
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}

func (s *Server) handleSelect(w http.ResponseWriter, r *http.Request) {
	v, ok := s.userView(w, r)
	if !ok {
		return
	}

	sel, err := readSelection(w, r)
	if err != nil {
		writeSelectionError(w, err)
		return
	}
	v.dash.Select(sel)
	s.respond(w, r, v)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	v, ok := s.userView(w, r)
	if !ok {
		return
	}

	sel, err := readSelection(w, r)
	if err != nil {
		writeSelectionError(w, err)
		return
	}
	if sel != nil {
		v.dash.Select(sel)
	}

	if err := v.dash.Upload(r.Context()); err != nil {
		slog.DebugContext(r.Context(), "upload did not complete", "user_id", v.user.ID, "error", err)
	}
	s.respond(w, r, v)
}

// respond answers fetch callers with the snapshot and form posts with a redirect.
func (s *Server) respond(w http.ResponseWriter, r *http.Request, v *viewState) {
	if strings.Contains(r.Header.Get("Accept"), "application/json") {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(newSnapshotPayload(v.dash.Snapshot()))
		return
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// mounted loads the session's view. With required set, a visitor without a session
// is sent to the login page; otherwise a nil view is returned for them.
func (s *Server) mounted(w http.ResponseWriter, r *http.Request, required bool) (*viewState, bool) {
	v, err := s.load(r.Context(), s.session(r))
	switch {
	case err == nil:
		return v, true
	case errors.Is(err, ErrNoSession):
		if required {
			http.Redirect(w, r, "/login", http.StatusSeeOther)
			return nil, false
		}
		return nil, true
	case errors.Is(err, backend.ErrUnauthorized):
		s.clearSession(w, r)
		if required {
			http.Redirect(w, r, "/login", http.StatusSeeOther)
			return nil, false
		}
		return nil, true
	default:
		slog.ErrorContext(r.Context(), "failed to mount dashboard", "error", err)
		http.Error(w, "backend unavailable", http.StatusBadGateway)
		return nil, false
	}
}

func (s *Server) userView(w http.ResponseWriter, r *http.Request) (*viewState, bool) {
	v, ok := s.mounted(w, r, true)
	if !ok {
		return nil, false
	}
	if v.dash == nil {
		http.Error(w, "not available for this role", http.StatusForbidden)
		return nil, false
	}
	return v, true
}

func (s *Server) clearSession(w http.ResponseWriter, r *http.Request) {
	sess := s.session(r)
	delete(sess.Values, keyToken)
	delete(sess.Values, keySessionID)
	sess.Options.MaxAge = -1
	if err := sess.Save(r, w); err != nil {
		slog.WarnContext(r.Context(), "failed to clear session", "error", err)
	}
}

var errTooLarge = errors.New("image is too large")

// readSelection returns the posted image, or nil when the form carries none.
func readSelection(w http.ResponseWriter, r *http.Request) (*models.Selection, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize+1<<20)
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, errTooLarge
		}
		if errors.Is(err, http.ErrNotMultipart) {
			return nil, nil
		}
		return nil, err
	}

	file, header, err := r.FormFile("image")
	if errors.Is(err, http.ErrMissingFile) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxUploadSize+1))
	if err != nil {
		return nil, err
	}
	if len(data) > maxUploadSize {
		return nil, errTooLarge
	}
	if len(data) == 0 {
		return nil, nil
	}
	return models.NewSelection(header.Filename, header.Header.Get("Content-Type"), data)
}

func writeSelectionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errTooLarge):
		http.Error(w, err.Error(), http.StatusRequestEntityTooLarge)
	default:
		http.Error(w, "malformed upload", http.StatusBadRequest)
	}
}
