// Package web serves the dashboard to browsers: server-rendered views, form posts
// proxied to the backend, and a Server-Sent Events stream of the user view state.
package web

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/securecookie"
	"github.com/gorilla/sessions"
	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"

	"github.com/manash/vardash/internal/backend"
	"github.com/manash/vardash/internal/dashboard"
	"github.com/manash/vardash/internal/realtime"
	"github.com/manash/vardash/pkg/models"
)

const (
	sessionName   = "vardash"
	keyToken      = "token"
	keySessionID  = "sid"
	maxUploadSize = 10 << 20

	defaultIdleTTL   = 30 * time.Minute
	defaultHeartbeat = 25 * time.Second
)

var ErrNoSession = errors.New("no dashboard session")

type Options struct {
	BackendURL         string
	TimeoutSec         int
	Verbose            bool
	AdminDefaultUserID int64
	IdleTTL            time.Duration
	Heartbeat          time.Duration
	SessionSecret      []byte
	SecureCookies      bool
}

// SubscriberFactory opens one realtime connection for a dashboard session.
type SubscriberFactory func() (realtime.Subscriber, error)

type Server struct {
	opts       Options
	newBackend backend.Factory
	newSub     SubscriberFactory
	recorder   dashboard.Recorder

	sessions  *sessions.CookieStore
	states    *cache.Cache
	creating  singleflight.Group
	templates *template.Template
	router    *mux.Router
}

// viewState is what one browser session has mounted. Evicting it from the cache
// unmounts the view.
type viewState struct {
	token   string
	user    *models.User
	backend backend.Backend
	sub     realtime.Subscriber
	dash    *dashboard.UserDashboard

	closeOnce sync.Once
}

func (v *viewState) close() {
	v.closeOnce.Do(func() {
		if v.dash != nil {
			if err := v.dash.Close(); err != nil {
				slog.Warn("failed to close dashboard", "user_id", v.user.ID, "error", err)
			}
		}
		if v.sub != nil {
			v.sub.Close()
		}
	})
}

func New(opts Options, newBackend backend.Factory, newSub SubscriberFactory, recorder dashboard.Recorder) (*Server, error) {
	if opts.BackendURL == "" {
		return nil, backend.ErrBaseURLRequired
	}
	if opts.IdleTTL <= 0 {
		opts.IdleTTL = defaultIdleTTL
	}
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = defaultHeartbeat
	}
	if opts.AdminDefaultUserID <= 0 {
		opts.AdminDefaultUserID = 1
	}

	secret := opts.SessionSecret
	if len(secret) == 0 {
		slog.Warn("SESSION_SECRET not set, sessions will not survive a restart")
		secret = securecookie.GenerateRandomKey(32)
	}

	tmpl, err := parseTemplates()
	if err != nil {
		return nil, fmt.Errorf("failed to parse templates: %w", err)
	}

	store := sessions.NewCookieStore(secret)
	store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   7 * 24 * 3600,
		HttpOnly: true,
		Secure:   opts.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	}

	s := &Server{
		opts:       opts,
		newBackend: newBackend,
		newSub:     newSub,
		recorder:   recorder,
		sessions:   store,
		states:     cache.New(opts.IdleTTL, opts.IdleTTL/2),
		templates:  tmpl,
	}
	s.states.OnEvicted(func(sid string, v interface{}) {
		slog.Debug("dashboard unmounted", "sid", sid)
		v.(*viewState).close()
	})
	s.router = s.routes()
	return s, nil
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/", s.handleHome).Methods(http.MethodGet)
	r.HandleFunc("/login", s.handleLoginForm).Methods(http.MethodGet)
	r.HandleFunc("/login", s.handleLogin).Methods(http.MethodPost)
	r.HandleFunc("/logout", s.handleLogout).Methods(http.MethodPost)
	r.HandleFunc("/select", s.handleSelect).Methods(http.MethodPost)
	r.HandleFunc("/upload", s.handleUpload).Methods(http.MethodPost)
	r.HandleFunc("/events", s.handleEvents).Methods(http.MethodGet)
	r.HandleFunc("/admin/users/{userId}/images", s.handleAdminImages).Methods(http.MethodGet)
	r.Use(logRequests)
	return r
}

// Shutdown unmounts every live dashboard.
func (s *Server) Shutdown() {
	for sid := range s.states.Items() {
		s.states.Delete(sid)
	}
}

// load returns the mounted view of the request's session, mounting it when needed.
// A session without a token yields ErrNoSession.
func (s *Server) load(ctx context.Context, sess *sessions.Session) (*viewState, error) {
	token, _ := sess.Values[keyToken].(string)
	sid, _ := sess.Values[keySessionID].(string)
	if token == "" || sid == "" {
		return nil, ErrNoSession
	}

	if v, ok := s.states.Get(sid); ok {
		s.states.SetDefault(sid, v)
		return v.(*viewState), nil
	}

	v, err, _ := s.creating.Do(sid, func() (interface{}, error) {
		if v, ok := s.states.Get(sid); ok {
			return v, nil
		}
		b, err := s.newBackend(s.backendConfig(token))
		if err != nil {
			return nil, err
		}
		user, err := b.CurrentUser(ctx)
		if err != nil {
			return nil, err
		}
		return s.mount(ctx, sid, token, b, user), nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*viewState), nil
}

// touch restarts the idle timer of a view that is still mounted under sid.
func (s *Server) touch(sid string, v *viewState) {
	if cur, ok := s.states.Get(sid); ok && cur == v {
		s.states.SetDefault(sid, v)
	}
}

func (s *Server) mount(ctx context.Context, sid, token string, b backend.Backend, user *models.User) *viewState {
	v := &viewState{token: token, user: user, backend: b}

	if dashboard.SelectView(user) == dashboard.ViewUser {
		if s.newSub != nil {
			sub, err := s.newSub()
			if err != nil {
				slog.WarnContext(ctx, "realtime unavailable", "user_id", user.ID, "error", err)
			} else {
				v.sub = sub
			}
		}

		opts := []dashboard.Option{dashboard.WithBaseURL(s.opts.BackendURL)}
		if s.recorder != nil {
			opts = append(opts, dashboard.WithRecorder(s.recorder))
			if h, ok := s.recorder.(dashboard.History); ok {
				opts = append(opts, dashboard.WithHistory(h))
			}
		}
		v.dash = dashboard.NewUserDashboard(user.ID, b, v.sub, opts...)
		v.dash.Mount(ctx)
	}

	s.states.SetDefault(sid, v)
	slog.InfoContext(ctx, "dashboard mounted", "user_id", user.ID, "view", dashboard.SelectView(user).String())
	return v
}

func (s *Server) backendConfig(token string) *backend.Config {
	return &backend.Config{
		BaseURL:    s.opts.BackendURL,
		Token:      token,
		TimeoutSec: s.opts.TimeoutSec,
		Verbose:    s.opts.Verbose,
	}
}

func (s *Server) session(r *http.Request) *sessions.Session {
	sess, err := s.sessions.Get(r, sessionName)
	if err != nil {
		slog.Debug("discarding unreadable session cookie", "error", err)
	}
	return sess
}

func (s *Server) render(w http.ResponseWriter, status int, name string, data any) {
	var buf bytes.Buffer
	if err := s.templates.ExecuteTemplate(&buf, name, data); err != nil {
		slog.Error("template render failed", "template", name, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	buf.WriteTo(w)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		slog.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start))
	})
}
