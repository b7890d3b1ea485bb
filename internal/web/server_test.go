package web

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"html/template"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manash/vardash/internal/backend"
	"github.com/manash/vardash/internal/dashboard"
	"github.com/manash/vardash/internal/realtime"
	"github.com/manash/vardash/pkg/models"
)

var pngBytes = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x02\x00\x00\x00")

type fakeBackend struct {
	mu          sync.Mutex
	users       map[string]*models.User
	token       string
	images      map[int64][]models.ImageRef
	imageCalls  []int64
	csrfCalls   int
	uploads     int
	generations []int64
}

func (f *fakeBackend) CurrentUser(context.Context) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[f.token]
	if !ok {
		return nil, backend.ErrUnauthorized
	}
	return u, nil
}

func (f *fakeBackend) UserImages(_ context.Context, userID int64) ([]models.ImageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.imageCalls = append(f.imageCalls, userID)
	return f.images[userID], nil
}

func (f *fakeBackend) AcquireCSRFCookie(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.csrfCalls++
	return nil
}

func (f *fakeBackend) UploadImage(_ context.Context, sel *models.Selection) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploads++
	if !strings.HasPrefix(sel.ContentType, "image/") {
		return 0, errors.New("status 422: the image field must be an image")
	}
	return 42, nil
}

func (f *fakeBackend) StartGeneration(_ context.Context, imageID int64) (*models.GenerationResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.generations = append(f.generations, imageID)
	return &models.GenerationResponse{Success: true, Message: "Generating 4 variations"}, nil
}

type fakeChannel struct {
	name         string
	mu           sync.Mutex
	handlers     map[string][]realtime.Handler
	unsubscribed bool
}

func (c *fakeChannel) Name() string { return c.name }

func (c *fakeChannel) Bind(event string, h realtime.Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[event] = append(c.handlers[event], h)
}

func (c *fakeChannel) Unsubscribe() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.unsubscribed = true
	return nil
}

func (c *fakeChannel) emit(event string, payload any) {
	data, _ := json.Marshal(payload)
	c.mu.Lock()
	handlers := append([]realtime.Handler(nil), c.handlers[event]...)
	c.mu.Unlock()
	for _, h := range handlers {
		h(data)
	}
}

type fakeSubscriber struct {
	mu       sync.Mutex
	channels map[string]*fakeChannel
	closed   bool
}

func (s *fakeSubscriber) Subscribe(_ context.Context, name string) (realtime.Channel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ch, ok := s.channels[name]; ok {
		return ch, nil
	}
	ch := &fakeChannel{name: name, handlers: make(map[string][]realtime.Handler)}
	s.channels[name] = ch
	return ch, nil
}

func (s *fakeSubscriber) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// memoryRecorder keeps generated URLs per user for the lifetime of a test.
type memoryRecorder struct {
	mu   sync.Mutex
	urls map[int64][]string
}

func (m *memoryRecorder) RecordUpload(context.Context, int64, int64, string, int64) (string, error) {
	return "upload-1", nil
}

func (m *memoryRecorder) SetUploadStatus(context.Context, string, string, string) error {
	return nil
}

func (m *memoryRecorder) RecordGenerated(_ context.Context, _ string, userID int64, ev models.GenerationEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.urls[userID] = append(m.urls[userID], ev.URL)
	return nil
}

func (m *memoryRecorder) GeneratedURLs(_ context.Context, userID int64) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.urls[userID]...), nil
}

type harness struct {
	t       *testing.T
	srv     *Server
	http    *httptest.Server
	client  *http.Client
	backend *fakeBackend
	subsMu  sync.Mutex
	subs    []*fakeSubscriber
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessWith(t, nil, func(*Options) {})
}

func newHarnessWith(t *testing.T, recorder dashboard.Recorder, configure func(*Options)) *harness {
	t.Helper()
	h := &harness{
		t: t,
		backend: &fakeBackend{
			users: map[string]*models.User{
				"user-token":  {ID: 2, Name: "Ada", Role: models.RoleUser},
				"admin-token": {ID: 1, Name: "Root", Role: models.RoleAdmin},
			},
			images: map[int64][]models.ImageRef{
				5: {
					{ID: 10, URL: "https://cdn.example.com/a.png", Filename: "a.png"},
					{ID: 11, URL: "https://cdn.example.com/b.png", Filename: "b.png"},
				},
			},
		},
	}

	newBackend := func(cfg *backend.Config) (backend.Backend, error) {
		h.backend.mu.Lock()
		h.backend.token = cfg.Token
		h.backend.mu.Unlock()
		return h.backend, nil
	}
	newSub := func() (realtime.Subscriber, error) {
		sub := &fakeSubscriber{channels: make(map[string]*fakeChannel)}
		h.subsMu.Lock()
		h.subs = append(h.subs, sub)
		h.subsMu.Unlock()
		return sub, nil
	}

	opts := Options{
		BackendURL:    "http://localhost:8000",
		SessionSecret: []byte("0123456789abcdef0123456789abcdef"),
	}
	configure(&opts)

	srv, err := New(opts, newBackend, newSub, recorder)
	require.NoError(t, err)
	h.srv = srv
	h.http = httptest.NewServer(srv.Handler())
	t.Cleanup(h.http.Close)

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	h.client = &http.Client{Jar: jar, Timeout: 5 * time.Second}
	return h
}

func (h *harness) get(path string) (int, string) {
	h.t.Helper()
	resp, err := h.client.Get(h.http.URL + path)
	require.NoError(h.t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(body)
}

func (h *harness) login(token string) (int, string) {
	h.t.Helper()
	resp, err := h.client.PostForm(h.http.URL+"/login", map[string][]string{"token": {token}})
	require.NoError(h.t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(body)
}

func (h *harness) postFile(path, filename string, data []byte) (int, string) {
	h.t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if data != nil {
		part, err := w.CreateFormFile("image", filename)
		require.NoError(h.t, err)
		part.Write(data)
	}
	require.NoError(h.t, w.Close())

	resp, err := h.client.Post(h.http.URL+path, w.FormDataContentType(), &buf)
	require.NoError(h.t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(body)
}

func (h *harness) channel() *fakeChannel {
	h.subsMu.Lock()
	defer h.subsMu.Unlock()
	require.NotEmpty(h.t, h.subs)
	sub := h.subs[len(h.subs)-1]
	sub.mu.Lock()
	defer sub.mu.Unlock()
	return sub.channels["images.2"]
}

func TestHealthz(t *testing.T) {
	h := newHarness(t)
	status, body := h.get("/healthz")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", body)
}

func TestHome_WelcomeWithoutSession(t *testing.T) {
	h := newHarness(t)
	status, body := h.get("/")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "Welcome to the Dashboard!")
}

func TestLogin_RejectedToken(t *testing.T) {
	h := newHarness(t)

	status, body := h.login("nope")
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Contains(t, body, "That token was rejected.")

	_, body = h.get("/")
	assert.Contains(t, body, "Welcome to the Dashboard!")
}

func TestLogin_EmptyToken(t *testing.T) {
	h := newHarness(t)
	status, _ := h.login("  ")
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestHome_UserView(t *testing.T) {
	h := newHarness(t)

	status, body := h.login("user-token")
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "Upload Image")
	assert.NotContains(t, body, "No images available")

	h.get("/")
	assert.Equal(t, 1, h.backend.csrfCalls, "the view mounts once per session")
}

func TestHome_AdminView(t *testing.T) {
	h := newHarness(t)

	status, body := h.login("admin-token")
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "No images available")
	assert.Equal(t, []int64{1}, h.backend.imageCalls)
	assert.Zero(t, h.backend.csrfCalls)
}

func TestAdminImages(t *testing.T) {
	h := newHarness(t)
	h.login("admin-token")

	status, body := h.get("/admin/users/5/images")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, 2, strings.Count(body, `class="tile"`))
	assert.NotContains(t, body, "No images available")

	status, _ = h.get("/admin/users/abc/images")
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestAdminImages_ForbiddenForUsers(t *testing.T) {
	h := newHarness(t)
	h.login("user-token")

	status, _ := h.get("/admin/users/5/images")
	assert.Equal(t, http.StatusForbidden, status)
}

func TestAdminImages_RequiresLogin(t *testing.T) {
	h := newHarness(t)
	status, body := h.get("/admin/users/5/images")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "API token")
}

func TestUpload_WithoutFile(t *testing.T) {
	h := newHarness(t)
	h.login("user-token")

	status, body := h.postFile("/upload", "", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "Please select an image.")
	assert.Zero(t, h.backend.uploads)
	assert.Empty(t, h.backend.generations)
}

func TestUpload_StartsGeneration(t *testing.T) {
	h := newHarness(t)
	h.login("user-token")

	status, body := h.postFile("/upload", "cat.png", pngBytes)
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "Upload successful!")
	assert.Contains(t, body, "Generating 4 variations")
	assert.Equal(t, 1, h.backend.uploads)
	assert.Equal(t, []int64{42}, h.backend.generations)

	ch := h.channel()
	require.NotNil(t, ch)
	ch.emit(models.EventImageGenerated, models.GenerationEnvelope{
		ImageData: models.GenerationEvent{Progress: 25, URL: "https://cdn.example.com/v1.png"},
	})

	_, body = h.get("/")
	assert.Contains(t, body, "https://cdn.example.com/v1.png")
	assert.Contains(t, body, `Generated image 1`)
}

func TestSelect_Preview(t *testing.T) {
	h := newHarness(t)
	h.login("user-token")

	status, body := h.postFile("/select", "cat.png", pngBytes)
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "data:image/png;base64,")
	assert.Contains(t, body, "cat.png")
	assert.Zero(t, h.backend.uploads)

	status, body = h.postFile("/select", "logo.svg", []byte(`<svg xmlns="http://www.w3.org/2000/svg"></svg>`))
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "data:image/svg+xml;base64,")
	assert.Contains(t, body, "logo.svg")
}

func TestSelect_NonImageIsStagedWithoutPreview(t *testing.T) {
	h := newHarness(t)
	h.login("user-token")

	status, body := h.postFile("/select", "notes.txt", []byte("plain text, not an image"))
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "notes.txt")
	assert.NotContains(t, body, "data:text/plain")
	assert.Zero(t, h.backend.uploads)
}

func TestSelect_JSON(t *testing.T) {
	h := newHarness(t)
	h.login("user-token")

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, _ := w.CreateFormFile("image", "cat.png")
	part.Write(pngBytes)
	w.Close()

	req, _ := http.NewRequest(http.MethodPost, h.http.URL+"/select", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("Accept", "application/json")
	resp, err := h.client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var payload snapshotPayload
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	assert.Equal(t, "cat.png", payload.Filename)
	assert.Equal(t, []string{}, payload.GeneratedImages)
}

func TestUpload_NonImageFailsInTheView(t *testing.T) {
	h := newHarness(t)
	h.login("user-token")

	status, body := h.postFile("/upload", "notes.txt", []byte("plain text, not an image"))
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "Upload failed. Please try again.")
	assert.Equal(t, 1, h.backend.uploads)
	assert.Empty(t, h.backend.generations)
}

func TestUpload_RelativeVariationURLPointsAtBackend(t *testing.T) {
	h := newHarness(t)
	h.login("user-token")
	h.postFile("/upload", "cat.png", pngBytes)

	h.channel().emit(models.EventImageGenerated, models.GenerationEnvelope{
		ImageData: models.GenerationEvent{Progress: 25, URL: "/storage/variations/1.png"},
	})

	_, body := h.get("/")
	assert.Contains(t, body, `src="http://localhost:8000/storage/variations/1.png"`)
}

func TestHome_RestoresVariationsAfterUnmount(t *testing.T) {
	rec := &memoryRecorder{urls: make(map[int64][]string)}
	h := newHarnessWith(t, rec, func(*Options) {})
	h.login("user-token")
	h.postFile("/upload", "cat.png", pngBytes)
	h.channel().emit(models.EventImageGenerated, models.GenerationEnvelope{
		ImageData: models.GenerationEvent{Progress: 25, URL: "https://cdn.example.com/v1.png"},
	})

	h.srv.Shutdown()
	require.Zero(t, h.srv.states.ItemCount())

	_, body := h.get("/")
	assert.Contains(t, body, "https://cdn.example.com/v1.png")
	assert.Contains(t, body, "Generated image 1")
	assert.Equal(t, 1, h.srv.states.ItemCount())
}

func TestEvents_HeartbeatKeepsViewMounted(t *testing.T) {
	h := newHarnessWith(t, nil, func(o *Options) {
		o.IdleTTL = 200 * time.Millisecond
		o.Heartbeat = 20 * time.Millisecond
	})
	h.login("user-token")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, h.http.URL+"/events", nil)
	resp, err := h.client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	go io.Copy(io.Discard, resp.Body)

	time.Sleep(600 * time.Millisecond)

	assert.Equal(t, 1, h.srv.states.ItemCount())
	h.subsMu.Lock()
	assert.False(t, h.subs[0].closed)
	h.subsMu.Unlock()
}

func TestEvents_StreamsSnapshots(t *testing.T) {
	h := newHarness(t)
	h.login("user-token")
	h.postFile("/upload", "cat.png", pngBytes)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, h.http.URL+"/events", nil)
	resp, err := h.client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	frames := make(chan sseEvent, 4)
	go func() {
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			var ev struct {
				Type string          `json:"type"`
				Data snapshotPayload `json:"data"`
			}
			if json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev) == nil {
				frames <- sseEvent{Type: ev.Type, Data: ev.Data}
			}
		}
	}()

	first := nextFrame(t, frames)
	assert.Equal(t, "snapshot", first.Type)
	assert.Equal(t, "Upload successful!", first.Data.(snapshotPayload).UploadStatus)

	h.channel().emit(models.EventImageGenerated, models.GenerationEnvelope{
		ImageData: models.GenerationEvent{Progress: 50, URL: "https://cdn.example.com/v2.png"},
	})

	next := nextFrame(t, frames).Data.(snapshotPayload)
	assert.Equal(t, float64(50), next.Progress)
	assert.Equal(t, []string{"https://cdn.example.com/v2.png"}, next.GeneratedImages)
}

func nextFrame(t *testing.T, frames <-chan sseEvent) sseEvent {
	t.Helper()
	select {
	case f := <-frames:
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for an event frame")
		return sseEvent{}
	}
}

func TestLogout_UnmountsDashboard(t *testing.T) {
	h := newHarness(t)
	h.login("user-token")
	h.postFile("/upload", "cat.png", pngBytes)
	ch := h.channel()

	resp, err := h.client.Post(h.http.URL+"/logout", "application/x-www-form-urlencoded", nil)
	require.NoError(t, err)
	resp.Body.Close()

	assert.True(t, ch.unsubscribed)
	h.subsMu.Lock()
	assert.True(t, h.subs[0].closed)
	h.subsMu.Unlock()
	assert.Zero(t, h.srv.states.ItemCount())

	_, body := h.get("/")
	assert.Contains(t, body, "Welcome to the Dashboard!")
}

func TestShutdown_EvictsEveryState(t *testing.T) {
	h := newHarness(t)
	h.login("user-token")
	require.Equal(t, 1, h.srv.states.ItemCount())

	h.srv.Shutdown()

	assert.Zero(t, h.srv.states.ItemCount())
	h.subsMu.Lock()
	assert.True(t, h.subs[0].closed)
	h.subsMu.Unlock()
}

func TestNew_RequiresBackendURL(t *testing.T) {
	_, err := New(Options{}, backend.NewBackend, nil, nil)
	assert.ErrorIs(t, err, backend.ErrBaseURLRequired)
}

func TestTemplateFuncs_PreviewOnlyTrustsImageDataURLs(t *testing.T) {
	preview := templateFuncs["preview"].(func(string) template.URL)
	assert.Equal(t, template.URL("data:image/png;base64,AAAA"), preview("data:image/png;base64,AAAA"))
	assert.Empty(t, preview("javascript:alert(1)"))
}
