package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/manash/vardash/internal/realtime"
	"github.com/manash/vardash/pkg/models"
)

var ErrDashboardClosed = errors.New("dashboard closed")

// Upload statuses written to the history.
const (
	StatusUploaded   = "uploaded"
	StatusGenerating = "generating"
	StatusFailed     = "failed"
)

const recordTimeout = 5 * time.Second

// Backend is the part of the backend contract the user view calls.
type Backend interface {
	AcquireCSRFCookie(ctx context.Context) error
	UploadImage(ctx context.Context, sel *models.Selection) (int64, error)
	StartGeneration(ctx context.Context, imageID int64) (*models.GenerationResponse, error)
}

// Recorder persists what the view saw. Failures never change the view.
type Recorder interface {
	RecordUpload(ctx context.Context, userID, imageID int64, filename string, size int64) (string, error)
	SetUploadStatus(ctx context.Context, uploadID, status, message string) error
	RecordGenerated(ctx context.Context, uploadID string, userID int64, ev models.GenerationEvent) error
}

// History returns the variation URLs earlier mounts of a user already received.
type History interface {
	GeneratedURLs(ctx context.Context, userID int64) ([]string, error)
}

// Snapshot is an immutable copy of the user view state.
type Snapshot struct {
	Version           uint64
	UserID            int64
	Filename          string
	SelectionSize     int
	Preview           string
	UploadStatus      string
	ImageID           int64
	Progress          float64
	IsGenerating      bool
	GenerationMessage string
	GeneratedImages   []string
}

type Option func(*UserDashboard)

func WithRecorder(r Recorder) Option {
	return func(d *UserDashboard) { d.recorder = r }
}

func WithHistory(h History) Option {
	return func(d *UserDashboard) { d.history = h }
}

// WithBaseURL resolves relative variation URLs against the backend origin. An
// unusable base is ignored.
func WithBaseURL(rawURL string) Option {
	return func(d *UserDashboard) {
		u, err := url.Parse(rawURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return
		}
		d.baseURL = u
	}
}

// UserDashboard is the state of one mounted user view. Handlers, the realtime read
// loop and watchers may use it concurrently.
type UserDashboard struct {
	userID     int64
	backend    Backend
	subscriber realtime.Subscriber
	recorder   Recorder
	history    History
	baseURL    *url.URL

	mu           sync.Mutex
	selection    *models.Selection
	uploadStatus string
	imageID      int64
	progress     float64
	generating   bool
	message      string
	images       []string
	uploadID     string
	channel      realtime.Channel
	bound        bool
	version      uint64
	closed       bool

	watchers    map[int]chan Snapshot
	nextWatcher int
}

func NewUserDashboard(userID int64, b Backend, sub realtime.Subscriber, opts ...Option) *UserDashboard {
	d := &UserDashboard{
		userID:     userID,
		backend:    b,
		subscriber: sub,
		watchers:   make(map[int]chan Snapshot),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *UserDashboard) UserID() int64 {
	return d.userID
}

// Mount acquires the CSRF cookie and, with a history, restores the variations already
// received. Failures are logged and otherwise ignored.
func (d *UserDashboard) Mount(ctx context.Context) {
	if err := d.backend.AcquireCSRFCookie(ctx); err != nil {
		slog.ErrorContext(ctx, "failed to fetch CSRF token", "user_id", d.userID, "error", err)
	}
	if d.history == nil {
		return
	}

	urls, err := d.history.GeneratedURLs(ctx, d.userID)
	if err != nil {
		slog.WarnContext(ctx, "failed to restore generated images", "user_id", d.userID, "error", err)
		return
	}
	if len(urls) == 0 {
		return
	}
	d.update(func() {
		d.images = append(urls, d.images...)
	})
}

// Select replaces the staged file. A nil selection clears it together with the preview.
func (d *UserDashboard) Select(sel *models.Selection) {
	d.update(func() {
		d.selection = sel
	})
}

// Upload sends the staged file and, when the backend accepts it, starts generation.
// The returned error is for callers that need it; the view only shows the fixed messages.
func (d *UserDashboard) Upload(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrDashboardClosed
	}
	sel := d.selection
	d.mu.Unlock()

	if sel == nil {
		d.update(func() { d.uploadStatus = MsgSelectImage })
		return models.ErrEmptySelection
	}

	imageID, err := d.backend.UploadImage(ctx, sel)
	if err != nil {
		slog.ErrorContext(ctx, "upload failed", "user_id", d.userID, "filename", sel.Filename, "error", err)
		d.update(func() { d.uploadStatus = MsgUploadFailed })
		return err
	}

	slog.InfoContext(ctx, "image uploaded", "user_id", d.userID, "image_id", imageID)
	uploadID := d.recordUpload(ctx, imageID, sel)
	d.update(func() {
		d.uploadStatus = MsgUploadSuccessful
		d.imageID = imageID
		d.uploadID = uploadID
	})

	return d.generate(ctx, imageID, uploadID)
}

func (d *UserDashboard) generate(ctx context.Context, imageID int64, uploadID string) error {
	d.update(func() {
		d.generating = true
		d.progress = 0
		d.message = ""
	})

	ch, err := d.subscribe(ctx)
	if err != nil {
		slog.WarnContext(ctx, "channel subscription failed", "user_id", d.userID, "error", err)
	}

	resp, err := d.backend.StartGeneration(ctx, imageID)
	if err != nil {
		slog.ErrorContext(ctx, "error starting image generation", "image_id", imageID, "error", err)
		d.update(func() {
			d.generating = false
			d.message = MsgGenerationFailed
		})
		d.setUploadStatus(uploadID, StatusFailed, err.Error())
		return err
	}

	slog.InfoContext(ctx, "image generation started", "image_id", imageID, "success", resp.Success)
	if !resp.Success {
		return nil
	}

	d.update(func() { d.message = resp.Message })
	d.setUploadStatus(uploadID, StatusGenerating, resp.Message)
	if ch != nil {
		d.bind(ch)
	}
	return nil
}

// subscribe joins the user's image channel once per dashboard.
func (d *UserDashboard) subscribe(ctx context.Context) (realtime.Channel, error) {
	d.mu.Lock()
	if d.channel != nil {
		ch := d.channel
		d.mu.Unlock()
		return ch, nil
	}
	d.mu.Unlock()

	if d.subscriber == nil {
		return nil, realtime.ErrClosed
	}

	ch, err := d.subscriber.Subscribe(ctx, models.ImageChannel(d.userID))
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		ch.Unsubscribe()
		return nil, ErrDashboardClosed
	}
	if d.channel == nil {
		d.channel = ch
	}
	return d.channel, nil
}

func (d *UserDashboard) bind(ch realtime.Channel) {
	d.mu.Lock()
	if d.bound {
		d.mu.Unlock()
		return
	}
	d.bound = true
	d.mu.Unlock()

	name := ch.Name()
	ch.Bind(models.EventImageGenerated, func(data json.RawMessage) {
		var env models.GenerationEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			slog.Warn("malformed generation event", "channel", name, "error", err)
			return
		}
		d.HandleEvent(env.ImageData)
	})
	ch.Bind(realtime.EventSubscriptionSucceeded, func(json.RawMessage) {
		slog.Info("successfully subscribed", "channel", name)
	})
	ch.Bind(realtime.EventSubscriptionError, func(data json.RawMessage) {
		slog.Error("subscription error", "channel", name, "status", string(data))
	})
}

// HandleEvent applies one generation event: the progress takes the event's value and
// the URL, resolved against the backend, is appended. Duplicates are appended again.
func (d *UserDashboard) HandleEvent(ev models.GenerationEvent) {
	ev.URL = d.resolve(ev.URL)

	var uploadID string
	applied := false
	d.update(func() {
		if d.closed {
			return
		}
		applied = true
		d.progress = ev.Progress
		d.images = append(d.images, ev.URL)
		uploadID = d.uploadID
	})

	if applied && d.recorder != nil {
		ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
		defer cancel()
		if err := d.recorder.RecordGenerated(ctx, uploadID, d.userID, ev); err != nil {
			slog.Warn("failed to record generated image", "user_id", d.userID, "error", err)
		}
	}
}

// resolve makes a relative URL absolute against the backend. Anything else is
// returned unchanged.
func (d *UserDashboard) resolve(rawURL string) string {
	if d.baseURL == nil || rawURL == "" {
		return rawURL
	}
	ref, err := url.Parse(rawURL)
	if err != nil || ref.IsAbs() {
		return rawURL
	}
	return d.baseURL.ResolveReference(ref).String()
}

// Snapshot returns a copy of the current state.
func (d *UserDashboard) Snapshot() Snapshot {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.snapshotLocked()
}

// Watch returns a channel that always holds the latest snapshot, starting with the
// current one, and a function that stops watching.
func (d *UserDashboard) Watch() (<-chan Snapshot, func()) {
	d.mu.Lock()
	defer d.mu.Unlock()

	ch := make(chan Snapshot, 1)
	if d.closed {
		close(ch)
		return ch, func() {}
	}

	id := d.nextWatcher
	d.nextWatcher++
	d.watchers[id] = ch
	ch <- d.snapshotLocked()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			d.mu.Lock()
			defer d.mu.Unlock()
			if _, ok := d.watchers[id]; ok {
				delete(d.watchers, id)
				close(ch)
			}
		})
	}
}

// Close unmounts the view: the selection is dropped, the channel left and every
// watcher released.
func (d *UserDashboard) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.selection = nil
	ch := d.channel
	d.channel = nil
	for id, w := range d.watchers {
		delete(d.watchers, id)
		close(w)
	}
	d.mu.Unlock()

	if ch != nil {
		return ch.Unsubscribe()
	}
	return nil
}

func (d *UserDashboard) update(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()

	fn()
	d.version++
	snap := d.snapshotLocked()
	for _, w := range d.watchers {
		select {
		case <-w:
		default:
		}
		w <- snap
	}
}

func (d *UserDashboard) snapshotLocked() Snapshot {
	s := Snapshot{
		Version:           d.version,
		UserID:            d.userID,
		UploadStatus:      d.uploadStatus,
		ImageID:           d.imageID,
		Progress:          d.progress,
		IsGenerating:      d.generating,
		GenerationMessage: d.message,
		GeneratedImages:   append([]string(nil), d.images...),
	}
	if d.selection != nil {
		s.Filename = d.selection.Filename
		s.SelectionSize = d.selection.Size()
		s.Preview = d.selection.Preview
	}
	return s
}

func (d *UserDashboard) recordUpload(ctx context.Context, imageID int64, sel *models.Selection) string {
	if d.recorder == nil {
		return ""
	}
	id, err := d.recorder.RecordUpload(ctx, d.userID, imageID, sel.Filename, int64(sel.Size()))
	if err != nil {
		slog.WarnContext(ctx, "failed to record upload", "image_id", imageID, "error", err)
		return ""
	}
	return id
}

func (d *UserDashboard) setUploadStatus(uploadID, status, message string) {
	if d.recorder == nil || uploadID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()
	if err := d.recorder.SetUploadStatus(ctx, uploadID, status, message); err != nil {
		slog.Warn("failed to record upload status", "upload_id", uploadID, "error", err)
	}
}
