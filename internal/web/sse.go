package web

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/manash/vardash/internal/dashboard"
)

// sseEvent is the envelope of every frame on /events.
type sseEvent struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

type snapshotPayload struct {
	Version           uint64   `json:"version"`
	Filename          string   `json:"filename,omitempty"`
	UploadStatus      string   `json:"uploadStatus"`
	Progress          float64  `json:"progress"`
	IsGenerating      bool     `json:"isGenerating"`
	GenerationMessage string   `json:"generationMessage"`
	GeneratedImages   []string `json:"generatedImages"`
}

func newSnapshotPayload(s dashboard.Snapshot) snapshotPayload {
	images := s.GeneratedImages
	if images == nil {
		images = []string{}
	}
	return snapshotPayload{
		Version:           s.Version,
		Filename:          s.Filename,
		UploadStatus:      s.UploadStatus,
		Progress:          s.Progress,
		IsGenerating:      s.IsGenerating,
		GenerationMessage: s.GenerationMessage,
		GeneratedImages:   images,
	}
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	v, ok := s.userView(w, r)
	if !ok {
		return
	}
	sid, _ := s.session(r).Values[keySessionID].(string)
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	updates, stop := v.dash.Watch()
	defer stop()

	// an open stream counts as activity, so the heartbeat also keeps the view mounted
	heartbeat := time.NewTicker(s.opts.Heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			s.touch(sid, v)
			if _, err := io.WriteString(w, ": ping\n\n"); err != nil {
				return
			}
		case snap, open := <-updates:
			if !open {
				writeEvent(w, sseEvent{Type: "closed"})
				flusher.Flush()
				return
			}
			if err := writeEvent(w, sseEvent{Type: "snapshot", Data: newSnapshotPayload(snap)}); err != nil {
				slog.DebugContext(r.Context(), "event stream closed", "error", err)
				return
			}
		}
		flusher.Flush()
	}
}

func writeEvent(w io.Writer, ev sseEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}
