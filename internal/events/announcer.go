// Package events announces build and scan outcomes on NATS for downstream
// telemetry. Announcements are optional and strictly fire-and-forget.
package events

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/ghostpub/ghostd/internal/logfields"
)

const (
	SubjectBuildCompleted = "ghost.build.completed"
	SubjectScanCompleted  = "ghost.scan.completed"
)

// BuildCompleted is published after every admitted build attempt.
type BuildCompleted struct {
	BuildID    string    `json:"build_id"`
	Success    bool      `json:"success"`
	Commit     string    `json:"commit,omitempty"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// ScanCompleted is published after every availability scan.
type ScanCompleted struct {
	ScanID     string    `json:"scan_id"`
	Full       bool      `json:"full"`
	Probed     int       `json:"probed"`
	Changed    int       `json:"changed"`
	FinishedAt time.Time `json:"finished_at"`
}

// Announcer publishes outcome events. A nil Announcer is valid and silent.
type Announcer struct {
	conn *nats.Conn
}

// Connect dials NATS. An empty URL disables announcements (returns nil).
func Connect(url string) (*Announcer, error) {
	if url == "" {
		return nil, nil
	}
	conn, err := nats.Connect(url,
		nats.Name("ghostd"),
		nats.Timeout(5*time.Second),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	slog.Info("Connected to NATS for outcome announcements", logfields.URL(url))
	return &Announcer{conn: conn}, nil
}

// Close drains the connection.
func (a *Announcer) Close() {
	if a == nil || a.conn == nil {
		return
	}
	_ = a.conn.Drain()
}

// AnnounceBuild publishes a build outcome.
func (a *Announcer) AnnounceBuild(ev BuildCompleted) {
	a.publish(SubjectBuildCompleted, ev)
}

// AnnounceScan publishes a scan outcome.
func (a *Announcer) AnnounceScan(ev ScanCompleted) {
	a.publish(SubjectScanCompleted, ev)
}

func (a *Announcer) publish(subject string, ev any) {
	if a == nil || a.conn == nil {
		return
	}
	data, err := json.Marshal(ev)
	if err != nil {
		slog.Warn("Failed to encode event", logfields.Error(err))
		return
	}
	if err := a.conn.Publish(subject, data); err != nil {
		slog.Warn("Failed to publish event",
			slog.String("subject", subject),
			logfields.Error(err))
	}
}
