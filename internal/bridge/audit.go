package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/proctord/internal/violation"
	"github.com/nats-io/nats.go/jetstream"
)

// DefaultDuplicateWindow is how long JetStream remembers message ids.
const DefaultDuplicateWindow = 10 * time.Minute

// AuditSink publishes integrity events to a JetStream stream. A publish
// succeeds only once the stream acknowledged it; redeliveries carry the same
// Nats-Msg-Id and are dropped by the server.
type AuditSink struct {
	js      jetstream.JetStream
	subject string
}

// NewAuditSink creates or updates the stream and returns a sink publishing
// to <prefix>.audit.<session>.
func NewAuditSink(ctx context.Context, js jetstream.JetStream, streamName, prefix string) (*AuditSink, error) {
	if prefix == "" {
		prefix = "proctor"
	}
	subject := prefix + ".audit"
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:        streamName,
		Description: "proctored session integrity events",
		Subjects:    []string{subject + ".>"},
		Storage:     jetstream.FileStorage,
		Duplicates:  DefaultDuplicateWindow,
	})
	if err != nil {
		return nil, fmt.Errorf("ensure audit stream %s: %w", streamName, err)
	}
	return &AuditSink{js: js, subject: subject}, nil
}

// LogIntegrityEvent implements violation.AuditSink.
func (a *AuditSink) LogIntegrityEvent(ctx context.Context, ev violation.AuditEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}
	if _, err := a.js.Publish(ctx, a.subject+"."+ev.SessionID, data, jetstream.WithMsgID(ev.ID)); err != nil {
		return fmt.Errorf("publish audit event: %w", err)
	}
	return nil
}
