package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/fyrsmithlabs/proctord/internal/speech"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

type streamStart struct {
	StreamID string `json:"stream_id"`
	Locale   string `json:"locale"`
}

type streamStop struct {
	StreamID string `json:"stream_id"`
}

// streamMsg is one message the device publishes on the stream subject.
// End closes the stream; Code "permission_revoked" means the microphone
// permission was withdrawn.
type streamMsg struct {
	Text  string `json:"text"`
	Final bool   `json:"final"`
	End   bool   `json:"end,omitempty"`
	Error string `json:"error,omitempty"`
	Code  string `json:"code,omitempty"`
}

type stream struct {
	device *Device
	id     string
	sub    *nats.Subscription

	results chan speech.Recognition
	stop    chan struct{}
	once    sync.Once

	mu   sync.Mutex
	done bool
	err  error
}

func openStream(ctx context.Context, d *Device, locale string) (*stream, error) {
	s := &stream{
		device:  d,
		id:      uuid.NewString(),
		results: make(chan speech.Recognition, 32),
		stop:    make(chan struct{}),
	}

	sub, err := d.nc.Subscribe(d.subject("stt", s.id), s.onMsg)
	if err != nil {
		return nil, fmt.Errorf("subscribe recognition stream: %w", err)
	}
	s.sub = sub

	r, err := d.request(ctx, d.subject("stt", "start"), streamStart{StreamID: s.id, Locale: locale})
	if err == nil {
		err = r.err()
		if r.Code == codePermissionDenied || r.Code == codePermissionRevoked {
			err = fmt.Errorf("%w: %s", speech.ErrPermissionRevoked, r.Error)
		}
	}
	if err != nil {
		_ = sub.Unsubscribe()
		return nil, err
	}

	go func() {
		select {
		case <-ctx.Done():
			s.finish(nil)
		case <-s.stop:
		}
	}()
	return s, nil
}

func (s *stream) onMsg(msg *nats.Msg) {
	var m streamMsg
	if err := json.Unmarshal(msg.Data, &m); err != nil {
		s.device.logger.Warn(context.Background(), "malformed recognition message", zap.Error(err))
		return
	}

	if m.End {
		var err error
		switch {
		case m.Code == codePermissionRevoked:
			err = speech.ErrPermissionRevoked
		case m.Error != "":
			err = &DeviceError{Code: m.Code, Message: m.Error}
		}
		s.finish(err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return
	}
	select {
	case s.results <- speech.Recognition{Text: m.Text, Final: m.Final}:
	case <-s.stop:
	}
}

func (s *stream) finish(err error) {
	s.once.Do(func() {
		close(s.stop)
		s.mu.Lock()
		s.done = true
		s.err = err
		close(s.results)
		s.mu.Unlock()
	})
}

func (s *stream) Results() <-chan speech.Recognition { return s.results }

func (s *stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close ends the stream and tells the device to stop capturing.
func (s *stream) Close() error {
	s.finish(nil)
	data, _ := json.Marshal(streamStop{StreamID: s.id})
	return errors.Join(
		s.sub.Unsubscribe(),
		s.device.nc.Publish(s.device.subject("stt", "stop"), data),
	)
}
