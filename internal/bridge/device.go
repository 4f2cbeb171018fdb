package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fyrsmithlabs/proctord/internal/fullscreen"
	"github.com/fyrsmithlabs/proctord/internal/logging"
	"github.com/fyrsmithlabs/proctord/internal/speech"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

const (
	// DefaultRequestTimeout bounds device requests without a ctx deadline.
	DefaultRequestTimeout = 5 * time.Second

	// maxSpeakDuration bounds a single narration request.
	maxSpeakDuration = 5 * time.Minute
)

// Reply codes sent by the device.
const (
	codePermissionDenied  = "permission_denied"
	codePermissionRevoked = "permission_revoked"
)

// ErrDeviceUnavailable is returned when no device answers for the session.
var ErrDeviceUnavailable = errors.New("candidate device not connected")

// DeviceError is an error reported by the device.
type DeviceError struct {
	Code    string
	Message string
}

func (e *DeviceError) Error() string {
	if e.Code == "" {
		return "device: " + e.Message
	}
	return fmt.Sprintf("device: %s: %s", e.Code, e.Message)
}

type reply struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
	Code  string `json:"code,omitempty"`
	Count int    `json:"count,omitempty"`
}

func (r reply) err() error {
	if r.Error == "" && r.Code == "" {
		return nil
	}
	return &DeviceError{Code: r.Code, Message: r.Error}
}

// Bridge hands out per-session devices on one NATS connection.
type Bridge struct {
	nc      *nats.Conn
	prefix  string
	timeout time.Duration
	logger  *logging.Logger
}

// New creates a bridge. An empty prefix means "proctor".
func New(nc *nats.Conn, prefix string, timeout time.Duration, logger *logging.Logger) *Bridge {
	if prefix == "" {
		prefix = "proctor"
	}
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Bridge{nc: nc, prefix: prefix, timeout: timeout, logger: logger.Named("bridge")}
}

// Device returns the device of one session.
func (b *Bridge) Device(sessionID string) *Device {
	return &Device{
		nc:        b.nc,
		root:      b.prefix + "." + sessionID,
		sessionID: sessionID,
		timeout:   b.timeout,
		logger:    b.logger,
	}
}

// Device is a remote candidate device. It implements speech.Recognizer,
// narration.Synthesizer, fullscreen.Presenter, fullscreen.DisplayProbe and
// proctor.MediaSession.
type Device struct {
	nc        *nats.Conn
	root      string
	sessionID string
	timeout   time.Duration
	logger    *logging.Logger
}

func (d *Device) subject(parts ...string) string {
	return d.root + "." + strings.Join(parts, ".")
}

// request sends in and decodes the reply. Without a ctx deadline the
// device timeout applies.
func (d *Device) request(ctx context.Context, subject string, in any) (reply, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	var data []byte
	if in != nil {
		var err error
		if data, err = json.Marshal(in); err != nil {
			return reply{}, fmt.Errorf("marshal %s: %w", subject, err)
		}
	}

	msg, err := d.nc.RequestWithContext(ctx, subject, data)
	if err != nil {
		if errors.Is(err, nats.ErrNoResponders) {
			return reply{}, fmt.Errorf("%w: %s", ErrDeviceUnavailable, subject)
		}
		return reply{}, fmt.Errorf("request %s: %w", subject, err)
	}

	var r reply
	if len(msg.Data) > 0 {
		if err := json.Unmarshal(msg.Data, &r); err != nil {
			return reply{}, fmt.Errorf("decode %s reply: %w", subject, err)
		}
	}
	return r, nil
}

// EnterFullScreen asks the device to enter full screen.
func (d *Device) EnterFullScreen(ctx context.Context) error {
	r, err := d.request(ctx, d.subject("fullscreen", "enter"), nil)
	if err != nil {
		return err
	}
	if r.Code == codePermissionDenied {
		return fmt.Errorf("%w: %s", fullscreen.ErrPermissionDenied, r.Error)
	}
	return r.err()
}

// DisplayCount reports how many displays the device has attached.
func (d *Device) DisplayCount(ctx context.Context) (int, error) {
	r, err := d.request(ctx, d.subject("display", "count"), nil)
	if err != nil {
		return 0, err
	}
	if err := r.err(); err != nil {
		return 0, err
	}
	return r.Count, nil
}

// StopTracks stops the device's audio and video capture.
func (d *Device) StopTracks(ctx context.Context) error {
	r, err := d.request(ctx, d.subject("media", "stop"), nil)
	if err != nil {
		return err
	}
	return r.err()
}

type speakRequest struct {
	Text   string `json:"text"`
	Locale string `json:"locale"`
}

// Speak plays text on the device and returns when playback ends. Cancelling
// ctx tells the device to stop.
func (d *Device) Speak(ctx context.Context, text, locale string) error {
	speakCtx, cancel := context.WithTimeout(ctx, maxSpeakDuration)
	defer cancel()

	r, err := d.request(speakCtx, d.subject("tts", "speak"), speakRequest{Text: text, Locale: locale})
	if err != nil {
		if ctx.Err() != nil {
			if perr := d.nc.Publish(d.subject("tts", "cancel"), nil); perr != nil {
				d.logger.Warn(ctx, "narration cancel not delivered", zap.Error(perr))
			}
			return ctx.Err()
		}
		return err
	}
	return r.err()
}

// Listen opens a recognition stream on the device.
func (d *Device) Listen(ctx context.Context, locale string) (speech.Stream, error) {
	return openStream(ctx, d, locale)
}
