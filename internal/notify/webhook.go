// Package notify posts the outcome of rotation passes to webhooks.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"text/template"
	"time"

	"github.com/juju/clock"
	"github.com/juju/retry"

	"github.com/systmms/credrotate/internal/config"
	"github.com/systmms/credrotate/internal/logging"
	"github.com/systmms/credrotate/pkg/rotation"
)

const (
	defaultTimeout  = 10 * time.Second
	defaultAttempts = 3
	defaultDelay    = time.Second
)

// Event describes one finished pass. It never carries secret material.
type Event struct {
	Spec          string        `json:"spec"`
	Status        string        `json:"status"`
	Binding       string        `json:"binding,omitempty"`
	Promoted      bool          `json:"promoted"`
	OldCredential string        `json:"old_credential,omitempty"`
	NewCredential string        `json:"new_credential,omitempty"`
	Steps         int           `json:"steps"`
	Duration      time.Duration `json:"-"`
	Error         string        `json:"error,omitempty"`
	Timestamp     time.Time     `json:"timestamp"`
}

// FromResult builds the event of a pass. res may be nil when the pass failed
// before planning.
func FromResult(spec string, res *rotation.Result, passErr error, now time.Time) Event {
	ev := Event{Spec: spec, Status: rotation.StatusFailed, Timestamp: now.UTC()}
	if res != nil {
		ev.Status = res.Status
		ev.Binding = string(res.Binding)
		ev.Promoted = res.Promoted
		ev.OldCredential = res.OldCredential
		ev.NewCredential = res.NewCredential
		ev.Steps = len(res.Steps)
		ev.Duration = res.Duration
	}
	if passErr != nil {
		ev.Status = rotation.StatusFailed
		ev.Error = passErr.Error()
	}
	return ev
}

// Options tunes a Webhook beyond its configuration.
type Options struct {
	Client *http.Client
	Clock  clock.Clock
}

// Webhook delivers events to one endpoint.
type Webhook struct {
	name     string
	url      string
	method   string
	headers  map[string]string
	events   map[string]bool
	template *template.Template
	attempts int
	delay    time.Duration
	client   *http.Client
	clock    clock.Clock
}

// New creates a webhook from configuration.
func New(cfg config.WebhookConfig, opts Options) (*Webhook, error) {
	w := &Webhook{
		name:     cfg.Name,
		url:      cfg.URL,
		method:   strings.ToUpper(cfg.Method),
		headers:  cfg.Headers,
		events:   map[string]bool{},
		attempts: cfg.Attempts,
		delay:    cfg.Delay.Std(),
		client:   opts.Client,
		clock:    opts.Clock,
	}
	if w.name == "" {
		w.name = cfg.URL
	}
	if w.method == "" {
		w.method = http.MethodPost
	}
	if w.attempts == 0 {
		w.attempts = defaultAttempts
	}
	if w.delay == 0 {
		w.delay = defaultDelay
	}
	if w.clock == nil {
		w.clock = clock.WallClock
	}
	if w.client == nil {
		timeout := defaultTimeout
		if cfg.TimeoutMs > 0 {
			timeout = time.Duration(cfg.TimeoutMs) * time.Millisecond
		}
		w.client = &http.Client{Timeout: timeout}
	}

	events := cfg.Events
	if len(events) == 0 {
		events = []string{rotation.StatusSuccess, rotation.StatusFailed}
	}
	for _, e := range events {
		w.events[e] = true
	}

	if cfg.PayloadTemplate != "" {
		tmpl, err := template.New(w.name).Option("missingkey=error").Parse(cfg.PayloadTemplate)
		if err != nil {
			return nil, fmt.Errorf("webhook %s: invalid payload template: %w", w.name, err)
		}
		w.template = tmpl
	}
	return w, nil
}

// Name identifies the webhook in logs.
func (w *Webhook) Name() string {
	return w.name
}

// Wants reports whether events with status are delivered.
func (w *Webhook) Wants(status string) bool {
	return w.events[status]
}

// errPermanent marks responses that retrying cannot fix.
var errPermanent = errors.New("permanent webhook failure")

// Send delivers ev, retrying transport errors and 5xx or 429 responses.
func (w *Webhook) Send(ctx context.Context, ev Event) error {
	if !w.Wants(ev.Status) {
		return nil
	}
	body, err := w.payload(ev)
	if err != nil {
		return err
	}

	var lastErr error
	err = retry.Call(retry.CallArgs{
		Func: func() error {
			lastErr = w.post(ctx, body)
			return lastErr
		},
		IsFatalError: func(err error) bool {
			return errors.Is(err, errPermanent)
		},
		Attempts:    w.attempts,
		Delay:       w.delay,
		BackoffFunc: retry.DoubleDelay,
		Clock:       w.clock,
		Stop:        ctx.Done(),
	})
	if err != nil {
		if lastErr != nil {
			err = lastErr
		}
		return fmt.Errorf("webhook %s: %w", w.name, err)
	}
	return nil
}

func (w *Webhook) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, w.method, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: %v", errPermanent, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "credrotate")
	for key, value := range w.headers {
		req.Header.Set(key, value)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	default:
		return fmt.Errorf("%w: status %d", errPermanent, resp.StatusCode)
	}
}

func (w *Webhook) payload(ev Event) ([]byte, error) {
	if w.template == nil {
		return json.Marshal(defaultPayload{Event: ev, DurationSeconds: ev.Duration.Seconds()})
	}
	var buf bytes.Buffer
	if err := w.template.Execute(&buf, ev); err != nil {
		return nil, fmt.Errorf("webhook %s: rendering payload: %w", w.name, err)
	}
	return buf.Bytes(), nil
}

type defaultPayload struct {
	Event
	DurationSeconds float64 `json:"duration_seconds"`
}

// Notifier fans events out to every configured webhook. Delivery failures
// are logged and never fail the pass.
type Notifier struct {
	hooks  []*Webhook
	logger *logging.Logger
}

// NewNotifier creates webhooks for each configuration entry.
func NewNotifier(cfgs []config.WebhookConfig, opts Options, logger *logging.Logger) (*Notifier, error) {
	n := &Notifier{logger: logger}
	for _, cfg := range cfgs {
		w, err := New(cfg, opts)
		if err != nil {
			return nil, err
		}
		n.hooks = append(n.hooks, w)
	}
	return n, nil
}

// Notify sends ev to every webhook that wants it.
func (n *Notifier) Notify(ctx context.Context, ev Event) {
	if n == nil {
		return
	}
	for _, w := range n.hooks {
		if err := w.Send(ctx, ev); err != nil {
			n.logger.Warn("%s: notification failed: %v", ev.Spec, err)
			continue
		}
		if w.Wants(ev.Status) {
			n.logger.Debug("%s: notified %s of %s pass", ev.Spec, w.Name(), ev.Status)
		}
	}
}
