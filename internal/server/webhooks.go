package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"specline/internal/config"
	"specline/internal/domain"
	"specline/internal/events"
)

const (
	defaultWebhookInterval = 2 * time.Second
	defaultWebhookTimeout  = 5 * time.Second
	defaultWebhookBatch    = 100
	defaultWebhookAttempts = 4
)

// WebhookDispatcher delivers journal events to configured URLs. Each hook
// keeps its position in the webhook_cursors table, so restarts resume where
// delivery stopped.
type WebhookDispatcher struct {
	Reader   events.Reader
	Cursors  events.Cursors
	Webhooks []config.WebhookConfig
	Project  string
	Logger   *slog.Logger
	Interval time.Duration
	// Backoff builds the retry policy for one delivery; nil uses an
	// exponential policy capped at defaultWebhookAttempts tries.
	Backoff func() backoff.BackOff
	client  *http.Client
}

func (d *WebhookDispatcher) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

// Run polls the journal until ctx is done.
func (d *WebhookDispatcher) Run(ctx context.Context) error {
	if len(d.Webhooks) == 0 {
		return nil
	}
	interval := d.Interval
	if interval <= 0 {
		interval = defaultWebhookInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		d.DispatchAll(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// DispatchAll runs one delivery pass over every enabled hook.
func (d *WebhookDispatcher) DispatchAll(ctx context.Context) {
	for i, hook := range d.Webhooks {
		if !hook.IsEnabled() || strings.TrimSpace(hook.URL) == "" {
			continue
		}
		d.dispatchWebhook(ctx, cursorName(i, hook), hook)
	}
}

func cursorName(idx int, hook config.WebhookConfig) string {
	return fmt.Sprintf("webhook:%d:%s", idx, hook.URL)
}

func (d *WebhookDispatcher) dispatchWebhook(ctx context.Context, name string, hook config.WebhookConfig) {
	cursor, err := d.cursorFor(ctx, name)
	if err != nil {
		d.logger().Warn("webhook cursor unavailable", "url", hook.URL, "err", err)
		return
	}
	evts, err := d.Reader.List(ctx, events.Query{AfterSeq: cursor, Limit: defaultWebhookBatch})
	if err != nil {
		d.logger().Warn("webhook fetch events failed", "err", err)
		return
	}
	filter := newEventFilter(hook.Events)
	for _, evt := range evts {
		if filter.match(evt.Type) {
			if err := d.deliver(ctx, hook, evt); err != nil {
				d.logger().Warn("webhook delivery failed", "url", hook.URL, "seq", evt.Seq, "err", err)
				return
			}
		}
		if err := d.Cursors.Set(ctx, name, evt.Seq); err != nil {
			d.logger().Warn("webhook cursor update failed", "url", hook.URL, "err", err)
			return
		}
	}
}

// cursorFor starts a new hook at the end of the journal.
func (d *WebhookDispatcher) cursorFor(ctx context.Context, name string) (int64, error) {
	cur, ok, err := d.Cursors.Get(ctx, name)
	if err != nil || ok {
		return cur, err
	}
	cur, err = d.Reader.Latest(ctx)
	if err != nil {
		return 0, err
	}
	return cur, d.Cursors.Set(ctx, name, cur)
}

type webhookEvent struct {
	Seq        int64           `json:"seq"`
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	Project    string          `json:"project"`
	SpecID     string          `json:"spec_id,omitempty"`
	Actor      string          `json:"actor"`
	TS         string          `json:"ts"`
	Payload    json.RawMessage `json:"payload"`
	PayloadRaw string          `json:"payload_raw,omitempty"`
}

func (d *WebhookDispatcher) deliver(ctx context.Context, hook config.WebhookConfig, evt domain.Event) error {
	var b backoff.BackOff
	if d.Backoff != nil {
		b = d.Backoff()
	} else {
		exp := backoff.NewExponentialBackOff()
		exp.InitialInterval = 200 * time.Millisecond
		exp.MaxInterval = 5 * time.Second
		b = backoff.WithMaxRetries(exp, defaultWebhookAttempts-1)
	}
	return backoff.Retry(func() error {
		return d.postEvent(ctx, hook, evt)
	}, backoff.WithContext(b, ctx))
}

func (d *WebhookDispatcher) postEvent(ctx context.Context, hook config.WebhookConfig, evt domain.Event) error {
	payload := json.RawMessage([]byte("{}"))
	var raw string
	if evt.Payload != "" {
		if json.Valid([]byte(evt.Payload)) {
			payload = json.RawMessage([]byte(evt.Payload))
		} else {
			raw = evt.Payload
		}
	}
	data, err := json.Marshal(webhookEvent{
		Seq:        evt.Seq,
		ID:         evt.ID,
		Type:       evt.Type,
		Project:    d.Project,
		SpecID:     evt.SpecID,
		Actor:      evt.Actor,
		TS:         evt.TS,
		Payload:    payload,
		PayloadRaw: raw,
	})
	if err != nil {
		return backoff.Permanent(err)
	}
	timeout := defaultWebhookTimeout
	if hook.TimeoutSeconds > 0 {
		timeout = time.Duration(hook.TimeoutSeconds) * time.Second
	}
	if d.client == nil || d.client.Timeout != timeout {
		d.client = &http.Client{Timeout: timeout}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(data))
	if err != nil {
		return backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Specline-Event", evt.Type)
	req.Header.Set("X-Specline-Delivery", evt.ID)
	if d.Project != "" {
		req.Header.Set("X-Specline-Project", d.Project)
	}
	if strings.TrimSpace(hook.Secret) != "" {
		req.Header.Set("X-Specline-Secret", hook.Secret)
	}
	res, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		err := fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
		if res.StatusCode >= 400 && res.StatusCode < 500 && res.StatusCode != http.StatusTooManyRequests {
			return backoff.Permanent(err)
		}
		return err
	}
	return nil
}

type eventFilter struct {
	all bool
	set map[string]struct{}
}

func newEventFilter(events []string) eventFilter {
	if len(events) == 0 {
		return eventFilter{all: true}
	}
	set := make(map[string]struct{}, len(events))
	for _, evt := range events {
		key := strings.TrimSpace(evt)
		if key == "" {
			continue
		}
		set[key] = struct{}{}
	}
	if len(set) == 0 {
		return eventFilter{all: true}
	}
	return eventFilter{set: set}
}

func (f eventFilter) match(evt string) bool {
	if f.all {
		return true
	}
	_, ok := f.set[evt]
	return ok
}
