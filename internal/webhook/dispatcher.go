package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/siwaht/EchoSenseiX-sub003/internal/model"
)

// Envelope is the wire format delivered to every subscribed endpoint
type Envelope struct {
	Event     string      `json:"event"`
	Timestamp string      `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// Dispatcher delivers task lifecycle events to registered endpoints.
// Deliveries are best-effort: each subscriber is attempted independently and
// a failure is only visible through the registry's failure_count.
type Dispatcher struct {
	registry  *Registry
	client    *http.Client
	logger    *logrus.Entry
	sigHeader string
}

// NewDispatcher creates a dispatcher. The client's Timeout bounds each
// delivery attempt.
func NewDispatcher(registry *Registry, client *http.Client, logger *logrus.Entry, sigHeader string) *Dispatcher {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	if sigHeader == "" {
		sigHeader = "X-Webhook-Signature"
	}
	return &Dispatcher{
		registry:  registry,
		client:    client,
		logger:    logger.WithField("component", "webhook-dispatcher"),
		sigHeader: sigHeader,
	}
}

// Dispatch resolves the subscribers for an event and posts the envelope to
// each of them concurrently, returning once every attempt has resolved.
// Individual delivery failures are recorded and logged, never returned; the
// only error path is subscriber resolution itself.
func (d *Dispatcher) Dispatch(ctx context.Context, event string, data interface{}) error {
	subscribers, err := d.registry.ListActiveSubscribers(ctx, event)
	if err != nil {
		return fmt.Errorf("failed to resolve subscribers for %s: %w", event, err)
	}
	if len(subscribers) == 0 {
		return nil
	}

	body, err := json.Marshal(Envelope{
		Event:     event,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Data:      data,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal event envelope: %w", err)
	}

	var wg sync.WaitGroup
	for i := range subscribers {
		wh := subscribers[i]
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.attempt(ctx, &wh, event, body)
		}()
	}
	wg.Wait()
	return nil
}

// DispatchTo delivers a single event to one endpoint, bypassing subscription
// resolution. Used by the admin "test webhook" operation, which needs the
// delivery outcome surfaced. Bookkeeping is updated like any other attempt.
func (d *Dispatcher) DispatchTo(ctx context.Context, wh *model.ApprovalWebhook, event string, data interface{}) error {
	body, err := json.Marshal(Envelope{
		Event:     event,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Data:      data,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal event envelope: %w", err)
	}
	return d.attempt(ctx, wh, event, body)
}

// attempt posts the body to one endpoint and updates its bookkeeping
func (d *Dispatcher) attempt(ctx context.Context, wh *model.ApprovalWebhook, event string, body []byte) error {
	err := d.deliver(ctx, wh, body)
	if err != nil {
		d.logger.WithFields(logrus.Fields{
			"webhook": wh.ID,
			"name":    wh.Name,
			"event":   event,
		}).Warnf("Delivery failed: %v", err)
		if recErr := d.registry.RecordFailure(ctx, wh.ID); recErr != nil {
			d.logger.WithField("webhook", wh.ID).Errorf("Failed to record delivery failure: %v", recErr)
		}
		return err
	}

	if recErr := d.registry.RecordSuccess(ctx, wh.ID, time.Now().UTC()); recErr != nil {
		d.logger.WithField("webhook", wh.ID).Errorf("Failed to record delivery success: %v", recErr)
	}
	return nil
}

func (d *Dispatcher) deliver(ctx context.Context, wh *model.ApprovalWebhook, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, wh.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}

	for k, v := range wh.HeaderMap() {
		req.Header.Set(k, v)
	}
	req.Header.Set("Content-Type", "application/json")
	if wh.Secret != "" {
		req.Header.Set(d.sigHeader, Sign(wh.Secret, body))
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("endpoint returned status %d", resp.StatusCode)
	}
	return nil
}
