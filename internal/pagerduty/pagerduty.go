// Package pagerduty sends trigger and resolve events to the PagerDuty
// Events API v2.
package pagerduty

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"
	"unicode/utf8"
)

// maxSummaryLen is the Events API limit on payload.summary.
const maxSummaryLen = 1024

type Options struct {
	RoutingKey   string
	EventsAPIURL string
	Source       string
	Severity     string
	DryRun       bool
	Timeout      time.Duration
}

// Client is safe for concurrent use; the feed and the process monitor
// share one instance.
type Client struct {
	opts Options
	http *http.Client
}

func NewClient(opts Options) *Client {
	return &Client{
		opts: opts,
		http: &http.Client{Timeout: opts.Timeout},
	}
}

type event struct {
	RoutingKey  string   `json:"routing_key"`
	EventAction string   `json:"event_action"`
	DedupKey    string   `json:"dedup_key"`
	Payload     *payload `json:"payload,omitempty"`
}

type payload struct {
	Summary       string `json:"summary"`
	Source        string `json:"source"`
	Severity      string `json:"severity"`
	CustomDetails any    `json:"custom_details,omitempty"`
}

// Trigger opens (or re-notifies) the incident identified by dedupKey.
func (c *Client) Trigger(ctx context.Context, dedupKey, summary string, details any) error {
	if c.opts.DryRun {
		log.Printf("[pagerduty] dry-run: trigger dedup_key=%s summary=%q", dedupKey, summary)
		return nil
	}
	return c.enqueue(ctx, event{
		RoutingKey:  c.opts.RoutingKey,
		EventAction: "trigger",
		DedupKey:    dedupKey,
		Payload: &payload{
			Summary:       truncate(summary, maxSummaryLen),
			Source:        c.opts.Source,
			Severity:      c.opts.Severity,
			CustomDetails: details,
		},
	})
}

// Resolve closes the incident identified by dedupKey.
func (c *Client) Resolve(ctx context.Context, dedupKey string) error {
	if c.opts.DryRun {
		log.Printf("[pagerduty] dry-run: resolve dedup_key=%s", dedupKey)
		return nil
	}
	return c.enqueue(ctx, event{
		RoutingKey:  c.opts.RoutingKey,
		EventAction: "resolve",
		DedupKey:    dedupKey,
	})
}

func (c *Client) enqueue(ctx context.Context, ev event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("pagerduty: marshal %s event: %w", ev.EventAction, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.opts.EventsAPIURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("pagerduty: %s %s: %w", ev.EventAction, ev.DedupKey, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("pagerduty: %s %s: %w", ev.EventAction, ev.DedupKey, err)
	}
	defer resp.Body.Close()

	// The Events API acknowledges with 202 and nothing else.
	if resp.StatusCode != http.StatusAccepted {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("pagerduty: %s %s: http %d: %s",
			ev.EventAction, ev.DedupKey, resp.StatusCode, bytes.TrimSpace(detail))
	}
	return nil
}

// truncate shortens s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
