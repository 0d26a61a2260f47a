// Package webhook posts relayed messages to the configured ingestion
// endpoint. Delivery is best effort: one attempt, failures are logged.
package webhook

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"mentionrelay/internal/metrics"
)

const (
	HeaderSecret         = "x-webhook-secret"
	HeaderIdempotencyKey = "x-idempotency-key"

	maxLoggedBody = 512
)

// Config configures a Relay.
type Config struct {
	URL       string
	Secret    string // sent as x-webhook-secret when non-empty
	UserAgent string
	Logger    *slog.Logger

	// OnFailure, if set, is called after a failed delivery.
	OnFailure func(p Payload, status int, err error)
}

// Relay delivers payloads to a single webhook URL.
type Relay struct {
	url       string
	client    *resty.Client
	logger    *slog.Logger
	onFailure func(Payload, int, error)
}

func New(cfg Config) *Relay {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	client := resty.NewWithClient(pooledHTTPClient())
	client.SetHeader("Content-Type", "application/json")
	if cfg.UserAgent != "" {
		client.SetHeader("User-Agent", cfg.UserAgent)
	}
	if cfg.Secret != "" {
		client.SetHeader(HeaderSecret, cfg.Secret)
	}
	return &Relay{
		url:       cfg.URL,
		client:    client,
		logger:    cfg.Logger,
		onFailure: cfg.OnFailure,
	}
}

// Deliver posts p once. It never returns an error and never retries.
func (r *Relay) Deliver(ctx context.Context, p Payload) {
	start := time.Now()
	resp, err := r.client.R().
		SetContext(ctx).
		SetHeader(HeaderIdempotencyKey, p.IdempotencyKey()).
		SetBody(p).
		Post(r.url)
	metrics.WebhookLatency.Observe(time.Since(start).Seconds())

	if err != nil {
		r.logger.Error("webhook delivery failed",
			"message_id", p.MessageID,
			"group", p.GroupID,
			"err", err,
		)
		r.fail(p, 0, err)
		return
	}

	if resp.IsError() || resp.StatusCode() < 200 || resp.StatusCode() > 299 {
		r.logger.Warn("webhook returned non-2xx",
			"message_id", p.MessageID,
			"status", resp.StatusCode(),
			"body", truncate(resp.String(), maxLoggedBody),
		)
		r.fail(p, resp.StatusCode(), nil)
		return
	}

	r.logger.Debug("webhook delivered",
		"message_id", p.MessageID,
		"status", resp.StatusCode(),
		"elapsed", resp.Time(),
	)
}

func (r *Relay) fail(p Payload, status int, err error) {
	metrics.WebhookFailures.Inc()
	if r.onFailure != nil {
		r.onFailure(p, status, err)
	}
}

// pooledHTTPClient keeps connections to the ingestion host alive between
// deliveries. No overall request deadline is set.
func pooledHTTPClient() *http.Client {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        20,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &http.Client{Transport: transport}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
