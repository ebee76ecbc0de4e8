package webhook

import (
	"context"
	"errors"
	"hash/fnv"
	"log/slog"
	"net"
	neturl "net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/net/publicsuffix"

	"github.com/target/smart-agent/internal/core"
	"github.com/target/smart-agent/internal/domain/model"
	"github.com/target/smart-agent/internal/observability/statsd"
)

const (
	defaultShards       = 4
	defaultQueueSize    = 128
	defaultSendTimeout  = 30 * time.Second
	defaultDrainTimeout = 5 * time.Second
)

type delivery struct {
	url     string
	payload model.WebhookPayload
}

// NotifierOptions configures a Notifier.
type NotifierOptions struct {
	Sender core.WebhookSender
	// DefaultURL is used for payloads queued without a url.
	DefaultURL string
	// Shards is the number of delivery goroutines. A job id always maps to the same shard.
	Shards    int
	QueueSize int
	// SendTimeout bounds one Send call including its retries.
	SendTimeout time.Duration
	// DrainTimeout bounds delivery of still-queued payloads after Run's context ends.
	DrainTimeout time.Duration
	Metrics      statsd.Sink
	Logger       *slog.Logger
}

// Notifier queues webhook payloads and delivers them in the background.
// Payloads for the same job id are delivered in the order they were queued.
type Notifier struct {
	sender       core.WebhookSender
	defaultURL   string
	queues       []chan delivery
	sendTimeout  time.Duration
	drainTimeout time.Duration
	metrics      statsd.Sink
	logger       *slog.Logger

	running atomic.Bool
	stopped atomic.Bool
}

var _ core.Notifier = (*Notifier)(nil)

// NewNotifier builds a Notifier. Call Run to start delivery.
func NewNotifier(opts NotifierOptions) (*Notifier, error) {
	if opts.Sender == nil {
		return nil, errors.New("webhook sender is required")
	}
	shards := opts.Shards
	if shards <= 0 {
		shards = defaultShards
	}
	size := opts.QueueSize
	if size <= 0 {
		size = defaultQueueSize
	}
	sendTimeout := opts.SendTimeout
	if sendTimeout <= 0 {
		sendTimeout = defaultSendTimeout
	}
	drainTimeout := opts.DrainTimeout
	if drainTimeout <= 0 {
		drainTimeout = defaultDrainTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	queues := make([]chan delivery, shards)
	for i := range queues {
		queues[i] = make(chan delivery, size)
	}
	return &Notifier{
		sender:       opts.Sender,
		defaultURL:   strings.TrimSpace(opts.DefaultURL),
		queues:       queues,
		sendTimeout:  sendTimeout,
		drainTimeout: drainTimeout,
		metrics:      opts.Metrics,
		logger:       logger.With("component", "webhook_notifier"),
	}, nil
}

// Notify queues payload without blocking. A full queue drops the payload with a warning.
func (n *Notifier) Notify(ctx context.Context, url string, payload model.WebhookPayload) {
	url = strings.TrimSpace(url)
	if url == "" {
		url = n.defaultURL
	}
	if url == "" {
		n.logger.DebugContext(ctx, "no webhook url; skipping notification", "job_id", payload.ID, "status", payload.Status)
		return
	}
	if n.stopped.Load() {
		n.logger.WarnContext(ctx, "notifier stopped; dropping notification", "job_id", payload.ID, "status", payload.Status)
		n.count("webhook.dropped", payload.Status, url)
		return
	}

	select {
	case n.queues[n.shard(payload.ID)] <- delivery{url: url, payload: payload}:
	default:
		n.logger.WarnContext(ctx, "webhook queue full; dropping notification", "job_id", payload.ID, "status", payload.Status)
		n.count("webhook.dropped", payload.Status, url)
	}
}

// Run delivers queued payloads until ctx is done, then drains what is left.
func (n *Notifier) Run(ctx context.Context) error {
	if !n.running.CompareAndSwap(false, true) {
		return errors.New("notifier already running")
	}
	var wg sync.WaitGroup
	for _, q := range n.queues {
		wg.Add(1)
		go func(q chan delivery) {
			defer wg.Done()
			n.consume(ctx, q)
		}(q)
	}
	wg.Wait()
	return nil
}

func (n *Notifier) consume(ctx context.Context, q chan delivery) {
	for {
		select {
		case <-ctx.Done():
			n.stopped.Store(true)
			n.drain(q)
			return
		case d := <-q:
			n.deliver(context.WithoutCancel(ctx), d, n.sendTimeout)
		}
	}
}

func (n *Notifier) drain(q chan delivery) {
	deadline := time.Now().Add(n.drainTimeout)
	for {
		select {
		case d := <-q:
			remaining := time.Until(deadline)
			if remaining <= 0 {
				n.logger.Warn("drain timeout; dropping notification", "job_id", d.payload.ID, "status", d.payload.Status)
				n.count("webhook.dropped", d.payload.Status, d.url)
				continue
			}
			n.deliver(context.Background(), d, min(remaining, n.sendTimeout))
		default:
			return
		}
	}
}

func (n *Notifier) deliver(ctx context.Context, d delivery, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	err := n.sender.Send(ctx, d.url, d.payload)
	if n.metrics != nil {
		n.metrics.Timing("webhook.send_duration", time.Since(start), map[string]string{
			"status":   string(d.payload.Status),
			"receiver": receiverDomain(d.url),
		})
	}
	if err != nil {
		n.logger.WarnContext(ctx, "webhook delivery failed",
			"job_id", d.payload.ID,
			"status", d.payload.Status,
			"receiver", receiverDomain(d.url),
			"error", err,
		)
		n.count("webhook.failed", d.payload.Status, d.url)
		return
	}
	n.count("webhook.delivered", d.payload.Status, d.url)
}

func (n *Notifier) shard(id string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return int(h.Sum32() % uint32(len(n.queues)))
}

func (n *Notifier) count(name string, status model.WebhookStatus, url string) {
	if n.metrics == nil {
		return
	}
	n.metrics.Count(name, 1, map[string]string{"status": string(status), "receiver": receiverDomain(url)})
}

// receiverDomain reduces a webhook url to its registrable domain so metric
// tags stay bounded when callers pass per-job urls. IPs and single-label hosts
// are returned as-is.
func receiverDomain(raw string) string {
	u, err := neturl.Parse(raw)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	host := strings.ToLower(u.Hostname())
	if net.ParseIP(host) != nil || !strings.Contains(host, ".") {
		return host
	}
	domain, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return host
	}
	return domain
}
