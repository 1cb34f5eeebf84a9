// Package notify delivers new-product digests to subscribed users. A
// Dispatcher queues one job per scrape run and drains it with a small
// worker pool; delivery is at-least-once with capped retries.
package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Product is the slice of a stored product a digest needs.
type Product struct {
	Name         string
	Manufacturer string
	ImageURL     string
	ReleaseDate  string
	Price        *int
	SourceURL    string
}

// Recipient is one subscribed user.
type Recipient struct {
	Email    string
	Username string
}

// Sender delivers one rendered message.
type Sender interface {
	Send(ctx context.Context, to Recipient, subject, htmlBody string) error
}

// UserSource lists the users who opted into notifications.
type UserSource interface {
	ListNotificationEnabled(ctx context.Context) ([]Recipient, error)
}

type job struct {
	site     string
	products []Product
}

// Config carries the dispatcher tunables.
type Config struct {
	Workers     int
	QueueSize   int
	MaxAttempts int
	Backoff     time.Duration // doubled after each failed attempt
	SendTimeout time.Duration
}

func (c *Config) defaults() {
	if c.Workers == 0 {
		c.Workers = 2
	}
	if c.QueueSize == 0 {
		c.QueueSize = 64
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = 3
	}
	if c.Backoff == 0 {
		c.Backoff = time.Second
	}
	if c.SendTimeout == 0 {
		c.SendTimeout = 30 * time.Second
	}
}

// Dispatcher fans new-product digests out to subscribed users.
type Dispatcher struct {
	sender    Sender
	users     UserSource
	logger    *slog.Logger
	cfg       Config
	queue     chan job
	wg        sync.WaitGroup
	closeOnce sync.Once
	onFailure func() // called when a delivery exhausts retries
}

// Option customises a Dispatcher.
type Option func(*Dispatcher)

// WithFailureHook registers a callback fired when a delivery exhausts its
// retries. Used to wire the metrics counter.
func WithFailureHook(fn func()) Option {
	return func(d *Dispatcher) { d.onFailure = fn }
}

// NewDispatcher creates a Dispatcher; call Start to launch the workers.
func NewDispatcher(sender Sender, users UserSource, logger *slog.Logger, cfg Config, opts ...Option) *Dispatcher {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		sender: sender,
		users:  users,
		logger: logger,
		cfg:    cfg,
		queue:  make(chan job, cfg.QueueSize),
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Start launches the worker pool. Workers exit when Close is called and
// the queue is drained, or immediately when ctx is cancelled.
func (d *Dispatcher) Start(ctx context.Context) {
	for range d.cfg.Workers {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case j, ok := <-d.queue:
					if !ok {
						return
					}
					d.deliver(ctx, j)
				}
			}
		}()
	}
}

// Close stops accepting jobs and waits for in-flight deliveries.
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() { close(d.queue) })
	d.wg.Wait()
}

// Enqueue queues one digest job. A full queue drops the job with a log
// line rather than blocking the scrape pipeline.
func (d *Dispatcher) Enqueue(site string, products []Product) {
	if len(products) == 0 {
		return
	}
	select {
	case d.queue <- job{site: site, products: products}:
	default:
		d.logger.Warn("notify: queue full, digest dropped", "site", site, "products", len(products))
	}
}

// deliver renders and sends the digest to every subscribed user.
func (d *Dispatcher) deliver(ctx context.Context, j job) {
	recipients, err := d.users.ListNotificationEnabled(ctx)
	if err != nil {
		d.logger.Error("notify: list recipients", "error", err)
		d.failed()
		return
	}
	if len(recipients) == 0 {
		return
	}

	subject, body, err := RenderDigest(j.site, j.products)
	if err != nil {
		d.logger.Error("notify: render digest", "site", j.site, "error", err)
		d.failed()
		return
	}

	for _, rcpt := range recipients {
		d.sendWithRetry(ctx, rcpt, subject, body)
	}
}

// sendWithRetry attempts one delivery with exponential backoff.
func (d *Dispatcher) sendWithRetry(ctx context.Context, rcpt Recipient, subject, body string) {
	backoff := d.cfg.Backoff
	for attempt := 1; attempt <= d.cfg.MaxAttempts; attempt++ {
		sendCtx, cancel := context.WithTimeout(ctx, d.cfg.SendTimeout)
		err := d.sender.Send(sendCtx, rcpt, subject, body)
		cancel()
		if err == nil {
			return
		}
		d.logger.Warn("notify: send failed",
			"to", rcpt.Email, "attempt", attempt, "error", err)
		if attempt == d.cfg.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	d.logger.Error("notify: delivery abandoned", "to", rcpt.Email)
	d.failed()
}

func (d *Dispatcher) failed() {
	if d.onFailure != nil {
		d.onFailure()
	}
}
