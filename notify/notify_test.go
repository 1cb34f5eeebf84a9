package notify

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"
)

type fakeSender struct {
	mu       sync.Mutex
	sent     []string // recipient emails
	subjects []string
	bodies   []string
	failures int // fail the first N calls
	calls    int
}

func (f *fakeSender) Send(ctx context.Context, to Recipient, subject, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failures {
		return errors.New("smtp unavailable")
	}
	f.sent = append(f.sent, to.Email)
	f.subjects = append(f.subjects, subject)
	f.bodies = append(f.bodies, body)
	return nil
}

func (f *fakeSender) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type staticUsers struct {
	recipients []Recipient
	err        error
}

func (s *staticUsers) ListNotificationEnabled(ctx context.Context) ([]Recipient, error) {
	return s.recipients, s.err
}

func fastConfig() Config {
	return Config{Workers: 1, MaxAttempts: 3, Backoff: time.Millisecond, SendTimeout: time.Second}
}

func sampleProducts() []Product {
	price := 300
	return []Product{{
		Name:         "ちいかわ マスコット",
		Manufacturer: "BANDAI_GASHAPON",
		Price:        &price,
		ReleaseDate:  "2026-10-04",
		SourceURL:    "https://gashapon.jp/shop/detail.php?jan_code=1",
	}}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition never met")
}

func TestDispatcherDelivers(t *testing.T) {
	// WHAT: One enqueued run fans out to every subscribed user.
	sender := &fakeSender{}
	users := &staticUsers{recipients: []Recipient{
		{Email: "a@example.com"}, {Email: "b@example.com"},
	}}
	d := NewDispatcher(sender, users, slog.Default(), fastConfig())
	d.Start(context.Background())

	d.Enqueue("BANDAI_GASHAPON", sampleProducts())
	waitFor(t, func() bool { return sender.sentCount() == 2 })
	d.Close()

	if !strings.Contains(sender.subjects[0], "GachaHub") || !strings.Contains(sender.subjects[0], "1件") {
		t.Errorf("subject = %q", sender.subjects[0])
	}
	if !strings.Contains(sender.bodies[0], "ちいかわ マスコット") {
		t.Errorf("body missing product name")
	}
	if !strings.Contains(sender.bodies[0], "300円") {
		t.Errorf("body missing price")
	}
}

func TestDispatcherRetries(t *testing.T) {
	// WHAT: Transient failures are retried until the send lands.
	sender := &fakeSender{failures: 2}
	users := &staticUsers{recipients: []Recipient{{Email: "a@example.com"}}}
	d := NewDispatcher(sender, users, slog.Default(), fastConfig())
	d.Start(context.Background())

	d.Enqueue("BANDAI_GASHAPON", sampleProducts())
	waitFor(t, func() bool { return sender.sentCount() == 1 })
	d.Close()
}

func TestDispatcherGivesUp(t *testing.T) {
	// WHAT: After MaxAttempts failures the delivery is abandoned and the
	// failure hook fires.
	sender := &fakeSender{failures: 100}
	users := &staticUsers{recipients: []Recipient{{Email: "a@example.com"}}}

	var mu sync.Mutex
	var failures int
	d := NewDispatcher(sender, users, slog.Default(), fastConfig(),
		WithFailureHook(func() {
			mu.Lock()
			failures++
			mu.Unlock()
		}))
	d.Start(context.Background())

	d.Enqueue("BANDAI_GASHAPON", sampleProducts())
	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return failures == 1
	})
	d.Close()

	if sender.sentCount() != 0 {
		t.Error("nothing should have been delivered")
	}
}

func TestDispatcherNoRecipients(t *testing.T) {
	// WHAT: No subscribers means no send calls at all.
	sender := &fakeSender{}
	d := NewDispatcher(sender, &staticUsers{}, slog.Default(), fastConfig())
	d.Start(context.Background())
	d.Enqueue("BANDAI_GASHAPON", sampleProducts())
	d.Close()

	if sender.calls != 0 {
		t.Errorf("calls = %d, want 0", sender.calls)
	}
}

func TestEnqueueEmptyIsNoop(t *testing.T) {
	sender := &fakeSender{}
	d := NewDispatcher(sender, &staticUsers{recipients: []Recipient{{Email: "a@example.com"}}},
		slog.Default(), fastConfig())
	d.Start(context.Background())
	d.Enqueue("BANDAI_GASHAPON", nil)
	d.Close()

	if sender.calls != 0 {
		t.Errorf("calls = %d, want 0", sender.calls)
	}
}

func TestRenderDigestEscapes(t *testing.T) {
	// WHAT: Product fields are HTML-escaped in the digest.
	products := []Product{{
		Name:      `<script>alert(1)</script>`,
		SourceURL: "https://example.com/p",
	}}
	_, body, err := RenderDigest("BANDAI_GASHAPON", products)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(body, "<script>") {
		t.Error("digest must escape HTML in product fields")
	}
}
