package scrape

import (
	"github.com/gachahub/gachahub/notify"
)

// DigestNotifier forwards freshly discovered products to an email
// digest dispatcher.
type DigestNotifier struct {
	dispatcher *notify.Dispatcher
}

// NewDigestNotifier wraps a notify.Dispatcher as a Notifier.
func NewDigestNotifier(d *notify.Dispatcher) *DigestNotifier {
	return &DigestNotifier{dispatcher: d}
}

// NotifyNewProducts enqueues a digest. Enqueue never blocks; when the
// dispatcher queue is full the digest is dropped.
func (n *DigestNotifier) NotifyNewProducts(site string, products []*Product) {
	out := make([]notify.Product, 0, len(products))
	for _, p := range products {
		out = append(out, notify.Product{
			Name:         p.Name,
			Manufacturer: p.Manufacturer,
			ImageURL:     p.ImageURL,
			ReleaseDate:  p.ReleaseDate,
			Price:        p.Price,
			SourceURL:    p.SourceURL,
		})
	}
	n.dispatcher.Enqueue(site, out)
}
