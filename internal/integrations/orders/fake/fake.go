package fake

import (
	"context"
	"sort"
	"sync"

	"github.com/BearBump/ShipBox/internal/errs"
	"github.com/BearBump/ShipBox/internal/integrations/orders"
	"github.com/BearBump/ShipBox/internal/models"
)

// Fetcher: заглушка внешних платформ: отдаёт заранее положенные payload'ы.
// Ошибки можно подставить на конкретный ref, чтобы проверить изоляцию сбоев.
type Fetcher struct {
	mu       sync.Mutex
	payloads map[string][]byte
	failures map[string]error
	calls    map[string]int
}

func New() *Fetcher {
	return &Fetcher{
		payloads: map[string][]byte{},
		failures: map[string]error{},
		calls:    map[string]int{},
	}
}

var _ orders.Fetcher = (*Fetcher)(nil)

func key(origin models.Origin, ref string) string {
	return string(origin) + "|" + ref
}

func (f *Fetcher) Put(origin models.Origin, ref string, raw []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payloads[key(origin, ref)] = raw
	delete(f.failures, key(origin, ref))
}

func (f *Fetcher) Fail(origin models.Origin, ref string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[key(origin, ref)] = err
}

func (f *Fetcher) Calls(origin models.Origin, ref string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[key(origin, ref)]
}

func (f *Fetcher) FetchOrder(ctx context.Context, tok orders.Token, resourceRef string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, errs.ExternalFetch(err, "fetch order")
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	k := key(tok.Origin, resourceRef)
	f.calls[k]++
	if err, ok := f.failures[k]; ok {
		return nil, err
	}
	raw, ok := f.payloads[k]
	if !ok {
		return nil, errs.NotFound("%s order %s", tok.Origin, resourceRef)
	}
	return raw, nil
}

// FetchAllOrders returns every payload of the token's origin ordered by ref.
// Refs with an injected failure are skipped, like an API page that omits them.
func (f *Fetcher) FetchAllOrders(ctx context.Context, tok orders.Token) ([][]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	prefix := string(tok.Origin) + "|"
	var keys []string
	for k := range f.payloads {
		if len(k) > len(prefix) && k[:len(prefix)] == prefix {
			if _, failing := f.failures[k]; !failing {
				keys = append(keys, k)
			}
		}
	}
	sort.Strings(keys)

	out := make([][]byte, 0, len(keys))
	for _, k := range keys {
		out = append(out, f.payloads[k])
	}
	return out, nil
}
