package order

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// KeyGenerator produces client order ids of the form
// <prefix>_<strategy>_<symbol>_<unixMillis>. The broker rejects duplicate
// client order ids server-side, which is what makes retried submissions safe.
// Submissions inside the same millisecond would collide, so every repeat of
// the timestamped base key gets a short random suffix.
type KeyGenerator struct {
	prefix string

	mu       sync.Mutex
	lastBase string

	nowFunc func() time.Time
}

// NewKeyGenerator returns a generator with the given prefix ("pulse" when
// empty).
func NewKeyGenerator(prefix string) *KeyGenerator {
	if prefix == "" {
		prefix = "pulse"
	}
	return &KeyGenerator{prefix: prefix, nowFunc: time.Now}
}

// Next builds the idempotency key for one submission. Symbols are lowercased
// and slash-free so crypto pairs produce broker-safe ids.
func (g *KeyGenerator) Next(strategy, symbol string) string {
	strategy = sanitize(strategy)
	symbol = sanitize(symbol)
	millis := g.nowFunc().UnixMilli()

	base := fmt.Sprintf("%s_%s_%s_%d", g.prefix, strategy, symbol, millis)

	g.mu.Lock()
	defer g.mu.Unlock()
	key := base
	if base == g.lastBase {
		// Every repeat of the base gets its own random suffix, so any number
		// of same-millisecond submissions stays unique.
		key = fmt.Sprintf("%s_%s", base, uuid.NewString()[:8])
	}
	g.lastBase = base
	return key
}

func sanitize(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, "/", "")
	s = strings.ReplaceAll(s, " ", "_")
	if s == "" {
		s = "unknown"
	}
	return s
}
