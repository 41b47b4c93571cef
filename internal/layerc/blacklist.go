package layerc

import (
	"math"
	"math/rand"

	"github.com/haidar-88/mvccp/internal/config"
	"github.com/haidar-88/mvccp/internal/model"
)

// backoff tracks the exponential retry delay for one in-flight handshake,
// structurally grounded on sptp/client's backoff struct (counter + mode-
// driven step), specialized to MVCCP's single exponential mode with
// jitter (original_source's _calculate_backoff).
type backoff struct {
	cfg     *config.Config
	attempt int
}

func newBackoff(cfg *config.Config) *backoff {
	return &backoff{cfg: cfg}
}

// next returns the delay for the current attempt and advances the
// counter. Formula: base_delay * 2^attempt + uniform jitter, floored at
// 0.1s (original_source's _calculate_backoff).
func (b *backoff) next() float64 {
	delay := b.cfg.RetryBaseDelay*math.Pow(2, float64(b.attempt)) +
		(rand.Float64()*2-1)*b.cfg.RetryMaxJitter
	b.attempt++
	if delay < 0.1 {
		delay = 0.1
	}
	return delay
}

// exhausted reports whether the max retry count has been reached.
func (b *backoff) exhausted() bool {
	return b.attempt >= b.cfg.RetryMaxRetries
}

func (b *backoff) reset() {
	b.attempt = 0
}

// blacklist tracks providers a Consumer has given up on after exhausting
// retries, each expiring after BlacklistTTL (original_source's
// blacklisted_providers dict).
type blacklist struct {
	cfg   *config.Config
	until map[model.NodeID]float64
}

func newBlacklist(cfg *config.Config) *blacklist {
	return &blacklist{cfg: cfg, until: make(map[model.NodeID]float64)}
}

// add blacklists id until now + BlacklistTTL.
func (b *blacklist) add(id model.NodeID, now float64) {
	b.until[id] = now + b.cfg.BlacklistTTL
}

// isBlacklisted reports whether id is currently blacklisted, lazily
// expiring the entry if its TTL has elapsed (original_source's
// _is_provider_blacklisted).
func (b *blacklist) isBlacklisted(id model.NodeID, now float64) bool {
	until, ok := b.until[id]
	if !ok {
		return false
	}
	if now < until {
		return true
	}
	delete(b.until, id)
	return false
}

func (b *blacklist) clear() {
	b.until = make(map[model.NodeID]float64)
}
