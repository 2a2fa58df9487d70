package supervisor

import "time"

// respawnBackoff tracks consecutive respawns per slot.
// Unlike a circuit breaker it never gives up: the pool size must be restored.
type respawnBackoff struct {
	config   RespawnConfig
	attempts map[int]int
}

func newRespawnBackoff(config RespawnConfig) *respawnBackoff {
	return &respawnBackoff{
		config:   config,
		attempts: make(map[int]int),
	}
}

// next returns the delay before respawning slot and counts the attempt.
// uptime is how long the crashed worker had been alive.
func (b *respawnBackoff) next(slot int, uptime time.Duration) (time.Duration, int) {
	if uptime >= b.config.StableAfter {
		b.attempts[slot] = 0
	}

	attempt := b.attempts[slot]
	delay := b.config.RetryDelay
	for i := 0; i < attempt && delay < b.config.MaxDelay; i++ {
		delay = time.Duration(float64(delay) * b.config.BackoffRate)
	}
	if delay > b.config.MaxDelay {
		delay = b.config.MaxDelay
	}

	b.attempts[slot] = attempt + 1
	return delay, attempt + 1
}

func (b *respawnBackoff) reset(slot int) {
	delete(b.attempts, slot)
}
