package events

import (
	"sync"
	"time"
)

// Action is the dedup cache's verdict for an incoming canonical event.
type Action int

const (
	Suppress Action = iota
	ShowNow
	ShowAfterDelay
	UpgradeExisting
)

func (a Action) String() string {
	switch a {
	case Suppress:
		return "suppress"
	case ShowNow:
		return "show-now"
	case ShowAfterDelay:
		return "show-after-delay"
	case UpgradeExisting:
		return "upgrade-existing"
	default:
		return "unknown"
	}
}

type dedupEntry struct {
	level     int
	shown     bool
	expiresAt time.Time
	pending   *time.Timer
}

// DedupConf tunes the cache; zero values pick the defaults.
type DedupConf struct {
	TTL            time.Duration    // entry lifetime (default 5s)
	EscalationWait time.Duration    // delay before showing a basic alert (default 400ms)
	SweepEvery     time.Duration    // expiry sweep interval (default 1s)
	Clock          func() time.Time // injectable clock; nil => time.Now
}

func (c *DedupConf) norm() {
	if c.TTL <= 0 {
		c.TTL = 5 * time.Second
	}
	if c.EscalationWait <= 0 {
		c.EscalationWait = 400 * time.Millisecond
	}
	if c.SweepEvery <= 0 {
		c.SweepEvery = time.Second
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
}

// DedupCache is the short-TTL idempotency cache bridging the two transports.
// Per-key levels are monotonic: an event at or below a key's recorded level
// is a duplicate and produces nothing.
type DedupCache struct {
	mu      sync.Mutex
	entries map[string]*dedupEntry
	conf    DedupConf

	stopOnce sync.Once
	stopCh   chan struct{}
}

func NewDedupCache(conf DedupConf) *DedupCache {
	conf.norm()
	c := &DedupCache{
		entries: make(map[string]*dedupEntry),
		conf:    conf,
		stopCh:  make(chan struct{}),
	}
	go c.sweepLoop()
	return c
}

// Decide records the event and returns what to do with it. For ShowAfterDelay
// the show callback fires on a timer after the escalation wait, unless a
// richer event for the same key arrives first and cancels it.
func (c *DedupCache) Decide(ev CanonicalEvent, show func(CanonicalEvent)) Action {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.conf.Clock()
	entry, seen := c.entries[ev.Key]
	if seen && now.After(entry.expiresAt) {
		seen = false
	}

	if !seen {
		entry = &dedupEntry{level: ev.Level, expiresAt: now.Add(c.conf.TTL)}
		c.entries[ev.Key] = entry

		if ev.Level == LevelBasic {
			// Hold the banner briefly: the rich rendering of the same
			// content usually arrives right behind it.
			entry.pending = time.AfterFunc(c.conf.EscalationWait, func() {
				c.mu.Lock()
				e, ok := c.entries[ev.Key]
				fire := ok && e.pending != nil
				if fire {
					e.pending = nil
					e.shown = true
				}
				c.mu.Unlock()
				if fire && show != nil {
					show(ev)
				}
			})
			return ShowAfterDelay
		}

		entry.shown = true
		return ShowNow
	}

	if ev.Level <= entry.level {
		return Suppress
	}

	// Richer event for a known key: take over whatever the lower level did.
	entry.level = ev.Level
	entry.expiresAt = now.Add(c.conf.TTL)
	if entry.pending != nil {
		entry.pending.Stop()
		entry.pending = nil
	}
	wasShown := entry.shown
	entry.shown = true
	if wasShown {
		return UpgradeExisting
	}
	return ShowNow
}

// Seen reports whether the key is currently tracked. Mostly for tests.
func (c *DedupCache) Seen(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	return ok && !c.conf.Clock().After(entry.expiresAt)
}

func (c *DedupCache) sweepLoop() {
	ticker := time.NewTicker(c.conf.SweepEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.sweep()
		case <-c.stopCh:
			return
		}
	}
}

func (c *DedupCache) sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.conf.Clock()
	for key, entry := range c.entries {
		if now.After(entry.expiresAt) {
			if entry.pending != nil {
				entry.pending.Stop()
			}
			delete(c.entries, key)
		}
	}
}

// Close stops the sweeper and cancels pending escalation timers.
func (c *DedupCache) Close() {
	c.stopOnce.Do(func() {
		close(c.stopCh)
		c.mu.Lock()
		for _, entry := range c.entries {
			if entry.pending != nil {
				entry.pending.Stop()
				entry.pending = nil
			}
		}
		c.mu.Unlock()
	})
}
