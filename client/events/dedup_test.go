package events

import (
	"sync"
	"testing"
	"time"
)

func newTestCache(ttl, wait time.Duration) *DedupCache {
	return NewDedupCache(DedupConf{TTL: ttl, EscalationWait: wait, SweepEvery: time.Hour})
}

type shownRecorder struct {
	mu    sync.Mutex
	shown []CanonicalEvent
}

func (r *shownRecorder) show(ev CanonicalEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.shown = append(r.shown, ev)
}

func (r *shownRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.shown)
}

func TestDecide_RichShowsImmediately(t *testing.T) {
	c := newTestCache(5*time.Second, 50*time.Millisecond)
	defer c.Close()

	if got := c.Decide(CanonicalEvent{Key: "msg:1", Level: LevelRich}, nil); got != ShowNow {
		t.Errorf("first rich event = %v, want show-now", got)
	}
}

func TestDecide_DuplicateSuppressed(t *testing.T) {
	c := newTestCache(5*time.Second, 50*time.Millisecond)
	defer c.Close()

	c.Decide(CanonicalEvent{Key: "msg:1", Level: LevelRich}, nil)
	if got := c.Decide(CanonicalEvent{Key: "msg:1", Level: LevelRich}, nil); got != Suppress {
		t.Errorf("duplicate = %v, want suppress", got)
	}
	// Level never downgrades: a later basic event for a shown rich key is a
	// duplicate too.
	if got := c.Decide(CanonicalEvent{Key: "msg:1", Level: LevelBasic}, nil); got != Suppress {
		t.Errorf("lower level after rich = %v, want suppress", got)
	}
}

func TestDecide_BasicDelaysThenShows(t *testing.T) {
	c := newTestCache(5*time.Second, 30*time.Millisecond)
	defer c.Close()

	rec := &shownRecorder{}
	if got := c.Decide(CanonicalEvent{Key: "msg:1", Level: LevelBasic}, rec.show); got != ShowAfterDelay {
		t.Fatalf("first basic event = %v, want show-after-delay", got)
	}
	if rec.count() != 0 {
		t.Error("basic alert must not show before the escalation wait")
	}

	time.Sleep(80 * time.Millisecond)
	if rec.count() != 1 {
		t.Errorf("shown %d times after wait, want 1", rec.count())
	}
}

func TestDecide_RichCancelsPendingBasic(t *testing.T) {
	c := newTestCache(5*time.Second, 50*time.Millisecond)
	defer c.Close()

	rec := &shownRecorder{}
	c.Decide(CanonicalEvent{Key: "msg:1", Level: LevelBasic}, rec.show)

	if got := c.Decide(CanonicalEvent{Key: "msg:1", Level: LevelRich}, nil); got != ShowNow {
		t.Errorf("rich during pending basic = %v, want show-now", got)
	}

	// The cancelled basic timer must never fire: exactly one visible alert.
	time.Sleep(120 * time.Millisecond)
	if rec.count() != 0 {
		t.Errorf("pending basic fired %d times after cancellation, want 0", rec.count())
	}
}

func TestDecide_BothTransportsOneVisibleAlert(t *testing.T) {
	c := newTestCache(5*time.Second, 50*time.Millisecond)
	defer c.Close()

	// The live stream and the push provider report the same message with
	// different wire shapes. One upgraded alert, never two.
	live := Normalize(RawEvent{
		Type:    "message.created",
		CanalID: 5,
		Message: &RawMessage{ID: 42, CanalID: 5, UserID: 2, BodyText: "hola"},
	})
	rich := Normalize(RawEvent{
		Type:           "message.created",
		CanalID:        5,
		MessageID:      42,
		NotificacionID: 9,
		Title:          "Ana",
		Body:           "hola",
	})

	rec := &shownRecorder{}
	visible := 0
	if c.Decide(live, rec.show) == ShowNow {
		visible++
	}
	switch c.Decide(rich, rec.show) {
	case ShowNow, UpgradeExisting:
		visible++
	case ShowAfterDelay, Suppress:
	}

	time.Sleep(120 * time.Millisecond)
	if got := visible + rec.count(); got != 1 {
		t.Errorf("visible alerts = %d, want exactly 1 (the upgraded rich one)", got)
	}
}

func TestDecide_RichUpgradesShownBasic(t *testing.T) {
	c := newTestCache(5*time.Second, 10*time.Millisecond)
	defer c.Close()

	rec := &shownRecorder{}
	c.Decide(CanonicalEvent{Key: "msg:1", Level: LevelBasic}, rec.show)
	time.Sleep(50 * time.Millisecond) // let the basic alert show

	if got := c.Decide(CanonicalEvent{Key: "msg:1", Level: LevelRich}, nil); got != UpgradeExisting {
		t.Errorf("rich after shown basic = %v, want upgrade-existing", got)
	}
}

func TestDecide_ExpiredKeyIsFreshAgain(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }
	c := NewDedupCache(DedupConf{TTL: 2 * time.Second, EscalationWait: time.Millisecond, SweepEvery: time.Hour, Clock: clock})
	defer c.Close()

	c.Decide(CanonicalEvent{Key: "msg:1", Level: LevelRich}, nil)

	now = now.Add(3 * time.Second)
	if got := c.Decide(CanonicalEvent{Key: "msg:1", Level: LevelRich}, nil); got != ShowNow {
		t.Errorf("event after TTL = %v, want show-now (legitimately repeated content)", got)
	}
}

func TestSweepEvictsExpiredEntries(t *testing.T) {
	now := time.Now()
	c := NewDedupCache(DedupConf{
		TTL:            time.Second,
		EscalationWait: time.Millisecond,
		SweepEvery:     time.Hour,
		Clock:          func() time.Time { return now },
	})
	defer c.Close()

	c.Decide(CanonicalEvent{Key: "msg:1", Level: LevelRich}, nil)
	if !c.Seen("msg:1") {
		t.Fatal("entry should be tracked before expiry")
	}

	now = now.Add(2 * time.Second)
	c.sweep()
	if c.Seen("msg:1") {
		t.Error("expired entry should be swept")
	}
}
