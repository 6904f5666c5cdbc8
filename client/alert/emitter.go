// Package alert owns the audible and visible side effects of an event:
// sound playback gated by the cross-tab leader flag, system alerts gated by
// explicit permission, both throttled per canonical key.
package alert

import (
	"errors"
	"log"
	"sync"
	"time"

	"github.com/colabhq/pulse/client/events"
)

// Sound kinds.
const (
	SoundMessage = "message"
	SoundMention = "mention"
)

// Permission states for system alerts.
type Permission int

const (
	PermissionDefault Permission = iota
	PermissionGranted
	PermissionDenied
)

// SoundPlayer plays one named sound. Implementations wrap whatever audio
// path the runtime offers.
type SoundPlayer interface {
	Play(kind string) error
}

// AlertSurface shows a system alert. Tag is the stable identity: showing the
// same tag again replaces the visible alert instead of adding a second one.
type AlertSurface interface {
	Show(tag, title, body, icon string) error
	AskPermission() (Permission, error)
}

// LeaderCheck reports whether this context currently owns side effects.
type LeaderCheck func() bool

// Conf tunes the emitter; zero values pick the defaults.
type Conf struct {
	Throttle time.Duration // per-key quiet period (default 2s)
	Clock    func() time.Time

	Primary  SoundPlayer // direct playback path
	Fallback SoundPlayer // pre-unlocked shared decode path; optional
	Surface  AlertSurface
	IsLeader LeaderCheck
}

func (c *Conf) norm() {
	if c.Throttle <= 0 {
		c.Throttle = 2 * time.Second
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
	if c.IsLeader == nil {
		c.IsLeader = func() bool { return false }
	}
}

// Emitter is safe for concurrent use.
type Emitter struct {
	mu       sync.Mutex
	conf     Conf
	lastFire map[string]time.Time

	permMu     sync.Mutex
	permission Permission
}

func New(conf Conf) *Emitter {
	conf.norm()
	return &Emitter{
		conf:     conf,
		lastFire: make(map[string]time.Time),
	}
}

// PlaySound plays a sound if this context is the leader and the throttle key
// has been quiet long enough. It never returns an error: a failed playback
// chain ends in silence, not in a crashed caller.
func (e *Emitter) PlaySound(kind, throttleKey string) {
	if !e.conf.IsLeader() {
		return
	}
	if !e.pass("sound:" + throttleKey) {
		return
	}

	if e.conf.Primary != nil {
		err := e.conf.Primary.Play(kind)
		if err == nil {
			return
		}
		log.Printf("primary sound path failed: kind=%s err=%v", kind, err)
	}
	if e.conf.Fallback != nil {
		if err := e.conf.Fallback.Play(kind); err != nil {
			log.Printf("fallback sound path failed: kind=%s err=%v", kind, err)
		}
	}
}

// ShowAlert surfaces a system alert for the event if permission has been
// granted. The canonical key doubles as the stable tag so an escalated rich
// event replaces the basic one in place.
func (e *Emitter) ShowAlert(ev events.CanonicalEvent) {
	if e.PermissionState() != PermissionGranted || e.conf.Surface == nil {
		return
	}
	if ev.Level >= events.LevelRich {
		// Escalations bypass the throttle so the rich replacement is never
		// swallowed by the basic alert that just fired.
		e.stamp("alert:" + ev.Key)
	} else if !e.pass("alert:" + ev.Key) {
		return
	}

	title := ev.Title
	if title == "" {
		title = "New message"
	}
	if err := e.conf.Surface.Show(ev.Key, title, ev.Text, ev.Icon); err != nil {
		log.Printf("alert show failed: key=%s err=%v", ev.Key, err)
	}
}

// RequestPermission explicitly asks the user for alert permission. It must
// only run from a user-triggered action; the emitter never asks on its own.
func (e *Emitter) RequestPermission() (Permission, error) {
	if e.conf.Surface == nil {
		return PermissionDenied, errors.New("no alert surface available")
	}
	p, err := e.conf.Surface.AskPermission()
	if err != nil {
		return PermissionDefault, err
	}
	e.permMu.Lock()
	e.permission = p
	e.permMu.Unlock()
	return p, nil
}

// PermissionState returns the last known permission.
func (e *Emitter) PermissionState() Permission {
	e.permMu.Lock()
	defer e.permMu.Unlock()
	return e.permission
}

// SetPermission seeds the permission state from the runtime at startup.
func (e *Emitter) SetPermission(p Permission) {
	e.permMu.Lock()
	e.permission = p
	e.permMu.Unlock()
}

// pass reports whether the key is outside its quiet period, stamping it when
// it is.
func (e *Emitter) pass(key string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	now := e.conf.Clock()
	if last, ok := e.lastFire[key]; ok && now.Sub(last) < e.conf.Throttle {
		return false
	}
	e.lastFire[key] = now
	return true
}

func (e *Emitter) stamp(key string) {
	e.mu.Lock()
	e.lastFire[key] = e.conf.Clock()
	e.mu.Unlock()
}
