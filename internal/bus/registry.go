package bus

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/colabhq/pulse/internal/apperrors"
)

// StreamHandle is one open push-stream connection. Implementations must be
// safe for concurrent WriteFrame calls and must not block indefinitely: a
// slow consumer fails its own write, never the fan-out.
type StreamHandle interface {
	WriteFrame(event string, payload []byte) error
	Close() error
}

// DetachFunc removes a handle from the registry. Safe to call more than once.
type DetachFunc func()

type RegistryConf struct {
	HeartbeatEvery time.Duration    // heartbeat frame interval (default 25s)
	Clock          func() time.Time // injectable clock; nil => time.Now
}

func (c *RegistryConf) norm() {
	if c.HeartbeatEvery <= 0 {
		c.HeartbeatEvery = 25 * time.Second
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
}

// Registry tracks open push-stream connections per user and fans events out
// to them. It is process-scoped by design: a multi-process deployment must
// swap the internals for a shared pub/sub backend behind this same surface.
type Registry struct {
	mu     sync.RWMutex
	byUser map[uint]map[uint64]StreamHandle
	nextID uint64

	conf     RegistryConf
	stopCh   chan struct{}
	stopOnce sync.Once
}

func NewRegistry(conf RegistryConf) *Registry {
	conf.norm()
	r := &Registry{
		byUser: make(map[uint]map[uint64]StreamHandle),
		conf:   conf,
		stopCh: make(chan struct{}),
	}
	go r.heartbeatLoop()
	return r
}

// Attach registers the handle under the user's connection set. The returned
// detach closure must be called on stream close or error; calling it more
// than once is a no-op.
func (r *Registry) Attach(userID uint, h StreamHandle) DetachFunc {
	r.mu.Lock()
	r.nextID++
	id := r.nextID
	if r.byUser[userID] == nil {
		r.byUser[userID] = make(map[uint64]StreamHandle)
	}
	r.byUser[userID][id] = h
	total := len(r.byUser[userID])
	r.mu.Unlock()

	log.Printf("stream attached user=%d conn=%d (user total: %d)", userID, id, total)

	var once sync.Once
	return func() {
		once.Do(func() { r.detach(userID, id) })
	}
}

func (r *Registry) detach(userID uint, id uint64) {
	r.mu.Lock()
	var h StreamHandle
	if conns := r.byUser[userID]; conns != nil {
		h = conns[id]
		delete(conns, id)
		if len(conns) == 0 {
			delete(r.byUser, userID)
		}
	}
	r.mu.Unlock()

	if h != nil {
		_ = h.Close()
		log.Printf("stream detached user=%d conn=%d", userID, id)
	}
}

// IsOnline checks if a user has at least one open stream
func (r *Registry) IsOnline(userID uint) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser[userID]) > 0
}

// Count returns the number of open connections across all users
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, conns := range r.byUser {
		n += len(conns)
	}
	return n
}

type target struct {
	userID uint
	connID uint64
	h      StreamHandle
}

// Publish writes the event to every live handle of one user and returns the
// number of handles written successfully.
func (r *Registry) Publish(userID uint, ev Event) int {
	return r.PublishMany([]uint{userID}, ev)
}

// PublishMany fans the event out to every handle of every listed user. Each
// write is isolated: a broken connection is logged and detached without
// affecting delivery to the rest.
func (r *Registry) PublishMany(userIDs []uint, ev Event) int {
	payload, err := json.Marshal(ev)
	if err != nil {
		log.Printf("publish marshal failed type=%s: %v", ev.Type, err)
		return 0
	}

	r.mu.RLock()
	var targets []target
	seen := make(map[uint]bool, len(userIDs))
	for _, uid := range userIDs {
		if seen[uid] {
			continue
		}
		seen[uid] = true
		for id, h := range r.byUser[uid] {
			targets = append(targets, target{userID: uid, connID: id, h: h})
		}
	}
	r.mu.RUnlock()

	return r.writeAll(ev.Type, payload, targets)
}

// PublishAll sends the event to every open handle. Heartbeat/debug only.
func (r *Registry) PublishAll(ev Event) int {
	payload, err := json.Marshal(ev)
	if err != nil {
		log.Printf("publish marshal failed type=%s: %v", ev.Type, err)
		return 0
	}

	r.mu.RLock()
	var targets []target
	for uid, conns := range r.byUser {
		for id, h := range conns {
			targets = append(targets, target{userID: uid, connID: id, h: h})
		}
	}
	r.mu.RUnlock()

	return r.writeAll(ev.Type, payload, targets)
}

func (r *Registry) writeAll(event string, payload []byte, targets []target) int {
	delivered := 0
	for _, t := range targets {
		if err := t.h.WriteFrame(event, payload); err != nil {
			terr := &apperrors.TransportError{UserID: t.userID, ConnID: t.connID, Err: err}
			log.Printf("%v", terr)
			r.detach(t.userID, t.connID)
			continue
		}
		delivered++
	}
	return delivered
}

func (r *Registry) heartbeatLoop() {
	t := time.NewTicker(r.conf.HeartbeatEvery)
	defer t.Stop()
	for {
		select {
		case <-r.stopCh:
			return
		case <-t.C:
			r.PublishAll(Event{Type: EventHeartbeat})
		}
	}
}

// Close stops the heartbeat and closes every open handle.
func (r *Registry) Close() {
	r.stopOnce.Do(func() { close(r.stopCh) })

	r.mu.Lock()
	defer r.mu.Unlock()
	for uid, conns := range r.byUser {
		for _, h := range conns {
			_ = h.Close()
		}
		delete(r.byUser, uid)
	}
}
