// Package leader elects a single execution context among all tabs of the
// same user session to own audio and system-alert side effects. Coordination
// runs over an abstract same-origin broadcast primitive; the protocol itself
// assumes nothing beyond at-least-once, unordered delivery.
package leader

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Message kinds exchanged on the broadcast channel.
const (
	KindPing  = "ping"
	KindPong  = "pong"
	KindClaim = "claim"
)

// Message is one broadcast frame.
type Message struct {
	Kind     string `json:"kind"`
	ID       string `json:"id"`
	IsLeader bool   `json:"is_leader"`
}

// Broadcaster posts a message to every peer context of the same user.
// Delivery to the sender itself is not expected.
type Broadcaster interface {
	Broadcast(Message) error
}

// Conf tunes the elector; zero values pick the defaults.
type Conf struct {
	ElectionWait   time.Duration // wait for a leader pong before claiming (default 500ms)
	HeartbeatEvery time.Duration // leader liveness ping interval (default 15s)
	LeaderTimeout  time.Duration // silence before followers re-elect (default 35s)
	Clock          func() time.Time

	// OnLeadershipChange fires when this context gains or loses the flag.
	OnLeadershipChange func(isLeader bool)
}

func (c *Conf) norm() {
	if c.ElectionWait <= 0 {
		c.ElectionWait = 500 * time.Millisecond
	}
	if c.HeartbeatEvery <= 0 {
		c.HeartbeatEvery = 15 * time.Second
	}
	if c.LeaderTimeout <= 0 {
		c.LeaderTimeout = 35 * time.Second
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
}

// Elector runs the election protocol for one context. Failure modes lean
// toward multi-leader (redundant sound) rather than no leader (silent app):
// a broadcast error never clears the local flag.
type Elector struct {
	id   string
	bus  Broadcaster
	conf Conf

	mu         sync.Mutex
	isLeader   bool
	leaderSeen time.Time // last proof some leader is alive
	started    bool

	stopOnce sync.Once
	stopCh   chan struct{}
}

func New(bus Broadcaster, conf Conf) *Elector {
	conf.norm()
	return &Elector{
		id:     uuid.NewString(),
		bus:    bus,
		conf:   conf,
		stopCh: make(chan struct{}),
	}
}

// ID returns this context's election identifier.
func (e *Elector) ID() string { return e.id }

// IsLeader reports whether this context currently holds the flag.
func (e *Elector) IsLeader() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.isLeader
}

// Start announces this context and begins the liveness loop. If no existing
// leader answers within the election window, this context claims.
func (e *Elector) Start() {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return
	}
	e.started = true
	e.leaderSeen = e.conf.Clock()
	e.mu.Unlock()

	_ = e.bus.Broadcast(Message{Kind: KindPing, ID: e.id})

	time.AfterFunc(e.conf.ElectionWait, func() {
		e.mu.Lock()
		heard := e.isLeader || e.conf.Clock().Sub(e.leaderSeen) < e.conf.ElectionWait
		e.mu.Unlock()
		if !heard {
			e.claim()
		}
	})

	go e.livenessLoop()
}

// OnMessage feeds one broadcast frame from a peer into the protocol.
func (e *Elector) OnMessage(msg Message) {
	if msg.ID == e.id {
		return
	}

	switch msg.Kind {
	case KindPing:
		e.mu.Lock()
		leader := e.isLeader
		e.mu.Unlock()
		_ = e.bus.Broadcast(Message{Kind: KindPong, ID: e.id, IsLeader: leader})

	case KindPong:
		if msg.IsLeader {
			e.noteLeaderAlive(msg.ID)
		}

	case KindClaim:
		e.noteLeaderAlive(msg.ID)
	}
}

// noteLeaderAlive applies the deterministic tie-break: the lexicographically
// lowest id wins. A peer claim from a higher id gets our counter-claim.
func (e *Elector) noteLeaderAlive(peerID string) {
	e.mu.Lock()
	e.leaderSeen = e.conf.Clock()
	yield := e.isLeader && peerID < e.id
	reassert := e.isLeader && peerID > e.id
	if yield {
		e.setLeaderLocked(false)
	}
	e.mu.Unlock()

	if reassert {
		_ = e.bus.Broadcast(Message{Kind: KindClaim, ID: e.id})
	}
}

func (e *Elector) claim() {
	e.mu.Lock()
	e.setLeaderLocked(true)
	e.leaderSeen = e.conf.Clock()
	e.mu.Unlock()
	_ = e.bus.Broadcast(Message{Kind: KindClaim, ID: e.id})
}

// setLeaderLocked flips the flag and fires the change callback. Callers hold mu.
func (e *Elector) setLeaderLocked(v bool) {
	if e.isLeader == v {
		return
	}
	e.isLeader = v
	if e.conf.OnLeadershipChange != nil {
		go e.conf.OnLeadershipChange(v)
	}
}

// livenessLoop re-broadcasts the leader's claim periodically and, on a
// follower, re-runs election when the leader has been silent too long.
func (e *Elector) livenessLoop() {
	ticker := time.NewTicker(e.conf.HeartbeatEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			e.mu.Lock()
			leader := e.isLeader
			silent := !leader && e.conf.Clock().Sub(e.leaderSeen) > e.conf.LeaderTimeout
			e.mu.Unlock()

			if leader {
				_ = e.bus.Broadcast(Message{Kind: KindClaim, ID: e.id})
			} else if silent {
				e.claim()
			}
		case <-e.stopCh:
			return
		}
	}
}

// Close stops the liveness loop. A closing leader goes silent and peers
// re-elect on timeout.
func (e *Elector) Close() {
	e.stopOnce.Do(func() { close(e.stopCh) })
}
