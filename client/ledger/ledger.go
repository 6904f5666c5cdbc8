// Package ledger derives per-channel unread and mention counters from the
// canonical event feed and reconciles them against the durable notification
// store when a read cursor advances.
package ledger

import (
	"log"
	"sync"
	"time"

	"github.com/colabhq/pulse/client/events"
)

// CursorSink advances the server-side read cursor. Calls are debounced so
// rapid channel switching does not hammer the API.
type CursorSink interface {
	AdvanceCursor(channelID, lastReadMsgID uint) error
}

// NotificationStore is the durable unread-record collaborator. The ledger
// flushes its records on read so badges do not ghost after in-memory state
// clears.
type NotificationStore interface {
	ListUnread(channelID uint) ([]uint, []uint, error) // notification ids, message ids
	MarkRead(ids []uint) error
}

// Counts is a snapshot of the derived state.
type Counts struct {
	UnreadByChannel  map[uint]int
	MentionByChannel map[uint]int
}

// Conf tunes the ledger; zero values pick the defaults.
type Conf struct {
	SelfID         uint
	SelfSentWindow time.Duration // echo suppression after a local send (default 4s)
	SeenTTL        time.Duration // duplicate message id memory (default 30s)
	ReadDebounce   time.Duration // wait before pushing the cursor (default 300ms)
	Clock          func() time.Time

	Cursor CursorSink        // optional
	Store  NotificationStore // optional

	// OnChannelCleared fires when a channel's unread state flushes to zero.
	// OnHasUnread fires when the any-unread summary flips.
	OnChannelCleared func(channelID uint)
	OnHasUnread      func(bool)
}

func (c *Conf) norm() {
	if c.SelfSentWindow <= 0 {
		c.SelfSentWindow = 4 * time.Second
	}
	if c.SeenTTL <= 0 {
		c.SeenTTL = 30 * time.Second
	}
	if c.ReadDebounce <= 0 {
		c.ReadDebounce = 300 * time.Millisecond
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
}

type Ledger struct {
	mu sync.Mutex

	conf    Conf
	unread  map[uint]int
	mention map[uint]int

	active        uint // channel the viewer has open; 0 = none
	lastSelfSent  map[uint]time.Time
	seenMessages  map[uint]time.Time   // message id -> first seen
	maxSeenMsgID  map[uint]uint        // channel -> highest message id observed
	pendingCursor map[uint]*time.Timer // channel -> debounced cursor push
	hadUnread     bool
}

func New(conf Conf) *Ledger {
	conf.norm()
	return &Ledger{
		conf:          conf,
		unread:        make(map[uint]int),
		mention:       make(map[uint]int),
		lastSelfSent:  make(map[uint]time.Time),
		seenMessages:  make(map[uint]time.Time),
		maxSeenMsgID:  make(map[uint]uint),
		pendingCursor: make(map[uint]*time.Timer),
	}
}

// MarkSelfSent opens the echo suppression window for a channel. Call it right
// after a local send, before the stream echo can arrive.
func (l *Ledger) MarkSelfSent(channelID uint) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lastSelfSent[channelID] = l.conf.Clock()
}

// SetActiveChannel records which channel the viewer has open. Opening a
// channel is an implicit read: counters clear and the cursor advance is
// scheduled.
func (l *Ledger) SetActiveChannel(channelID uint) {
	l.mu.Lock()
	l.active = channelID
	var cursorTo uint
	if channelID != 0 {
		cursorTo = l.maxSeenMsgID[channelID]
		l.clearLocked(channelID)
	}
	l.mu.Unlock()

	if channelID != 0 {
		l.scheduleCursor(channelID, cursorTo)
	}
}

// OnMessageEvent folds one inbound message event into the counters. Duplicate
// deliveries of the same message id are idempotent.
func (l *Ledger) OnMessageEvent(ev events.CanonicalEvent) {
	if ev.ChannelID == 0 {
		return
	}

	l.mu.Lock()
	now := l.conf.Clock()
	l.gcSeenLocked(now)

	if ev.MessageID != 0 {
		if _, dup := l.seenMessages[ev.MessageID]; dup {
			l.mu.Unlock()
			return
		}
		l.seenMessages[ev.MessageID] = now
		if ev.MessageID > l.maxSeenMsgID[ev.ChannelID] {
			l.maxSeenMsgID[ev.ChannelID] = ev.MessageID
		}
	}

	// Self-echo: our own author id, or any message in a channel we just sent
	// to. The wire author can be missing while optimistic state settles.
	selfEcho := ev.AuthorID != 0 && ev.AuthorID == l.conf.SelfID
	if !selfEcho {
		if sentAt, ok := l.lastSelfSent[ev.ChannelID]; ok && now.Sub(sentAt) < l.conf.SelfSentWindow {
			if ev.AuthorID == 0 || ev.AuthorID == l.conf.SelfID {
				selfEcho = true
			}
		}
	}

	if selfEcho {
		l.mu.Unlock()
		return
	}

	if ev.ChannelID == l.active {
		// Viewing the channel: stays read, cursor follows along.
		cursorTo := l.maxSeenMsgID[ev.ChannelID]
		l.mu.Unlock()
		l.scheduleCursor(ev.ChannelID, cursorTo)
		return
	}

	l.unread[ev.ChannelID]++
	for _, uid := range ev.Mentions {
		if uid == l.conf.SelfID {
			l.mention[ev.ChannelID]++
			break
		}
	}
	l.notifyUnreadLocked()
	l.mu.Unlock()
}

// OnReadEvent handles a stream read event for the viewer's own cursor. It
// clears the channel's counters and flushes durable notification records
// covered by the cursor.
func (l *Ledger) OnReadEvent(channelID, lastReadMsgID uint) {
	l.mu.Lock()
	l.clearLocked(channelID)
	l.mu.Unlock()
	l.reconcileStore(channelID, lastReadMsgID)
}

// Clear zeroes a channel's counters without touching the server cursor.
func (l *Ledger) Clear(channelID uint) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.clearLocked(channelID)
}

// GetCounts returns a copy of the current counters.
func (l *Ledger) GetCounts() Counts {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := Counts{
		UnreadByChannel:  make(map[uint]int, len(l.unread)),
		MentionByChannel: make(map[uint]int, len(l.mention)),
	}
	for ch, n := range l.unread {
		out.UnreadByChannel[ch] = n
	}
	for ch, n := range l.mention {
		out.MentionByChannel[ch] = n
	}
	return out
}

// Close cancels every pending cursor push.
func (l *Ledger) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for ch, t := range l.pendingCursor {
		t.Stop()
		delete(l.pendingCursor, ch)
	}
}

func (l *Ledger) clearLocked(channelID uint) {
	cleared := l.unread[channelID] > 0 || l.mention[channelID] > 0
	delete(l.unread, channelID)
	delete(l.mention, channelID)
	if cleared && l.conf.OnChannelCleared != nil {
		go l.conf.OnChannelCleared(channelID)
	}
	l.notifyUnreadLocked()
}

func (l *Ledger) notifyUnreadLocked() {
	has := len(l.unread) > 0
	if has != l.hadUnread {
		l.hadUnread = has
		if l.conf.OnHasUnread != nil {
			go l.conf.OnHasUnread(has)
		}
	}
}

func (l *Ledger) gcSeenLocked(now time.Time) {
	for id, at := range l.seenMessages {
		if now.Sub(at) > l.conf.SeenTTL {
			delete(l.seenMessages, id)
		}
	}
}

// scheduleCursor debounces the server-side cursor advance per channel. The
// latest call for a channel wins; a pending push for one channel never cancels
// another channel's push.
func (l *Ledger) scheduleCursor(channelID, lastReadMsgID uint) {
	if l.conf.Cursor == nil || lastReadMsgID == 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if t := l.pendingCursor[channelID]; t != nil {
		t.Stop()
	}
	l.pendingCursor[channelID] = time.AfterFunc(l.conf.ReadDebounce, func() {
		l.mu.Lock()
		delete(l.pendingCursor, channelID)
		l.mu.Unlock()
		if err := l.conf.Cursor.AdvanceCursor(channelID, lastReadMsgID); err != nil {
			log.Printf("read cursor advance failed: channel=%d err=%v", channelID, err)
		}
	})
}

// reconcileStore marks durable notification records covered by the cursor as
// read. Errors are logged; a stale badge is better than a crashed reducer.
func (l *Ledger) reconcileStore(channelID, lastReadMsgID uint) {
	if l.conf.Store == nil {
		return
	}
	notifIDs, msgIDs, err := l.conf.Store.ListUnread(channelID)
	if err != nil {
		log.Printf("notification reconcile list failed: channel=%d err=%v", channelID, err)
		return
	}
	var toMark []uint
	for i, nid := range notifIDs {
		if i < len(msgIDs) && lastReadMsgID != 0 && msgIDs[i] > lastReadMsgID {
			continue
		}
		toMark = append(toMark, nid)
	}
	if len(toMark) == 0 {
		return
	}
	if err := l.conf.Store.MarkRead(toMark); err != nil {
		log.Printf("notification reconcile mark failed: channel=%d err=%v", channelID, err)
	}
}
