// Package events canonicalizes push payloads arriving from the live stream
// and the background push provider into one shape, and decides whether a
// given occurrence should surface as an alert.
package events

import (
	"fmt"
	"strings"
	"time"
)

// Alert fidelity levels. Once a canonical key has surfaced at a level it never
// goes back down.
const (
	LevelSound = 0 // no visible alert, sound only
	LevelBasic = 1 // instant low-fidelity banner
	LevelRich  = 2 // enriched alert (title/body/icon)
)

// RawMessage is the message object embedded in stream payloads. Every field
// is optional on the wire.
type RawMessage struct {
	ID        uint   `json:"id"`
	CanalID   uint   `json:"canal_id"`
	UserID    uint   `json:"user_id"`
	BodyText  string `json:"body_text"`
	CreatedAt string `json:"created_at"`
}

// RawEvent is the union of everything either transport may send. The two
// transports disagree on which fields they populate, so all of them are
// optional and normalization has to cope with any subset.
type RawEvent struct {
	Type           string      `json:"type"`
	CanalID        uint        `json:"canal_id"`
	ChatCanalID    uint        `json:"chat_canal_id"`
	UserID         uint        `json:"user_id"`
	Message        *RawMessage `json:"message"`
	MessageID      uint        `json:"message_id"`
	NotificacionID uint        `json:"notificacion_id"`
	Title          string      `json:"title"`
	Body           string      `json:"body"`
	Icon           string      `json:"icon"`
	Mentions       []uint      `json:"mentions"`
	LastReadMsgID  uint        `json:"last_read_msg_id"`
}

// CanonicalEvent is the one shape everything downstream consumes.
type CanonicalEvent struct {
	Key       string
	Level     int
	Type      string
	ChannelID uint
	AuthorID  uint
	MessageID uint
	Text      string
	Title     string
	Icon      string
	Mentions  []uint
	CreatedAt time.Time
}

const fallbackKeyBodyLen = 100

// Normalize builds the canonical form of a raw payload. It never returns an
// error for missing fields: a payload we cannot key precisely still gets a
// content-derived key so the alert is shown rather than lost.
func Normalize(raw RawEvent) CanonicalEvent {
	ev := CanonicalEvent{
		Type:     raw.Type,
		AuthorID: raw.UserID,
		Title:    raw.Title,
		Icon:     raw.Icon,
		Mentions: raw.Mentions,
	}

	ev.ChannelID = raw.CanalID
	if ev.ChannelID == 0 {
		ev.ChannelID = raw.ChatCanalID
	}

	if raw.Message != nil {
		ev.MessageID = raw.Message.ID
		ev.Text = raw.Message.BodyText
		if raw.Message.UserID != 0 {
			ev.AuthorID = raw.Message.UserID
		}
		if ev.ChannelID == 0 {
			ev.ChannelID = raw.Message.CanalID
		}
		if raw.Message.CreatedAt != "" {
			if t, err := time.Parse(time.RFC3339, raw.Message.CreatedAt); err == nil {
				ev.CreatedAt = t
			}
		}
	}
	if ev.Text == "" {
		ev.Text = raw.Body
	}
	// The background push provider carries the id at the top level instead of
	// inside a message object. Both transports must land on the same key.
	if ev.MessageID == 0 {
		ev.MessageID = raw.MessageID
	}

	// Key priority: message id, then notification record id, then content.
	switch {
	case ev.MessageID != 0:
		ev.Key = fmt.Sprintf("msg:%d", ev.MessageID)
	case raw.NotificacionID != 0:
		ev.Key = fmt.Sprintf("notif:%d", raw.NotificacionID)
	default:
		body := strings.ToLower(ev.Text)
		if body == "" {
			body = strings.ToLower(ev.Title)
		}
		if runes := []rune(body); len(runes) > fallbackKeyBodyLen {
			body = string(runes[:fallbackKeyBodyLen])
		}
		ev.Key = fmt.Sprintf("%s|%d|%s", raw.Type, ev.ChannelID, body)
	}

	// The background push provider renders title/icon; its payloads are the
	// rich form. Bare message payloads from the live stream are the basic
	// form. Anything else only warrants sound.
	switch {
	case raw.Title != "" || raw.Icon != "":
		ev.Level = LevelRich
	case raw.Message != nil || ev.Text != "":
		ev.Level = LevelBasic
	default:
		ev.Level = LevelSound
	}

	return ev
}
