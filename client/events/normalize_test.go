package events

import (
	"encoding/json"
	"strings"
	"testing"
	"unicode/utf8"
)

func TestNormalize_MessageIDWinsKey(t *testing.T) {
	ev := Normalize(RawEvent{
		Type:           "message.created",
		NotificacionID: 9,
		Message:        &RawMessage{ID: 42, CanalID: 5, UserID: 2, BodyText: "hola"},
	})
	if ev.Key != "msg:42" {
		t.Errorf("key = %q, want msg:42", ev.Key)
	}
	if ev.ChannelID != 5 || ev.AuthorID != 2 || ev.Text != "hola" {
		t.Errorf("canonical fields = %+v", ev)
	}
	if ev.Level != LevelBasic {
		t.Errorf("level = %d, want basic", ev.Level)
	}
}

func TestNormalize_SameKeyAcrossTransports(t *testing.T) {
	// Live stream frame: the id lives inside the message object.
	live := Normalize(RawEvent{
		Type:    "message.created",
		CanalID: 5,
		Message: &RawMessage{ID: 42, CanalID: 5, UserID: 2, BodyText: "hola"},
	})

	// Background push payload: the id is top level, next to rendered fields.
	var raw RawEvent
	wire := `{"title":"Ana","body":"hola","canal_id":5,"message_id":42,"notificacion_id":9}`
	if err := json.Unmarshal([]byte(wire), &raw); err != nil {
		t.Fatalf("unmarshal push payload: %v", err)
	}
	rich := Normalize(raw)

	if live.Key != "msg:42" {
		t.Errorf("live key = %q, want msg:42", live.Key)
	}
	if rich.Key != live.Key {
		t.Errorf("push key = %q, live key = %q, want identical", rich.Key, live.Key)
	}
	if rich.Level != LevelRich || live.Level != LevelBasic {
		t.Errorf("levels = push %d / live %d, want rich over basic", rich.Level, live.Level)
	}
}

func TestNormalize_NotificationIDFallback(t *testing.T) {
	ev := Normalize(RawEvent{Type: "message.created", NotificacionID: 9, Body: "hola"})
	if ev.Key != "notif:9" {
		t.Errorf("key = %q, want notif:9", ev.Key)
	}
}

func TestNormalize_ContentFallbackKey(t *testing.T) {
	long := strings.Repeat("A", 150)
	ev := Normalize(RawEvent{Type: "message.created", CanalID: 3, Body: long})
	want := "message.created|3|" + strings.Repeat("a", 100)
	if ev.Key != want {
		t.Errorf("key = %q, want lower-cased 100-char content key", ev.Key)
	}

	// The same content on the other transport produces the same key.
	again := Normalize(RawEvent{Type: "message.created", ChatCanalID: 3, Body: long})
	if again.Key != ev.Key {
		t.Error("content keys must match across transports")
	}
}

func TestNormalize_ContentKeyTruncatesOnRunes(t *testing.T) {
	long := strings.Repeat("ñ", 150)
	ev := Normalize(RawEvent{Type: "message.created", CanalID: 3, Body: long})

	want := "message.created|3|" + strings.Repeat("ñ", 100)
	if ev.Key != want {
		t.Errorf("key = %q, want 100-rune truncation", ev.Key)
	}
	if !utf8.ValidString(ev.Key) {
		t.Error("truncation must never split a rune")
	}
}

func TestNormalize_RichLevelFromRenderedFields(t *testing.T) {
	ev := Normalize(RawEvent{Type: "message.created", CanalID: 1, Title: "New in #general", Body: "hola"})
	if ev.Level != LevelRich {
		t.Errorf("level = %d, want rich", ev.Level)
	}
}

func TestNormalize_BareEventIsSoundOnly(t *testing.T) {
	ev := Normalize(RawEvent{Type: "canal.read", CanalID: 1})
	if ev.Level != LevelSound {
		t.Errorf("level = %d, want sound-only", ev.Level)
	}
	if ev.Key == "" {
		t.Error("even bare events must get a key")
	}
}

func TestNormalize_ChannelIDAliases(t *testing.T) {
	ev := Normalize(RawEvent{Type: "message.created", ChatCanalID: 7, Body: "x"})
	if ev.ChannelID != 7 {
		t.Errorf("channel = %d, want 7 from chat_canal_id", ev.ChannelID)
	}
}
