package service

import (
	"errors"
	"testing"

	"github.com/colabhq/pulse/internal/apperrors"
	"github.com/colabhq/pulse/internal/models"
)

type capturedPush struct {
	userIDs []uint
	payload PushPayload
}

// MockPushProvider records every push it is handed
type MockPushProvider struct {
	pushes []capturedPush
	err    error
}

func (m *MockPushProvider) Push(userIDs []uint, payload PushPayload) error {
	m.pushes = append(m.pushes, capturedPush{userIDs: userIDs, payload: payload})
	return m.err
}

func TestFanOut_OneRecordAndPushPerRecipient(t *testing.T) {
	notifs := NewMockNotificationRepository()
	provider := &MockPushProvider{}
	n := NewNotifier(notifs, provider)

	channel := &models.Channel{ID: 5, Name: "general"}
	msg := &models.Message{ID: 42, ChannelID: 5, AuthorID: 1, Body: "hola @ana"}

	err := n.FanOut(channel, msg, []uint{1, 2, 3}, []uint{3})
	if err != nil {
		t.Fatalf("FanOut returned error: %v", err)
	}

	if len(notifs.created) != 2 {
		t.Fatalf("records created = %d, want 2 (author excluded)", len(notifs.created))
	}
	for _, rec := range notifs.created {
		if rec.UserID == msg.AuthorID {
			t.Errorf("record created for the author (user %d)", rec.UserID)
		}
	}
	if !notifs.created[1].IsMention {
		t.Error("mentioned recipient's record is not flagged as a mention")
	}
	if notifs.created[0].IsMention {
		t.Error("plain recipient's record is flagged as a mention")
	}

	if len(provider.pushes) != 2 {
		t.Fatalf("pushes = %d, want one per recipient", len(provider.pushes))
	}
	for i, p := range provider.pushes {
		if len(p.userIDs) != 1 {
			t.Fatalf("push %d targets %d users, want 1", i, len(p.userIDs))
		}
		if p.userIDs[0] != notifs.created[i].UserID {
			t.Errorf("push %d targets user %d but carries user %d's record",
				i, p.userIDs[0], notifs.created[i].UserID)
		}
		if p.payload.NotificacionID != notifs.created[i].ID {
			t.Errorf("push %d notificacion id = %d, want recipient's own record id %d",
				i, p.payload.NotificacionID, notifs.created[i].ID)
		}
		if p.payload.MessageID != msg.ID {
			t.Errorf("push %d message id = %d, want %d", i, p.payload.MessageID, msg.ID)
		}
	}
}

func TestFanOut_DistinctRecordIDsAcrossRecipients(t *testing.T) {
	notifs := NewMockNotificationRepository()
	provider := &MockPushProvider{}
	n := NewNotifier(notifs, provider)

	channel := &models.Channel{ID: 5, Name: "general"}
	msg := &models.Message{ID: 42, ChannelID: 5, AuthorID: 1, Body: "hola"}

	if err := n.FanOut(channel, msg, []uint{1, 2, 3, 4}, nil); err != nil {
		t.Fatalf("FanOut returned error: %v", err)
	}

	seen := make(map[uint]bool)
	for _, p := range provider.pushes {
		if seen[p.payload.NotificacionID] {
			t.Fatalf("record id %d pushed to more than one recipient", p.payload.NotificacionID)
		}
		seen[p.payload.NotificacionID] = true
	}
}

func TestFanOut_RecordWriteFailureIsBestEffort(t *testing.T) {
	notifs := NewMockNotificationRepository()
	notifs.createBatchErr = errors.New("db down")
	provider := &MockPushProvider{}
	n := NewNotifier(notifs, provider)

	channel := &models.Channel{ID: 5, Name: "general"}
	msg := &models.Message{ID: 42, ChannelID: 5, AuthorID: 1, Body: "hola"}

	err := n.FanOut(channel, msg, []uint{1, 2}, nil)
	var be *apperrors.BestEffortError
	if !errors.As(err, &be) {
		t.Fatalf("error = %v, want BestEffortError", err)
	}
	if len(provider.pushes) != 0 {
		t.Errorf("pushed %d payloads after the record write failed", len(provider.pushes))
	}
}
