package service

import (
	"fmt"
	"log"

	"github.com/colabhq/pulse/internal/apperrors"
	"github.com/colabhq/pulse/internal/models"
	"github.com/colabhq/pulse/internal/repository"
)

// PushPayload is what the out-of-band push provider renders on the device.
// It intentionally carries rendering fields the live stream does not: the
// client deduplicates the two deliveries by canonical key and upgrades the
// low-fidelity alert when this one lands.
type PushPayload struct {
	Title          string `json:"title"`
	Body           string `json:"body"`
	Icon           string `json:"icon,omitempty"`
	CanalID        uint   `json:"canal_id"`
	MessageID      uint   `json:"message_id,omitempty"`
	NotificacionID uint   `json:"notificacion_id,omitempty"`
}

// PushProvider delivers enriched payloads out of band. Delivery is
// at-least-once at best: may duplicate, may reorder against the live stream,
// may silently drop.
type PushProvider interface {
	Push(userIDs []uint, payload PushPayload) error
}

// LogPushProvider is the default provider when no push backend is configured.
type LogPushProvider struct{}

func (LogPushProvider) Push(userIDs []uint, payload PushPayload) error {
	log.Printf("push (log only) recipients=%d canal=%d message=%d title=%q",
		len(userIDs), payload.CanalID, payload.MessageID, payload.Title)
	return nil
}

// Notifier persists durable notification records per destination and hands
// the enriched payload to the push provider. Everything here is best-effort
// post-commit work.
type Notifier struct {
	notifRepo repository.NotificationRepositoryInterface
	provider  PushProvider
}

func NewNotifier(notifRepo repository.NotificationRepositoryInterface, provider PushProvider) *Notifier {
	if provider == nil {
		provider = LogPushProvider{}
	}
	return &Notifier{notifRepo: notifRepo, provider: provider}
}

// FanOut writes one notification record per recipient (author excluded) and
// pushes the enriched payload. Returns a BestEffortError so the caller can
// log it; the committed message is never affected.
func (n *Notifier) FanOut(channel *models.Channel, msg *models.Message, recipients []uint, mentions []uint) error {
	mentioned := make(map[uint]bool, len(mentions))
	for _, id := range mentions {
		mentioned[id] = true
	}

	var records []models.Notification
	var targets []uint
	for _, uid := range recipients {
		if uid == msg.AuthorID {
			continue
		}
		records = append(records, models.Notification{
			UserID:    uid,
			ChannelID: msg.ChannelID,
			MessageID: msg.ID,
			IsMention: mentioned[uid],
		})
		targets = append(targets, uid)
	}

	if err := n.notifRepo.CreateBatch(records); err != nil {
		return &apperrors.BestEffortError{Op: "notification records", Err: err}
	}

	// One push per recipient: each payload carries that recipient's own
	// record id so the client can flush exactly the record it owns.
	var pushErr error
	for i, uid := range targets {
		payload := PushPayload{
			Title:          fmt.Sprintf("New message in #%s", channel.Name),
			Body:           truncateBody(msg.Body, 140),
			CanalID:        msg.ChannelID,
			MessageID:      msg.ID,
			NotificacionID: records[i].ID,
		}
		if err := n.provider.Push([]uint{uid}, payload); err != nil && pushErr == nil {
			pushErr = err
		}
	}
	if pushErr != nil {
		return &apperrors.BestEffortError{Op: "push provider", Err: pushErr}
	}
	return nil
}

func truncateBody(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "…"
}
