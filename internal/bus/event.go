package bus

import "time"

// Event names carried on the push stream. Clients filter by name and
// discriminate payloads on the type field.
const (
	EventMessageCreated = "message.created"
	EventMessageUpdated = "message.updated"
	EventMessageDeleted = "message.deleted"
	EventChannelRead    = "canal.read"
	EventTypingStart    = "typing.start"
	EventTypingStop     = "typing.stop"
	EventHeartbeat      = "heartbeat"
)

// MessagePayload is the wire shape of a message inside an event. Field names
// follow the platform's wire contract (canal_id, body_text).
type MessagePayload struct {
	ID        uint       `json:"id"`
	CanalID   uint       `json:"canal_id"`
	UserID    uint       `json:"user_id"`
	ParentID  *uint      `json:"parent_id,omitempty"`
	BodyText  string     `json:"body_text"`
	CreatedAt time.Time  `json:"created_at"`
	EditedAt  *time.Time `json:"edited_at,omitempty"`
}

// Event is one frame's payload. Every field except Type is optional on the
// wire; consumers must tolerate any subset being present.
type Event struct {
	Type           string          `json:"type"`
	CanalID        uint            `json:"canal_id,omitempty"`
	UserID         uint            `json:"user_id,omitempty"`
	Message        *MessagePayload `json:"message,omitempty"`
	NotificacionID uint            `json:"notificacion_id,omitempty"`
	Mentions       []uint          `json:"mentions,omitempty"`
	LastReadMsgID  uint            `json:"last_read_msg_id,omitempty"`
}
