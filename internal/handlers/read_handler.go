package handlers

import (
	"errors"
	"log"
	"time"

	"github.com/colabhq/pulse/internal/apperrors"
	"github.com/colabhq/pulse/internal/httpx"
	"github.com/colabhq/pulse/internal/repository"
	"github.com/colabhq/pulse/internal/service"
	"github.com/gofiber/fiber/v2"
)

type ReadHandler struct {
	messageService *service.MessageService
	notifRepo      repository.NotificationRepositoryInterface
}

func NewReadHandler(messageService *service.MessageService, notifRepo repository.NotificationRepositoryInterface) *ReadHandler {
	return &ReadHandler{messageService: messageService, notifRepo: notifRepo}
}

// MarkRead handles POST /api/channels/:id/read. Advances the read cursor
// (monotonic), flushes durable notification records up to it, and echoes a
// canal.read event to the reader's own connections.
func (h *ReadHandler) MarkRead(c *fiber.Ctx) error {
	userID, err := httpx.LocalUint(c, "userID")
	if err != nil {
		return httpx.Unauthorized(c, "missing_user", "Missing authenticated user")
	}
	channelID, err := c.ParamsInt("id")
	if err != nil || channelID <= 0 {
		return httpx.BadRequest(c, "invalid_channel", "Invalid channel id")
	}

	var body struct {
		LastReadMsgID uint `json:"last_read_msg_id"`
	}
	if err := c.BodyParser(&body); err != nil || body.LastReadMsgID == 0 {
		return httpx.BadRequest(c, "invalid_body", "last_read_msg_id is required")
	}

	if err := h.messageService.MarkRead(uint(channelID), userID, body.LastReadMsgID); err != nil {
		if errors.Is(err, apperrors.ErrForbidden) {
			return httpx.Forbidden(c, "forbidden", "Not a member of this channel")
		}
		log.Printf("mark read error: %v", err)
		return httpx.Internal(c, "read_error")
	}

	return c.JSON(fiber.Map{"status": "ok"})
}

// ListUnread handles GET /api/channels/:id/notifications. The client ledger
// reconciles its in-memory counters against these durable records.
func (h *ReadHandler) ListUnread(c *fiber.Ctx) error {
	userID, err := httpx.LocalUint(c, "userID")
	if err != nil {
		return httpx.Unauthorized(c, "missing_user", "Missing authenticated user")
	}
	channelID, err := c.ParamsInt("id")
	if err != nil || channelID <= 0 {
		return httpx.BadRequest(c, "invalid_channel", "Invalid channel id")
	}

	notifications, err := h.notifRepo.ListUnreadByChannel(userID, uint(channelID))
	if err != nil {
		log.Printf("list unread error: %v", err)
		return httpx.Internal(c, "notifications_error")
	}
	return c.JSON(fiber.Map{
		"notifications": notifications,
		"count":         len(notifications),
	})
}

// MarkNotificationsRead handles POST /api/notifications/read with an explicit
// id set, used by the client when it flushes records itself.
func (h *ReadHandler) MarkNotificationsRead(c *fiber.Ctx) error {
	userID, err := httpx.LocalUint(c, "userID")
	if err != nil {
		return httpx.Unauthorized(c, "missing_user", "Missing authenticated user")
	}

	var body struct {
		IDs []uint `json:"ids"`
	}
	if err := c.BodyParser(&body); err != nil || len(body.IDs) == 0 {
		return httpx.BadRequest(c, "invalid_body", "ids is required")
	}

	if err := h.notifRepo.MarkRead(userID, body.IDs, time.Now()); err != nil {
		log.Printf("mark notifications read error: %v", err)
		return httpx.Internal(c, "notifications_error")
	}
	return c.JSON(fiber.Map{"status": "ok", "marked": len(body.IDs)})
}
