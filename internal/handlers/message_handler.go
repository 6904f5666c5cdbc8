package handlers

import (
	"errors"
	"log"

	"github.com/colabhq/pulse/internal/apperrors"
	"github.com/colabhq/pulse/internal/httpx"
	"github.com/colabhq/pulse/internal/models"
	"github.com/colabhq/pulse/internal/service"
	"github.com/gofiber/fiber/v2"
)

type MessageHandler struct {
	messageService *service.MessageService
}

func NewMessageHandler(messageService *service.MessageService) *MessageHandler {
	return &MessageHandler{messageService: messageService}
}

func (h *MessageHandler) serviceError(c *fiber.Ctx, err error) error {
	if retryAfter, ok := apperrors.IsRateLimited(err); ok {
		return httpx.RateLimited(c, retryAfter)
	}
	switch {
	case errors.Is(err, apperrors.ErrForbidden):
		return httpx.Forbidden(c, "forbidden", "Not allowed")
	case errors.Is(err, apperrors.ErrNotFound):
		return httpx.NotFound(c, "not_found", "Resource not found")
	default:
		log.Printf("message handler error: %v", err)
		return httpx.Internal(c, "message_error")
	}
}

// SendMessage handles POST /api/channels/:id/messages
func (h *MessageHandler) SendMessage(c *fiber.Ctx) error {
	userID, err := httpx.LocalUint(c, "userID")
	if err != nil {
		return httpx.Unauthorized(c, "missing_user", "Missing authenticated user")
	}
	channelID, err := c.ParamsInt("id")
	if err != nil || channelID <= 0 {
		return httpx.BadRequest(c, "invalid_channel", "Invalid channel id")
	}

	var input service.CreateMessageInput
	if err := c.BodyParser(&input); err != nil {
		return httpx.BadRequest(c, "invalid_body", "Invalid request body")
	}
	if input.Body == "" && len(input.Attachments) == 0 {
		return httpx.BadRequest(c, "empty_message", "Message body is required")
	}

	msg, err := h.messageService.CreateMessage(uint(channelID), userID, input)
	if err != nil {
		return h.serviceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(msg.ToResponse())
}

// GetMessages handles GET /api/channels/:id/messages with either ?since=<id>
// (catch-up after a stream gap, ascending) or ?cursor=<id> (history paging,
// chronological window ending before the cursor).
func (h *MessageHandler) GetMessages(c *fiber.Ctx) error {
	userID, err := httpx.LocalUint(c, "userID")
	if err != nil {
		return httpx.Unauthorized(c, "missing_user", "Missing authenticated user")
	}
	channelID, err := c.ParamsInt("id")
	if err != nil || channelID <= 0 {
		return httpx.BadRequest(c, "invalid_channel", "Invalid channel id")
	}

	limit := c.QueryInt("limit")

	var messages []models.Message
	if since := c.QueryInt("since", -1); since >= 0 {
		messages, err = h.messageService.ListSince(uint(channelID), userID, uint(since), limit)
	} else {
		cursor := c.QueryInt("cursor")
		messages, err = h.messageService.ListBefore(uint(channelID), userID, uint(cursor), limit)
	}
	if err != nil {
		return h.serviceError(c, err)
	}

	responses := make([]models.MessageResponse, 0, len(messages))
	for i := range messages {
		responses = append(responses, messages[i].ToResponse())
	}
	return c.JSON(fiber.Map{
		"messages": responses,
		"count":    len(responses),
	})
}

// EditMessage handles PUT /api/messages/:id
func (h *MessageHandler) EditMessage(c *fiber.Ctx) error {
	userID, err := httpx.LocalUint(c, "userID")
	if err != nil {
		return httpx.Unauthorized(c, "missing_user", "Missing authenticated user")
	}
	messageID, err := c.ParamsInt("id")
	if err != nil || messageID <= 0 {
		return httpx.BadRequest(c, "invalid_message", "Invalid message id")
	}

	var body struct {
		Body string `json:"body"`
	}
	if err := c.BodyParser(&body); err != nil || body.Body == "" {
		return httpx.BadRequest(c, "invalid_body", "Message body is required")
	}

	msg, err := h.messageService.EditMessage(uint(messageID), userID, body.Body)
	if err != nil {
		return h.serviceError(c, err)
	}
	return c.JSON(msg.ToResponse())
}

// DeleteMessage handles DELETE /api/messages/:id
func (h *MessageHandler) DeleteMessage(c *fiber.Ctx) error {
	userID, err := httpx.LocalUint(c, "userID")
	if err != nil {
		return httpx.Unauthorized(c, "missing_user", "Missing authenticated user")
	}
	messageID, err := c.ParamsInt("id")
	if err != nil || messageID <= 0 {
		return httpx.BadRequest(c, "invalid_message", "Invalid message id")
	}

	if err := h.messageService.DeleteMessage(uint(messageID), userID); err != nil {
		return h.serviceError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}
