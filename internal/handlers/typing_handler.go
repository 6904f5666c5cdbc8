package handlers

import (
	"log"

	"github.com/colabhq/pulse/internal/bus"
	"github.com/colabhq/pulse/internal/cache"
	"github.com/colabhq/pulse/internal/httpx"
	"github.com/colabhq/pulse/internal/repository"
	"github.com/colabhq/pulse/internal/service"
	"github.com/gofiber/fiber/v2"
)

type TypingHandler struct {
	typingCache *cache.TypingCache
	channelRepo repository.ChannelRepositoryInterface
	memberCache *cache.MemberCache
	publisher   service.Publisher
}

func NewTypingHandler(
	typingCache *cache.TypingCache,
	channelRepo repository.ChannelRepositoryInterface,
	memberCache *cache.MemberCache,
	publisher service.Publisher,
) *TypingHandler {
	return &TypingHandler{
		typingCache: typingCache,
		channelRepo: channelRepo,
		memberCache: memberCache,
		publisher:   publisher,
	}
}

func (h *TypingHandler) signal(c *fiber.Ctx, start bool) error {
	userID, err := httpx.LocalUint(c, "userID")
	if err != nil {
		return httpx.Unauthorized(c, "missing_user", "Missing authenticated user")
	}
	channelID, err := c.ParamsInt("id")
	if err != nil || channelID <= 0 {
		return httpx.BadRequest(c, "invalid_channel", "Invalid channel id")
	}

	isMember, err := h.channelRepo.IsMember(uint(channelID), userID)
	if err != nil {
		log.Printf("typing membership check error: %v", err)
		return httpx.Internal(c, "typing_error")
	}
	if !isMember {
		return httpx.Forbidden(c, "forbidden", "Not a member of this channel")
	}

	eventType := bus.EventTypingStop
	if start {
		eventType = bus.EventTypingStart
		err = h.typingCache.Start(uint(channelID), userID)
	} else {
		err = h.typingCache.Stop(uint(channelID), userID)
	}
	if err != nil {
		// Typing is ephemeral; a cache hiccup should not fail the request.
		log.Printf("typing cache error: %v", err)
	}

	recipients := h.recipients(uint(channelID))
	h.publisher.PublishMany(recipients, bus.Event{
		Type:    eventType,
		CanalID: uint(channelID),
		UserID:  userID,
	})

	return c.JSON(fiber.Map{"status": "ok"})
}

// Start handles POST /api/channels/:id/typing/start
func (h *TypingHandler) Start(c *fiber.Ctx) error {
	return h.signal(c, true)
}

// Stop handles POST /api/channels/:id/typing/stop
func (h *TypingHandler) Stop(c *fiber.Ctx) error {
	return h.signal(c, false)
}

// Active handles GET /api/channels/:id/typing
func (h *TypingHandler) Active(c *fiber.Ctx) error {
	if _, err := httpx.LocalUint(c, "userID"); err != nil {
		return httpx.Unauthorized(c, "missing_user", "Missing authenticated user")
	}
	channelID, err := c.ParamsInt("id")
	if err != nil || channelID <= 0 {
		return httpx.BadRequest(c, "invalid_channel", "Invalid channel id")
	}

	users, err := h.typingCache.Active(uint(channelID))
	if err != nil {
		log.Printf("typing active error: %v", err)
		return httpx.Internal(c, "typing_error")
	}
	return c.JSON(fiber.Map{"users": users})
}

func (h *TypingHandler) recipients(channelID uint) []uint {
	if ids, ok := h.memberCache.GetMemberIDs(channelID); ok {
		return ids
	}
	ids, err := h.channelRepo.ListMemberIDs(channelID)
	if err != nil {
		log.Printf("typing fan-out addressing error: %v", err)
		return nil
	}
	_ = h.memberCache.SetMemberIDs(channelID, ids)
	return ids
}
