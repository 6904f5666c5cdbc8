package handlers

import (
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/colabhq/pulse/internal/httpx"
	"github.com/colabhq/pulse/internal/repository"
	"github.com/colabhq/pulse/internal/storage"
)

const maxAttachmentBytes = 25 << 20 // 25 MiB

// AttachmentHandler uploads and serves message attachment blobs. The store is
// optional: when object storage is not configured the endpoints answer 503 and
// the rest of the API keeps working.
type AttachmentHandler struct {
	store       *storage.AttachmentStore
	channelRepo repository.ChannelRepositoryInterface
}

func NewAttachmentHandler(store *storage.AttachmentStore, channelRepo repository.ChannelRepositoryInterface) *AttachmentHandler {
	return &AttachmentHandler{store: store, channelRepo: channelRepo}
}

type uploadResponse struct {
	ObjectKey string `json:"object_key"`
	FileName  string `json:"file_name"`
	MimeType  string `json:"mime_type"`
	SizeBytes int64  `json:"size_bytes"`
}

// Upload stores one multipart file and returns the object key the client
// should reference from its next message send.
func (h *AttachmentHandler) Upload(c *fiber.Ctx) error {
	if h.store == nil {
		return httpx.Error(c, fiber.StatusServiceUnavailable, "storage_unavailable", "Attachment storage is not configured")
	}
	userID, err := httpx.LocalUint(c, "userID")
	if err != nil {
		return httpx.Unauthorized(c, "missing_user", "Missing authenticated user")
	}
	channelID, err := c.ParamsInt("id")
	if err != nil || channelID <= 0 {
		return httpx.BadRequest(c, "invalid_channel", "Invalid channel id")
	}

	member, err := h.channelRepo.GetMember(uint(channelID), userID)
	if err != nil || member == nil {
		return httpx.Forbidden(c, "forbidden", "Not a member of this channel")
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		return httpx.BadRequest(c, "missing_file", "Missing file field")
	}
	if fileHeader.Size <= 0 || fileHeader.Size > maxAttachmentBytes {
		return httpx.BadRequest(c, "invalid_size", "File size out of range")
	}

	src, err := fileHeader.Open()
	if err != nil {
		return httpx.BadRequest(c, "invalid_file", "Unreadable file")
	}
	defer src.Close()

	contentType := fileHeader.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	key, err := storage.SafeAttachmentKey(
		fmt.Sprintf("channels/%d", channelID),
		uuid.NewString()+"-"+fileHeader.Filename,
	)
	if err != nil {
		return httpx.BadRequest(c, "invalid_file_name", "Invalid file name")
	}

	stat, err := h.store.PutObject(c.Context(), key, src, fileHeader.Size, contentType)
	if err != nil {
		log.Printf("attachment upload failed: key=%s err=%v", key, err)
		return httpx.Internal(c, "upload_failed")
	}

	return c.Status(fiber.StatusCreated).JSON(uploadResponse{
		ObjectKey: key,
		FileName:  fileHeader.Filename,
		MimeType:  contentType,
		SizeBytes: stat.Size,
	})
}

// Download streams an attachment back to a channel member.
func (h *AttachmentHandler) Download(c *fiber.Ctx) error {
	if h.store == nil {
		return httpx.Error(c, fiber.StatusServiceUnavailable, "storage_unavailable", "Attachment storage is not configured")
	}
	userID, err := httpx.LocalUint(c, "userID")
	if err != nil {
		return httpx.Unauthorized(c, "missing_user", "Missing authenticated user")
	}
	channelID, err := c.ParamsInt("id")
	if err != nil || channelID <= 0 {
		return httpx.BadRequest(c, "invalid_channel", "Invalid channel id")
	}
	member, err := h.channelRepo.GetMember(uint(channelID), userID)
	if err != nil || member == nil {
		return httpx.Forbidden(c, "forbidden", "Not a member of this channel")
	}

	key, err := storage.SafeAttachmentKey(fmt.Sprintf("channels/%d", channelID), c.Params("*"))
	if err != nil {
		return httpx.BadRequest(c, "invalid_object_key", "Invalid object key")
	}

	obj, stat, err := h.store.GetObject(c.Context(), key)
	if err != nil {
		return httpx.NotFound(c, "not_found", "Attachment not found")
	}
	defer obj.Close()

	c.Set(fiber.HeaderContentType, stat.ContentType)
	c.Set(fiber.HeaderContentLength, fmt.Sprintf("%d", stat.Size))
	c.Set(fiber.HeaderCacheControl, "private, max-age=3600")
	if _, err := io.Copy(c.Response().BodyWriter(), obj); err != nil && !errors.Is(err, io.EOF) {
		log.Printf("attachment stream interrupted: key=%s err=%v", key, err)
	}
	return nil
}

// PresignURL hands the client a short-lived direct download URL so big files
// do not tie up the API process.
func (h *AttachmentHandler) PresignURL(c *fiber.Ctx) error {
	if h.store == nil {
		return httpx.Error(c, fiber.StatusServiceUnavailable, "storage_unavailable", "Attachment storage is not configured")
	}
	userID, err := httpx.LocalUint(c, "userID")
	if err != nil {
		return httpx.Unauthorized(c, "missing_user", "Missing authenticated user")
	}
	channelID, err := c.ParamsInt("id")
	if err != nil || channelID <= 0 {
		return httpx.BadRequest(c, "invalid_channel", "Invalid channel id")
	}
	member, err := h.channelRepo.GetMember(uint(channelID), userID)
	if err != nil || member == nil {
		return httpx.Forbidden(c, "forbidden", "Not a member of this channel")
	}

	key, err := storage.SafeAttachmentKey(fmt.Sprintf("channels/%d", channelID), c.Params("*"))
	if err != nil {
		return httpx.BadRequest(c, "invalid_object_key", "Invalid object key")
	}

	u, err := h.store.PresignedGet(c.Context(), key, 15*time.Minute)
	if err != nil {
		log.Printf("presign failed: key=%s err=%v", key, err)
		return httpx.Internal(c, "presign_failed")
	}
	return c.JSON(fiber.Map{"url": u, "expires_in_seconds": 900})
}
