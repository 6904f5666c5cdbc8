package service

import (
	"errors"
	"log"
	"time"

	"github.com/colabhq/pulse/internal/apperrors"
	"github.com/colabhq/pulse/internal/bus"
	"github.com/colabhq/pulse/internal/cache"
	"github.com/colabhq/pulse/internal/models"
	"github.com/colabhq/pulse/internal/repository"
	"gorm.io/gorm"
)

// Publisher is the slice of the publish bus the pipeline needs.
type Publisher interface {
	Publish(userID uint, ev bus.Event) int
	PublishMany(userIDs []uint, ev bus.Event) int
}

// FanOutSink receives the post-commit durable fan-out work.
type FanOutSink interface {
	FanOut(channel *models.Channel, msg *models.Message, recipients []uint, mentions []uint) error
}

type MessageService struct {
	channelRepo repository.ChannelRepositoryInterface
	messageRepo repository.MessageRepositoryInterface
	notifRepo   repository.NotificationRepositoryInterface
	deliveries  repository.DeliveryRepositoryInterface
	tx          repository.TxManager
	publisher   Publisher
	notifier    FanOutSink
	memberCache *cache.MemberCache

	now func() time.Time
}

func NewMessageService(
	channelRepo repository.ChannelRepositoryInterface,
	messageRepo repository.MessageRepositoryInterface,
	notifRepo repository.NotificationRepositoryInterface,
	deliveries repository.DeliveryRepositoryInterface,
	tx repository.TxManager,
	publisher Publisher,
	notifier FanOutSink,
	memberCache *cache.MemberCache,
) *MessageService {
	return &MessageService{
		channelRepo: channelRepo,
		messageRepo: messageRepo,
		notifRepo:   notifRepo,
		deliveries:  deliveries,
		tx:          tx,
		publisher:   publisher,
		notifier:    notifier,
		memberCache: memberCache,
		now:         time.Now,
	}
}

type AttachmentInput struct {
	FileName  string `json:"file_name"`
	ObjectKey string `json:"object_key"`
	MimeType  string `json:"mime_type"`
	ByteSize  int64  `json:"byte_size"`
}

type CreateMessageInput struct {
	ClientID    string            `json:"client_id"`
	ParentID    *uint             `json:"parent_id"`
	Body        string            `json:"body"`
	Mentions    []uint            `json:"mentions"`
	Attachments []AttachmentInput `json:"attachments"`
}

// CreateMessage runs the message pipeline. Preconditions (membership,
// moderation, slowmode) are checked before any write; persistence is one
// atomic transaction; publish and notification fan-out happen after commit
// and can never roll the message back.
func (s *MessageService) CreateMessage(channelID, authorID uint, input CreateMessageInput) (*models.Message, error) {
	channel, err := s.channelRepo.FindByID(channelID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrNotFound
		}
		return nil, err
	}

	member, err := s.channelRepo.GetMember(channelID, authorID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrForbidden
		}
		return nil, err
	}
	if member.Muted {
		return nil, apperrors.ErrForbidden
	}
	if channel.ModeratorsOnly && !member.Role.CanModerate() {
		return nil, apperrors.ErrForbidden
	}

	if channel.SlowmodeSeconds > 0 {
		prev, err := s.messageRepo.LatestByAuthor(channelID, authorID)
		switch {
		case err == nil:
			interval := time.Duration(channel.SlowmodeSeconds) * time.Second
			elapsed := s.now().Sub(prev.CreatedAt)
			if elapsed < interval {
				return nil, &apperrors.RateLimitedError{RetryAfter: interval - elapsed}
			}
		case errors.Is(err, gorm.ErrRecordNotFound):
			// first message in the channel, no wait
		default:
			return nil, err
		}
	}

	mentions := ExtractMentions(input.Body, input.Mentions, authorID)
	urls := ExtractURLs(input.Body)

	msg := &models.Message{
		ClientID:  input.ClientID,
		ChannelID: channelID,
		AuthorID:  authorID,
		ParentID:  input.ParentID,
		Body:      input.Body,
	}

	err = s.tx.Transaction(func(r repository.Repositories) error {
		if input.ParentID != nil {
			parent, err := r.Messages.FindByID(*input.ParentID)
			if err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return apperrors.ErrNotFound
				}
				return err
			}
			if parent.ChannelID != channelID {
				return apperrors.ErrNotFound
			}
		}

		if err := r.Messages.Create(msg); err != nil {
			return err
		}

		if input.ParentID != nil {
			if err := r.Messages.IncrementReplyCount(*input.ParentID, s.now()); err != nil {
				return err
			}
		}

		if len(input.Attachments) > 0 {
			attachments := make([]models.Attachment, 0, len(input.Attachments))
			for _, in := range input.Attachments {
				attachments = append(attachments, models.Attachment{
					MessageID: msg.ID,
					FileName:  in.FileName,
					ObjectKey: in.ObjectKey,
					MimeType:  in.MimeType,
					ByteSize:  in.ByteSize,
				})
			}
			if err := r.Messages.CreateAttachments(attachments); err != nil {
				return err
			}
		}

		if len(urls) > 0 {
			previews := make([]models.LinkPreview, 0, len(urls))
			for _, u := range urls {
				previews = append(previews, models.LinkPreview{
					MessageID: msg.ID,
					URL:       u,
					Status:    models.LinkPreviewPending,
				})
			}
			if err := r.Messages.CreateLinkPreviews(previews); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	s.afterCommit(channel, msg, mentions)
	return msg, nil
}

// afterCommit is the best-effort phase: live publish to every member (author
// included, so their other tabs reconcile) plus durable notification fan-out.
// Failures are logged, never surfaced to the caller.
func (s *MessageService) afterCommit(channel *models.Channel, msg *models.Message, mentions []uint) {
	recipients, err := s.memberIDs(channel.ID)
	if err != nil {
		log.Printf("%v", &apperrors.BestEffortError{Op: "fan-out addressing", Err: err})
		return
	}

	s.publisher.PublishMany(recipients, bus.Event{
		Type:     bus.EventMessageCreated,
		CanalID:  msg.ChannelID,
		UserID:   msg.AuthorID,
		Message:  messagePayload(msg),
		Mentions: mentions,
	})

	if s.notifier != nil {
		if err := s.notifier.FanOut(channel, msg, recipients, mentions); err != nil {
			log.Printf("%v", err)
		}
	}
}

func (s *MessageService) memberIDs(channelID uint) ([]uint, error) {
	if ids, ok := s.memberCache.GetMemberIDs(channelID); ok {
		return ids, nil
	}
	ids, err := s.channelRepo.ListMemberIDs(channelID)
	if err != nil {
		return nil, err
	}
	_ = s.memberCache.SetMemberIDs(channelID, ids)
	return ids, nil
}

func messagePayload(msg *models.Message) *bus.MessagePayload {
	return &bus.MessagePayload{
		ID:        msg.ID,
		CanalID:   msg.ChannelID,
		UserID:    msg.AuthorID,
		ParentID:  msg.ParentID,
		BodyText:  msg.Body,
		CreatedAt: msg.CreatedAt,
		EditedAt:  msg.EditedAt,
	}
}

// EditMessage updates a message body. Only the author may edit.
func (s *MessageService) EditMessage(messageID, editorID uint, body string) (*models.Message, error) {
	msg, err := s.messageRepo.FindByID(messageID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrNotFound
		}
		return nil, err
	}
	if msg.AuthorID != editorID {
		return nil, apperrors.ErrForbidden
	}

	if err := s.messageRepo.UpdateBody(messageID, body, s.now()); err != nil {
		return nil, err
	}

	updated, err := s.messageRepo.FindByID(messageID)
	if err != nil {
		return nil, err
	}

	if recipients, err := s.memberIDs(msg.ChannelID); err == nil {
		s.publisher.PublishMany(recipients, bus.Event{
			Type:    bus.EventMessageUpdated,
			CanalID: msg.ChannelID,
			UserID:  editorID,
			Message: messagePayload(updated),
		})
	}
	return updated, nil
}

// DeleteMessage soft-deletes a message. Allowed for the author or a member
// whose role can moderate the channel.
func (s *MessageService) DeleteMessage(messageID, requesterID uint) error {
	msg, err := s.messageRepo.FindByID(messageID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperrors.ErrNotFound
		}
		return err
	}

	if msg.AuthorID != requesterID {
		member, err := s.channelRepo.GetMember(msg.ChannelID, requesterID)
		if err != nil || !member.Role.CanModerate() {
			return apperrors.ErrForbidden
		}
	}

	if err := s.messageRepo.SoftDelete(messageID); err != nil {
		return err
	}

	if recipients, err := s.memberIDs(msg.ChannelID); err == nil {
		s.publisher.PublishMany(recipients, bus.Event{
			Type:    bus.EventMessageDeleted,
			CanalID: msg.ChannelID,
			UserID:  requesterID,
			Message: &bus.MessagePayload{ID: msg.ID, CanalID: msg.ChannelID},
		})
	}
	return nil
}

// ListSince is the pull-based catch-up for a client reconnecting after a
// stream gap. Delivery marks are recorded idempotently for whatever the
// viewer actually received.
func (s *MessageService) ListSince(channelID, viewerID, sinceID uint, limit int) ([]models.Message, error) {
	if limit <= 0 || limit > 200 {
		limit = 100
	}
	if err := s.requireMember(channelID, viewerID); err != nil {
		return nil, err
	}

	messages, err := s.messageRepo.ListSince(channelID, sinceID, limit)
	if err != nil {
		return nil, err
	}
	s.markDelivered(messages, viewerID)
	return messages, nil
}

// ListBefore pages back through channel history.
func (s *MessageService) ListBefore(channelID, viewerID, cursor uint, limit int) ([]models.Message, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if err := s.requireMember(channelID, viewerID); err != nil {
		return nil, err
	}

	messages, err := s.messageRepo.ListBefore(channelID, cursor, limit)
	if err != nil {
		return nil, err
	}
	s.markDelivered(messages, viewerID)
	return messages, nil
}

// MarkRead advances the member's read cursor, flushes covered durable
// notification records, and tells the reader's own connections so sibling
// tabs reconcile their counters.
func (s *MessageService) MarkRead(channelID, readerID, lastReadMsgID uint) error {
	if err := s.requireMember(channelID, readerID); err != nil {
		return err
	}

	if err := s.channelRepo.AdvanceReadCursor(channelID, readerID, lastReadMsgID); err != nil {
		return err
	}
	if _, err := s.notifRepo.MarkReadUpTo(readerID, channelID, lastReadMsgID, s.now()); err != nil {
		return err
	}

	s.publisher.Publish(readerID, bus.Event{
		Type:          bus.EventChannelRead,
		CanalID:       channelID,
		UserID:        readerID,
		LastReadMsgID: lastReadMsgID,
	})
	return nil
}

func (s *MessageService) requireMember(channelID, userID uint) error {
	isMember, err := s.channelRepo.IsMember(channelID, userID)
	if err != nil {
		return err
	}
	if !isMember {
		return apperrors.ErrForbidden
	}
	return nil
}

func (s *MessageService) markDelivered(messages []models.Message, viewerID uint) {
	if len(messages) == 0 {
		return
	}
	ids := make([]uint, 0, len(messages))
	for _, m := range messages {
		ids = append(ids, m.ID)
	}
	if err := s.deliveries.MarkDeliveredBatch(ids, viewerID); err != nil {
		log.Printf("%v", &apperrors.BestEffortError{Op: "delivery marks", Err: err})
	}
}
