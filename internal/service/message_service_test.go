package service

import (
	"errors"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/colabhq/pulse/internal/apperrors"
	"github.com/colabhq/pulse/internal/bus"
	"github.com/colabhq/pulse/internal/cache"
	"github.com/colabhq/pulse/internal/models"
	"github.com/colabhq/pulse/internal/repository"
)

// MockChannelRepository is a map-backed implementation for testing
type MockChannelRepository struct {
	channels map[uint]*models.Channel
	members  map[[2]uint]*models.ChannelMember
	cursors  map[[2]uint]uint
}

func NewMockChannelRepository() *MockChannelRepository {
	return &MockChannelRepository{
		channels: make(map[uint]*models.Channel),
		members:  make(map[[2]uint]*models.ChannelMember),
		cursors:  make(map[[2]uint]uint),
	}
}

func (m *MockChannelRepository) FindByID(id uint) (*models.Channel, error) {
	if ch, ok := m.channels[id]; ok {
		return ch, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *MockChannelRepository) GetMember(channelID, userID uint) (*models.ChannelMember, error) {
	if mem, ok := m.members[[2]uint{channelID, userID}]; ok {
		return mem, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *MockChannelRepository) IsMember(channelID, userID uint) (bool, error) {
	_, ok := m.members[[2]uint{channelID, userID}]
	return ok, nil
}

func (m *MockChannelRepository) ListMemberIDs(channelID uint) ([]uint, error) {
	var ids []uint
	for key := range m.members {
		if key[0] == channelID {
			ids = append(ids, key[1])
		}
	}
	return ids, nil
}

func (m *MockChannelRepository) AddMember(channelID, userID uint, role models.ChannelRole) error {
	key := [2]uint{channelID, userID}
	if _, ok := m.members[key]; !ok {
		m.members[key] = &models.ChannelMember{ChannelID: channelID, UserID: userID, Role: role}
	}
	return nil
}

func (m *MockChannelRepository) RemoveMember(channelID, userID uint) error {
	delete(m.members, [2]uint{channelID, userID})
	return nil
}

func (m *MockChannelRepository) AdvanceReadCursor(channelID, userID, lastReadMessageID uint) error {
	key := [2]uint{channelID, userID}
	if lastReadMessageID > m.cursors[key] {
		m.cursors[key] = lastReadMessageID
	}
	return nil
}

// MockMessageRepository is a map-backed implementation for testing
type MockMessageRepository struct {
	messages    map[uint]*models.Message
	attachments []models.Attachment
	previews    []models.LinkPreview
	nextID      uint
}

func NewMockMessageRepository() *MockMessageRepository {
	return &MockMessageRepository{
		messages: make(map[uint]*models.Message),
		nextID:   1,
	}
}

func (m *MockMessageRepository) Create(message *models.Message) error {
	if message.ID == 0 {
		message.ID = m.nextID
		m.nextID++
	}
	if message.CreatedAt.IsZero() {
		message.CreatedAt = time.Now()
	}
	m.messages[message.ID] = message
	return nil
}

func (m *MockMessageRepository) FindByID(id uint) (*models.Message, error) {
	if msg, ok := m.messages[id]; ok {
		return msg, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *MockMessageRepository) FindByClientID(clientID string, authorID uint) (*models.Message, error) {
	for _, msg := range m.messages {
		if msg.ClientID == clientID && msg.AuthorID == authorID {
			return msg, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *MockMessageRepository) LatestByAuthor(channelID, authorID uint) (*models.Message, error) {
	var latest *models.Message
	for _, msg := range m.messages {
		if msg.ChannelID != channelID || msg.AuthorID != authorID {
			continue
		}
		if latest == nil || msg.ID > latest.ID {
			latest = msg
		}
	}
	if latest == nil {
		return nil, gorm.ErrRecordNotFound
	}
	return latest, nil
}

func (m *MockMessageRepository) ListBefore(channelID uint, cursor uint, limit int) ([]models.Message, error) {
	var result []models.Message
	for _, msg := range m.messages {
		if msg.ChannelID == channelID && (cursor == 0 || msg.ID < cursor) {
			result = append(result, *msg)
		}
	}
	return result, nil
}

func (m *MockMessageRepository) ListSince(channelID uint, sinceID uint, limit int) ([]models.Message, error) {
	var result []models.Message
	for _, msg := range m.messages {
		if msg.ChannelID == channelID && msg.ID > sinceID {
			result = append(result, *msg)
		}
	}
	return result, nil
}

func (m *MockMessageRepository) IncrementReplyCount(parentID uint, at time.Time) error {
	parent, ok := m.messages[parentID]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	parent.ReplyCount++
	parent.LastReplyAt = &at
	return nil
}

func (m *MockMessageRepository) CreateAttachments(attachments []models.Attachment) error {
	m.attachments = append(m.attachments, attachments...)
	return nil
}

func (m *MockMessageRepository) CreateLinkPreviews(previews []models.LinkPreview) error {
	m.previews = append(m.previews, previews...)
	return nil
}

func (m *MockMessageRepository) UpdateBody(id uint, body string, at time.Time) error {
	msg, ok := m.messages[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	msg.Body = body
	msg.EditedAt = &at
	msg.Version++
	return nil
}

func (m *MockMessageRepository) SoftDelete(id uint) error {
	delete(m.messages, id)
	return nil
}

// MockNotificationRepository records durable fan-out writes
type MockNotificationRepository struct {
	created        []models.Notification
	markedUpTo     map[[2]uint]uint // (user, channel) -> message id
	markedFor      uint
	markedIDs      []uint
	nextID         uint
	createBatchErr error
}

func NewMockNotificationRepository() *MockNotificationRepository {
	return &MockNotificationRepository{markedUpTo: make(map[[2]uint]uint)}
}

func (m *MockNotificationRepository) CreateBatch(notifications []models.Notification) error {
	if m.createBatchErr != nil {
		return m.createBatchErr
	}
	for i := range notifications {
		m.nextID++
		notifications[i].ID = m.nextID
	}
	m.created = append(m.created, notifications...)
	return nil
}

func (m *MockNotificationRepository) ListUnreadByChannel(userID, channelID uint) ([]models.Notification, error) {
	var result []models.Notification
	for _, n := range m.created {
		if n.UserID == userID && n.ChannelID == channelID && !n.Read {
			result = append(result, n)
		}
	}
	return result, nil
}

func (m *MockNotificationRepository) MarkRead(userID uint, ids []uint, at time.Time) error {
	m.markedFor = userID
	m.markedIDs = append(m.markedIDs, ids...)
	return nil
}

func (m *MockNotificationRepository) MarkReadUpTo(userID, channelID, messageID uint, at time.Time) (int64, error) {
	m.markedUpTo[[2]uint{userID, channelID}] = messageID
	return 1, nil
}

func (m *MockNotificationRepository) CountUnread(userID uint) (int64, error) {
	var n int64
	for _, notif := range m.created {
		if notif.UserID == userID && !notif.Read {
			n++
		}
	}
	return n, nil
}

// MockDeliveryRepository records idempotent delivery marks
type MockDeliveryRepository struct {
	marks map[[2]uint]bool
}

func NewMockDeliveryRepository() *MockDeliveryRepository {
	return &MockDeliveryRepository{marks: make(map[[2]uint]bool)}
}

func (m *MockDeliveryRepository) MarkDelivered(messageID, userID uint) error {
	m.marks[[2]uint{messageID, userID}] = true
	return nil
}

func (m *MockDeliveryRepository) MarkDeliveredBatch(messageIDs []uint, userID uint) error {
	for _, id := range messageIDs {
		m.marks[[2]uint{id, userID}] = true
	}
	return nil
}

// MockTxManager runs the function directly against the mock repositories.
type MockTxManager struct {
	repos repository.Repositories
}

func (m *MockTxManager) Transaction(fn func(r repository.Repositories) error) error {
	return fn(m.repos)
}

// MockPublisher records published events
type MockPublisher struct {
	events     []bus.Event
	recipients [][]uint
	failAll    bool
}

func (m *MockPublisher) Publish(userID uint, ev bus.Event) int {
	return m.PublishMany([]uint{userID}, ev)
}

func (m *MockPublisher) PublishMany(userIDs []uint, ev bus.Event) int {
	if m.failAll {
		return 0
	}
	m.events = append(m.events, ev)
	m.recipients = append(m.recipients, userIDs)
	return len(userIDs)
}

type MockNotifierSink struct {
	calls int
	err   error
}

func (m *MockNotifierSink) FanOut(channel *models.Channel, msg *models.Message, recipients []uint, mentions []uint) error {
	m.calls++
	return m.err
}

type fixture struct {
	channels  *MockChannelRepository
	messages  *MockMessageRepository
	notifs    *MockNotificationRepository
	delivers  *MockDeliveryRepository
	publisher *MockPublisher
	sink      *MockNotifierSink
	svc       *MessageService
}

func newFixture() *fixture {
	f := &fixture{
		channels:  NewMockChannelRepository(),
		messages:  NewMockMessageRepository(),
		notifs:    NewMockNotificationRepository(),
		delivers:  NewMockDeliveryRepository(),
		publisher: &MockPublisher{},
		sink:      &MockNotifierSink{},
	}
	tx := &MockTxManager{repos: repository.Repositories{
		Channels:      f.channels,
		Messages:      f.messages,
		Notifications: f.notifs,
		Deliveries:    f.delivers,
	}}
	f.svc = NewMessageService(
		f.channels, f.messages, f.notifs, f.delivers,
		tx, f.publisher, f.sink, cache.NewMemberCache(nil),
	)
	return f
}

func (f *fixture) addChannel(id uint, moderatorsOnly bool, slowmode int) {
	f.channels.channels[id] = &models.Channel{
		ID:              id,
		Name:            "general",
		ModeratorsOnly:  moderatorsOnly,
		SlowmodeSeconds: slowmode,
	}
}

func (f *fixture) addMember(channelID, userID uint, role models.ChannelRole) {
	f.channels.members[[2]uint{channelID, userID}] = &models.ChannelMember{
		ChannelID: channelID,
		UserID:    userID,
		Role:      role,
	}
}

func TestCreateMessage_NonMemberForbidden(t *testing.T) {
	f := newFixture()
	f.addChannel(1, false, 0)
	f.addMember(1, 2, models.RoleMember)

	_, err := f.svc.CreateMessage(1, 99, CreateMessageInput{Body: "hello"})
	if !errors.Is(err, apperrors.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if len(f.messages.messages) != 0 {
		t.Error("no message should be persisted")
	}
	if len(f.publisher.events) != 0 {
		t.Error("no publish should be triggered")
	}
}

func TestCreateMessage_ChannelNotFound(t *testing.T) {
	f := newFixture()

	_, err := f.svc.CreateMessage(42, 1, CreateMessageInput{Body: "hello"})
	if !errors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCreateMessage_ModeratorsOnly(t *testing.T) {
	f := newFixture()
	f.addChannel(1, true, 0)
	f.addMember(1, 2, models.RoleMember)
	f.addMember(1, 3, models.RoleModerator)

	if _, err := f.svc.CreateMessage(1, 2, CreateMessageInput{Body: "hi"}); !errors.Is(err, apperrors.ErrForbidden) {
		t.Fatalf("member post in moderators-only channel: expected ErrForbidden, got %v", err)
	}
	if _, err := f.svc.CreateMessage(1, 3, CreateMessageInput{Body: "hi"}); err != nil {
		t.Fatalf("moderator post should succeed, got %v", err)
	}
}

func TestCreateMessage_MutedMemberForbidden(t *testing.T) {
	f := newFixture()
	f.addChannel(1, false, 0)
	f.addMember(1, 2, models.RoleMember)
	f.channels.members[[2]uint{1, 2}].Muted = true

	if _, err := f.svc.CreateMessage(1, 2, CreateMessageInput{Body: "hi"}); !errors.Is(err, apperrors.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}

func TestCreateMessage_SlowmodeRetryAfter(t *testing.T) {
	f := newFixture()
	f.addChannel(1, false, 10)
	f.addMember(1, 2, models.RoleMember)

	base := time.Now()
	f.svc.now = func() time.Time { return base }

	if _, err := f.svc.CreateMessage(1, 2, CreateMessageInput{Body: "first"}); err != nil {
		t.Fatalf("first post should pass slowmode, got %v", err)
	}

	// Second post 3 seconds later must report ~7 seconds of wait.
	f.svc.now = func() time.Time { return base.Add(3 * time.Second) }
	_, err := f.svc.CreateMessage(1, 2, CreateMessageInput{Body: "second"})
	wait, ok := apperrors.IsRateLimited(err)
	if !ok {
		t.Fatalf("expected RateLimitedError, got %v", err)
	}
	if wait < 6*time.Second || wait > 8*time.Second {
		t.Errorf("retry-after = %v, want about 7s", wait)
	}

	// After the interval elapses the author can post again.
	f.svc.now = func() time.Time { return base.Add(11 * time.Second) }
	if _, err := f.svc.CreateMessage(1, 2, CreateMessageInput{Body: "third"}); err != nil {
		t.Fatalf("post after interval should succeed, got %v", err)
	}
}

func TestCreateMessage_ReplyIncrementsParentCounter(t *testing.T) {
	f := newFixture()
	f.addChannel(1, false, 0)
	f.addMember(1, 2, models.RoleMember)

	parent, err := f.svc.CreateMessage(1, 2, CreateMessageInput{Body: "root"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := f.svc.CreateMessage(1, 2, CreateMessageInput{Body: "reply", ParentID: &parent.ID}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if parent.ReplyCount != 1 {
		t.Errorf("parent reply count = %d, want 1", parent.ReplyCount)
	}
	if parent.LastReplyAt == nil {
		t.Error("parent last reply timestamp should be set")
	}
}

func TestCreateMessage_ReplyToOtherChannelRejected(t *testing.T) {
	f := newFixture()
	f.addChannel(1, false, 0)
	f.addChannel(2, false, 0)
	f.addMember(1, 2, models.RoleMember)
	f.addMember(2, 2, models.RoleMember)

	other, err := f.svc.CreateMessage(2, 2, CreateMessageInput{Body: "elsewhere"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := f.svc.CreateMessage(1, 2, CreateMessageInput{Body: "reply", ParentID: &other.ID}); !errors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("cross-channel reply: expected ErrNotFound, got %v", err)
	}
}

func TestCreateMessage_PublishesToAllMembersIncludingAuthor(t *testing.T) {
	f := newFixture()
	f.addChannel(1, false, 0)
	f.addMember(1, 1, models.RoleOwner)
	f.addMember(1, 2, models.RoleMember)
	f.addMember(1, 3, models.RoleMember)

	msg, err := f.svc.CreateMessage(1, 2, CreateMessageInput{Body: "hello @user:3"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(f.publisher.events) != 1 {
		t.Fatalf("published %d events, want 1", len(f.publisher.events))
	}
	ev := f.publisher.events[0]
	if ev.Type != bus.EventMessageCreated {
		t.Errorf("event type = %q, want %q", ev.Type, bus.EventMessageCreated)
	}
	if ev.Message == nil || ev.Message.ID != msg.ID {
		t.Error("event should carry the created message payload")
	}
	if len(ev.Mentions) != 1 || ev.Mentions[0] != 3 {
		t.Errorf("mentions = %v, want [3]", ev.Mentions)
	}
	if got := len(f.publisher.recipients[0]); got != 3 {
		t.Errorf("addressed %d recipients, want 3 (author included)", got)
	}
	if f.sink.calls != 1 {
		t.Errorf("notifier fan-out calls = %d, want 1", f.sink.calls)
	}
}

func TestCreateMessage_FanOutFailureDoesNotFailCreate(t *testing.T) {
	f := newFixture()
	f.addChannel(1, false, 0)
	f.addMember(1, 2, models.RoleMember)
	f.sink.err = errors.New("push provider down")

	msg, err := f.svc.CreateMessage(1, 2, CreateMessageInput{Body: "hello"})
	if err != nil {
		t.Fatalf("post-commit failure must not surface, got %v", err)
	}
	if msg.ID == 0 {
		t.Error("message should be persisted")
	}
}

func TestCreateMessage_SeedsLinkPreviews(t *testing.T) {
	f := newFixture()
	f.addChannel(1, false, 0)
	f.addMember(1, 2, models.RoleMember)

	_, err := f.svc.CreateMessage(1, 2, CreateMessageInput{Body: "see https://example.com/doc"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(f.messages.previews) != 1 {
		t.Fatalf("seeded %d previews, want 1", len(f.messages.previews))
	}
	if f.messages.previews[0].Status != models.LinkPreviewPending {
		t.Errorf("preview status = %q, want pending", f.messages.previews[0].Status)
	}
}

func TestEditMessage_OnlyAuthor(t *testing.T) {
	f := newFixture()
	f.addChannel(1, false, 0)
	f.addMember(1, 2, models.RoleMember)
	f.addMember(1, 3, models.RoleMember)

	msg, err := f.svc.CreateMessage(1, 2, CreateMessageInput{Body: "original"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := f.svc.EditMessage(msg.ID, 3, "tampered"); !errors.Is(err, apperrors.ErrForbidden) {
		t.Fatalf("non-author edit: expected ErrForbidden, got %v", err)
	}

	updated, err := f.svc.EditMessage(msg.ID, 2, "fixed")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if updated.Body != "fixed" || updated.EditedAt == nil {
		t.Error("edit should update body and set edited timestamp")
	}
}

func TestDeleteMessage_AuthorOrModerator(t *testing.T) {
	f := newFixture()
	f.addChannel(1, false, 0)
	f.addMember(1, 2, models.RoleMember)
	f.addMember(1, 3, models.RoleMember)
	f.addMember(1, 4, models.RoleModerator)

	msg, err := f.svc.CreateMessage(1, 2, CreateMessageInput{Body: "to delete"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := f.svc.DeleteMessage(msg.ID, 3); !errors.Is(err, apperrors.ErrForbidden) {
		t.Fatalf("plain member delete of someone else's message: expected ErrForbidden, got %v", err)
	}
	if err := f.svc.DeleteMessage(msg.ID, 4); err != nil {
		t.Fatalf("moderator delete should succeed, got %v", err)
	}
}

func TestListSince_RequiresMembershipAndMarksDelivered(t *testing.T) {
	f := newFixture()
	f.addChannel(1, false, 0)
	f.addMember(1, 2, models.RoleMember)
	f.addMember(1, 3, models.RoleMember)

	msg, err := f.svc.CreateMessage(1, 2, CreateMessageInput{Body: "catch me up"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := f.svc.ListSince(1, 99, 0, 50); !errors.Is(err, apperrors.ErrForbidden) {
		t.Fatalf("non-member catch-up: expected ErrForbidden, got %v", err)
	}

	got, err := f.svc.ListSince(1, 3, 0, 50)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d messages, want 1", len(got))
	}
	if !f.delivers.marks[[2]uint{msg.ID, 3}] {
		t.Error("catch-up should record a delivery mark for the viewer")
	}
}

func TestMarkRead_AdvancesCursorAndNotifiesOwnConnections(t *testing.T) {
	f := newFixture()
	f.addChannel(1, false, 0)
	f.addMember(1, 2, models.RoleMember)

	if err := f.svc.MarkRead(1, 2, 40); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := f.channels.cursors[[2]uint{1, 2}]; got != 40 {
		t.Errorf("cursor = %d, want 40", got)
	}
	if got := f.notifs.markedUpTo[[2]uint{2, 1}]; got != 40 {
		t.Errorf("notifications marked up to %d, want 40", got)
	}

	if len(f.publisher.events) != 1 {
		t.Fatalf("published %d events, want 1", len(f.publisher.events))
	}
	ev := f.publisher.events[0]
	if ev.Type != bus.EventChannelRead || ev.LastReadMsgID != 40 {
		t.Errorf("read event = %+v, want canal.read with cursor 40", ev)
	}
}
