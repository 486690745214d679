package relay

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/xelth-com/chatrelay/internal/bus"
	"github.com/xelth-com/chatrelay/internal/conversation"
	"github.com/xelth-com/chatrelay/internal/models"
	"github.com/xelth-com/chatrelay/internal/store"
)

// ErrInvalidInput is returned for posts missing a room or a sender.
var ErrInvalidInput = errors.New("invalid message")

// PostInput is one message submitted by a client.
type PostInput struct {
	RoomID    string `json:"roomId"`
	Sender    string `json:"sender"`
	Recipient string `json:"recipient"`
	Content   string `json:"content"`
}

// Validate checks the fields the log requires.
func (in PostInput) Validate() error {
	if strings.TrimSpace(in.RoomID) == "" {
		return fmt.Errorf("%w: roomId is required", ErrInvalidInput)
	}
	if strings.TrimSpace(in.Sender) == "" {
		return fmt.Errorf("%w: sender is required", ErrInvalidInput)
	}
	return nil
}

// Service ties the message log, the live bus and the inbox aggregation together.
type Service struct {
	// postMu orders appends and publishes together, so live feeds see the
	// log order.
	postMu sync.Mutex

	store      *store.MessageStore
	bus        *bus.Bus[models.Message]
	aggregator *conversation.Aggregator
	log        *zap.Logger
}

// NewService creates the relay service.
func NewService(st *store.MessageStore, b *bus.Bus[models.Message], log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		store:      st,
		bus:        b,
		aggregator: conversation.NewAggregator(st),
		log:        log,
	}
}

// Post stores the message durably, then publishes its plaintext form to the
// room channel and, when a recipient is set, to the recipient's channel.
// Nothing is published if the message could not be stored.
func (s *Service) Post(ctx context.Context, in PostInput) (models.Message, error) {
	if err := in.Validate(); err != nil {
		return models.Message{}, err
	}

	s.postMu.Lock()
	msg, err := s.store.Append(ctx, in.RoomID, in.Sender, in.Recipient, in.Content)
	if err != nil {
		s.postMu.Unlock()
		s.log.Error("post failed", zap.String("room", in.RoomID), zap.Error(err))
		return models.Message{}, err
	}

	roomDeliveries := s.bus.Publish(bus.RoomChannel(msg.RoomID), msg)
	userDeliveries := 0
	if msg.Recipient != "" {
		userDeliveries = s.bus.Publish(bus.UserChannel(msg.Recipient), msg)
	}
	s.postMu.Unlock()

	s.log.Debug("message posted",
		zap.Uint64("id", msg.ID),
		zap.String("room", msg.RoomID),
		zap.Int("room_deliveries", roomDeliveries),
		zap.Int("user_deliveries", userDeliveries))
	return msg, nil
}

// Query returns the decrypted history of roomID, oldest first.
func (s *Service) Query(_ context.Context, roomID string) []models.Message {
	return s.store.ListByRoom(roomID)
}

// Conversations returns the inbox view of user.
func (s *Service) Conversations(_ context.Context, user string) []models.ConversationSummary {
	return s.aggregator.LatestByCounterpart(user)
}

// SubscribeRoom opens a live feed of messages posted to roomID.
func (s *Service) SubscribeRoom(ctx context.Context, roomID string) *bus.Subscription[models.Message] {
	return s.bus.Subscribe(ctx, bus.RoomChannel(roomID))
}

// SubscribeUser opens a live feed of messages addressed to user.
func (s *Service) SubscribeUser(ctx context.Context, user string) *bus.Subscription[models.Message] {
	return s.bus.Subscribe(ctx, bus.UserChannel(user))
}

// Stats reports log and bus sizes for diagnostics.
type Stats struct {
	Messages       int `json:"messages"`
	ActiveChannels int `json:"activeChannels"`
}

// Stats returns a point-in-time snapshot.
func (s *Service) Stats() Stats {
	return Stats{
		Messages:       s.store.Len(),
		ActiveChannels: s.bus.Channels(),
	}
}
