package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xelth-com/chatrelay/internal/models"
)

// ErrPersist wraps every failure to make an appended message durable.
var ErrPersist = errors.New("failed to persist message")

// Sealer is the part of the codec the store depends on.
type Sealer interface {
	Seal(plaintext string) (string, error)
	Open(token string) string
}

// Backend is the durable medium behind a MessageStore.
// Records passed to and returned from a Backend carry sealed content.
type Backend interface {
	// Load returns the stored log in append order.
	Load(ctx context.Context) ([]models.Message, error)
	// Persist makes appended durable. log is the full log including appended.
	Persist(ctx context.Context, log []models.Message, appended models.Message) error
}

// Sequencer is implemented by backends that can report the highest stored id
// without loading the log. The store consults it when Load fails, so ids
// already on the medium are never handed out again.
type Sequencer interface {
	LastID(ctx context.Context) (uint64, error)
}

// MessageStore is the append-only, encrypted-at-rest message log.
type MessageStore struct {
	mu      sync.RWMutex
	records []models.Message
	lastID  uint64
	codec   Sealer
	backend Backend
	log     *zap.Logger
	now     func() time.Time

	// unseeded is set while the id sequence of an unloadable backend is unknown.
	unseeded bool
}

// Option configures a MessageStore.
type Option func(*MessageStore)

// WithClock replaces time.Now for createdAt stamping.
func WithClock(now func() time.Time) Option {
	return func(s *MessageStore) { s.now = now }
}

// WithLogger sets the store logger.
func WithLogger(log *zap.Logger) Option {
	return func(s *MessageStore) {
		if log != nil {
			s.log = log
		}
	}
}

// Open loads the persisted log from backend. A backend that cannot be read
// yields an empty log and a warning; it never fails startup.
func Open(ctx context.Context, codec Sealer, backend Backend, opts ...Option) *MessageStore {
	s := &MessageStore{
		codec:   codec,
		backend: backend,
		log:     zap.NewNop(),
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}

	records, err := backend.Load(ctx)
	if err != nil {
		s.log.Warn("could not load message log, starting empty", zap.Error(err))
		records = nil
		if _, ok := backend.(Sequencer); ok {
			s.unseeded = true
			if err := s.seed(ctx); err != nil {
				s.log.Warn("could not read last message id, retrying on next append", zap.Error(err))
			}
		}
	}
	s.records = records
	if n := len(records); n > 0 {
		s.lastID = records[n-1].ID
	}
	s.log.Info("message log loaded", zap.Int("messages", len(records)), zap.Uint64("last_id", s.lastID))
	return s
}

// seed continues the id sequence from the backend. Callers hold s.mu or own s.
func (s *MessageStore) seed(ctx context.Context) error {
	if !s.unseeded {
		return nil
	}
	last, err := s.backend.(Sequencer).LastID(ctx)
	if err != nil {
		return err
	}
	s.lastID = last
	s.unseeded = false
	return nil
}

// Append seals plaintext and appends it to the log. The record is durable
// before Append returns; on a persistence error the log is left unchanged.
// The returned Message carries the plaintext.
func (s *MessageStore) Append(ctx context.Context, roomID, sender, recipient, plaintext string) (models.Message, error) {
	token, err := s.codec.Seal(plaintext)
	if err != nil {
		return models.Message{}, fmt.Errorf("seal message: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.seed(ctx); err != nil {
		return models.Message{}, fmt.Errorf("%w: read last id: %w", ErrPersist, err)
	}

	rec := models.Message{
		ID:        s.lastID + 1,
		RoomID:    roomID,
		Sender:    sender,
		Recipient: recipient,
		Content:   token,
		CreatedAt: s.now(),
	}
	if n := len(s.records); n > 0 {
		last := s.records[n-1]
		// createdAt never goes backwards, even if the wall clock does.
		if rec.CreatedAt.Before(last.CreatedAt) {
			rec.CreatedAt = last.CreatedAt
		}
	}

	next := make([]models.Message, len(s.records), len(s.records)+1)
	copy(next, s.records)
	next = append(next, rec)

	if err := s.backend.Persist(ctx, next, rec); err != nil {
		return models.Message{}, fmt.Errorf("%w: %w", ErrPersist, err)
	}
	s.records = next
	s.lastID = rec.ID

	rec.Content = plaintext
	return rec, nil
}

// ListByRoom returns the decrypted messages of roomID, oldest first.
func (s *MessageStore) ListByRoom(roomID string) []models.Message {
	return s.list(func(m models.Message) bool { return m.RoomID == roomID })
}

// ListAll returns the whole log decrypted, oldest first.
func (s *MessageStore) ListAll() []models.Message {
	return s.list(func(models.Message) bool { return true })
}

// Len returns the number of stored messages.
func (s *MessageStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Involving returns the still-sealed records user sent or received, oldest first.
func (s *MessageStore) Involving(user string) []models.Message {
	return s.sealed(func(m models.Message) bool { return m.Involves(user) })
}

// Reveal returns m with its sealed content replaced by the plaintext.
func (s *MessageStore) Reveal(m models.Message) models.Message {
	m.Content = s.codec.Open(m.Content)
	return m
}

func (s *MessageStore) list(keep func(models.Message) bool) []models.Message {
	out := s.sealed(keep)
	for i := range out {
		out[i] = s.Reveal(out[i])
	}
	return out
}

func (s *MessageStore) sealed(keep func(models.Message) bool) []models.Message {
	s.mu.RLock()
	snapshot := s.records
	s.mu.RUnlock()

	// Appends replace s.records with a fresh slice, so the snapshot is never mutated.
	out := make([]models.Message, 0)
	for _, m := range snapshot {
		if keep(m) {
			out = append(out, m)
		}
	}
	return out
}
