package store_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/xelth-com/chatrelay/internal/codec"
	"github.com/xelth-com/chatrelay/internal/models"
	"github.com/xelth-com/chatrelay/internal/store"
)

func testCodec(t *testing.T, fill byte) *codec.Codec {
	t.Helper()
	c, err := codec.New(bytes.Repeat([]byte{fill}, codec.KeySize))
	require.NoError(t, err)
	return c
}

type failingBackend struct {
	store.MemoryBackend
	err error
}

func (f *failingBackend) Persist(context.Context, []models.Message, models.Message) error {
	return f.err
}

type brokenLoadBackend struct{ store.MemoryBackend }

// sqlWithBrokenLoad keeps LastID and Persist of the SQL backend but cannot load.
type sqlWithBrokenLoad struct{ *store.SQLBackend }

func (sqlWithBrokenLoad) Load(context.Context) ([]models.Message, error) {
	return nil, errors.New("connection reset")
}

type flakySequencer struct {
	store.MemoryBackend
	last  uint64
	fails int
}

func (f *flakySequencer) Load(context.Context) ([]models.Message, error) {
	return nil, errors.New("timeout")
}

func (f *flakySequencer) LastID(context.Context) (uint64, error) {
	if f.fails > 0 {
		f.fails--
		return 0, errors.New("timeout")
	}
	return f.last, nil
}

func (brokenLoadBackend) Load(context.Context) ([]models.Message, error) {
	return nil, errors.New("disk on fire")
}

func TestAppend_AssignsIncreasingIDsAndTimestamps(t *testing.T) {
	// Clock that steps backwards on the third call.
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	ticks := []time.Time{base, base.Add(time.Second), base.Add(-time.Hour), base.Add(2 * time.Second)}
	i := 0
	clock := func() time.Time {
		tick := ticks[i]
		i++
		return tick
	}

	s := store.Open(context.Background(), testCodec(t, 1), store.MemoryBackend{}, store.WithClock(clock))

	var prev models.Message
	for n := 0; n < len(ticks); n++ {
		m, err := s.Append(context.Background(), "room1", "alice", "bob", "msg")
		require.NoError(t, err)
		if n > 0 {
			assert.Greater(t, m.ID, prev.ID)
			assert.False(t, m.CreatedAt.Before(prev.CreatedAt), "createdAt went backwards at %d", n)
		}
		prev = m
	}
	assert.Equal(t, 4, s.Len())
}

func TestAppend_ReturnsPlaintextAndStoresCiphertext(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "messages.json")
	s := store.Open(context.Background(), testCodec(t, 1), store.NewFileBackend(path))

	m, err := s.Append(context.Background(), "room1", "alice", "bob", "hi")
	require.NoError(t, err)
	assert.Equal(t, "hi", m.Content)
	assert.Equal(t, uint64(1), m.ID)

	listed := s.ListByRoom("room1")
	require.Len(t, listed, 1)
	assert.Equal(t, "hi", listed[0].Content)

	persisted, err := store.ReadLogFile(path)
	require.NoError(t, err)
	require.Len(t, persisted, 1)
	assert.NotEqual(t, "hi", persisted[0].Content)
	assert.Equal(t, "hi", testCodec(t, 1).Open(persisted[0].Content))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), `"hi"`)
}

func TestListByRoom_IsolatesAndPreservesOrder(t *testing.T) {
	s := store.Open(context.Background(), testCodec(t, 1), store.MemoryBackend{})
	ctx := context.Background()

	for _, in := range []struct{ room, text string }{
		{"r1", "one"}, {"r2", "two"}, {"r1", "three"}, {"r3", "four"}, {"r1", "five"},
	} {
		_, err := s.Append(ctx, in.room, "a", "b", in.text)
		require.NoError(t, err)
	}

	got := s.ListByRoom("r1")
	require.Len(t, got, 3)
	for _, m := range got {
		assert.Equal(t, "r1", m.RoomID)
	}
	assert.Equal(t, []string{"one", "three", "five"}, []string{got[0].Content, got[1].Content, got[2].Content})

	assert.Empty(t, s.ListByRoom("nope"))
	assert.Len(t, s.ListAll(), 5)
}

func TestOpen_ReloadsPersistedLog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "messages.json")
	ctx := context.Background()

	first := store.Open(ctx, testCodec(t, 1), store.NewFileBackend(path))
	_, err := first.Append(ctx, "r1", "alice", "bob", "hello")
	require.NoError(t, err)
	_, err = first.Append(ctx, "r1", "bob", "alice", "hey")
	require.NoError(t, err)

	second := store.Open(ctx, testCodec(t, 1), store.NewFileBackend(path))
	got := second.ListByRoom("r1")
	require.Len(t, got, 2)
	assert.Equal(t, "hello", got[0].Content)
	assert.Equal(t, "hey", got[1].Content)

	m, err := second.Append(ctx, "r1", "alice", "bob", "again")
	require.NoError(t, err)
	assert.Equal(t, uint64(3), m.ID)
}

func TestOpen_WrongKeyDegradesToSentinel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "messages.json")
	ctx := context.Background()

	s := store.Open(ctx, testCodec(t, 1), store.NewFileBackend(path))
	_, err := s.Append(ctx, "r1", "alice", "bob", "hello")
	require.NoError(t, err)

	other := store.Open(ctx, testCodec(t, 2), store.NewFileBackend(path))
	got := other.ListByRoom("r1")
	require.Len(t, got, 1)
	assert.Equal(t, codec.Undecodable, got[0].Content)
}

func TestOpen_CorruptFileStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "messages.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	s := store.Open(context.Background(), testCodec(t, 1), store.NewFileBackend(path))
	assert.Equal(t, 0, s.Len())

	m, err := s.Append(context.Background(), "r1", "a", "b", "fresh")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), m.ID)

	aside, err := filepath.Glob(path + ".corrupt-*")
	require.NoError(t, err)
	require.Len(t, aside, 1)
	kept, err := os.ReadFile(aside[0])
	require.NoError(t, err)
	assert.Equal(t, "{not json", string(kept))

	persisted, err := store.ReadLogFile(path)
	require.NoError(t, err)
	assert.Len(t, persisted, 1)
}

func TestOpen_UnreadableBackendStartsEmpty(t *testing.T) {
	s := store.Open(context.Background(), testCodec(t, 1), brokenLoadBackend{})
	assert.Equal(t, 0, s.Len())
}

func TestAppend_PersistFailureLeavesLogUnchanged(t *testing.T) {
	backend := &failingBackend{err: errors.New("disk full")}
	s := store.Open(context.Background(), testCodec(t, 1), backend)

	_, err := s.Append(context.Background(), "r1", "a", "b", "lost")
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrPersist)
	assert.Equal(t, 0, s.Len())
	assert.Empty(t, s.ListAll())
}

func TestAppend_ConcurrentAppendsAreSerialized(t *testing.T) {
	path := filepath.Join(t.TempDir(), "messages.json")
	s := store.Open(context.Background(), testCodec(t, 1), store.NewFileBackend(path))

	const n = 40
	var wg sync.WaitGroup
	ids := make(chan uint64, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m, err := s.Append(context.Background(), "r1", "a", "b", "x")
			if err == nil {
				ids <- m.ID
			}
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[uint64]bool)
	for id := range ids {
		assert.False(t, seen[id], "duplicate id %d", id)
		seen[id] = true
	}
	assert.Len(t, seen, n)

	persisted, err := store.ReadLogFile(path)
	require.NoError(t, err)
	assert.Len(t, persisted, n)
}

func TestSQLBackend_SQLite(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "messages.db")
	open := func() *gorm.DB {
		db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
		require.NoError(t, err)
		return db
	}
	ctx := context.Background()

	backend, err := store.NewSQLBackend(open())
	require.NoError(t, err)
	s := store.Open(ctx, testCodec(t, 1), backend)

	_, err = s.Append(ctx, "r1", "alice", "bob", "first")
	require.NoError(t, err)
	_, err = s.Append(ctx, "r2", "alice", "carol", "second")
	require.NoError(t, err)

	var row models.Message
	require.NoError(t, open().First(&row, "id = ?", 1).Error)
	assert.NotEqual(t, "first", row.Content)

	backend2, err := store.NewSQLBackend(open())
	require.NoError(t, err)
	reopened := store.Open(ctx, testCodec(t, 1), backend2)
	all := reopened.ListAll()
	require.Len(t, all, 2)
	assert.Equal(t, "first", all[0].Content)
	assert.Equal(t, "second", all[1].Content)

	m, err := reopened.Append(ctx, "r1", "bob", "alice", "third")
	require.NoError(t, err)
	assert.Equal(t, uint64(3), m.ID)
}

func TestOpen_FailedLoadContinuesSQLSequence(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "messages.db")
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	ctx := context.Background()

	backend, err := store.NewSQLBackend(db)
	require.NoError(t, err)
	_, err = store.Open(ctx, testCodec(t, 1), backend).Append(ctx, "r1", "alice", "bob", "already stored")
	require.NoError(t, err)

	s := store.Open(ctx, testCodec(t, 1), sqlWithBrokenLoad{backend})
	assert.Equal(t, 0, s.Len())

	for want := uint64(2); want <= 4; want++ {
		m, err := s.Append(ctx, "r1", "alice", "bob", "after outage")
		require.NoError(t, err)
		assert.Equal(t, want, m.ID)
	}

	var count int64
	require.NoError(t, db.Model(&models.Message{}).Count(&count).Error)
	assert.Equal(t, int64(4), count)
}

func TestAppend_RetriesUnknownSequence(t *testing.T) {
	backend := &flakySequencer{last: 41, fails: 2}
	s := store.Open(context.Background(), testCodec(t, 1), backend)

	// Open used the first failure, this append the second.
	_, err := s.Append(context.Background(), "r1", "a", "b", "too early")
	require.ErrorIs(t, err, store.ErrPersist)
	assert.Equal(t, 0, s.Len())

	m, err := s.Append(context.Background(), "r1", "a", "b", "seeded")
	require.NoError(t, err)
	assert.Equal(t, uint64(42), m.ID)
}

func TestInvolving_ReturnsSealedRecordsOfUser(t *testing.T) {
	s := store.Open(context.Background(), testCodec(t, 1), store.MemoryBackend{})
	ctx := context.Background()
	for _, m := range [][3]string{{"alice", "bob", "to bob"}, {"carol", "dave", "not alice"}, {"bob", "alice", "to alice"}} {
		_, err := s.Append(ctx, "r1", m[0], m[1], m[2])
		require.NoError(t, err)
	}

	got := s.Involving("alice")
	require.Len(t, got, 2)
	assert.NotEqual(t, "to bob", got[0].Content)
	assert.Equal(t, "to bob", s.Reveal(got[0]).Content)
	assert.Equal(t, "to alice", s.Reveal(got[1]).Content)
	assert.Equal(t, uint64(3), got[1].ID)
}
