package calllog

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/avvvet/taxline-intent/internal/session"
	"github.com/avvvet/taxline-intent/internal/transcript"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "logs", "calls.db"), zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestRecordAndRead(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, store.Record(ctx, Event{
		SessionID:   "c1",
		Kind:        EventTransferred,
		Reason:      "transition",
		ResponseKey: "qualified_transfer",
		State:       "greeting",
		Turns:       1,
		CreatedAt:   at,
	}))
	require.NoError(t, store.Record(ctx, Event{
		SessionID:   "c1",
		Kind:        EventEnded,
		Reason:      "goodbye",
		ResponseKey: "goodbye",
		State:       "tax_type",
		Contact:     session.ContactDetails{Phone: "+15550100"},
		Turns:       2,
		Transcript: []transcript.Entry{
			{Role: transcript.RoleCaller, Content: "yes"},
			{Role: transcript.RoleCaller, Content: "bye"},
		},
	}))
	require.NoError(t, store.Record(ctx, Event{SessionID: "other", Kind: EventEnded}))

	events, err := store.Events(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, events, 2)

	assert.Equal(t, EventTransferred, events[0].Kind)
	assert.True(t, at.Equal(events[0].CreatedAt))
	assert.Empty(t, events[0].Transcript)

	assert.Equal(t, EventEnded, events[1].Kind)
	assert.Equal(t, "+15550100", events[1].Contact.Phone)
	assert.Equal(t, 2, events[1].Turns)
	require.Len(t, events[1].Transcript, 2)
	assert.Equal(t, "bye", events[1].Transcript[1].Content)
	assert.False(t, events[1].CreatedAt.IsZero())
}

func TestReopenKeepsEvents(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "calls.db")

	store, err := NewSQLiteStore(path, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NoError(t, store.Record(ctx, Event{SessionID: "c1", Kind: EventContactCollected}))
	require.NoError(t, store.Close())

	store, err = NewSQLiteStore(path, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer store.Close()

	events, err := store.Events(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, EventContactCollected, events[0].Kind)
}

func TestNewSQLiteStoreNeedsPath(t *testing.T) {
	_, err := NewSQLiteStore("", zaptest.NewLogger(t))
	assert.Error(t, err)
}

func TestNopSink(t *testing.T) {
	var sink Sink = Nop{}
	assert.NoError(t, sink.Record(context.Background(), Event{}))
}
