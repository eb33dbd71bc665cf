package session

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/avvvet/taxline-intent/internal/script"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func testScript(t *testing.T) *script.Script {
	t.Helper()
	s, err := script.Bundled("qualify_transfer")
	require.NoError(t, err)
	return s
}

func TestNewConversationState(t *testing.T) {
	st := New("call-1", testScript(t))

	assert.Equal(t, "call-1", st.SessionID)
	assert.Equal(t, script.State("greeting"), st.CurrentState)
	assert.Equal(t, "greeting", st.LastPromptKey)
	assert.Empty(t, st.IntentCounts)
	assert.NotNil(t, st.IntentCounts)
}

func TestCloneIsDeep(t *testing.T) {
	st := New("call-1", testScript(t))
	st.IntentCounts["federal"] = 1

	cp := st.Clone()
	cp.IntentCounts["federal"] = 5
	cp.Contact.Name = "Jane"

	assert.Equal(t, 1, st.IntentCounts["federal"])
	assert.Empty(t, st.Contact.Name)
}

func TestContactDetailsSlots(t *testing.T) {
	var c ContactDetails
	c.Set(SlotName, "John Doe")
	c.Set(SlotPhone, "555-0100")
	c.Set("shoe_size", "10")

	assert.Equal(t, "John Doe", c.Get(SlotName))
	assert.Equal(t, "", c.Get(SlotEmail))
	assert.Equal(t, map[string]string{"name": "John Doe", "email": "", "phone": "555-0100"}, c.Slots())
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(10, 0, zaptest.NewLogger(t))

	got, err := store.Get(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, got)

	st := New("call-1", testScript(t))
	require.NoError(t, store.Put(ctx, st))

	// Stored copies are isolated from the caller's value.
	st.CurrentState = "tax_type"
	got, err = store.Get(ctx, "call-1")
	require.NoError(t, err)
	assert.Equal(t, script.State("greeting"), got.CurrentState)

	require.NoError(t, store.Delete(ctx, "call-1"))
	got, err = store.Get(ctx, "call-1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestMemoryStoreEvictsLeastRecentlyUsed(t *testing.T) {
	ctx := context.Background()
	s := testScript(t)
	store := NewMemoryStore(2, 0, zaptest.NewLogger(t))

	require.NoError(t, store.Put(ctx, New("a", s)))
	require.NoError(t, store.Put(ctx, New("b", s)))
	_, _ = store.Get(ctx, "a")
	require.NoError(t, store.Put(ctx, New("c", s)))

	assert.Equal(t, 2, store.Len())
	got, _ := store.Get(ctx, "b")
	assert.Nil(t, got)
	got, _ = store.Get(ctx, "a")
	assert.NotNil(t, got)
}

func TestRedisStore(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)

	store, err := NewRedisStore("redis://"+mr.Addr()+"/0", 30*time.Minute)
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.Ping(ctx))

	got, err := store.Get(ctx, "call-1")
	require.NoError(t, err)
	assert.Nil(t, got)

	st := New("call-1", testScript(t))
	st.CurrentState = "confirm_state"
	st.IntentCounts["federal"] = 1
	st.Contact.Phone = "+15550100"
	require.NoError(t, store.Put(ctx, st))

	assert.True(t, mr.Exists("dialogue:session:call-1"))
	assert.Equal(t, 30*time.Minute, mr.TTL("dialogue:session:call-1"))

	got, err = store.Get(ctx, "call-1")
	require.NoError(t, err)
	assert.Equal(t, script.State("confirm_state"), got.CurrentState)
	assert.Equal(t, 1, got.IntentCounts["federal"])
	assert.Equal(t, "+15550100", got.Contact.Phone)

	require.NoError(t, store.Delete(ctx, "call-1"))
	assert.False(t, mr.Exists("dialogue:session:call-1"))
}

func TestRedisStoreExpires(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)

	store, err := NewRedisStore("redis://"+mr.Addr(), time.Minute)
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.Put(ctx, New("call-1", testScript(t))))
	mr.FastForward(2 * time.Minute)

	got, err := store.Get(ctx, "call-1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestNewRedisStoreBadURL(t *testing.T) {
	_, err := NewRedisStore("not-a-url", time.Minute)
	assert.Error(t, err)
}

func TestLockerSerializesPerID(t *testing.T) {
	l := NewLocker()

	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := l.Lock("same")
			defer unlock()

			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxInside)
				if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInside)
	assert.Equal(t, 0, l.Held())
}

func TestLockerIndependentIDs(t *testing.T) {
	l := NewLocker()

	unlockA := l.Lock("a")
	acquired := make(chan struct{})
	go func() {
		unlock := l.Lock("b")
		unlock()
		close(acquired)
	}()

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("lock on b waited for a")
	}
	assert.Equal(t, 1, l.Held())
	unlockA()
	assert.Equal(t, 0, l.Held())
}
