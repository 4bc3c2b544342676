package body

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"tempmail/inboxsync/internal/cache"
	"tempmail/inboxsync/internal/domain"
	"tempmail/inboxsync/internal/provider/providertest"
)

// MockBodyFetcher 模拟正文接口
type MockBodyFetcher struct {
	mock.Mock
}

func (m *MockBodyFetcher) FetchMessageBody(ctx context.Context, creds domain.Credentials, messageID string) (domain.MessageBody, error) {
	args := m.Called(creds, messageID)
	return args.Get(0).(domain.MessageBody), args.Error(1)
}

var sessA = domain.Session{ID: "A", Address: "x@domain", Credentials: domain.Credentials{Token: "tok-a"}}

func newStore(t *testing.T, sessionID string, ids ...string) *cache.MessageCache {
	t.Helper()
	c := cache.New()
	c.Reset(sessionID)
	fresh := make([]domain.MessageSummary, 0, len(ids))
	for _, id := range ids {
		fresh = append(fresh, domain.MessageSummary{ID: id, Subject: "s-" + id})
	}
	_, err := c.Merge(sessionID, fresh)
	require.NoError(t, err)
	return c
}

func TestFetcher_FetchOnceThenCached(t *testing.T) {
	store := newStore(t, "A", "m1")
	p := new(MockBodyFetcher)
	p.On("FetchMessageBody", sessA.Credentials, "m1").Return(domain.MessageBody{HTML: "<p>hi</p>"}, nil).Once()

	f := NewFetcher(p, store)

	b, err := f.Fetch(context.Background(), sessA, "m1")
	require.NoError(t, err)
	assert.Equal(t, "<p>hi</p>", b.HTML)

	b, err = f.Fetch(context.Background(), sessA, "m1")
	require.NoError(t, err)
	assert.Equal(t, "<p>hi</p>", b.HTML)

	p.AssertNumberOfCalls(t, "FetchMessageBody", 1)

	msg, ok := store.Get("m1")
	require.True(t, ok)
	assert.Equal(t, domain.BodyLoaded, msg.BodyState)
	assert.True(t, msg.Seen)
}

func TestFetcher_ConcurrentCallsShareOneRequest(t *testing.T) {
	store := newStore(t, "A", "m1")
	fake := providertest.NewFake()
	f := NewFetcher(fake, store)

	const callers = 5
	var wg sync.WaitGroup
	results := make([]domain.MessageBody, callers)
	errs := make([]error, callers)

	wg.Add(1)
	go func() {
		defer wg.Done()
		results[0], errs[0] = f.Fetch(context.Background(), sessA, "m1")
	}()
	call := fake.Next(t, providertest.OpFetch)
	assert.Equal(t, "m1", call.MessageID)

	msg, _ := store.Get("m1")
	assert.Equal(t, domain.BodyLoading, msg.BodyState)

	for i := 1; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = f.Fetch(context.Background(), sessA, "m1")
		}(i)
	}

	call.Resolve(providertest.Result{Body: domain.MessageBody{HTML: "<p>hi</p>"}})
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "<p>hi</p>", results[i].HTML)
	}
	assert.Equal(t, 1, fake.Count(providertest.OpFetch))
	fake.AssertNoCall(t, 20*time.Millisecond)
}

func TestFetcher_RetryAllowedAfterFailure(t *testing.T) {
	store := newStore(t, "A", "m1")
	p := new(MockBodyFetcher)
	p.On("FetchMessageBody", sessA.Credentials, "m1").
		Return(domain.MessageBody{}, fmt.Errorf("%w: timeout", domain.ErrProviderUnavailable)).Once()
	p.On("FetchMessageBody", sessA.Credentials, "m1").
		Return(domain.MessageBody{HTML: "ok"}, nil).Once()

	f := NewFetcher(p, store)

	_, err := f.Fetch(context.Background(), sessA, "m1")
	assert.ErrorIs(t, err, domain.ErrProviderUnavailable)

	msg, _ := store.Get("m1")
	assert.Equal(t, domain.BodyFailed, msg.BodyState)
	assert.False(t, msg.HasBody())

	b, err := f.Fetch(context.Background(), sessA, "m1")
	require.NoError(t, err)
	assert.Equal(t, "ok", b.HTML)

	msg, _ = store.Get("m1")
	assert.Equal(t, domain.BodyLoaded, msg.BodyState)
	p.AssertExpectations(t)
}

func TestFetcher_NotFound(t *testing.T) {
	t.Run("缓存中没有该邮件", func(t *testing.T) {
		store := newStore(t, "A", "m1")
		p := new(MockBodyFetcher)
		f := NewFetcher(p, store)

		_, err := f.Fetch(context.Background(), sessA, "missing")
		assert.ErrorIs(t, err, domain.ErrNotFound)
		p.AssertNotCalled(t, "FetchMessageBody", mock.Anything, mock.Anything)
	})

	t.Run("上游已删除", func(t *testing.T) {
		store := newStore(t, "A", "m1")
		p := new(MockBodyFetcher)
		p.On("FetchMessageBody", sessA.Credentials, "m1").
			Return(domain.MessageBody{}, fmt.Errorf("%w: gone", domain.ErrNotFound)).Once()
		f := NewFetcher(p, store)

		_, err := f.Fetch(context.Background(), sessA, "m1")
		assert.ErrorIs(t, err, domain.ErrNotFound)
		msg, _ := store.Get("m1")
		assert.Equal(t, domain.BodyFailed, msg.BodyState)
	})
}

func TestFetcher_StaleSession(t *testing.T) {
	t.Run("会话已被替换", func(t *testing.T) {
		store := newStore(t, "B", "m1")
		p := new(MockBodyFetcher)
		f := NewFetcher(p, store)

		_, err := f.Fetch(context.Background(), sessA, "m1")
		assert.ErrorIs(t, err, domain.ErrStaleResult)
		p.AssertNotCalled(t, "FetchMessageBody", mock.Anything, mock.Anything)
	})

	t.Run("加载途中会话被替换", func(t *testing.T) {
		store := newStore(t, "A", "m1")
		fake := providertest.NewFake()
		f := NewFetcher(fake, store)

		done := make(chan error, 1)
		go func() {
			_, err := f.Fetch(context.Background(), sessA, "m1")
			done <- err
		}()
		call := fake.Next(t, providertest.OpFetch)

		store.Reset("B")
		_, err := store.Merge("B", []domain.MessageSummary{{ID: "m1"}})
		require.NoError(t, err)

		call.Resolve(providertest.Result{Body: domain.MessageBody{HTML: "from A"}})
		assert.ErrorIs(t, <-done, domain.ErrStaleResult)

		_, ok := store.Body("m1")
		assert.False(t, ok, "body of the old session must not leak into the new one")
	})
}

func TestFetcher_CallerCancelDoesNotAbortSharedFetch(t *testing.T) {
	store := newStore(t, "A", "m1")
	fake := providertest.NewFake()
	f := NewFetcher(fake, store)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := f.Fetch(ctx, sessA, "m1")
		done <- err
	}()
	call := fake.Next(t, providertest.OpFetch)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	call.Resolve(providertest.Result{Body: domain.MessageBody{HTML: "late"}})
	assert.Eventually(t, func() bool {
		b, ok := store.Body("m1")
		return ok && b.HTML == "late"
	}, time.Second, 5*time.Millisecond)
}

func TestFetcher_IndependentMessagesInParallel(t *testing.T) {
	store := newStore(t, "A", "m1", "m2")
	fake := providertest.NewFake()
	var changes int
	var mu sync.Mutex
	f := NewFetcher(fake, store, OnChange(func() {
		mu.Lock()
		changes++
		mu.Unlock()
	}))

	errs := make(chan error, 2)
	for _, id := range []string{"m1", "m2"} {
		go func(id string) {
			_, err := f.Fetch(context.Background(), sessA, id)
			errs <- err
		}(id)
	}

	first := fake.Next(t, providertest.OpFetch)
	second := fake.Next(t, providertest.OpFetch)
	assert.ElementsMatch(t, []string{"m1", "m2"}, []string{first.MessageID, second.MessageID})

	second.Resolve(providertest.Result{Body: domain.MessageBody{HTML: second.MessageID}})
	first.Resolve(providertest.Result{Body: domain.MessageBody{HTML: first.MessageID}})
	require.NoError(t, <-errs)
	require.NoError(t, <-errs)

	for _, id := range []string{"m1", "m2"} {
		b, ok := store.Body(id)
		require.True(t, ok)
		assert.Equal(t, id, b.HTML)
	}
	mu.Lock()
	assert.Equal(t, 4, changes)
	mu.Unlock()
}
