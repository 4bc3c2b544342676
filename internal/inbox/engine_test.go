package inbox

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tempmail/inboxsync/internal/config"
	"tempmail/inboxsync/internal/domain"
	"tempmail/inboxsync/internal/provider/providertest"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func testConfig() config.InboxConfig {
	return config.InboxConfig{
		Budget:           600 * time.Second,
		PollInterval:     time.Hour, // 测试中手动驱动轮询
		FailureThreshold: 3,
		PollTimeout:      time.Second,
		BodyTimeout:      time.Second,
		TickInterval:     5 * time.Millisecond,
	}
}

func newEngine(t *testing.T) (*Engine, *providertest.Fake, *testClock) {
	t.Helper()
	fake := providertest.NewFake()
	clk := newTestClock()
	e := New(fake, testConfig(), WithClock(clk.Now))
	t.Cleanup(e.Stop)
	return e, fake, clk
}

// startWithSession 启动引擎并放行首个会话的创建与首次轮询
func startWithSession(t *testing.T, e *Engine, fake *providertest.Fake, mb domain.Mailbox, first []domain.MessageSummary) {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- e.Start(context.Background()) }()

	fake.Next(t, providertest.OpCreate).Resolve(providertest.Result{Mailbox: mb})
	require.NoError(t, <-done)

	fake.Next(t, providertest.OpList).Resolve(providertest.Result{Messages: first})
	waitFor(t, e, func(s domain.Snapshot) bool {
		return s.PollStatus != domain.PollFetching && len(s.Messages) == len(first)
	})
}

func waitFor(t *testing.T, e *Engine, cond func(domain.Snapshot) bool) domain.Snapshot {
	t.Helper()
	var snap domain.Snapshot
	require.Eventually(t, func() bool {
		snap = e.Snapshot()
		return cond(snap)
	}, 2*time.Second, 2*time.Millisecond)
	return snap
}

func gather(fn func() error) <-chan error {
	out := make(chan error, 1)
	go func() { out <- fn() }()
	return out
}

func TestEngine_FetchedBodySurvivesLaterPoll(t *testing.T) {
	e, fake, _ := newEngine(t)
	startWithSession(t, e, fake, providertest.Mailbox("A", "x@domain"), []domain.MessageSummary{
		{ID: "m1", Subject: "Hi", Seen: false},
	})

	snap := e.Snapshot()
	require.NotNil(t, snap.Session)
	assert.Equal(t, "x@domain", snap.Session.Address)
	assert.Equal(t, 600, snap.RemainingSeconds)
	assert.Equal(t, 600, snap.Session.BudgetSeconds)
	assert.Equal(t, domain.DisplayReady, snap.State)

	expanded := gather(func() error {
		b, err := e.ExpandMessage(context.Background(), "m1")
		if err == nil && b.HTML != "<p>hi</p>" {
			return fmt.Errorf("unexpected body %q", b.HTML)
		}
		return err
	})
	fake.Next(t, providertest.OpFetch).Resolve(providertest.Result{Body: domain.MessageBody{HTML: "<p>hi</p>"}})
	require.NoError(t, <-expanded)

	refreshed := gather(func() error { return e.RefreshNow(context.Background()) })
	fake.Next(t, providertest.OpList).Resolve(providertest.Result{Messages: []domain.MessageSummary{
		{ID: "m1", Subject: "Hi", Seen: true},
	}})
	require.NoError(t, <-refreshed)

	snap = e.Snapshot()
	require.Len(t, snap.Messages, 1)
	m := snap.Messages[0]
	require.NotNil(t, m.Body)
	assert.Equal(t, "<p>hi</p>", m.Body.HTML)
	assert.True(t, m.Seen)
	assert.Equal(t, domain.BodyLoaded, m.BodyState)

	// 再次展开不会请求上游
	b, err := e.ExpandMessage(context.Background(), "m1")
	require.NoError(t, err)
	assert.Equal(t, "<p>hi</p>", b.HTML)
	assert.Equal(t, 1, fake.Count(providertest.OpFetch))
}

func TestEngine_RapidCreateKeepsLastInitiated(t *testing.T) {
	e, fake, _ := newEngine(t)

	type outcome struct {
		sess domain.Session
		err  error
	}
	create := func() <-chan outcome {
		out := make(chan outcome, 1)
		go func() {
			s, err := e.CreateNewSession(context.Background())
			out <- outcome{s, err}
		}()
		return out
	}

	first := create()
	firstCall := fake.Next(t, providertest.OpCreate)
	second := create()
	secondCall := fake.Next(t, providertest.OpCreate)
	assert.True(t, e.Snapshot().Creating)

	secondCall.Resolve(providertest.Result{Mailbox: providertest.Mailbox("B", "b@domain")})
	res := <-second
	require.NoError(t, res.err)
	assert.Equal(t, "B", res.sess.ID)
	fake.Next(t, providertest.OpList).Resolve(providertest.Result{})

	firstCall.Resolve(providertest.Result{Mailbox: providertest.Mailbox("A", "a@domain")})
	assert.ErrorIs(t, (<-first).err, domain.ErrStaleResult)

	snap := waitFor(t, e, func(s domain.Snapshot) bool { return !s.Creating })
	require.NotNil(t, snap.Session)
	assert.Equal(t, "B", snap.Session.ID)
	assert.Empty(t, snap.LastError)
	fake.AssertNoCall(t, 20*time.Millisecond)
}

func TestEngine_NewSessionClearsPreviousState(t *testing.T) {
	e, fake, clk := newEngine(t)
	startWithSession(t, e, fake, providertest.Mailbox("A", "a@domain"), []domain.MessageSummary{{ID: "m1"}})

	clk.Advance(100 * time.Second)
	assert.Equal(t, 500, e.Snapshot().RemainingSeconds)

	created := gather(func() error {
		_, err := e.CreateNewSession(context.Background())
		return err
	})
	fake.Next(t, providertest.OpCreate).Resolve(providertest.Result{Mailbox: providertest.Mailbox("B", "b@domain")})
	require.NoError(t, <-created)

	snap := e.Snapshot()
	assert.Equal(t, "B", snap.Session.ID)
	assert.Empty(t, snap.Messages)
	assert.Equal(t, 600, snap.RemainingSeconds)

	call := fake.Next(t, providertest.OpList)
	assert.Equal(t, "token-B", call.Credentials.Token)
	call.Resolve(providertest.Result{})
}

func TestEngine_DisplayStates(t *testing.T) {
	t.Run("无会话", func(t *testing.T) {
		e, _, _ := newEngine(t)
		snap := e.Snapshot()
		assert.Equal(t, domain.DisplayNoSession, snap.State)
		assert.Nil(t, snap.Session)
		assert.NotNil(t, snap.Messages)
		assert.Zero(t, snap.RemainingSeconds)
	})

	t.Run("创建失败保持无会话并给出错误", func(t *testing.T) {
		e, fake, _ := newEngine(t)
		done := gather(func() error { return e.Start(context.Background()) })
		fake.Next(t, providertest.OpCreate).Fail(fmt.Errorf("%w: no domains available", domain.ErrProviderUnavailable))

		assert.ErrorIs(t, <-done, domain.ErrProviderUnavailable)
		snap := waitFor(t, e, func(s domain.Snapshot) bool { return !s.Creating })
		assert.Equal(t, domain.DisplayNoSession, snap.State)
		assert.Contains(t, snap.LastError, "no domains available")
	})

	t.Run("空收件箱", func(t *testing.T) {
		e, fake, _ := newEngine(t)
		startWithSession(t, e, fake, providertest.Mailbox("A", "a@domain"), nil)
		assert.Equal(t, domain.DisplayEmpty, e.Snapshot().State)
	})

	t.Run("连接降级", func(t *testing.T) {
		e, fake, _ := newEngine(t)
		startWithSession(t, e, fake, providertest.Mailbox("A", "a@domain"), []domain.MessageSummary{{ID: "m1"}})

		for i := 0; i < 3; i++ {
			done := gather(func() error { return e.RefreshNow(context.Background()) })
			fake.Next(t, providertest.OpList).Fail(fmt.Errorf("%w: 503", domain.ErrProviderUnavailable))
			assert.ErrorIs(t, <-done, domain.ErrProviderUnavailable)
		}

		snap := e.Snapshot()
		assert.Equal(t, domain.DisplayDegraded, snap.State)
		assert.Equal(t, domain.PollDegraded, snap.PollStatus)
		assert.Equal(t, 3, snap.ConsecutiveFailures)
		assert.Len(t, snap.Messages, 1, "failed polls must not clear the cache")
		assert.True(t, e.Degraded())
	})

	t.Run("已过期", func(t *testing.T) {
		e, fake, clk := newEngine(t)
		startWithSession(t, e, fake, providertest.Mailbox("A", "a@domain"), []domain.MessageSummary{{ID: "m1"}})

		clk.Advance(601 * time.Second)
		snap := waitFor(t, e, func(s domain.Snapshot) bool { return s.State == domain.DisplayExpired })
		assert.Zero(t, snap.RemainingSeconds)
		assert.True(t, snap.Session.Expired)
		assert.Len(t, snap.Messages, 1, "expiry keeps the inbox visible")

		require.Eventually(t, func() bool { return e.poller.Status().Paused }, time.Second, 2*time.Millisecond)
		assert.False(t, e.poller.Tick(context.Background()))
	})
}

func TestEngine_ExpandWithoutSession(t *testing.T) {
	e, _, _ := newEngine(t)
	_, err := e.ExpandMessage(context.Background(), "m1")
	assert.ErrorIs(t, err, domain.ErrNoSession)
	assert.ErrorIs(t, e.RefreshNow(context.Background()), domain.ErrNoSession)
}

func TestEngine_ExpandAsyncReportsFailureInSnapshot(t *testing.T) {
	e, fake, _ := newEngine(t)
	startWithSession(t, e, fake, providertest.Mailbox("A", "a@domain"), []domain.MessageSummary{{ID: "m1"}})

	require.True(t, e.ExpandAsync("m1"))
	fake.Next(t, providertest.OpFetch).Fail(fmt.Errorf("%w: timeout", domain.ErrProviderUnavailable))

	snap := waitFor(t, e, func(s domain.Snapshot) bool {
		return len(s.Messages) == 1 && s.Messages[0].BodyState == domain.BodyFailed
	})
	assert.Nil(t, snap.Messages[0].Body)
	assert.Equal(t, domain.DisplayReady, snap.State, "body failures stay scoped to the message")

	// 失败后允许重试
	require.True(t, e.ExpandAsync("m1"))
	fake.Next(t, providertest.OpFetch).Resolve(providertest.Result{Body: domain.MessageBody{HTML: "ok"}})
	waitFor(t, e, func(s domain.Snapshot) bool {
		return s.Messages[0].BodyState == domain.BodyLoaded
	})
}

func TestEngine_Subscribe(t *testing.T) {
	e, fake, _ := newEngine(t)

	updates, cancel := e.Subscribe()
	defer cancel()

	initial := <-updates
	assert.Equal(t, domain.DisplayNoSession, initial.State)

	startWithSession(t, e, fake, providertest.Mailbox("A", "a@domain"), []domain.MessageSummary{{ID: "m1"}})

	deadline := time.After(2 * time.Second)
	for {
		select {
		case snap := <-updates:
			if snap.State == domain.DisplayReady && len(snap.Messages) == 1 {
				assert.Greater(t, snap.Version, initial.Version)
				cancel()
				cancel()
				return
			}
		case <-deadline:
			t.Fatal("subscriber never saw the ready snapshot")
		}
	}
}

func TestEngine_StopClosesSubscriptions(t *testing.T) {
	fake := providertest.NewFake()
	e := New(fake, testConfig())

	updates, _ := e.Subscribe()
	<-updates
	e.Stop()
	e.Stop()

	_, ok := <-updates
	assert.False(t, ok)

	late, _ := e.Subscribe()
	_, ok = <-late
	assert.False(t, ok)
}

func TestEngine_SubscribeDuringPublishAndStop(t *testing.T) {
	for i := 0; i < 200; i++ {
		e := New(providertest.NewFake(), testConfig())

		done := make(chan struct{})
		go func() {
			for {
				select {
				case <-done:
					return
				default:
					e.notify()
					e.publish(e.Snapshot())
				}
			}
		}()

		subscribed := make(chan struct{})
		go func() {
			defer close(subscribed)
			for j := 0; j < 20; j++ {
				updates, cancel := e.Subscribe()
				<-updates
				if j%2 == 0 {
					cancel()
				}
			}
		}()
		go e.Stop()

		select {
		case <-subscribed:
		case <-time.After(2 * time.Second):
			t.Fatal("Subscribe blocked while snapshots were being published")
		}
		close(done)
		e.Stop()
	}
}

func TestEngine_SubscribeNeverBlocksOnFullBuffer(t *testing.T) {
	e := New(providertest.NewFake(), testConfig())
	t.Cleanup(e.Stop)

	updates, cancel := e.Subscribe()
	defer cancel()

	e.notify()
	e.publish(e.Snapshot())
	e.publish(e.Snapshot())

	snap := <-updates
	assert.Equal(t, e.version.Load(), snap.Version)
	select {
	case <-updates:
		t.Fatal("subscription buffered more than the latest snapshot")
	default:
	}
}
