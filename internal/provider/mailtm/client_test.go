package mailtm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tempmail/inboxsync/internal/domain"
)

// fakeMailTM 模拟 mail.tm API 的最小子集
type fakeMailTM struct {
	domains      string
	conflicts    int32 // 前 N 次创建账户返回 422
	accountCalls int32
	messages     string
	message      map[string]string
}

func (f *fakeMailTM) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/domains", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(f.domains))
	})
	mux.HandleFunc("/accounts", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		n := atomic.AddInt32(&f.accountCalls, 1)
		if n <= atomic.LoadInt32(&f.conflicts) {
			w.WriteHeader(http.StatusUnprocessableEntity)
			_, _ = w.Write([]byte(`{"detail":"address: This value is already used."}`))
			return
		}
		var req accountRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(accountResource{ID: "acc-1", Address: req.Address})
	})
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(tokenResource{ID: "acc-1", Token: "tok-1"})
	})
	mux.HandleFunc("/messages", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok-1" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"code":401,"message":"JWT Token not found"}`))
			return
		}
		_, _ = w.Write([]byte(f.messages))
	})
	mux.HandleFunc("/messages/", func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimPrefix(r.URL.Path, "/messages/")
		body, ok := f.message[id]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"hydra:description":"Not Found"}`))
			return
		}
		_, _ = w.Write([]byte(body))
	})
	return mux
}

func newTestClient(t *testing.T, f *fakeMailTM) *Client {
	srv := httptest.NewServer(f.handler(t))
	t.Cleanup(srv.Close)
	return New(Options{BaseURL: srv.URL, Timeout: 2 * time.Second})
}

const activeDomains = `{"hydra:member":[{"id":"d0","domain":"old.tm","isActive":false},{"id":"d1","domain":"Mail.TM","isActive":true}],"hydra:totalItems":2}`

func TestClient_CreateMailbox(t *testing.T) {
	ctx := context.Background()

	t.Run("创建邮箱成功", func(t *testing.T) {
		client := newTestClient(t, &fakeMailTM{domains: activeDomains})

		mb, err := client.CreateMailbox(ctx)

		require.NoError(t, err)
		assert.Equal(t, "acc-1", mb.ID)
		assert.True(t, strings.HasSuffix(mb.Address, "@mail.tm"))
		assert.Len(t, strings.Split(mb.Address, "@")[0], 10)
		assert.Equal(t, "tok-1", mb.Credentials.Token)
		assert.NotEmpty(t, mb.Credentials.Password)
		assert.True(t, mb.ExpiresAt.IsZero())
	})

	t.Run("地址冲突时重试一次", func(t *testing.T) {
		f := &fakeMailTM{domains: activeDomains, conflicts: 1}
		client := newTestClient(t, f)

		mb, err := client.CreateMailbox(ctx)

		require.NoError(t, err)
		assert.Equal(t, "acc-1", mb.ID)
		assert.Equal(t, int32(2), atomic.LoadInt32(&f.accountCalls))
	})

	t.Run("连续冲突返回 AddressConflict", func(t *testing.T) {
		client := newTestClient(t, &fakeMailTM{domains: activeDomains, conflicts: 10})

		_, err := client.CreateMailbox(ctx)

		assert.ErrorIs(t, err, domain.ErrAddressConflict)
		assert.Contains(t, err.Error(), "already used")
	})

	t.Run("没有可用域名", func(t *testing.T) {
		client := newTestClient(t, &fakeMailTM{domains: `{"hydra:member":[]}`})

		_, err := client.CreateMailbox(ctx)

		assert.ErrorIs(t, err, domain.ErrProviderUnavailable)
	})

	t.Run("服务不可达", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		srv.Close()
		client := New(Options{BaseURL: srv.URL, Timeout: time.Second})

		_, err := client.CreateMailbox(ctx)

		assert.ErrorIs(t, err, domain.ErrProviderUnavailable)
	})
}

func TestClient_ListMessages(t *testing.T) {
	f := &fakeMailTM{
		domains: activeDomains,
		messages: `{"hydra:member":[
			{"id":"m2","from":{"name":"Alice","address":"alice@example.com"},"subject":"Second","intro":"hello","seen":false,"createdAt":"2024-05-01T10:00:00+00:00"},
			{"id":"m1","from":null,"subject":"","seen":true,"createdAt":"2024-05-01T09:00:00+00:00"}
		]}`,
	}
	client := newTestClient(t, f)

	t.Run("映射邮件摘要并保持顺序", func(t *testing.T) {
		msgs, err := client.ListMessages(context.Background(), domain.Credentials{Token: "tok-1"})

		require.NoError(t, err)
		require.Len(t, msgs, 2)
		assert.Equal(t, "m2", msgs[0].ID)
		assert.Equal(t, "Alice", msgs[0].From.Name)
		assert.Equal(t, "hello", msgs[0].Intro)
		assert.False(t, msgs[0].Seen)
		assert.Equal(t, "m1", msgs[1].ID)
		assert.Equal(t, domain.UnknownSenderName, msgs[1].From.DisplayName())
		assert.True(t, msgs[1].Seen)
		assert.Equal(t, 9, msgs[1].ReceivedAt.UTC().Hour())
	})

	t.Run("凭证失效返回 Unauthorized", func(t *testing.T) {
		_, err := client.ListMessages(context.Background(), domain.Credentials{Token: "revoked"})

		assert.ErrorIs(t, err, domain.ErrUnauthorized)
	})
}

func TestClient_FetchMessageBody(t *testing.T) {
	f := &fakeMailTM{
		domains: activeDomains,
		message: map[string]string{
			"html":  `{"id":"html","html":["<p>hi</p>"],"text":"hi"}`,
			"text":  `{"id":"text","html":[],"text":"plain body"}`,
			"empty": `{"id":"empty"}`,
			"bad":   `{"id":`,
		},
	}
	client := newTestClient(t, f)
	creds := domain.Credentials{Token: "tok-1"}
	ctx := context.Background()

	tests := []struct {
		name string
		id   string
		want string
	}{
		{"优先使用 HTML", "html", "<p>hi</p>"},
		{"回退到纯文本", "text", "plain body"},
		{"无内容占位", "empty", noContentHTML},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, err := client.FetchMessageBody(ctx, creds, tt.id)
			require.NoError(t, err)
			assert.Equal(t, tt.want, body.HTML)
		})
	}

	t.Run("邮件不存在返回 NotFound", func(t *testing.T) {
		_, err := client.FetchMessageBody(ctx, creds, "gone")
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("响应无法解析返回 ProviderUnavailable", func(t *testing.T) {
		_, err := client.FetchMessageBody(ctx, creds, "bad")
		assert.ErrorIs(t, err, domain.ErrProviderUnavailable)
	})
}

func TestStatusError(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{http.StatusUnauthorized, domain.ErrUnauthorized},
		{http.StatusForbidden, domain.ErrUnauthorized},
		{http.StatusNotFound, domain.ErrNotFound},
		{http.StatusUnprocessableEntity, domain.ErrAddressConflict},
		{http.StatusTooManyRequests, domain.ErrProviderUnavailable},
		{http.StatusBadGateway, domain.ErrProviderUnavailable},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			rec := httptest.NewRecorder()
			rec.WriteHeader(tt.status)
			err := statusError(rec.Result())
			assert.ErrorIs(t, err, tt.want)
		})
	}
}
