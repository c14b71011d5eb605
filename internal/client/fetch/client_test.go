package fetch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deptportal/backend/internal/client/connectivity"
	"deptportal/backend/internal/client/kvstore"
)

func newTestStore(t *testing.T) *kvstore.Store {
	t.Helper()
	store, err := kvstore.Open(t.TempDir(), kvstore.Schema{
		Version:     1,
		Collections: []kvstore.CollectionSpec{InboxCollectionSpec()},
	})
	require.NoError(t, err)
	return store
}

func respond(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"code": status,
		"msg":  "",
		"data": data,
	})
}

func TestInbox(t *testing.T) {
	t.Run("在线拉取并写入本地缓存", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/v1/messages/inbox", r.URL.Path)
			assert.Equal(t, "Bearer token-1", r.Header.Get("Authorization"))
			respond(w, http.StatusOK, []Message{
				{ID: 1, Subject: "旧通知"},
				{ID: 2, Subject: "新通知"},
			})
		}))
		defer server.Close()

		store := newTestStore(t)
		client := NewClient(server.URL, store, connectivity.NewMonitor(nil), nil)
		client.SetToken("token-1")

		messages, err := client.Inbox(context.Background())
		require.NoError(t, err)
		assert.Len(t, messages, 2)

		cached, err := store.List(InboxCollection)
		require.NoError(t, err)
		assert.Len(t, cached, 2)
	})

	t.Run("网络不可达时回退缓存且新的在前", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			respond(w, http.StatusOK, []Message{
				{ID: 1, Subject: "旧通知"},
				{ID: 2, Subject: "新通知"},
			})
		}))

		store := newTestStore(t)
		monitor := connectivity.NewMonitor(nil)
		client := NewClient(server.URL, store, monitor, nil)

		_, err := client.Inbox(context.Background())
		require.NoError(t, err)

		// 服务端下线
		server.Close()

		messages, err := client.Inbox(context.Background())
		require.NoError(t, err)
		require.Len(t, messages, 2)
		assert.Equal(t, int64(2), messages[0].ID)
		assert.Equal(t, int64(1), messages[1].ID)
		assert.False(t, monitor.Online())
	})

	t.Run("没有缓存时不可达原样报错", func(t *testing.T) {
		client := NewClient("http://127.0.0.1:1", nil, connectivity.NewMonitor(nil), nil)

		_, err := client.Inbox(context.Background())
		assert.ErrorIs(t, err, ErrUnreachable)
	})

	t.Run("过期缓存随下一次在线拉取清理", func(t *testing.T) {
		store := newTestStore(t)
		stale := cachedMessage{Message: Message{ID: 9, Subject: "过期通知"}, CachedAt: time.Now().Add(-8 * 24 * time.Hour)}
		require.NoError(t, store.Put(InboxCollection, inboxKey(9), &stale, nil))

		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			respond(w, http.StatusOK, []Message{{ID: 10, Subject: "新通知"}})
		}))
		defer server.Close()

		client := NewClient(server.URL, store, connectivity.NewMonitor(nil), nil)
		_, err := client.Inbox(context.Background())
		require.NoError(t, err)

		cached, err := store.List(InboxCollection)
		require.NoError(t, err)
		require.Len(t, cached, 1)
		assert.Equal(t, inboxKey(10), cached[0].Key)
	})

	t.Run("服务端明确401绝不回退缓存", func(t *testing.T) {
		store := newTestStore(t)
		record := cachedMessage{Message: Message{ID: 1}, CachedAt: time.Now()}
		require.NoError(t, store.Put(InboxCollection, inboxKey(1), &record, nil))

		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			respond(w, http.StatusUnauthorized, nil)
		}))
		defer server.Close()

		client := NewClient(server.URL, store, connectivity.NewMonitor(nil), nil)

		_, err := client.Inbox(context.Background())
		assert.ErrorIs(t, err, ErrUnauthorized)
	})
}

func TestSendMessage(t *testing.T) {
	t.Run("发送成功返回服务端行", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "/v1/messages", r.URL.Path)

			var req SendMessageRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "draft-1", req.ClientDraftID)

			respond(w, http.StatusCreated, Message{ID: 42, Subject: req.Subject})
		}))
		defer server.Close()

		client := NewClient(server.URL, nil, connectivity.NewMonitor(nil), nil)

		message, err := client.SendMessage(context.Background(), SendMessageRequest{
			ClientDraftID:  "draft-1",
			Subject:        "请示",
			Content:        "正文",
			AddressingMode: "broadcast",
		})
		require.NoError(t, err)
		assert.Equal(t, int64(42), message.ID)
	})

	t.Run("服务端拒绝带回错误消息", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"code": 400,
				"msg":  "主题不能为空",
			})
		}))
		defer server.Close()

		client := NewClient(server.URL, nil, connectivity.NewMonitor(nil), nil)

		_, err := client.SendMessage(context.Background(), SendMessageRequest{AddressingMode: "broadcast"})
		require.ErrorIs(t, err, ErrRejected)
		assert.Contains(t, err.Error(), "主题不能为空")
	})
}

func TestUploadAttachment(t *testing.T) {
	t.Run("上传成功返回blobId", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "/v1/attachments", r.URL.Path)

			file, header, err := r.FormFile("file")
			require.NoError(t, err)
			defer file.Close()
			assert.Equal(t, "report.pdf", header.Filename)

			respond(w, http.StatusCreated, map[string]interface{}{"blobId": "blob-7"})
		}))
		defer server.Close()

		client := NewClient(server.URL, nil, connectivity.NewMonitor(nil), nil)

		blobID, err := client.UploadAttachment(context.Background(), "report.pdf", []byte("%PDF-1.4"))
		require.NoError(t, err)
		assert.Equal(t, "blob-7", blobID)
	})
}

func TestLogin(t *testing.T) {
	t.Run("登录成功后令牌随后续请求发送", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.URL.Path {
			case "/v1/auth/login":
				respond(w, http.StatusOK, LoginResult{DepartmentID: 2, AccessToken: "token-xyz"})
			case "/v1/auth/me":
				assert.Equal(t, "Bearer token-xyz", r.Header.Get("Authorization"))
				respond(w, http.StatusOK, map[string]interface{}{"id": 2})
			}
		}))
		defer server.Close()

		client := NewClient(server.URL, nil, connectivity.NewMonitor(nil), nil)

		result, err := client.Login(context.Background(), 2, "secret")
		require.NoError(t, err)
		assert.Equal(t, "token-xyz", result.AccessToken)

		_, err = client.Me(context.Background())
		require.NoError(t, err)
	})

	t.Run("口令错误返回未授权", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			respond(w, http.StatusUnauthorized, nil)
		}))
		defer server.Close()

		client := NewClient(server.URL, nil, connectivity.NewMonitor(nil), nil)

		_, err := client.Login(context.Background(), 2, "wrong")
		assert.ErrorIs(t, err, ErrUnauthorized)
	})
}
