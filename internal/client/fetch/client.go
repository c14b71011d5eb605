package fetch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"sort"
	"strconv"
	"time"

	"go.uber.org/zap"

	"deptportal/backend/internal/client/connectivity"
	"deptportal/backend/internal/client/kvstore"
)

var (
	// ErrUnauthorized 服务端明确返回 401，凭证失效，不做本地回退
	ErrUnauthorized = errors.New("unauthorized")
	// ErrUnreachable 网络层面无法到达服务端
	ErrUnreachable = errors.New("server unreachable")
	// ErrRejected 服务端明确拒绝了请求
	ErrRejected = errors.New("request rejected by server")
)

// InboxCollection 收文缓存集合名。
const InboxCollection = "inbox"

const (
	// cacheRetention 收文缓存保留时长，超期记录随下一次缓存写入清理
	cacheRetention = 7 * 24 * time.Hour
	// cacheFallbackLimit 离线回退最多返回的缓存条数
	cacheFallbackLimit = 200
)

// InboxCollectionSpec 收文缓存的集合声明。
func InboxCollectionSpec() kvstore.CollectionSpec {
	return kvstore.CollectionSpec{Name: InboxCollection}
}

// Message 服务端消息的客户端视图。
type Message struct {
	ID               int64   `json:"id"`
	SenderID         int64   `json:"senderId"`
	OriginalSenderID *int64  `json:"originalSenderId,omitempty"`
	Subject          string  `json:"subject"`
	Content          string  `json:"content"`
	AddressingMode   string  `json:"addressingMode"`
	RecipientID      *int64  `json:"recipientId,omitempty"`
	RecipientIDs     []int64 `json:"recipientIds,omitempty"`
	DocumentNumber   string  `json:"documentNumber,omitempty"`
	ApprovalStatus   string  `json:"approvalStatus,omitempty"`
	IsRead           bool    `json:"isRead"`
	CreatedAt        string  `json:"createdAt"`
}

// SendMessageRequest 发送消息请求体，字段与服务端 API 对齐。
type SendMessageRequest struct {
	ClientDraftID     string   `json:"clientDraftId,omitempty"`
	Subject           string   `json:"subject"`
	Content           string   `json:"content"`
	AddressingMode    string   `json:"addressingMode"`
	RecipientID       *int64   `json:"recipientId,omitempty"`
	RecipientIDs      []int64  `json:"recipientIds,omitempty"`
	DocumentNumber    string   `json:"documentNumber,omitempty"`
	AttachmentBlobIDs []string `json:"attachmentBlobIds,omitempty"`
}

// envelope 服务端统一响应格式
type envelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

// Client 访问服务端并维护本地收文缓存的 HTTP 客户端。
//
// 离线回退只针对收文箱：网络不可达时返回缓存副本。
// 服务端明确返回 401 时永远不回退，直接报凭证失效。
type Client struct {
	baseURL string
	http    *http.Client
	token   string
	store   *kvstore.Store
	monitor *connectivity.Monitor
	logger  *zap.Logger
}

// NewClient 创建客户端。store 为 nil 时不做本地缓存。
func NewClient(baseURL string, store *kvstore.Store, monitor *connectivity.Monitor, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 15 * time.Second},
		store:   store,
		monitor: monitor,
		logger:  logger,
	}
}

// SetToken 设置访问令牌。
func (c *Client) SetToken(token string) {
	c.token = token
}

// LoginResult 登录成功后服务端返回的凭证。
type LoginResult struct {
	DepartmentID int64  `json:"departmentId"`
	Role         string `json:"role"`
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    int64  `json:"expiresIn"`
}

// Login 部门登录，成功后令牌留在客户端供后续请求使用。
func (c *Client) Login(ctx context.Context, departmentID int64, secret string) (*LoginResult, error) {
	body := map[string]interface{}{
		"departmentId": departmentID,
		"secret":       secret,
	}
	var result LoginResult
	if err := c.do(ctx, http.MethodPost, "/v1/auth/login", body, &result); err != nil {
		return nil, err
	}
	c.token = result.AccessToken
	return &result, nil
}

// Inbox 拉取收文箱。网络不可达时回退到本地缓存，按编号倒序。
func (c *Client) Inbox(ctx context.Context) ([]Message, error) {
	var messages []Message
	err := c.do(ctx, http.MethodGet, "/v1/messages/inbox", nil, &messages)
	if err != nil {
		if errors.Is(err, ErrUnreachable) {
			return c.cachedInbox(err)
		}
		return nil, err
	}

	c.cacheInbox(messages)
	return messages, nil
}

// Outbox 拉取发文箱，不做离线回退。
func (c *Client) Outbox(ctx context.Context) ([]Message, error) {
	var messages []Message
	if err := c.do(ctx, http.MethodGet, "/v1/messages/outbox", nil, &messages); err != nil {
		return nil, err
	}
	return messages, nil
}

// Message 拉取单条消息详情。
func (c *Client) Message(ctx context.Context, id int64) (*Message, error) {
	var message Message
	path := "/v1/messages/" + strconv.FormatInt(id, 10)
	if err := c.do(ctx, http.MethodGet, path, nil, &message); err != nil {
		return nil, err
	}
	return &message, nil
}

// MarkRead 标记消息已读。
func (c *Client) MarkRead(ctx context.Context, id int64) error {
	path := "/v1/messages/" + strconv.FormatInt(id, 10) + "/read"
	return c.do(ctx, http.MethodPost, path, nil, nil)
}

// SendMessage 发送消息。携带 clientDraftId 时服务端保证恰好一次。
func (c *Client) SendMessage(ctx context.Context, req SendMessageRequest) (*Message, error) {
	var message Message
	if err := c.do(ctx, http.MethodPost, "/v1/messages", req, &message); err != nil {
		return nil, err
	}
	return &message, nil
}

// UploadAttachment 上传附件字节，返回服务端 blobId 供消息引用。
func (c *Client) UploadAttachment(ctx context.Context, filename string, data []byte) (string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return "", fmt.Errorf("build upload: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return "", fmt.Errorf("build upload: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("build upload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/attachments", &buf)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	var result struct {
		BlobID string `json:"blobId"`
	}
	if err := c.send(req, &result); err != nil {
		return "", err
	}
	return result.BlobID, nil
}

// Me 探测当前会话对应的身份，会话续用时使用。
func (c *Client) Me(ctx context.Context) (map[string]interface{}, error) {
	var identity map[string]interface{}
	if err := c.do(ctx, http.MethodGet, "/v1/auth/me", nil, &identity); err != nil {
		return nil, err
	}
	return identity, nil
}

// ========== 收文缓存 ==========

// cachedMessage 缓存记录，cachedAt 决定回退时的排序与过期清理。
type cachedMessage struct {
	Message  Message   `json:"message"`
	CachedAt time.Time `json:"cachedAt"`
}

func (c *Client) cacheInbox(messages []Message) {
	if c.store == nil {
		return
	}
	now := time.Now()
	for i := range messages {
		record := cachedMessage{Message: messages[i], CachedAt: now}
		if err := c.store.Put(InboxCollection, inboxKey(messages[i].ID), &record, nil); err != nil {
			// 缓存失败不影响在线结果，记一条日志继续
			c.logger.Warn("inbox cache write failed", zap.Error(err))
			return
		}
	}
	c.sweepInbox(now)
}

// sweepInbox 清理超过保留时长的缓存记录。
func (c *Client) sweepInbox(now time.Time) {
	entries, err := c.store.List(InboxCollection)
	if err != nil {
		return
	}
	for _, entry := range entries {
		var record cachedMessage
		if err := json.Unmarshal(entry.Value, &record); err != nil {
			continue
		}
		if now.Sub(record.CachedAt) > cacheRetention {
			if err := c.store.Delete(InboxCollection, entry.Key); err != nil {
				c.logger.Warn("inbox cache sweep failed", zap.Error(err))
				return
			}
		}
	}
}

func (c *Client) cachedInbox(cause error) ([]Message, error) {
	if c.store == nil {
		return nil, cause
	}

	entries, err := c.store.List(InboxCollection)
	if err != nil {
		return nil, cause
	}

	records := make([]cachedMessage, 0, len(entries))
	for _, entry := range entries {
		var record cachedMessage
		if err := json.Unmarshal(entry.Value, &record); err != nil {
			continue
		}
		records = append(records, record)
	}
	sort.Slice(records, func(i, j int) bool {
		if !records[i].CachedAt.Equal(records[j].CachedAt) {
			return records[i].CachedAt.After(records[j].CachedAt)
		}
		return records[i].Message.ID > records[j].Message.ID
	})
	if len(records) > cacheFallbackLimit {
		records = records[:cacheFallbackLimit]
	}

	messages := make([]Message, 0, len(records))
	for _, record := range records {
		messages = append(messages, record.Message)
	}

	c.logger.Info("serving inbox from local cache",
		zap.Int("count", len(messages)),
		zap.Error(cause))
	return messages, nil
}

func inboxKey(id int64) string {
	// 补零保证字符串序与数值序一致
	return fmt.Sprintf("%020d", id)
}

// ========== 请求执行 ==========

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.send(req, out)
}

// send 执行请求并解包统一响应格式，网络结果同步给连通性监视器。
func (c *Client) send(req *http.Request, out interface{}) error {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if c.monitor != nil {
			c.monitor.ReportFailure()
		}
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	if c.monitor != nil {
		c.monitor.ReportSuccess()
	}

	if resp.StatusCode == http.StatusUnauthorized {
		return ErrUnauthorized
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return fmt.Errorf("%w: %s", ErrRejected, env.Msg)
	}

	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("decode data: %w", err)
		}
	}
	return nil
}
