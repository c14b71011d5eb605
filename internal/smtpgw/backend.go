package smtpgw

import (
	"fmt"
	"io"
	"mime"
	"net/mail"
	"strconv"
	"strings"
	"time"

	gosmtp "github.com/emersion/go-smtp"
	"go.uber.org/zap"

	"deptportal/backend/internal/domain"
	"deptportal/backend/internal/service"
	"deptportal/backend/internal/storage"
)

// Backend 实现 go-smtp 的 Backend 接口，作为收文网关。
//
// 这是一个只接收的 SMTP 服务器：
//   - 收件地址格式为 dept-<编号>@<网关域名>，其余一律 550 拒绝
//   - 发件地址也必须是本域的 dept-<编号> 格式，用于确定发文部门
//   - 不做邮件中继
type Backend struct {
	distribution *service.DistributionService
	departments  storage.DepartmentRepository
	domain       string
	logger       *zap.Logger
}

// NewBackend 创建收文网关 Backend。
func NewBackend(
	distribution *service.DistributionService,
	departments storage.DepartmentRepository,
	gatewayDomain string,
	logger *zap.Logger,
) *Backend {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Backend{
		distribution: distribution,
		departments:  departments,
		domain:       strings.ToLower(gatewayDomain),
		logger:       logger,
	}
}

// NewSession 创建新的 SMTP 会话。
func (b *Backend) NewSession(c *gosmtp.Conn) (gosmtp.Session, error) {
	return &session{backend: b}, nil
}

// NewServer 创建网关 SMTP 服务器。
func NewServer(backend *Backend, bindAddr string) *gosmtp.Server {
	server := gosmtp.NewServer(backend)
	server.Addr = bindAddr
	server.Domain = backend.domain
	server.ReadTimeout = 30 * time.Second
	server.WriteTimeout = 30 * time.Second
	server.MaxMessageBytes = 10 << 20
	server.MaxRecipients = 50
	server.AllowInsecureAuth = true
	return server
}

type session struct {
	backend    *Backend
	sender     *domain.Department
	recipients []int64
}

// Mail 处理 MAIL 命令，发件地址必须能解析为本域部门。
func (s *session) Mail(from string, opts *gosmtp.MailOptions) error {
	departmentID, err := s.backend.parseDepartmentAddress(from)
	if err != nil {
		return &gosmtp.SMTPError{
			Code:         550,
			EnhancedCode: gosmtp.EnhancedCode{5, 7, 1},
			Message:      "sender must be a department address of this gateway",
		}
	}

	dept, err := s.backend.departments.GetDepartment(departmentID)
	if err != nil {
		return &gosmtp.SMTPError{
			Code:         550,
			EnhancedCode: gosmtp.EnhancedCode{5, 1, 1},
			Message:      "sender department not found",
		}
	}

	s.sender = dept
	return nil
}

// Rcpt 处理 RCPT 命令。
//
// 只接受 dept-<编号>@<网关域名> 格式且部门存在的地址，
// 其余返回 550，确保网关不会被当作中继。
func (s *session) Rcpt(to string, _ *gosmtp.RcptOptions) error {
	departmentID, err := s.backend.parseDepartmentAddress(to)
	if err != nil {
		return &gosmtp.SMTPError{
			Code:         550,
			EnhancedCode: gosmtp.EnhancedCode{5, 7, 1},
			Message:      "relay access denied - not a gateway address",
		}
	}

	if _, err := s.backend.departments.GetDepartment(departmentID); err != nil {
		return &gosmtp.SMTPError{
			Code:         550,
			EnhancedCode: gosmtp.EnhancedCode{5, 1, 1},
			Message:      "recipient department not found",
		}
	}

	s.recipients = append(s.recipients, departmentID)
	return nil
}

// Data 处理邮件内容，解析后走正常的消息分发。
func (s *session) Data(r io.Reader) error {
	if s.sender == nil || len(s.recipients) == 0 {
		return &gosmtp.SMTPError{
			Code:    503,
			Message: "bad sequence of commands",
		}
	}

	parsed, err := mail.ReadMessage(io.LimitReader(r, 10<<20))
	if err != nil {
		return fmt.Errorf("parse message: %w", err)
	}

	subject := decodeHeader(parsed.Header.Get("Subject"))
	if strings.TrimSpace(subject) == "" {
		subject = "（无主题）"
	}

	body, err := io.ReadAll(io.LimitReader(parsed.Body, 10<<20))
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}

	actor := s.sender.Actor()
	input := service.CreateMessageInput{
		Subject: subject,
		Content: string(body),
	}

	if len(s.recipients) == 1 {
		input.AddressingMode = domain.AddressingSingle
		input.RecipientID = &s.recipients[0]
	} else {
		input.AddressingMode = domain.AddressingMulti
		input.RecipientIDs = s.recipients
	}

	message, err := s.backend.distribution.Create(actor, input)
	if err != nil {
		s.backend.logger.Warn("smtp intake rejected",
			zap.Int64("senderID", actor.ID),
			zap.Error(err))
		return &gosmtp.SMTPError{
			Code:    554,
			Message: "message rejected",
		}
	}

	s.backend.logger.Info("smtp intake accepted",
		zap.Int64("messageID", message.ID),
		zap.Int64("senderID", actor.ID),
		zap.Int("recipients", len(s.recipients)))

	return nil
}

// AuthPlain 处理 PLAIN 认证（网关部署在内网，允许匿名）。
func (s *session) AuthPlain(username, password string) error {
	return nil
}

// Reset 重置状态。
func (s *session) Reset() {
	s.sender = nil
	s.recipients = nil
}

// Logout 会话结束。
func (s *session) Logout() error {
	return nil
}

// parseDepartmentAddress 把 dept-<编号>@<网关域名> 解析为部门编号。
func (b *Backend) parseDepartmentAddress(addr string) (int64, error) {
	addr = normalizeAddress(addr)

	parts := strings.Split(addr, "@")
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid address: %q", addr)
	}
	if parts[1] != b.domain {
		return 0, fmt.Errorf("address not in gateway domain: %q", addr)
	}

	local := parts[0]
	if !strings.HasPrefix(local, "dept-") {
		return 0, fmt.Errorf("not a department address: %q", addr)
	}

	id, err := strconv.ParseInt(strings.TrimPrefix(local, "dept-"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid department id in address: %q", addr)
	}
	return id, nil
}

func normalizeAddress(addr string) string {
	addr = strings.TrimSpace(addr)
	addr = strings.Trim(addr, "<>")
	return strings.ToLower(addr)
}

func decodeHeader(value string) string {
	if value == "" {
		return value
	}
	decoder := new(mime.WordDecoder)
	decoded, err := decoder.DecodeHeader(value)
	if err != nil {
		return value
	}
	return decoded
}
