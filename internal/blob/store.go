package blob

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"deptportal/backend/internal/domain"
)

// ErrBlobNotFound 附件不存在
var ErrBlobNotFound = errors.New("blob not found")

// Store 附件的文件系统存储。每个附件一个目录，
// 字节内容与元数据分开存放。
type Store struct {
	basePath string
}

// NewStore 创建附件存储实例
func NewStore(basePath string) (*Store, error) {
	if basePath == "" {
		return nil, fmt.Errorf("blob base path is required")
	}
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create blob directory: %w", err)
	}
	return &Store{basePath: basePath}, nil
}

// Save 保存附件内容与元数据，返回分配的 BlobID。
func (s *Store) Save(att *domain.Attachment) (string, error) {
	if att.BlobID == "" {
		att.BlobID = uuid.New().String()
	}
	if err := validateBlobID(att.BlobID); err != nil {
		return "", err
	}

	blobPath := s.blobPath(att.BlobID)
	if err := os.MkdirAll(blobPath, 0755); err != nil {
		return "", fmt.Errorf("failed to create blob directory: %w", err)
	}

	contentFile := filepath.Join(blobPath, "content.bin")
	if err := os.WriteFile(contentFile, att.Content, 0644); err != nil {
		return "", fmt.Errorf("failed to write blob content: %w", err)
	}

	meta := domain.Attachment{
		BlobID:      att.BlobID,
		Filename:    att.Filename,
		ContentType: att.ContentType,
		Size:        int64(len(att.Content)),
	}
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal blob metadata: %w", err)
	}
	metaFile := filepath.Join(blobPath, "metadata.json")
	if err := os.WriteFile(metaFile, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write blob metadata: %w", err)
	}

	return att.BlobID, nil
}

// Get 读取附件内容与元数据。
func (s *Store) Get(blobID string) (*domain.Attachment, error) {
	if err := validateBlobID(blobID); err != nil {
		return nil, err
	}

	blobPath := s.blobPath(blobID)

	data, err := os.ReadFile(filepath.Join(blobPath, "metadata.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrBlobNotFound
		}
		return nil, fmt.Errorf("failed to read blob metadata: %w", err)
	}

	var att domain.Attachment
	if err := json.Unmarshal(data, &att); err != nil {
		return nil, fmt.Errorf("failed to parse blob metadata: %w", err)
	}

	content, err := os.ReadFile(filepath.Join(blobPath, "content.bin"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrBlobNotFound
		}
		return nil, fmt.Errorf("failed to read blob content: %w", err)
	}
	att.Content = content

	return &att, nil
}

// Stat 只读取附件元数据，不加载内容。
func (s *Store) Stat(blobID string) (*domain.Attachment, error) {
	if err := validateBlobID(blobID); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filepath.Join(s.blobPath(blobID), "metadata.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrBlobNotFound
		}
		return nil, fmt.Errorf("failed to read blob metadata: %w", err)
	}

	var att domain.Attachment
	if err := json.Unmarshal(data, &att); err != nil {
		return nil, fmt.Errorf("failed to parse blob metadata: %w", err)
	}
	return &att, nil
}

// Remove 删除附件，不存在时视为已完成。
func (s *Store) Remove(blobID string) error {
	if err := validateBlobID(blobID); err != nil {
		return err
	}
	if err := os.RemoveAll(s.blobPath(blobID)); err != nil {
		return fmt.Errorf("failed to remove blob: %w", err)
	}
	return nil
}

// blobPath 附件目录: {basePath}/{前两位}/{blobID}/
// 按前缀分桶，避免单目录条目过多。
func (s *Store) blobPath(blobID string) string {
	return filepath.Join(s.basePath, blobID[:2], blobID)
}

// validateBlobID 防止路径穿越。BlobID 必须是 UUID 格式。
func validateBlobID(blobID string) error {
	if len(blobID) < 2 || strings.ContainsAny(blobID, "/\\.") {
		return fmt.Errorf("invalid blob id: %q", blobID)
	}
	if _, err := uuid.Parse(blobID); err != nil {
		return fmt.Errorf("invalid blob id: %q", blobID)
	}
	return nil
}
