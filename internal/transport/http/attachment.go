package httptransport

import (
	"errors"
	"io"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"deptportal/backend/internal/blob"
	"deptportal/backend/internal/domain"
	"deptportal/backend/internal/middleware"
)

// AttachmentHandler 处理附件上传与下载
type AttachmentHandler struct {
	blobs   *blob.Store
	maxSize int64
	log     *zap.Logger
}

// NewAttachmentHandler 创建附件处理器
func NewAttachmentHandler(blobs *blob.Store, maxSize int64, logger *zap.Logger) *AttachmentHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AttachmentHandler{
		blobs:   blobs,
		maxSize: maxSize,
		log:     logger,
	}
}

// Upload 上传附件，返回 blobId 供消息引用
func (h *AttachmentHandler) Upload(c *gin.Context) {
	if _, ok := middleware.ActorFrom(c); !ok {
		Unauthorized(c, MsgAuthRequired)
		return
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}
	if fileHeader.Size > h.maxSize {
		BadRequest(c, MsgAttachmentTooLarge)
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		h.log.Error("failed to open uploaded file", zap.Error(err))
		InternalError(c, MsgAttachmentUploadFailed)
		return
	}
	defer file.Close()

	content, err := io.ReadAll(io.LimitReader(file, h.maxSize+1))
	if err != nil {
		h.log.Error("failed to read uploaded file", zap.Error(err))
		InternalError(c, MsgAttachmentUploadFailed)
		return
	}
	if int64(len(content)) > h.maxSize {
		BadRequest(c, MsgAttachmentTooLarge)
		return
	}

	att := &domain.Attachment{
		Filename:    fileHeader.Filename,
		ContentType: fileHeader.Header.Get("Content-Type"),
		Content:     content,
	}

	blobID, err := h.blobs.Save(att)
	if err != nil {
		h.log.Error("failed to save attachment", zap.Error(err))
		InternalError(c, MsgAttachmentUploadFailed)
		return
	}

	Created(c, gin.H{
		"blobId":      blobID,
		"filename":    att.Filename,
		"contentType": att.ContentType,
		"size":        int64(len(content)),
	})
}

// Download 下载附件内容
func (h *AttachmentHandler) Download(c *gin.Context) {
	if _, ok := middleware.ActorFrom(c); !ok {
		Unauthorized(c, MsgAuthRequired)
		return
	}

	blobID := c.Param("blobId")
	att, err := h.blobs.Get(blobID)
	if err != nil {
		if errors.Is(err, blob.ErrBlobNotFound) {
			NotFound(c, MsgAttachmentNotFound)
			return
		}
		h.log.Error("failed to load attachment", zap.Error(err), zap.String("blobID", blobID))
		InternalError(c, MsgInternalError)
		return
	}

	contentType := att.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	c.Header("Content-Disposition", `attachment; filename="`+att.Filename+`"`)
	c.Data(200, contentType, att.Content)
}
