package domain

// Attachment 附件元信息。字节内容存放在 blob 存储中，按 BlobID 取用。
type Attachment struct {
	BlobID      string `json:"blobId"`
	Filename    string `json:"filename"`
	ContentType string `json:"contentType"`
	Size        int64  `json:"size"`
	Content     []byte `json:"-"` // 仅在上传/下载过程中携带
}
