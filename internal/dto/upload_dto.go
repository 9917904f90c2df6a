package dto

// AttachmentResponse describes a stored design attachment and the file
// message it produced in the order's room.
type AttachmentResponse struct {
	URL       string              `json:"url"`
	SizeBytes int64               `json:"size_bytes"`
	MimeType  string              `json:"mime_type"`
	FileName  string              `json:"file_name"`
	Message   ChatMessageResponse `json:"message"`
}
