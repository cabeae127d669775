package api

// SendMessageRequest is the body of POST /api/v1/messages.
type SendMessageRequest struct {
	Content string `json:"content" binding:"required"`
}
