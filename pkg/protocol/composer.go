package protocol

import (
	"encoding/json"
	"strings"
)

type chatMessage struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

type control struct {
	Type string `json:"type"`
}

// Composer builds outbound frames.
type Composer struct{}

// ChatMessage builds a chat_message frame. Surrounding whitespace is trimmed;
// empty content is rejected with ErrEmptyMessage.
func (Composer) ChatMessage(content string) ([]byte, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, ErrEmptyMessage
	}
	return json.Marshal(chatMessage{Type: TypeChatMessage, Content: content})
}

// StopGeneration builds a stop_generation frame.
func (Composer) StopGeneration() []byte {
	return mustControl(TypeStopGeneration)
}

// Ping builds a ping frame.
func (Composer) Ping() []byte {
	return mustControl(TypePing)
}

func mustControl(frameType string) []byte {
	data, err := json.Marshal(control{Type: frameType})
	if err != nil {
		panic(err) // a struct with one string field always marshals
	}
	return data
}
