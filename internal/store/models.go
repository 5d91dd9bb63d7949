package store

import "time"

const (
	SenderUser = "user"
	SenderAI   = "ai"

	GenerationText  = "text"
	GenerationImage = "image"
)

type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	Email        *string   `json:"email,omitempty"`
	PasswordHash string    `json:"-"` // Do not expose this in JSON responses
	CreatedAt    time.Time `json:"created_at"`
}

type Chat struct {
	ID        int64     `json:"chat_id"`
	UserID    int64     `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Message is one row of a chat. User rows carry Message, ai rows carry Response.
type Message struct {
	ID             int64     `json:"id"`
	ChatID         int64     `json:"chat_id"`
	Sender         string    `json:"sender"`
	Message        *string   `json:"message"`
	Response       *string   `json:"response"`
	GenerationType string    `json:"generation_type"`
	Timestamp      time.Time `json:"timestamp"`
}

// Text returns whichever side of the turn the row carries.
func (m Message) Text() string {
	if m.Sender == SenderAI && m.Response != nil {
		return *m.Response
	}
	if m.Message != nil {
		return *m.Message
	}
	if m.Response != nil {
		return *m.Response
	}
	return ""
}

type NewMessage struct {
	ChatID         int64
	Sender         string
	Message        *string
	Response       *string
	GenerationType string
}

type ChatSummary struct {
	ChatID          int64      `json:"chat_id"`
	LastMessageTime *time.Time `json:"last_message_time"`
}

type DeleteResult struct {
	Chats    int64 `json:"deleted_chats"`
	Messages int64 `json:"deleted_messages"`
}

type TextGeneration struct {
	ID          int64
	ChatID      int64
	UserID      int64
	Prompt      string
	Response    string
	ModelUsed   string
	Temperature float64
	MaxTokens   int
	Error       *string
	CreatedAt   time.Time
}

type ImageGeneration struct {
	ID               int64     `json:"id"`
	ChatID           *int64    `json:"chat_id"`
	UserID           int64     `json:"-"`
	Prompt           string    `json:"prompt"`
	ImageData        string    `json:"-"`
	ModelUsed        string    `json:"model_used"`
	Width            int       `json:"width"`
	Height           int       `json:"height"`
	GenerationConfig string    `json:"-"`
	CreatedAt        time.Time `json:"created_at"`
}

type Preferences struct {
	UserID           int64     `json:"-"`
	Preferences      string    `json:"preferences"`
	ExpertiseDomains string    `json:"expertise_domains"`
	UpdatedAt        time.Time `json:"-"`
}
