package store

import (
	"time"

	"github.com/google/uuid"
)

// Chat is one conversation owned by a user.
type Chat struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"ownerId"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Role values accepted for messages.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one stored turn together with what it cost.
type Message struct {
	ID           string    `json:"id"`
	ChatID       string    `json:"chatId"`
	Role         string    `json:"role"`
	Content      string    `json:"content"`
	InputTokens  int       `json:"inputTokens"`
	OutputTokens int       `json:"outputTokens"`
	InputCost    float64   `json:"inputCost"`
	OutputCost   float64   `json:"outputCost"`
	TotalCost    float64   `json:"totalCost"`
	Sequence     int       `json:"sequence"`
	CreatedAt    time.Time `json:"createdAt"`
}

// NewID returns a new random identifier.
func NewID() string {
	return uuid.NewString()
}

// ValidRole reports whether role may be stored.
func ValidRole(role string) bool {
	return role == RoleUser || role == RoleAssistant
}
