package store

import (
	"encoding/json"
	"time"
)

// User is a registered writer. Email is the login identity, Username the
// display name attached to prompts and responses.
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// Prompt is a writing prompt on the board. Text is optional: a prompt can
// be just its title. Categories are stored lower-cased.
type Prompt struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	Text       *string   `json:"prompt"`
	Author     string    `json:"author"`
	Categories []string  `json:"categories"`
	CreatedAt  time.Time `json:"created_at"`
}

// Response is a reader's rich text answer to a prompt. Content holds the
// serialized document exactly as submitted.
type Response struct {
	ID        string          `json:"id"`
	PromptID  string          `json:"promptId"`
	Author    string          `json:"author"`
	Content   json.RawMessage `json:"content"`
	CreatedAt time.Time       `json:"created_at"`
}
