package extractor

import "time"

// Role is the normalized author role of a message.
type Role string

const (
	RoleOperator Role = "operator"
	RoleEndUser  Role = "end_user"
)

// Message is one normalized entry of a conversation: the source or a part.
type Message struct {
	ID         string
	Role       Role
	PartType   string
	CreatedAt  time.Time
	AuthorID   string
	AuthorName string
	Body       string // plain text
}

// ReplyRecord is an operator reply paired with the end-user message it
// answers. PartID is the natural key.
type ReplyRecord struct {
	ConversationID  string    `json:"conversation_id"`
	PartID          string    `json:"part_id"`
	ReplyCreatedAt  time.Time `json:"reply_created_at"`
	OperatorID      string    `json:"operator_id,omitempty"`
	OperatorName    string    `json:"operator_name,omitempty"`
	UserPrevMessage *string   `json:"user_prev_message"`
	OperatorMessage string    `json:"operator_message"`
	Tags            []string  `json:"tags,omitempty"`
	AssigneeID      string    `json:"assignee_id,omitempty"`
}
