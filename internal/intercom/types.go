package intercom

import (
	"bytes"
	"encoding/json"
	"time"
)

// Author identifies who wrote a conversation source or part.
type Author struct {
	Type  string `json:"type"` // "admin", "user", "lead", "bot", ...
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
}

// Source is the message that opened a conversation.
type Source struct {
	ID          string  `json:"id"`
	Type        string  `json:"type"`
	DeliveredAs string  `json:"delivered_as"`
	Subject     string  `json:"subject"`
	Body        string  `json:"body"`
	Author      *Author `json:"author"`
}

// Part is a single follow-up entry in a conversation.
type Part struct {
	ID        string  `json:"id"`
	PartType  string  `json:"part_type"`
	Body      string  `json:"body"`
	CreatedAt int64   `json:"created_at"`
	UpdatedAt int64   `json:"updated_at"`
	Author    *Author `json:"author"`
}

type Tag struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Conversation is the full conversation object returned by the detail call.
type Conversation struct {
	ID              string `json:"id"`
	CreatedAt       int64  `json:"created_at"`
	UpdatedAt       int64  `json:"updated_at"`
	State           string `json:"state"`
	Source          Source `json:"source"`
	AdminAssigneeID FlexID `json:"admin_assignee_id"`
	TeamAssigneeID  FlexID `json:"team_assignee_id"`
	Parts           struct {
		Parts      []Part `json:"conversation_parts"`
		TotalCount int    `json:"total_count"`
	} `json:"conversation_parts"`
	Tags struct {
		Tags []Tag `json:"tags"`
	} `json:"tags"`
}

// Summary is one entry of a search page.
type Summary struct {
	ID        string `json:"id"`
	CreatedAt int64  `json:"created_at"`
	UpdatedAt int64  `json:"updated_at"`
}

// SearchPage is one page of search results. NextCursor is empty when the
// window is exhausted.
type SearchPage struct {
	Conversations []Summary
	NextCursor    string
	TotalCount    int
}

// Window bounds an updated_at query; both ends are inclusive.
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// FlexID accepts an identifier encoded either as a JSON string or a number.
// null decodes to "".
type FlexID string

func (f *FlexID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = FlexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = FlexID(n.String())
	return nil
}
