package extractor

import (
	"strings"

	"github.com/MikeSquared-Agency/replysync/internal/intercom"
)

// Extract emits one record per operator message with a non-empty body, in
// message order. Each record carries the closest earlier end-user message
// with a non-empty body, or nil when there is none.
func Extract(msgs []Message) []ReplyRecord {
	var records []ReplyRecord
	for i, m := range msgs {
		if m.Role != RoleOperator || strings.TrimSpace(m.Body) == "" {
			continue
		}
		records = append(records, ReplyRecord{
			PartID:          m.ID,
			ReplyCreatedAt:  m.CreatedAt,
			OperatorID:      m.AuthorID,
			OperatorName:    m.AuthorName,
			UserPrevMessage: previousUserMessage(msgs, i),
			OperatorMessage: m.Body,
		})
	}
	return records
}

func previousUserMessage(msgs []Message, idx int) *string {
	for i := idx - 1; i >= 0; i-- {
		m := msgs[i]
		if m.Role == RoleEndUser && strings.TrimSpace(m.Body) != "" {
			body := m.Body
			return &body
		}
	}
	return nil
}

// FromConversation derives the reply records of one conversation. The
// result depends only on conv, so re-deriving after a crash yields the
// same rows.
func FromConversation(conv *intercom.Conversation) []ReplyRecord {
	if conv == nil {
		return nil
	}
	records := Extract(Normalize(conv))

	var tags []string
	for _, t := range conv.Tags.Tags {
		if name := strings.TrimSpace(t.Name); name != "" {
			tags = append(tags, name)
		}
	}
	for i := range records {
		records[i].ConversationID = conv.ID
		records[i].AssigneeID = string(conv.AdminAssigneeID)
		if tags != nil {
			records[i].Tags = append([]string(nil), tags...)
		}
	}
	return records
}
