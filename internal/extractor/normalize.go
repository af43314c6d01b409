package extractor

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/MikeSquared-Agency/replysync/internal/intercom"
)

// operatorAuthorTypes is the upstream vocabulary for teammates.
var operatorAuthorTypes = map[string]bool{
	"admin":    true,
	"teammate": true,
}

// Normalize turns a conversation into messages ordered by timestamp. Ties
// keep upstream order with the source first.
func Normalize(conv *intercom.Conversation) []Message {
	if conv == nil {
		return nil
	}

	msgs := make([]Message, 0, len(conv.Parts.Parts)+1)

	sourceID := conv.Source.ID
	if sourceID == "" {
		sourceID = conv.ID + "-source"
	}
	msgs = append(msgs, newMessage(sourceID, "source", conv.CreatedAt, conv.Source.Author, conv.Source.Body))

	for i, p := range conv.Parts.Parts {
		id := p.ID
		if id == "" {
			id = fmt.Sprintf("%s-part-%d", conv.ID, i)
		}
		msgs = append(msgs, newMessage(id, p.PartType, p.CreatedAt, p.Author, p.Body))
	}

	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
	})
	return msgs
}

func newMessage(id, partType string, createdAt int64, author *intercom.Author, body string) Message {
	m := Message{
		ID:        id,
		Role:      normalizeRole(author),
		PartType:  partType,
		CreatedAt: time.Unix(createdAt, 0).UTC(),
		Body:      HTMLToText(body),
	}
	if author != nil {
		m.AuthorID = author.ID
		m.AuthorName = author.Name
	}
	return m
}

// normalizeRole maps anything outside the operator vocabulary, including a
// missing author, to RoleEndUser.
func normalizeRole(author *intercom.Author) Role {
	if author == nil {
		return RoleEndUser
	}
	if operatorAuthorTypes[strings.ToLower(strings.TrimSpace(author.Type))] {
		return RoleOperator
	}
	return RoleEndUser
}
