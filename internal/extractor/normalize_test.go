package extractor

import (
	"testing"

	"github.com/MikeSquared-Agency/replysync/internal/intercom"
)

func conversation(id string, sourceTS int64, source *intercom.Author, sourceBody string, parts ...intercom.Part) *intercom.Conversation {
	conv := &intercom.Conversation{ID: id, CreatedAt: sourceTS, UpdatedAt: sourceTS}
	conv.Source = intercom.Source{ID: id + "-src", Body: sourceBody, Author: source}
	conv.Parts.Parts = parts
	return conv
}

var (
	admin = &intercom.Author{Type: "admin", ID: "a1", Name: "Bob"}
	user  = &intercom.Author{Type: "user", ID: "u1", Name: "Ann"}
	lead  = &intercom.Author{Type: "lead", ID: "l1"}
	bot   = &intercom.Author{Type: "bot", ID: "b1"}
)

func part(id string, ts int64, author *intercom.Author, body string) intercom.Part {
	return intercom.Part{ID: id, PartType: "comment", CreatedAt: ts, Author: author, Body: body}
}

func TestNormalize_OrdersByTimestamp(t *testing.T) {
	conv := conversation("c1", 100, user, "<p>help</p>",
		part("p2", 300, admin, "second"),
		part("p1", 200, admin, "first"),
		part("p3", 400, user, "third"),
	)

	msgs := Normalize(conv)
	want := []string{"c1-src", "p1", "p2", "p3"}
	if len(msgs) != len(want) {
		t.Fatalf("expected %d messages, got %d", len(want), len(msgs))
	}
	for i, id := range want {
		if msgs[i].ID != id {
			t.Errorf("msgs[%d].ID = %q, want %q", i, msgs[i].ID, id)
		}
	}
	if msgs[0].Body != "help" {
		t.Errorf("expected source body stripped of markup, got %q", msgs[0].Body)
	}
}

func TestNormalize_SourceNotForcedFirst(t *testing.T) {
	conv := conversation("c1", 500, user, "late source",
		part("p1", 100, admin, "early part"),
		part("p2", 900, admin, "late part"),
	)

	msgs := Normalize(conv)
	if msgs[0].ID != "p1" || msgs[1].ID != "c1-src" || msgs[2].ID != "p2" {
		t.Errorf("unexpected order: %s, %s, %s", msgs[0].ID, msgs[1].ID, msgs[2].ID)
	}
}

func TestNormalize_TiesKeepUpstreamOrder(t *testing.T) {
	conv := conversation("c1", 100, user, "source",
		part("p1", 100, admin, "a"),
		part("p2", 100, user, "b"),
		part("p3", 100, admin, "c"),
	)

	msgs := Normalize(conv)
	want := []string{"c1-src", "p1", "p2", "p3"}
	for i, id := range want {
		if msgs[i].ID != id {
			t.Errorf("msgs[%d].ID = %q, want %q", i, msgs[i].ID, id)
		}
	}
}

func TestNormalize_Roles(t *testing.T) {
	conv := conversation("c1", 1, nil, "no author",
		part("p1", 2, admin, "x"),
		part("p2", 3, &intercom.Author{Type: "Teammate"}, "x"),
		part("p3", 4, user, "x"),
		part("p4", 5, lead, "x"),
		part("p5", 6, bot, "x"),
		part("p6", 7, &intercom.Author{}, "x"),
	)

	want := []Role{RoleEndUser, RoleOperator, RoleOperator, RoleEndUser, RoleEndUser, RoleEndUser, RoleEndUser}
	msgs := Normalize(conv)
	for i, role := range want {
		if msgs[i].Role != role {
			t.Errorf("msgs[%d] (%s) role = %s, want %s", i, msgs[i].ID, msgs[i].Role, role)
		}
	}
}

func TestNormalize_MissingIDsAreDeterministic(t *testing.T) {
	conv := conversation("c9", 1, user, "hi", part("", 2, admin, "hello"))
	conv.Source.ID = ""

	msgs := Normalize(conv)
	if msgs[0].ID != "c9-source" {
		t.Errorf("expected synthetic source id, got %q", msgs[0].ID)
	}
	if msgs[1].ID != "c9-part-0" {
		t.Errorf("expected synthetic part id, got %q", msgs[1].ID)
	}
}

func TestNormalize_Nil(t *testing.T) {
	if msgs := Normalize(nil); msgs != nil {
		t.Errorf("expected nil, got %v", msgs)
	}
}
