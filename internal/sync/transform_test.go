package sync

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/matheus3301/icsync/internal/intercom"
)

const fixtureConversation = `{
	"type": "conversation",
	"id": "c1",
	"created_at": 1700000000,
	"updated_at": 1700000500,
	"state": "open",
	"open": true,
	"admin_assignee_id": 800,
	"source": {
		"type": "conversation",
		"id": "s1",
		"delivered_as": "customer_initiated",
		"subject": "",
		"body": "<p>my widget broke</p>",
		"author": {"type": "user", "id": "u1", "name": "Ada", "email": "ada@example.com"}
	},
	"contacts": {"contacts": ["u1", {"type": "contact", "id": "u2"}]},
	"teammates": {"teammates": [{"type": "admin", "id": "800"}]},
	"tags": {"tags": [{"id": "t1", "name": "vip", "applied_at": 1700000100, "applied_by": {"type": "admin", "id": "800"}}]},
	"first_contact_reply": {"created_at": 1700000200, "type": "conversation"},
	"conversation_parts": {
		"conversation_parts": [
			{"type": "conversation_part", "id": "p1", "part_type": "comment", "body": "<p>on it</p>",
			 "created_at": 1700000300, "author": {"type": "admin", "id": "800", "name": "Agent"},
			 "assigned_to": {"type": "admin", "id": "800"}},
			{"type": "conversation_part", "id": "p2", "part_type": "close", "body": "",
			 "created_at": 1700000400, "author": {"type": "admin", "id": "800"}}
		],
		"total_count": 2
	}
}`

func fixtureConv(t *testing.T) *intercom.Conversation {
	t.Helper()
	var c intercom.Conversation
	if err := json.Unmarshal([]byte(fixtureConversation), &c); err != nil {
		t.Fatal(err)
	}
	return &c
}

func TestConversationRecordFlattens(t *testing.T) {
	c := fixtureConv(t)
	now := time.Now().UTC()

	rec := conversationRecord(c, now)
	if rec.ConversationID != "c1" {
		t.Errorf("id = %q", rec.ConversationID)
	}
	if rec.SourceBody != "<p>my widget broke</p>" || rec.SourceAuthorID != "u1" {
		t.Errorf("source = %q by %q", rec.SourceBody, rec.SourceAuthorID)
	}
	if len(rec.ContactIDs) != 2 || rec.ContactIDs[0] != "u1" || rec.ContactIDs[1] != "u2" {
		t.Errorf("contacts = %v", rec.ContactIDs)
	}
	if len(rec.TeammateIDs) != 1 || rec.TeammateIDs[0] != "800" {
		t.Errorf("teammates = %v", rec.TeammateIDs)
	}
	if rec.AdminAssigneeID == nil || *rec.AdminAssigneeID != 800 {
		t.Errorf("admin assignee = %v", rec.AdminAssigneeID)
	}
	if len(rec.TagIDs) != 1 || rec.TagIDs[0] != "t1" {
		t.Errorf("tags = %v", rec.TagIDs)
	}
	if rec.CreatedAt == nil || rec.CreatedAt.Unix() != 1700000000 {
		t.Errorf("created_at = %v", rec.CreatedAt)
	}
	if rec.FirstReplyAt == nil || rec.FirstReplyAt.Unix() != 1700000200 {
		t.Errorf("first reply = %v", rec.FirstReplyAt)
	}
	if rec.WaitingSince != nil {
		t.Errorf("absent waiting_since should stay nil, got %v", rec.WaitingSince)
	}
}

func TestMessageRecordsSynthesizeSource(t *testing.T) {
	c := fixtureConv(t)
	now := time.Now().UTC()

	msgs := messageRecords(c, now)
	if len(msgs) != 3 {
		t.Fatalf("got %d messages, want 3 (source + 2 parts)", len(msgs))
	}

	src := msgs[0]
	if src.MessageID != "c1_source" || src.MessageIndex != 0 {
		t.Errorf("source message = %q index %d", src.MessageID, src.MessageIndex)
	}
	if src.PartType != "source" || src.Body != "<p>my widget broke</p>" {
		t.Errorf("source part_type = %q body = %q", src.PartType, src.Body)
	}
	if src.AuthorID != "u1" {
		t.Errorf("source author = %q", src.AuthorID)
	}
	if src.CreatedAt == nil || src.CreatedAt.Unix() != 1700000000 {
		t.Errorf("source created_at = %v", src.CreatedAt)
	}

	if msgs[1].MessageID != "p1" || msgs[1].MessageIndex != 1 {
		t.Errorf("msgs[1] = %q index %d", msgs[1].MessageID, msgs[1].MessageIndex)
	}
	if msgs[1].AssignedToID != "800" {
		t.Errorf("assigned_to = %q", msgs[1].AssignedToID)
	}
	if msgs[2].MessageID != "p2" || msgs[2].MessageIndex != 2 {
		t.Errorf("msgs[2] = %q index %d", msgs[2].MessageID, msgs[2].MessageIndex)
	}
}

func TestMessageRecordsWithoutSource(t *testing.T) {
	c := fixtureConv(t)
	c.Source = nil

	msgs := messageRecords(c, time.Now().UTC())
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	if msgs[0].MessageID != "p1" || msgs[0].MessageIndex != 0 {
		t.Errorf("first part should take index 0, got %q index %d", msgs[0].MessageID, msgs[0].MessageIndex)
	}
}

func TestTagLinksCarryApplicationMetadata(t *testing.T) {
	c := fixtureConv(t)

	links := tagLinks(c)
	if len(links) != 1 {
		t.Fatalf("got %d links, want 1", len(links))
	}
	l := links[0]
	if l.ConversationID != "c1" || l.TagID != "t1" {
		t.Errorf("link = %+v", l)
	}
	if l.AppliedByID != "800" || l.AppliedByType != "admin" {
		t.Errorf("applied_by = %s/%s", l.AppliedByType, l.AppliedByID)
	}
	if l.AppliedAt == nil || l.AppliedAt.Unix() != 1700000100 {
		t.Errorf("applied_at = %v", l.AppliedAt)
	}
}

func TestUserRecordFlattens(t *testing.T) {
	payload := `{
		"type": "contact", "id": "u1", "email": "ada@example.com", "name": "Ada",
		"avatar": {"image_url": "https://img/a.png"},
		"location": {"country": "BR", "city": "Recife"},
		"segments": {"segments": [{"type": "segment", "id": "seg1"}]},
		"tags": {"tags": [{"id": "t1"}]},
		"created_at": 1600000000
	}`
	var ct intercom.Contact
	if err := json.Unmarshal([]byte(payload), &ct); err != nil {
		t.Fatal(err)
	}

	rec := userRecord(&ct, time.Now().UTC())
	if rec.UserID != "u1" || rec.Email != "ada@example.com" {
		t.Errorf("user = %+v", rec)
	}
	if rec.AvatarURL != "https://img/a.png" {
		t.Errorf("avatar = %q", rec.AvatarURL)
	}
	if rec.LocationCountry != "BR" || rec.LocationCity != "Recife" {
		t.Errorf("location = %s/%s", rec.LocationCountry, rec.LocationCity)
	}
	if len(rec.SegmentIDs) != 1 || rec.SegmentIDs[0] != "seg1" {
		t.Errorf("segments = %v", rec.SegmentIDs)
	}
	if rec.SignedUpAt != nil {
		t.Errorf("absent signed_up_at should stay nil, got %v", rec.SignedUpAt)
	}
}
