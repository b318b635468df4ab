package intercom

import (
	"bytes"
	"encoding/json"
)

// Conversation is the wire shape of an Intercom conversation. Hydrated
// conversations additionally carry the conversation_parts collection.
type Conversation struct {
	Type            string          `json:"type"`
	ID              string          `json:"id"`
	Title           string          `json:"title,omitempty"`
	CreatedAt       int64           `json:"created_at"`
	UpdatedAt       int64           `json:"updated_at"`
	WaitingSince    int64           `json:"waiting_since,omitempty"`
	SnoozedUntil    int64           `json:"snoozed_until,omitempty"`
	Source          *Source         `json:"source,omitempty"`
	Contacts        ContactList     `json:"contacts"`
	Teammates       TeammateList    `json:"teammates"`
	AdminAssigneeID *int64          `json:"admin_assignee_id"`
	TeamAssigneeID  *int64          `json:"team_assignee_id"`
	Open            bool            `json:"open"`
	State           string          `json:"state"`
	Read            bool            `json:"read"`
	Priority        string          `json:"priority,omitempty"`
	Tags            TagList         `json:"tags"`
	SLAApplied      json.RawMessage `json:"sla_applied,omitempty"`
	Statistics      json.RawMessage `json:"statistics,omitempty"`
	Rating          json.RawMessage `json:"conversation_rating,omitempty"`
	CustomAttrs     json.RawMessage `json:"custom_attributes,omitempty"`
	Topics          json.RawMessage `json:"topics,omitempty"`
	LinkedObjects   json.RawMessage `json:"linked_objects,omitempty"`
	Ticket          *Ref            `json:"ticket,omitempty"`
	FirstReply      *FirstReply     `json:"first_contact_reply,omitempty"`
	AIParticipated  bool            `json:"ai_agent_participated,omitempty"`
	AIAgent         json.RawMessage `json:"ai_agent,omitempty"`
	Parts           PartList        `json:"conversation_parts"`
}

// Source is the opening message of a conversation. It has no part id of
// its own; the sync engine synthesizes one.
type Source struct {
	Type        string          `json:"type"`
	ID          string          `json:"id"`
	DeliveredAs string          `json:"delivered_as,omitempty"`
	Subject     string          `json:"subject,omitempty"`
	Body        string          `json:"body,omitempty"`
	Author      *Author         `json:"author,omitempty"`
	URL         string          `json:"url,omitempty"`
	Attachments json.RawMessage `json:"attachments,omitempty"`
}

// Author identifies the writer of a source message or conversation part.
type Author struct {
	Type  string `json:"type,omitempty"`
	ID    string `json:"id,omitempty"`
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
}

// Ref is a minimal typed object reference.
type Ref struct {
	Type string `json:"type,omitempty"`
	ID   string `json:"id,omitempty"`
}

// FirstReply carries first-contact-reply metadata.
type FirstReply struct {
	CreatedAt int64  `json:"created_at,omitempty"`
	Type      string `json:"type,omitempty"`
}

// Part is a single conversation part (reply, note, assignment, ...).
type Part struct {
	Type        string          `json:"type"`
	ID          string          `json:"id"`
	PartType    string          `json:"part_type"`
	Body        string          `json:"body,omitempty"`
	CreatedAt   int64           `json:"created_at,omitempty"`
	UpdatedAt   int64           `json:"updated_at,omitempty"`
	NotifiedAt  int64           `json:"notified_at,omitempty"`
	Author      *Author         `json:"author,omitempty"`
	AssignedTo  *Ref            `json:"assigned_to,omitempty"`
	Attachments json.RawMessage `json:"attachments,omitempty"`
	ExternalID  string          `json:"external_id,omitempty"`
	Redacted    bool            `json:"redacted,omitempty"`
}

// PartList is the nested conversation_parts wrapper. TotalCount reflects
// the true number of parts at the source, which may exceed what the API
// returns (capped at PartCap).
type PartList struct {
	Parts      []Part `json:"conversation_parts"`
	TotalCount int    `json:"total_count"`
}

// ParticipantRef is a contact reference that arrives either as a bare id
// string or as an object with an "id" field. Both forms resolve to the
// same identity.
type ParticipantRef struct {
	Type string `json:"type,omitempty"`
	ID   string `json:"id"`
}

// UnmarshalJSON accepts both `"usr_1"` and `{"id":"usr_1"}`.
func (p *ParticipantRef) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		return json.Unmarshal(data, &p.ID)
	}
	type alias ParticipantRef
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*p = ParticipantRef(a)
	return nil
}

// ContactList is the nested contacts wrapper.
type ContactList struct {
	Contacts []ParticipantRef `json:"contacts"`
}

// TeammateList is the nested teammates wrapper.
type TeammateList struct {
	Teammates []ParticipantRef `json:"teammates"`
}

// TagList is the nested tags wrapper.
type TagList struct {
	Tags []Tag `json:"tags"`
}

// Tag is a workspace tag. When nested under a conversation it also
// carries applied_at/applied_by metadata for the tag link.
type Tag struct {
	Type      string `json:"type,omitempty"`
	ID        string `json:"id"`
	Name      string `json:"name,omitempty"`
	AppliedAt int64  `json:"applied_at,omitempty"`
	AppliedBy *Ref   `json:"applied_by,omitempty"`
}

// Admin is a teammate/agent.
type Admin struct {
	Type             string  `json:"type,omitempty"`
	ID               string  `json:"id"`
	Name             string  `json:"name,omitempty"`
	Email            string  `json:"email,omitempty"`
	JobTitle         string  `json:"job_title,omitempty"`
	AwayModeEnabled  bool    `json:"away_mode_enabled,omitempty"`
	AwayModeReassign bool    `json:"away_mode_reassign,omitempty"`
	HasInboxSeat     bool    `json:"has_inbox_seat,omitempty"`
	TeamIDs          []int64 `json:"team_ids,omitempty"`
	Avatar           *Avatar `json:"avatar,omitempty"`
}

// Avatar wraps the avatar image URL.
type Avatar struct {
	Type     string `json:"type,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
}

// Contact is a user/lead at the source.
type Contact struct {
	Type               string          `json:"type,omitempty"`
	ID                 string          `json:"id"`
	ExternalID         string          `json:"external_id,omitempty"`
	Email              string          `json:"email,omitempty"`
	Phone              string          `json:"phone,omitempty"`
	Name               string          `json:"name,omitempty"`
	Avatar             *Avatar         `json:"avatar,omitempty"`
	Pseudonym          string          `json:"pseudonym,omitempty"`
	Location           *Location       `json:"location,omitempty"`
	UserAgentData      string          `json:"user_agent_data,omitempty"`
	CustomAttrs        json.RawMessage `json:"custom_attributes,omitempty"`
	Segments           SegmentList     `json:"segments"`
	Tags               TagList         `json:"tags"`
	Companies          CompanyList     `json:"companies"`
	SocialProfiles     json.RawMessage `json:"social_profiles,omitempty"`
	UnsubscribedEmails bool            `json:"unsubscribed_from_emails,omitempty"`
	MarkedEmailAsSpam  bool            `json:"marked_email_as_spam,omitempty"`
	HasHardBounced     bool            `json:"has_hard_bounced,omitempty"`
	Browser            string          `json:"browser,omitempty"`
	BrowserVersion     string          `json:"browser_version,omitempty"`
	BrowserLanguage    string          `json:"browser_language,omitempty"`
	OS                 string          `json:"os,omitempty"`
	CreatedAt          int64           `json:"created_at,omitempty"`
	UpdatedAt          int64           `json:"updated_at,omitempty"`
	SignedUpAt         int64           `json:"signed_up_at,omitempty"`
	LastSeenAt         int64           `json:"last_seen_at,omitempty"`
	LastContactedAt    int64           `json:"last_contacted_at,omitempty"`
	LastEmailOpenedAt  int64           `json:"last_email_opened_at,omitempty"`
	LastEmailClickedAt int64           `json:"last_email_clicked_at,omitempty"`
}

// Location is a contact's resolved location.
type Location struct {
	Country string `json:"country,omitempty"`
	Region  string `json:"region,omitempty"`
	City    string `json:"city,omitempty"`
}

// SegmentList is the nested segments wrapper.
type SegmentList struct {
	Segments []Ref `json:"segments"`
}

// CompanyList is the nested companies wrapper.
type CompanyList struct {
	Companies []json.RawMessage `json:"companies"`
}

// Pages is the cursor pagination metadata on list/search responses.
type Pages struct {
	Type       string  `json:"type,omitempty"`
	Page       int     `json:"page,omitempty"`
	PerPage    int     `json:"per_page,omitempty"`
	TotalPages int     `json:"total_pages,omitempty"`
	Next       *Cursor `json:"next,omitempty"`
}

// Cursor is the opaque resume token inside Pages.Next.
type Cursor struct {
	Page          int    `json:"page,omitempty"`
	StartingAfter string `json:"starting_after,omitempty"`
}

// conversationList is the list/search response envelope.
type conversationList struct {
	Type          string         `json:"type"`
	Conversations []Conversation `json:"conversations"`
	TotalCount    int            `json:"total_count,omitempty"`
	Pages         *Pages         `json:"pages,omitempty"`
}

// adminList is the /admins response envelope.
type adminList struct {
	Type   string  `json:"type"`
	Admins []Admin `json:"admins"`
}

// tagList is the /tags response envelope.
type tagList struct {
	Type string `json:"type"`
	Data []Tag  `json:"data"`
}

// SearchCondition is one field/operator/value clause of a structured
// search query.
type SearchCondition struct {
	Field    string `json:"field"`
	Operator string `json:"operator"`
	Value    any    `json:"value"`
}

// SearchQuery is either a single condition or an AND of several. Marshal
// collapses a one-element query to the bare condition, matching what the
// search endpoint expects.
type SearchQuery struct {
	Conditions []SearchCondition
}

// MarshalJSON implements the collapse-to-single-condition rule.
func (q SearchQuery) MarshalJSON() ([]byte, error) {
	if len(q.Conditions) == 1 {
		return json.Marshal(q.Conditions[0])
	}
	return json.Marshal(struct {
		Operator string            `json:"operator"`
		Value    []SearchCondition `json:"value"`
	}{Operator: "AND", Value: q.Conditions})
}

// searchRequest is the POST /conversations/search body.
type searchRequest struct {
	Query      SearchQuery       `json:"query"`
	Pagination *searchPagination `json:"pagination,omitempty"`
}

type searchPagination struct {
	PerPage       int    `json:"per_page"`
	StartingAfter string `json:"starting_after,omitempty"`
}
