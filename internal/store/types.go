package store

import "time"

// ConversationRecord is the normalized replica row for a conversation.
// Nested blobs (statistics, rating, sla, custom attributes) are kept as
// raw JSON; participant and tag id lists are stored as JSON arrays.
type ConversationRecord struct {
	ConversationID    string
	Type              string
	SourceType        string
	SourceID          string
	SourceDeliveredAs string
	SourceSubject     string
	SourceBody        string
	SourceAuthorType  string
	SourceAuthorID    string
	SourceAuthorName  string
	SourceAuthorEmail string
	SourceURL         string
	SourceAttachments []byte
	ContactIDs        []string
	TeammateIDs       []string
	AdminAssigneeID   *int64
	TeamAssigneeID    *int64
	Open              bool
	State             string
	Read              bool
	Priority          string
	SLAApplied        []byte
	Statistics        []byte
	Rating            []byte
	TagIDs            []string
	CustomAttrs       []byte
	FirstReplyType    string
	CreatedAt         *time.Time
	UpdatedAt         *time.Time
	WaitingSince      *time.Time
	SnoozedUntil      *time.Time
	FirstReplyAt      *time.Time
	SyncedAt          time.Time
}

// MessageRecord is one conversation part, or the synthesized source
// message at index 0. MessageIndex is assigned by the sync engine, not
// the source.
type MessageRecord struct {
	MessageID      string
	ConversationID string
	PartType       string
	Body           string
	AuthorID       string
	AuthorType     string
	AuthorName     string
	AuthorEmail    string
	Attachments    []byte
	ExternalID     string
	Redacted       bool
	MessageIndex   int
	AssignedToID   string
	AssignedToType string
	CreatedAt      *time.Time
	UpdatedAt      *time.Time
	NotifiedAt     *time.Time
	SyncedAt       time.Time
}

// UserRecord is a replica contact row.
type UserRecord struct {
	UserID             string
	Type               string
	ExternalID         string
	Email              string
	Phone              string
	Name               string
	AvatarURL          string
	Pseudonym          string
	LocationCountry    string
	LocationRegion     string
	LocationCity       string
	CustomAttrs        []byte
	SegmentIDs         []string
	TagIDs             []string
	SocialProfiles     []byte
	UnsubscribedEmails bool
	MarkedEmailAsSpam  bool
	HasHardBounced     bool
	Browser            string
	BrowserVersion     string
	BrowserLanguage    string
	OS                 string
	CreatedAt          *time.Time
	UpdatedAt          *time.Time
	SignedUpAt         *time.Time
	LastSeenAt         *time.Time
	LastContactedAt    *time.Time
	SyncedAt           time.Time
}

// AdminRecord is a replica teammate/agent row.
type AdminRecord struct {
	AdminID          string
	Type             string
	Name             string
	Email            string
	JobTitle         string
	AwayModeEnabled  bool
	AwayModeReassign bool
	HasInboxSeat     bool
	TeamIDs          []int64
	AvatarURL        string
	SyncedAt         time.Time
}

// TagRecord is a globally-scoped tag row.
type TagRecord struct {
	TagID string
	Name  string
}

// TagLinkRecord ties a tag to a conversation with application metadata.
// Link sets are replaced wholesale per conversation on each sync.
type TagLinkRecord struct {
	ConversationID string
	TagID          string
	AppliedByID    string
	AppliedByType  string
	AppliedAt      *time.Time
}

// Run status values. A run transitions running -> completed | partial |
// failed exactly once.
const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusPartial   = "partial"
	RunStatusFailed    = "failed"
)

// SyncRun is one audit-log row. Created at run start, updated once at
// completion; never mutated while running.
type SyncRun struct {
	RunID               string
	Mode                string // full, incremental, webhook, manual
	Status              string
	Metadata            []byte
	ConversationsSynced int
	MessagesSynced      int
	UsersSynced         int
	AdminsSynced        int
	TagsSynced          int
	Errors              []string
	StartedAt           time.Time
	CompletedAt         *time.Time
}

// WebhookEvent is one received webhook payload, kept for audit.
type WebhookEvent struct {
	ID          int64
	EventType   string
	Topic       string
	Payload     []byte
	Processed   bool
	ProcessedAt *time.Time
	Error       string
	ReceivedAt  time.Time
}

// Counts summarizes replica table sizes for status reporting.
type Counts struct {
	Conversations int64
	Messages      int64
	Users         int64
	Admins        int64
	Tags          int64
}

// FromEpoch converts epoch seconds from the source into an explicit UTC
// instant. Zero maps to nil so absent timestamps stay NULL.
func FromEpoch(secs int64) *time.Time {
	if secs == 0 {
		return nil
	}
	t := time.Unix(secs, 0).UTC()
	return &t
}
