package store

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Shared statements, written with ? placeholders. The sqlite backend
// uses them as-is; the postgres backend rebinds to $n. Both engines
// share the INSERT ... ON CONFLICT DO UPDATE upsert form.

const upsertConversationSQL = `
	INSERT INTO conversations (
		conversation_id, type,
		source_type, source_id, source_delivered_as, source_subject, source_body,
		source_author_type, source_author_id, source_author_name, source_author_email,
		source_url, source_attachments,
		contacts, teammates, admin_assignee_id, team_assignee_id,
		open, state, read, priority,
		sla_applied, statistics, conversation_rating, tags, custom_attributes,
		first_contact_reply_type,
		created_at, updated_at, waiting_since, snoozed_until, first_contact_reply_at,
		synced_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(conversation_id) DO UPDATE SET
		type = excluded.type,
		source_type = excluded.source_type,
		source_id = excluded.source_id,
		source_delivered_as = excluded.source_delivered_as,
		source_subject = excluded.source_subject,
		source_body = excluded.source_body,
		source_author_type = excluded.source_author_type,
		source_author_id = excluded.source_author_id,
		source_author_name = excluded.source_author_name,
		source_author_email = excluded.source_author_email,
		source_url = excluded.source_url,
		source_attachments = excluded.source_attachments,
		contacts = excluded.contacts,
		teammates = excluded.teammates,
		admin_assignee_id = excluded.admin_assignee_id,
		team_assignee_id = excluded.team_assignee_id,
		open = excluded.open,
		state = excluded.state,
		read = excluded.read,
		priority = excluded.priority,
		sla_applied = excluded.sla_applied,
		statistics = excluded.statistics,
		conversation_rating = excluded.conversation_rating,
		tags = excluded.tags,
		custom_attributes = excluded.custom_attributes,
		first_contact_reply_type = excluded.first_contact_reply_type,
		created_at = excluded.created_at,
		updated_at = excluded.updated_at,
		waiting_since = excluded.waiting_since,
		snoozed_until = excluded.snoozed_until,
		first_contact_reply_at = excluded.first_contact_reply_at,
		synced_at = excluded.synced_at`

const selectConversationSQL = `
	SELECT conversation_id, type,
		source_type, source_id, source_delivered_as, source_subject, source_body,
		source_author_type, source_author_id, source_author_name, source_author_email,
		source_url, source_attachments,
		contacts, teammates, admin_assignee_id, team_assignee_id,
		open, state, read, priority,
		sla_applied, statistics, conversation_rating, tags, custom_attributes,
		first_contact_reply_type,
		created_at, updated_at, waiting_since, snoozed_until, first_contact_reply_at,
		synced_at
	FROM conversations WHERE conversation_id = ?`

const upsertMessageSQL = `
	INSERT INTO messages (
		message_id, conversation_id, part_type, body,
		author_id, author_type, author_name, author_email,
		attachments, external_id, redacted, message_index,
		assigned_to_id, assigned_to_type,
		created_at, updated_at, notified_at, synced_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(message_id) DO UPDATE SET
		conversation_id = excluded.conversation_id,
		part_type = excluded.part_type,
		body = excluded.body,
		author_id = excluded.author_id,
		author_type = excluded.author_type,
		author_name = excluded.author_name,
		author_email = excluded.author_email,
		attachments = excluded.attachments,
		external_id = excluded.external_id,
		redacted = excluded.redacted,
		message_index = excluded.message_index,
		assigned_to_id = excluded.assigned_to_id,
		assigned_to_type = excluded.assigned_to_type,
		created_at = excluded.created_at,
		updated_at = excluded.updated_at,
		notified_at = excluded.notified_at,
		synced_at = excluded.synced_at`

const selectMessagesSQL = `
	SELECT message_id, conversation_id, part_type, body,
		author_id, author_type, author_name, author_email,
		attachments, external_id, redacted, message_index,
		assigned_to_id, assigned_to_type,
		created_at, updated_at, notified_at, synced_at
	FROM messages WHERE conversation_id = ?
	ORDER BY message_index ASC`

const upsertUserSQL = `
	INSERT INTO users (
		user_id, type, external_id, email, phone, name, avatar_url, pseudonym,
		location_country, location_region, location_city,
		custom_attributes, segments, tags, social_profiles,
		unsubscribed_from_emails, marked_email_as_spam, has_hard_bounced,
		browser, browser_version, browser_language, os,
		created_at, updated_at, signed_up_at, last_seen_at, last_contacted_at,
		synced_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(user_id) DO UPDATE SET
		type = excluded.type,
		external_id = excluded.external_id,
		email = excluded.email,
		phone = excluded.phone,
		name = excluded.name,
		avatar_url = excluded.avatar_url,
		pseudonym = excluded.pseudonym,
		location_country = excluded.location_country,
		location_region = excluded.location_region,
		location_city = excluded.location_city,
		custom_attributes = excluded.custom_attributes,
		segments = excluded.segments,
		tags = excluded.tags,
		social_profiles = excluded.social_profiles,
		unsubscribed_from_emails = excluded.unsubscribed_from_emails,
		marked_email_as_spam = excluded.marked_email_as_spam,
		has_hard_bounced = excluded.has_hard_bounced,
		browser = excluded.browser,
		browser_version = excluded.browser_version,
		browser_language = excluded.browser_language,
		os = excluded.os,
		created_at = excluded.created_at,
		updated_at = excluded.updated_at,
		signed_up_at = excluded.signed_up_at,
		last_seen_at = excluded.last_seen_at,
		last_contacted_at = excluded.last_contacted_at,
		synced_at = excluded.synced_at`

const selectUserSQL = `
	SELECT user_id, type, external_id, email, phone, name, avatar_url, pseudonym,
		location_country, location_region, location_city,
		custom_attributes, segments, tags, social_profiles,
		unsubscribed_from_emails, marked_email_as_spam, has_hard_bounced,
		browser, browser_version, browser_language, os,
		created_at, updated_at, signed_up_at, last_seen_at, last_contacted_at,
		synced_at
	FROM users WHERE user_id = ?`

const upsertAdminSQL = `
	INSERT INTO admins (
		admin_id, type, name, email, job_title,
		away_mode_enabled, away_mode_reassign, has_inbox_seat,
		team_ids, avatar_url, synced_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(admin_id) DO UPDATE SET
		type = excluded.type,
		name = excluded.name,
		email = excluded.email,
		job_title = excluded.job_title,
		away_mode_enabled = excluded.away_mode_enabled,
		away_mode_reassign = excluded.away_mode_reassign,
		has_inbox_seat = excluded.has_inbox_seat,
		team_ids = excluded.team_ids,
		avatar_url = excluded.avatar_url,
		synced_at = excluded.synced_at`

const upsertTagSQL = `
	INSERT INTO tags (tag_id, name) VALUES (?, ?)
	ON CONFLICT(tag_id) DO UPDATE SET name = excluded.name`

const deleteConversationTagsSQL = `DELETE FROM conversation_tags WHERE conversation_id = ?`

const insertConversationTagSQL = `
	INSERT INTO conversation_tags (conversation_id, tag_id, applied_by_id, applied_by_type, applied_at)
	VALUES (?, ?, ?, ?, ?)`

const selectConversationTagsSQL = `
	SELECT conversation_id, tag_id, applied_by_id, applied_by_type, applied_at
	FROM conversation_tags WHERE conversation_id = ?
	ORDER BY tag_id ASC`

const insertRunSQL = `
	INSERT INTO sync_runs (
		run_id, sync_type, status, metadata,
		conversations_synced, messages_synced, users_synced, admins_synced, tags_synced,
		errors, started_at, completed_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

const completeRunSQL = `
	UPDATE sync_runs SET
		status = ?,
		conversations_synced = ?,
		messages_synced = ?,
		users_synced = ?,
		admins_synced = ?,
		tags_synced = ?,
		errors = ?,
		completed_at = ?
	WHERE run_id = ?`

const lastCompletedAtSQL = `
	SELECT completed_at FROM sync_runs
	WHERE status = 'completed' AND completed_at IS NOT NULL
	ORDER BY completed_at DESC LIMIT 1`

const recentRunsSQL = `
	SELECT run_id, sync_type, status, metadata,
		conversations_synced, messages_synced, users_synced, admins_synced, tags_synced,
		errors, started_at, completed_at
	FROM sync_runs ORDER BY started_at DESC LIMIT ?`

const failStaleRunsSQL = `
	UPDATE sync_runs SET status = 'failed', completed_at = ?
	WHERE status = 'running' AND started_at < ?`

const insertWebhookEventSQL = `
	INSERT INTO webhook_events (event_type, topic, payload, processed, error, received_at)
	VALUES (?, ?, ?, ?, ?, ?)`

const markWebhookProcessedSQL = `
	UPDATE webhook_events SET processed = ?, processed_at = ?, error = ?
	WHERE event_id = ?`

const recentWebhookEventsSQL = `
	SELECT event_id, event_type, topic, payload, processed, processed_at, error, received_at
	FROM webhook_events ORDER BY event_id DESC LIMIT ?`

// rebind converts ? placeholders to postgres-style $1..$n.
func rebind(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// jsonList marshals a string slice to a JSON array; nil becomes "[]".
func jsonList(vals []string) string {
	if vals == nil {
		vals = []string{}
	}
	data, _ := json.Marshal(vals)
	return string(data)
}

// jsonInt64List marshals an int64 slice to a JSON array.
func jsonInt64List(vals []int64) string {
	if vals == nil {
		vals = []int64{}
	}
	data, _ := json.Marshal(vals)
	return string(data)
}

// jsonOrNil passes a raw JSON blob through, mapping empty to NULL.
func jsonOrNil(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

// scanList unmarshals a JSON array column into a string slice.
func scanList(data []byte) []string {
	if len(data) == 0 {
		return nil
	}
	var out []string
	_ = json.Unmarshal(data, &out)
	return out
}

// conversationArgs builds the VALUES args for upsertConversationSQL.
func conversationArgs(c *ConversationRecord) []any {
	return []any{
		c.ConversationID, c.Type,
		c.SourceType, c.SourceID, c.SourceDeliveredAs, c.SourceSubject, c.SourceBody,
		c.SourceAuthorType, c.SourceAuthorID, c.SourceAuthorName, c.SourceAuthorEmail,
		c.SourceURL, jsonOrNil(c.SourceAttachments),
		jsonList(c.ContactIDs), jsonList(c.TeammateIDs), c.AdminAssigneeID, c.TeamAssigneeID,
		c.Open, c.State, c.Read, c.Priority,
		jsonOrNil(c.SLAApplied), jsonOrNil(c.Statistics), jsonOrNil(c.Rating),
		jsonList(c.TagIDs), jsonOrNil(c.CustomAttrs),
		c.FirstReplyType,
		c.CreatedAt, c.UpdatedAt, c.WaitingSince, c.SnoozedUntil, c.FirstReplyAt,
		c.SyncedAt,
	}
}

// messageArgs builds the VALUES args for upsertMessageSQL.
func messageArgs(m *MessageRecord) []any {
	return []any{
		m.MessageID, m.ConversationID, m.PartType, m.Body,
		m.AuthorID, m.AuthorType, m.AuthorName, m.AuthorEmail,
		jsonOrNil(m.Attachments), m.ExternalID, m.Redacted, m.MessageIndex,
		m.AssignedToID, m.AssignedToType,
		m.CreatedAt, m.UpdatedAt, m.NotifiedAt, m.SyncedAt,
	}
}

// userArgs builds the VALUES args for upsertUserSQL.
func userArgs(u *UserRecord) []any {
	return []any{
		u.UserID, u.Type, u.ExternalID, u.Email, u.Phone, u.Name, u.AvatarURL, u.Pseudonym,
		u.LocationCountry, u.LocationRegion, u.LocationCity,
		jsonOrNil(u.CustomAttrs), jsonList(u.SegmentIDs), jsonList(u.TagIDs), jsonOrNil(u.SocialProfiles),
		u.UnsubscribedEmails, u.MarkedEmailAsSpam, u.HasHardBounced,
		u.Browser, u.BrowserVersion, u.BrowserLanguage, u.OS,
		u.CreatedAt, u.UpdatedAt, u.SignedUpAt, u.LastSeenAt, u.LastContactedAt,
		u.SyncedAt,
	}
}

// adminArgs builds the VALUES args for upsertAdminSQL.
func adminArgs(a *AdminRecord) []any {
	return []any{
		a.AdminID, a.Type, a.Name, a.Email, a.JobTitle,
		a.AwayModeEnabled, a.AwayModeReassign, a.HasInboxSeat,
		jsonInt64List(a.TeamIDs), a.AvatarURL, a.SyncedAt,
	}
}

// runArgs builds the VALUES args for insertRunSQL.
func runArgs(r *SyncRun) []any {
	return []any{
		r.RunID, r.Mode, r.Status, jsonOrNil(r.Metadata),
		r.ConversationsSynced, r.MessagesSynced, r.UsersSynced, r.AdminsSynced, r.TagsSynced,
		jsonList(r.Errors), r.StartedAt, r.CompletedAt,
	}
}

// scanner abstracts *sql.Row / *sql.Rows and pgx rows for shared scans.
type scanner interface {
	Scan(dest ...any) error
}

// scanConversation reads a selectConversationSQL row.
func scanConversation(s scanner) (*ConversationRecord, error) {
	var c ConversationRecord
	var attachments, contacts, teammates, sla, stats, rating, tags, custom []byte
	err := s.Scan(
		&c.ConversationID, &c.Type,
		&c.SourceType, &c.SourceID, &c.SourceDeliveredAs, &c.SourceSubject, &c.SourceBody,
		&c.SourceAuthorType, &c.SourceAuthorID, &c.SourceAuthorName, &c.SourceAuthorEmail,
		&c.SourceURL, &attachments,
		&contacts, &teammates, &c.AdminAssigneeID, &c.TeamAssigneeID,
		&c.Open, &c.State, &c.Read, &c.Priority,
		&sla, &stats, &rating, &tags, &custom,
		&c.FirstReplyType,
		&c.CreatedAt, &c.UpdatedAt, &c.WaitingSince, &c.SnoozedUntil, &c.FirstReplyAt,
		&c.SyncedAt,
	)
	if err != nil {
		return nil, err
	}
	c.SourceAttachments = attachments
	c.ContactIDs = scanList(contacts)
	c.TeammateIDs = scanList(teammates)
	c.SLAApplied = sla
	c.Statistics = stats
	c.Rating = rating
	c.TagIDs = scanList(tags)
	c.CustomAttrs = custom
	return &c, nil
}

// scanMessage reads a selectMessagesSQL row.
func scanMessage(s scanner) (*MessageRecord, error) {
	var m MessageRecord
	var attachments []byte
	err := s.Scan(
		&m.MessageID, &m.ConversationID, &m.PartType, &m.Body,
		&m.AuthorID, &m.AuthorType, &m.AuthorName, &m.AuthorEmail,
		&attachments, &m.ExternalID, &m.Redacted, &m.MessageIndex,
		&m.AssignedToID, &m.AssignedToType,
		&m.CreatedAt, &m.UpdatedAt, &m.NotifiedAt, &m.SyncedAt,
	)
	if err != nil {
		return nil, err
	}
	m.Attachments = attachments
	return &m, nil
}

// scanUser reads a selectUserSQL row.
func scanUser(s scanner) (*UserRecord, error) {
	var u UserRecord
	var custom, segments, tags, social []byte
	err := s.Scan(
		&u.UserID, &u.Type, &u.ExternalID, &u.Email, &u.Phone, &u.Name, &u.AvatarURL, &u.Pseudonym,
		&u.LocationCountry, &u.LocationRegion, &u.LocationCity,
		&custom, &segments, &tags, &social,
		&u.UnsubscribedEmails, &u.MarkedEmailAsSpam, &u.HasHardBounced,
		&u.Browser, &u.BrowserVersion, &u.BrowserLanguage, &u.OS,
		&u.CreatedAt, &u.UpdatedAt, &u.SignedUpAt, &u.LastSeenAt, &u.LastContactedAt,
		&u.SyncedAt,
	)
	if err != nil {
		return nil, err
	}
	u.CustomAttrs = custom
	u.SegmentIDs = scanList(segments)
	u.TagIDs = scanList(tags)
	u.SocialProfiles = social
	return &u, nil
}

// scanRun reads a recentRunsSQL row.
func scanRun(s scanner) (*SyncRun, error) {
	var r SyncRun
	var metadata, errs []byte
	err := s.Scan(
		&r.RunID, &r.Mode, &r.Status, &metadata,
		&r.ConversationsSynced, &r.MessagesSynced, &r.UsersSynced, &r.AdminsSynced, &r.TagsSynced,
		&errs, &r.StartedAt, &r.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	r.Metadata = metadata
	r.Errors = scanList(errs)
	return &r, nil
}

// scanWebhookEvent reads a recentWebhookEventsSQL row.
func scanWebhookEvent(s scanner) (*WebhookEvent, error) {
	var ev WebhookEvent
	var payload []byte
	err := s.Scan(&ev.ID, &ev.EventType, &ev.Topic, &payload,
		&ev.Processed, &ev.ProcessedAt, &ev.Error, &ev.ReceivedAt)
	if err != nil {
		return nil, err
	}
	ev.Payload = payload
	return &ev, nil
}

// scanTagLink reads a selectConversationTagsSQL row.
func scanTagLink(s scanner) (*TagLinkRecord, error) {
	var l TagLinkRecord
	if err := s.Scan(&l.ConversationID, &l.TagID, &l.AppliedByID, &l.AppliedByType, &l.AppliedAt); err != nil {
		return nil, err
	}
	return &l, nil
}
