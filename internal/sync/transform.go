package sync

import (
	"github.com/matheus3301/icsync/internal/intercom"
	"github.com/matheus3301/icsync/internal/store"

	"time"
)

// sourceMessageID names the synthesized message that carries a
// conversation's opening source message. The source has no part id of
// its own, so the replica derives a stable one from the conversation.
func sourceMessageID(conversationID string) string {
	return conversationID + "_source"
}

// conversationRecord flattens a hydrated conversation into its replica
// row. Participant and tag references collapse to id lists; nested
// analytics blobs stay raw JSON.
func conversationRecord(c *intercom.Conversation, now time.Time) *store.ConversationRecord {
	rec := &store.ConversationRecord{
		ConversationID:  c.ID,
		Type:            c.Type,
		ContactIDs:      contactIDs(c.Contacts.Contacts),
		TeammateIDs:     contactIDs(c.Teammates.Teammates),
		AdminAssigneeID: c.AdminAssigneeID,
		TeamAssigneeID:  c.TeamAssigneeID,
		Open:            c.Open,
		State:           c.State,
		Read:            c.Read,
		Priority:        c.Priority,
		SLAApplied:      c.SLAApplied,
		Statistics:      c.Statistics,
		Rating:          c.Rating,
		TagIDs:          tagIDs(c.Tags.Tags),
		CustomAttrs:     c.CustomAttrs,
		CreatedAt:       store.FromEpoch(c.CreatedAt),
		UpdatedAt:       store.FromEpoch(c.UpdatedAt),
		WaitingSince:    store.FromEpoch(c.WaitingSince),
		SnoozedUntil:    store.FromEpoch(c.SnoozedUntil),
		SyncedAt:        now,
	}
	if s := c.Source; s != nil {
		rec.SourceType = s.Type
		rec.SourceID = s.ID
		rec.SourceDeliveredAs = s.DeliveredAs
		rec.SourceSubject = s.Subject
		rec.SourceBody = s.Body
		rec.SourceURL = s.URL
		rec.SourceAttachments = s.Attachments
		if a := s.Author; a != nil {
			rec.SourceAuthorType = a.Type
			rec.SourceAuthorID = a.ID
			rec.SourceAuthorName = a.Name
			rec.SourceAuthorEmail = a.Email
		}
	}
	if fr := c.FirstReply; fr != nil {
		rec.FirstReplyType = fr.Type
		rec.FirstReplyAt = store.FromEpoch(fr.CreatedAt)
	}
	return rec
}

// messageRecords builds the conversation's replica timeline: the
// synthesized source message at index 0, then every part in API order.
// Index assignment is positional, so re-syncing a conversation rewrites
// the same rows.
func messageRecords(c *intercom.Conversation, now time.Time) []store.MessageRecord {
	msgs := make([]store.MessageRecord, 0, len(c.Parts.Parts)+1)
	idx := 0

	if s := c.Source; s != nil {
		m := store.MessageRecord{
			MessageID:      sourceMessageID(c.ID),
			ConversationID: c.ID,
			PartType:       "source",
			Body:           s.Body,
			Attachments:    s.Attachments,
			MessageIndex:   idx,
			CreatedAt:      store.FromEpoch(c.CreatedAt),
			SyncedAt:       now,
		}
		if a := s.Author; a != nil {
			m.AuthorID = a.ID
			m.AuthorType = a.Type
			m.AuthorName = a.Name
			m.AuthorEmail = a.Email
		}
		msgs = append(msgs, m)
		idx++
	}

	for _, p := range c.Parts.Parts {
		m := store.MessageRecord{
			MessageID:      p.ID,
			ConversationID: c.ID,
			PartType:       p.PartType,
			Body:           p.Body,
			Attachments:    p.Attachments,
			ExternalID:     p.ExternalID,
			Redacted:       p.Redacted,
			MessageIndex:   idx,
			CreatedAt:      store.FromEpoch(p.CreatedAt),
			UpdatedAt:      store.FromEpoch(p.UpdatedAt),
			NotifiedAt:     store.FromEpoch(p.NotifiedAt),
			SyncedAt:       now,
		}
		if a := p.Author; a != nil {
			m.AuthorID = a.ID
			m.AuthorType = a.Type
			m.AuthorName = a.Name
			m.AuthorEmail = a.Email
		}
		if at := p.AssignedTo; at != nil {
			m.AssignedToID = at.ID
			m.AssignedToType = at.Type
		}
		msgs = append(msgs, m)
		idx++
	}
	return msgs
}

// tagLinks builds the conversation's tag link set, including who applied
// each tag and when.
func tagLinks(c *intercom.Conversation) []store.TagLinkRecord {
	links := make([]store.TagLinkRecord, 0, len(c.Tags.Tags))
	for _, t := range c.Tags.Tags {
		l := store.TagLinkRecord{
			ConversationID: c.ID,
			TagID:          t.ID,
			AppliedAt:      store.FromEpoch(t.AppliedAt),
		}
		if ab := t.AppliedBy; ab != nil {
			l.AppliedByID = ab.ID
			l.AppliedByType = ab.Type
		}
		links = append(links, l)
	}
	return links
}

// userRecord flattens a contact into its replica row.
func userRecord(ct *intercom.Contact, now time.Time) *store.UserRecord {
	rec := &store.UserRecord{
		UserID:             ct.ID,
		Type:               ct.Type,
		ExternalID:         ct.ExternalID,
		Email:              ct.Email,
		Phone:              ct.Phone,
		Name:               ct.Name,
		Pseudonym:          ct.Pseudonym,
		CustomAttrs:        ct.CustomAttrs,
		SegmentIDs:         refIDs(ct.Segments.Segments),
		TagIDs:             tagIDs(ct.Tags.Tags),
		SocialProfiles:     ct.SocialProfiles,
		UnsubscribedEmails: ct.UnsubscribedEmails,
		MarkedEmailAsSpam:  ct.MarkedEmailAsSpam,
		HasHardBounced:     ct.HasHardBounced,
		Browser:            ct.Browser,
		BrowserVersion:     ct.BrowserVersion,
		BrowserLanguage:    ct.BrowserLanguage,
		OS:                 ct.OS,
		CreatedAt:          store.FromEpoch(ct.CreatedAt),
		UpdatedAt:          store.FromEpoch(ct.UpdatedAt),
		SignedUpAt:         store.FromEpoch(ct.SignedUpAt),
		LastSeenAt:         store.FromEpoch(ct.LastSeenAt),
		LastContactedAt:    store.FromEpoch(ct.LastContactedAt),
		SyncedAt:           now,
	}
	if av := ct.Avatar; av != nil {
		rec.AvatarURL = av.ImageURL
	}
	if loc := ct.Location; loc != nil {
		rec.LocationCountry = loc.Country
		rec.LocationRegion = loc.Region
		rec.LocationCity = loc.City
	}
	return rec
}

// adminRecord flattens a teammate into its replica row.
func adminRecord(a *intercom.Admin, now time.Time) *store.AdminRecord {
	rec := &store.AdminRecord{
		AdminID:          a.ID,
		Type:             a.Type,
		Name:             a.Name,
		Email:            a.Email,
		JobTitle:         a.JobTitle,
		AwayModeEnabled:  a.AwayModeEnabled,
		AwayModeReassign: a.AwayModeReassign,
		HasInboxSeat:     a.HasInboxSeat,
		TeamIDs:          a.TeamIDs,
		SyncedAt:         now,
	}
	if av := a.Avatar; av != nil {
		rec.AvatarURL = av.ImageURL
	}
	return rec
}

// tagRecords builds catalog rows from a workspace tag listing.
func tagRecords(tags []intercom.Tag) []store.TagRecord {
	out := make([]store.TagRecord, 0, len(tags))
	for _, t := range tags {
		out = append(out, store.TagRecord{TagID: t.ID, Name: t.Name})
	}
	return out
}

func contactIDs(refs []intercom.ParticipantRef) []string {
	ids := make([]string, 0, len(refs))
	for _, r := range refs {
		if r.ID != "" {
			ids = append(ids, r.ID)
		}
	}
	return ids
}

func refIDs(refs []intercom.Ref) []string {
	ids := make([]string, 0, len(refs))
	for _, r := range refs {
		if r.ID != "" {
			ids = append(ids, r.ID)
		}
	}
	return ids
}

func tagIDs(tags []intercom.Tag) []string {
	ids := make([]string, 0, len(tags))
	for _, t := range tags {
		if t.ID != "" {
			ids = append(ids, t.ID)
		}
	}
	return ids
}
