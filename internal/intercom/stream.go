package intercom

import (
	"context"
	"time"
)

// pageFunc fetches one page: given a cursor it returns the entities, the
// next cursor ("" when exhausted) and an error.
type pageFunc func(ctx context.Context, cursor string) ([]Conversation, string, error)

// ConversationStream pulls conversations page by page behind a
// sql.Rows-style interface. A stream always starts from a fresh cursor;
// it is not resumable after a crash, so re-create and re-run instead. The
// consumer owns batching.
type ConversationStream struct {
	fetch   pageFunc
	buf     []Conversation
	cursor  string
	started bool
	done    bool
	cur     *Conversation
	err     error
}

// Next advances to the next conversation. It returns false when the
// stream is exhausted or a fetch failed; check Err afterwards.
func (s *ConversationStream) Next(ctx context.Context) bool {
	if s.err != nil || s.done && len(s.buf) == 0 {
		return false
	}
	for len(s.buf) == 0 {
		if s.started && s.cursor == "" {
			s.done = true
			return false
		}
		page, next, err := s.fetch(ctx, s.cursor)
		if err != nil {
			s.err = err
			return false
		}
		s.started = true
		s.cursor = next
		if len(page) == 0 {
			s.done = true
			return false
		}
		s.buf = page
	}
	s.cur = &s.buf[0]
	s.buf = s.buf[1:]
	return true
}

// Conversation returns the element the last successful Next advanced to.
func (s *ConversationStream) Conversation() *Conversation {
	return s.cur
}

// Err returns the first error encountered by the stream.
func (s *ConversationStream) Err() error {
	return s.err
}

// Conversations enumerates all conversation summaries via the list
// endpoint.
func (c *Client) Conversations(perPage int) *ConversationStream {
	return &ConversationStream{
		fetch: func(ctx context.Context, cursor string) ([]Conversation, string, error) {
			return c.ListConversations(ctx, cursor, perPage)
		},
	}
}

// SearchStream enumerates all conversations matching a structured query.
func (c *Client) SearchStream(query SearchQuery, perPage int) *ConversationStream {
	return &ConversationStream{
		fetch: func(ctx context.Context, cursor string) ([]Conversation, string, error) {
			return c.SearchConversations(ctx, query, cursor, perPage)
		},
	}
}

// UpdatedSince enumerates summaries of conversations whose updated_at is
// after the given instant. Used by incremental sync.
func (c *Client) UpdatedSince(since time.Time, perPage int) *ConversationStream {
	query := SearchQuery{Conditions: []SearchCondition{
		{Field: "updated_at", Operator: ">", Value: since.Unix()},
	}}
	return c.SearchStream(query, perPage)
}

// ExportConversations enumerates conversation summaries for a bulk
// export, using the search endpoint when date bounds are present and
// the plain list otherwise. Bounds apply to created_at. Summaries lack
// parts; callers hydrate each element with GetConversation so a single
// failed hydration does not poison the stream.
func (c *Client) ExportConversations(start, end *time.Time, perPage int) *ConversationStream {
	var conds []SearchCondition
	if start != nil {
		conds = append(conds, SearchCondition{Field: "created_at", Operator: ">", Value: start.Unix()})
	}
	if end != nil {
		conds = append(conds, SearchCondition{Field: "created_at", Operator: "<", Value: end.Unix()})
	}
	if len(conds) > 0 {
		return c.SearchStream(SearchQuery{Conditions: conds}, perPage)
	}
	return c.Conversations(perPage)
}
