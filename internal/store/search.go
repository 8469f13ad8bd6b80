package store

import (
	"context"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/search/query"

	ierrors "github.com/Aman-CERP/indexsync/internal/errors"
)

// DocCount returns the number of committed documents.
func (s *Session) DocCount() (uint64, error) {
	return s.idx.DocCount()
}

// Count returns the number of committed documents satisfying every term.
func (s *Session) Count(ctx context.Context, terms ...Term) (uint64, error) {
	req := bleve.NewSearchRequestOptions(termsQuery(terms), 0, 0, false)
	res, err := s.idx.SearchInContext(ctx, req)
	if err != nil {
		return 0, ierrors.New(ierrors.ErrCodeSearchFailed, "count failed on index "+s.name, err)
	}
	return res.Total, nil
}

// SearchMatch runs an analyzed match query for text against field.
func (s *Session) SearchMatch(ctx context.Context, field, text string, limit int) ([]Hit, uint64, error) {
	mq := bleve.NewMatchQuery(text)
	mq.SetField(field)
	return s.Search(ctx, mq, limit)
}

// Search runs q against committed documents.
func (s *Session) Search(ctx context.Context, q query.Query, limit int) ([]Hit, uint64, error) {
	if limit <= 0 {
		limit = 10
	}
	req := bleve.NewSearchRequestOptions(q, limit, 0, false)
	res, err := s.idx.SearchInContext(ctx, req)
	if err != nil {
		return nil, 0, ierrors.New(ierrors.ErrCodeSearchFailed, "search failed on index "+s.name, err)
	}

	hits := make([]Hit, 0, len(res.Hits))
	for _, h := range res.Hits {
		entityType, identifier := SplitDocumentID(h.ID)
		hits = append(hits, Hit{
			ID:         h.ID,
			EntityType: entityType,
			Identifier: identifier,
			Score:      h.Score,
		})
	}
	return hits, res.Total, nil
}

// FieldValues returns the stored values of field across every committed
// document matching q. Documents without the field contribute nothing.
func (s *Session) FieldValues(ctx context.Context, q query.Query, field string) ([]string, error) {
	total, err := s.idx.SearchInContext(ctx, bleve.NewSearchRequestOptions(q, 0, 0, false))
	if err != nil {
		return nil, ierrors.New(ierrors.ErrCodeSearchFailed, "search failed on index "+s.name, err)
	}
	if total.Total == 0 {
		return nil, nil
	}
	req := bleve.NewSearchRequestOptions(q, int(total.Total), 0, false)
	req.Fields = []string{field}
	res, err := s.idx.SearchInContext(ctx, req)
	if err != nil {
		return nil, ierrors.New(ierrors.ErrCodeSearchFailed, "search failed on index "+s.name, err)
	}
	values := make([]string, 0, len(res.Hits))
	for _, h := range res.Hits {
		switch v := h.Fields[field].(type) {
		case string:
			values = append(values, v)
		case []interface{}:
			for _, e := range v {
				if str, ok := e.(string); ok {
					values = append(values, str)
				}
			}
		}
	}
	return values, nil
}

// TermsQuery builds the conjunction of exact keyword conditions.
func TermsQuery(terms ...Term) query.Query {
	return termsQuery(terms)
}

// MatchIDs returns the ids of committed documents satisfying every term,
// sorted.
func (s *Session) MatchIDs(ctx context.Context, terms ...Term) ([]string, error) {
	ids, err := s.matchCommitted(ctx, terms)
	if err != nil {
		return nil, ierrors.New(ierrors.ErrCodeSearchFailed, "search failed on index "+s.name, err)
	}
	return ids, nil
}
