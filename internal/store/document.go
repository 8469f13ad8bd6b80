package store

import (
	"strings"

	"github.com/Aman-CERP/indexsync/internal/work"
)

const (
	// ClassField holds the entity type of every document.
	ClassField = "entity_class"
	// IDField holds the entity identifier of every document.
	IDField = "entity_id"
)

// Document is the indexable form of one entity.
type Document struct {
	EntityType string
	Identifier string
	Fields     map[string]string
}

// ID returns the index document id.
func (d Document) ID() string {
	return DocumentID(d.EntityType, d.Identifier)
}

// source returns the value handed to bleve: the entity fields plus the
// class and id keyword fields.
func (d Document) source() map[string]interface{} {
	src := make(map[string]interface{}, len(d.Fields)+2)
	for k, v := range d.Fields {
		src[k] = v
	}
	src[ClassField] = d.EntityType
	src[IDField] = d.Identifier
	return src
}

// DocumentID builds the document id of an entity.
func DocumentID(entityType, identifier string) string {
	return entityType + work.TypeSeparator + identifier
}

// SplitDocumentID is the inverse of DocumentID.
func SplitDocumentID(id string) (entityType, identifier string) {
	entityType, identifier, _ = strings.Cut(id, work.TypeSeparator)
	return entityType, identifier
}

// Term is an exact field=value condition on a keyword field.
type Term struct {
	Field string
	Value string
}

// ClassTerm matches every document of an entity type.
func ClassTerm(entityType string) Term {
	return Term{Field: ClassField, Value: entityType}
}

// IDTerm matches the document of an entity identifier.
func IDTerm(identifier string) Term {
	return Term{Field: IDField, Value: identifier}
}

// matches reports whether a not yet committed document satisfies every term.
func (d Document) matches(terms []Term) bool {
	for _, t := range terms {
		var v string
		switch t.Field {
		case ClassField:
			v = d.EntityType
		case IDField:
			v = d.Identifier
		default:
			v = d.Fields[t.Field]
		}
		if v != t.Value {
			return false
		}
	}
	return true
}

// Hit is one search result.
type Hit struct {
	ID         string
	EntityType string
	Identifier string
	Score      float64
}
