package work

import (
	"fmt"
	"maps"
	"strings"

	ierrors "github.com/Aman-CERP/indexsync/internal/errors"
)

// TypeSeparator joins entity type and identifier in document ids. Entity
// types may not contain it.
const TypeSeparator = "#"

// Kind identifies the mutation an Item requests.
type Kind uint8

const (
	// KindAdd indexes a new entity.
	KindAdd Kind = iota + 1
	// KindUpdate replaces the document of an existing entity.
	KindUpdate
	// KindDelete removes the document of a deleted entity.
	KindDelete
	// KindPurge removes the document of an entity by identifier.
	KindPurge
	// KindPurgeAll removes every document of an entity type.
	KindPurgeAll
	// KindOptimize requests index compaction.
	KindOptimize
)

var kindNames = [...]string{
	KindAdd:      "ADD",
	KindUpdate:   "UPDATE",
	KindDelete:   "DELETE",
	KindPurge:    "PURGE",
	KindPurgeAll: "PURGE_ALL",
	KindOptimize: "OPTIMIZE",
}

// Kinds lists every kind in declaration order.
func Kinds() []Kind {
	return []Kind{KindAdd, KindUpdate, KindDelete, KindPurge, KindPurgeAll, KindOptimize}
}

// String returns the wire name of the kind.
func (k Kind) String() string {
	if k.Valid() {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	return k >= KindAdd && k <= KindOptimize
}

// ParseKind converts a wire name back to a Kind.
func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds() {
		if kindNames[k] == s {
			return k, nil
		}
	}
	return 0, ierrors.New(ierrors.ErrCodeInvalidWorkItem, fmt.Sprintf("unknown work kind %q", s), nil)
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) {
	if !k.Valid() {
		return nil, ierrors.New(ierrors.ErrCodeInvalidWorkItem, "invalid work kind "+k.String(), nil)
	}
	return []byte(kindNames[k]), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Kind) UnmarshalText(text []byte) error {
	parsed, err := ParseKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// deletes reports whether the kind removes a single document.
func (k Kind) deletes() bool {
	return k == KindDelete || k == KindPurge
}

// writes reports whether the kind produces a document.
func (k Kind) writes() bool {
	return k == KindAdd || k == KindUpdate
}

// Item is one mutation intent. Items are immutable once built.
type Item struct {
	kind       Kind
	entityType string
	identifier string
	fields     map[string]string
	workID     string
}

// NewAdd builds an ADD item.
func NewAdd(entityType, identifier string, fields map[string]string) (Item, error) {
	return NewItem(KindAdd, entityType, identifier, fields)
}

// NewUpdate builds an UPDATE item.
func NewUpdate(entityType, identifier string, fields map[string]string) (Item, error) {
	return NewItem(KindUpdate, entityType, identifier, fields)
}

// NewDelete builds a DELETE item.
func NewDelete(entityType, identifier string) (Item, error) {
	return NewItem(KindDelete, entityType, identifier, nil)
}

// NewPurge builds a PURGE item.
func NewPurge(entityType, identifier string) (Item, error) {
	return NewItem(KindPurge, entityType, identifier, nil)
}

// NewPurgeAll builds a PURGE_ALL item for every document of entityType.
func NewPurgeAll(entityType string) (Item, error) {
	return NewItem(KindPurgeAll, entityType, "", nil)
}

// NewOptimize builds an OPTIMIZE item. entityType may be empty.
func NewOptimize(entityType string) (Item, error) {
	return NewItem(KindOptimize, entityType, "", nil)
}

// NewItem validates and builds an item of any kind.
// The fields map is copied.
func NewItem(kind Kind, entityType, identifier string, fields map[string]string) (Item, error) {
	if !kind.Valid() {
		return Item{}, invalid("invalid work kind " + kind.String())
	}
	if entityType == "" && kind != KindOptimize {
		return Item{}, invalid(kind.String() + " requires an entity type")
	}
	if strings.Contains(entityType, TypeSeparator) {
		return Item{}, invalid(fmt.Sprintf("entity type %q contains %q", entityType, TypeSeparator))
	}
	switch kind {
	case KindAdd, KindUpdate:
		if identifier == "" {
			return Item{}, invalid(kind.String() + " requires an identifier")
		}
		if fields == nil {
			fields = map[string]string{}
		}
	case KindDelete, KindPurge:
		if identifier == "" {
			return Item{}, invalid(kind.String() + " requires an identifier")
		}
		fields = nil
	case KindPurgeAll, KindOptimize:
		identifier = ""
		fields = nil
	}

	return Item{
		kind:       kind,
		entityType: entityType,
		identifier: identifier,
		fields:     maps.Clone(fields),
	}, nil
}

func invalid(msg string) error {
	return ierrors.New(ierrors.ErrCodeInvalidWorkItem, msg, nil)
}

// Kind returns the requested mutation.
func (i Item) Kind() Kind { return i.kind }

// EntityType returns the entity type the item targets.
func (i Item) EntityType() string { return i.entityType }

// Identifier returns the entity identifier, empty for PURGE_ALL and OPTIMIZE.
func (i Item) Identifier() string { return i.identifier }

// WorkID returns the id of the unit of work that produced the item.
func (i Item) WorkID() string { return i.workID }

// Fields returns a copy of the document fields.
func (i Item) Fields() map[string]string { return maps.Clone(i.fields) }

// Field returns a single document field.
func (i Item) Field(name string) (string, bool) {
	v, ok := i.fields[name]
	return v, ok
}

// WithWorkID returns a copy of the item stamped with workID.
func (i Item) WithWorkID(workID string) Item {
	i.workID = workID
	return i
}

// Key identifies the document an item targets within its entity type.
type Key struct {
	EntityType string
	Identifier string
}

// Key returns the document key of the item.
func (i Item) Key() Key {
	return Key{EntityType: i.entityType, Identifier: i.identifier}
}

// String renders the item for logs.
func (i Item) String() string {
	if i.identifier == "" {
		return fmt.Sprintf("%s(%s)", i.kind, i.entityType)
	}
	return fmt.Sprintf("%s(%s#%s)", i.kind, i.entityType, i.identifier)
}
