// Package mapping describes how entities map onto tables: table names,
// member columns, primary keys and associations. Entities come from Go
// struct tags (Register) or from CUE specs (LoadCUE).
//
// The compiler reads a Mapping during binding (entity projections,
// association navigation, entity comparison) and the write-command
// builders read it to produce Insert, Update and Delete trees. A Mapping is
// built once and read-only afterwards; it is safe for concurrent readers.
package mapping

import (
	"fmt"
	"reflect"
	"strings"
	"time"
	"unicode"

	"github.com/jinzhu/inflection"
	"gopkg.in/src-d/go-errors.v1"
)

var (
	// ErrUnknownEntity is returned when no entity is mapped under a name.
	ErrUnknownEntity = errors.NewKind("unknown entity %q")
	// ErrUnknownMember is returned when an entity has no member or
	// association with the requested name.
	ErrUnknownMember = errors.NewKind("entity %s has no member %q")
	// ErrNoPrimaryKey is returned when an operation needs a primary key the
	// entity does not declare.
	ErrNoPrimaryKey = errors.NewKind("entity %s has no primary key")
	// ErrInvalidEntity is returned for inconsistent entity definitions.
	ErrInvalidEntity = errors.NewKind("invalid entity %s: %s")
)

// Member is one mapped column.
type Member struct {
	// Name is the member name used in queries and records.
	Name string
	// Field is the Go struct field name for typed entities.
	Field string
	// Column is the stored column name.
	Column    string
	Type      reflect.Type
	StoreType string

	PrimaryKey bool
	Generated  bool
	Nullable   bool

	index []int
}

// Association relates an entity to another through key members: Keys on
// this entity equal RelatedKeys on Related.
type Association struct {
	Name        string
	Field       string
	Related     string
	Keys        []string
	RelatedKeys []string
	// Many is true for a collection, false for a single reference.
	Many bool

	index []int
}

// Entity is one mapped entity.
type Entity struct {
	Name  string
	Table string
	// Type is the Go struct type; nil for untyped entities materialized as
	// records.
	Type         reflect.Type
	Members      []Member
	Associations []Association
}

// Member returns the member named name, matching Name first and then the
// Go field name.
func (e *Entity) Member(name string) (*Member, bool) {
	for i := range e.Members {
		if e.Members[i].Name == name {
			return &e.Members[i], true
		}
	}
	for i := range e.Members {
		if e.Members[i].Field != "" && e.Members[i].Field == name {
			return &e.Members[i], true
		}
	}
	return nil, false
}

// Association returns the association named name, matching Name first and
// then the Go field name.
func (e *Entity) Association(name string) (*Association, bool) {
	for i := range e.Associations {
		if e.Associations[i].Name == name || (e.Associations[i].Field != "" && e.Associations[i].Field == name) {
			return &e.Associations[i], true
		}
	}
	return nil, false
}

// PrimaryKey returns the primary-key members in declaration order.
func (e *Entity) PrimaryKey() []Member {
	var out []Member
	for _, m := range e.Members {
		if m.PrimaryKey {
			out = append(out, m)
		}
	}
	return out
}

// Key is the name a member has in the entity's materialized form: the Go
// field name for typed entities, the member name for records.
func (e *Entity) Key(m *Member) string {
	if e.Type != nil && m.Field != "" {
		return m.Field
	}
	return m.Name
}

// AssociationKey is Key for associations.
func (e *Entity) AssociationKey(a *Association) string {
	if e.Type != nil && a.Field != "" {
		return a.Field
	}
	return a.Name
}

// ResultType is the type an entity materializes to.
func (e *Entity) ResultType() reflect.Type {
	if e.Type != nil {
		return e.Type
	}
	return reflect.TypeOf(map[string]any(nil))
}

// Mapping is a set of entities.
type Mapping struct {
	entities map[string]*Entity
	byType   map[reflect.Type]*Entity
	order    []string
}

// New returns an empty mapping.
func New() *Mapping {
	return &Mapping{
		entities: make(map[string]*Entity),
		byType:   make(map[reflect.Type]*Entity),
	}
}

// Add registers e. Table defaults to the pluralized snake-case name, member
// columns to their snake-case names.
func (m *Mapping) Add(e *Entity) error {
	if e.Name == "" {
		return ErrInvalidEntity.New("<unnamed>", "name is required")
	}
	if _, dup := m.entities[e.Name]; dup {
		return ErrInvalidEntity.New(e.Name, "already registered")
	}
	if e.Table == "" {
		e.Table = DefaultTable(e.Name)
	}
	seen := make(map[string]bool)
	for i := range e.Members {
		mem := &e.Members[i]
		if mem.Name == "" {
			return ErrInvalidEntity.New(e.Name, "member without a name")
		}
		if seen[mem.Name] {
			return ErrInvalidEntity.New(e.Name, fmt.Sprintf("member %q declared twice", mem.Name))
		}
		seen[mem.Name] = true
		if mem.Column == "" {
			mem.Column = Snake(mem.Name)
		}
		if mem.StoreType == "" {
			mem.StoreType = StoreTypeOf(mem.Type)
		}
	}
	m.entities[e.Name] = e
	m.order = append(m.order, e.Name)
	if e.Type != nil {
		m.byType[e.Type] = e
	}
	return nil
}

// Entity returns the entity named name.
func (m *Mapping) Entity(name string) (*Entity, error) {
	if e, ok := m.entities[name]; ok {
		return e, nil
	}
	return nil, ErrUnknownEntity.New(name)
}

// EntityFor returns the entity registered for Go type t.
func (m *Mapping) EntityFor(t reflect.Type) (*Entity, bool) {
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	e, ok := m.byType[t]
	return e, ok
}

// Entities returns all entities in registration order.
func (m *Mapping) Entities() []*Entity {
	out := make([]*Entity, len(m.order))
	for i, n := range m.order {
		out[i] = m.entities[n]
	}
	return out
}

// Validate checks that every association names a mapped entity and that
// its key members exist on both sides.
func (m *Mapping) Validate() error {
	for _, e := range m.Entities() {
		for _, a := range e.Associations {
			rel, err := m.Entity(a.Related)
			if err != nil {
				return ErrInvalidEntity.New(e.Name, fmt.Sprintf("association %s: %v", a.Name, err))
			}
			if len(a.Keys) == 0 || len(a.Keys) != len(a.RelatedKeys) {
				return ErrInvalidEntity.New(e.Name, fmt.Sprintf("association %s: keys and related_keys must be non-empty and of equal length", a.Name))
			}
			for _, k := range a.Keys {
				if _, ok := e.Member(k); !ok {
					return ErrUnknownMember.New(e.Name, k)
				}
			}
			for _, k := range a.RelatedKeys {
				if _, ok := rel.Member(k); !ok {
					return ErrUnknownMember.New(rel.Name, k)
				}
			}
		}
	}
	return nil
}

// DefaultTable derives a table name from an entity name: "OrderLine"
// becomes "order_lines".
func DefaultTable(entity string) string {
	return inflection.Plural(Snake(entity))
}

// Snake converts a Go identifier to snake case: "CustomerID" becomes
// "customer_id".
func Snake(s string) string {
	rs := []rune(s)
	var b strings.Builder
	for i, r := range rs {
		if unicode.IsUpper(r) {
			if i > 0 && (unicode.IsLower(rs[i-1]) || unicode.IsDigit(rs[i-1]) ||
				(i+1 < len(rs) && unicode.IsLower(rs[i+1]) && unicode.IsUpper(rs[i-1]))) {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

var timeType = reflect.TypeOf(time.Time{})

// StoreTypeOf returns the column type used for a Go type.
func StoreTypeOf(t reflect.Type) string {
	if t == nil {
		return "TEXT"
	}
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == timeType {
		return "TIMESTAMP"
	}
	switch t.Kind() {
	case reflect.Bool:
		return "BOOLEAN"
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return "INTEGER"
	case reflect.Float32, reflect.Float64:
		return "REAL"
	case reflect.Slice:
		if t.Elem().Kind() == reflect.Uint8 {
			return "BLOB"
		}
	}
	return "TEXT"
}
