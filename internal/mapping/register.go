package mapping

import (
	"fmt"
	"reflect"
	"strings"
)

// Register maps the struct type T. Exported fields become members unless
// tagged `relq:"-"`. The tag is a comma-separated list: an optional member
// name first, then options.
//
//	ID    int64   `relq:"id,pk,generated"`
//	Name  string  `relq:",column=full_name"`
//	Note  *string `relq:",nullable"`
//	Lines []Line  `relq:"lines,assoc,keys=id,related_keys=order_id"`
//
// Member options: pk, generated, nullable, column=<name>, type=<store type>.
// Association options: assoc, related=<entity>, keys=<a|b>,
// related_keys=<a|b>. The related entity defaults to the name of the field's
// element type. Pointer fields are nullable.
func Register[T any](m *Mapping, name ...string) (*Entity, error) {
	t := reflect.TypeFor[T]()
	if t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("mapping: %s is not a struct type", t)
	}
	e := &Entity{Name: t.Name(), Type: t}
	if len(name) > 0 && name[0] != "" {
		e.Name = name[0]
	}
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		tag, hasTag := f.Tag.Lookup("relq")
		if tag == "-" {
			continue
		}
		memberName, opts := parseTag(tag)
		if memberName == "" {
			memberName = Snake(f.Name)
		}
		if _, isAssoc := opts["assoc"]; isAssoc {
			a, err := association(e.Name, f, memberName, opts)
			if err != nil {
				return nil, err
			}
			e.Associations = append(e.Associations, a)
			continue
		}
		if !hasTag && !isScalar(f.Type) {
			continue
		}
		mem := Member{
			Name:      memberName,
			Field:     f.Name,
			Column:    opts["column"],
			Type:      f.Type,
			StoreType: opts["type"],
			index:     f.Index,
		}
		_, mem.PrimaryKey = opts["pk"]
		_, mem.Generated = opts["generated"]
		_, mem.Nullable = opts["nullable"]
		if f.Type.Kind() == reflect.Pointer {
			mem.Nullable = true
		}
		e.Members = append(e.Members, mem)
	}
	if err := m.Add(e); err != nil {
		return nil, err
	}
	return e, nil
}

// MustRegister is Register that panics on error, for package-level setup.
func MustRegister[T any](m *Mapping, name ...string) *Entity {
	e, err := Register[T](m, name...)
	if err != nil {
		panic(err)
	}
	return e
}

func parseTag(tag string) (string, map[string]string) {
	parts := strings.Split(tag, ",")
	opts := make(map[string]string, len(parts))
	for _, p := range parts[1:] {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		k, v, _ := strings.Cut(p, "=")
		opts[k] = v
	}
	return strings.TrimSpace(parts[0]), opts
}

func association(entity string, f reflect.StructField, name string, opts map[string]string) (Association, error) {
	elem := f.Type
	many := false
	if elem.Kind() == reflect.Slice {
		many = true
		elem = elem.Elem()
	}
	for elem.Kind() == reflect.Pointer {
		elem = elem.Elem()
	}
	a := Association{
		Name:        name,
		Field:       f.Name,
		Related:     opts["related"],
		Keys:        splitKeys(opts["keys"]),
		RelatedKeys: splitKeys(opts["related_keys"]),
		Many:        many,
		index:       f.Index,
	}
	if a.Related == "" {
		a.Related = elem.Name()
	}
	if a.Related == "" || len(a.Keys) == 0 || len(a.Keys) != len(a.RelatedKeys) {
		return Association{}, ErrInvalidEntity.New(entity, fmt.Sprintf("association %s needs related, keys and related_keys", name))
	}
	return a, nil
}

func splitKeys(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, "|")
}

func isScalar(t reflect.Type) bool {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == timeType {
		return true
	}
	switch t.Kind() {
	case reflect.Bool, reflect.String,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	case reflect.Slice:
		return t.Elem().Kind() == reflect.Uint8
	}
	return false
}
