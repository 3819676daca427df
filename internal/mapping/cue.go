package mapping

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/load"
	"cuelang.org/go/cue/token"
)

// CompileError is a CUE entity spec problem with its source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return err
	}
	first := errs[0]
	if positions := cueerrors.Positions(first); len(positions) > 0 {
		return &CompileError{Field: "cue", Message: first.Error(), Pos: positions[0]}
	}
	return err
}

// cueTypes maps spec member types to Go types.
var cueTypes = map[string]reflect.Type{
	"int":    reflect.TypeOf(int64(0)),
	"float":  reflect.TypeOf(float64(0)),
	"string": reflect.TypeOf(""),
	"bool":   reflect.TypeOf(false),
	"bytes":  reflect.TypeOf([]byte(nil)),
	"time":   timeType,
}

// LoadCUE loads every entity declared under the top-level "entity" field of
// the CUE package in dir:
//
//	entity: Customer: {
//		table: "customers"
//		members: {
//			id:   {type: "int", pk: true, generated: true}
//			name: {type: "string"}
//		}
//		associations: orders: {related: "Order", keys: ["id"], related_keys: ["customer_id"], many: true}
//	}
//
// Loaded entities are untyped and materialize as records.
func LoadCUE(dir string) (*Mapping, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("mapping: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("mapping: not a directory: %s", dir)
	}
	files, err := FindCUEFiles(dir)
	if err != nil {
		return nil, fmt.Errorf("mapping: scanning %s: %w", dir, err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("mapping: no CUE files found in %s", dir)
	}

	ctx := cuecontext.New()
	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, fmt.Errorf("mapping: no CUE instances loaded from %s", dir)
	}
	if inst := instances[0]; inst.Err != nil {
		return nil, formatCUEError(inst.Err)
	}
	return CompileCUE(ctx.BuildInstance(instances[0]))
}

// LoadCUEString compiles entity specs from CUE source text.
func LoadCUEString(src string) (*Mapping, error) {
	return CompileCUE(cuecontext.New().CompileString(src))
}

// CompileCUE builds a mapping from a CUE value holding an "entity" struct.
func CompileCUE(v cue.Value) (*Mapping, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	entities := v.LookupPath(cue.ParsePath("entity"))
	if !entities.Exists() {
		return nil, &CompileError{Field: "entity", Message: "no entities declared", Pos: v.Pos()}
	}
	iter, err := entities.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}
	m := New()
	for iter.Next() {
		e, err := compileEntity(iter.Label(), iter.Value())
		if err != nil {
			return nil, err
		}
		if err := m.Add(e); err != nil {
			return nil, err
		}
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

func compileEntity(name string, v cue.Value) (*Entity, error) {
	e := &Entity{Name: name}
	var err error
	if e.Table, err = optionalString(v, "table"); err != nil {
		return nil, err
	}

	members := v.LookupPath(cue.ParsePath("members"))
	if !members.Exists() {
		return nil, &CompileError{Field: "members", Message: fmt.Sprintf("entity %s declares no members", name), Pos: v.Pos()}
	}
	iter, err := members.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}
	for iter.Next() {
		mem, err := compileMember(iter.Label(), iter.Value())
		if err != nil {
			return nil, err
		}
		e.Members = append(e.Members, mem)
	}

	assocs := v.LookupPath(cue.ParsePath("associations"))
	if assocs.Exists() {
		iter, err := assocs.Fields()
		if err != nil {
			return nil, formatCUEError(err)
		}
		for iter.Next() {
			a, err := compileAssociation(iter.Label(), iter.Value())
			if err != nil {
				return nil, err
			}
			e.Associations = append(e.Associations, a)
		}
	}
	return e, nil
}

func compileMember(name string, v cue.Value) (Member, error) {
	typeName, err := optionalString(v, "type")
	if err != nil {
		return Member{}, err
	}
	if typeName == "" {
		typeName = "string"
	}
	t, ok := cueTypes[typeName]
	if !ok {
		return Member{}, &CompileError{
			Field:   "type",
			Message: fmt.Sprintf("member %s: unknown type %q (want int, float, string, bool, bytes or time)", name, typeName),
			Pos:     v.LookupPath(cue.ParsePath("type")).Pos(),
		}
	}
	mem := Member{Name: name, Type: t}
	if mem.Column, err = optionalString(v, "column"); err != nil {
		return Member{}, err
	}
	if mem.StoreType, err = optionalString(v, "store_type"); err != nil {
		return Member{}, err
	}
	if mem.PrimaryKey, err = optionalBool(v, "pk"); err != nil {
		return Member{}, err
	}
	if mem.Generated, err = optionalBool(v, "generated"); err != nil {
		return Member{}, err
	}
	if mem.Nullable, err = optionalBool(v, "nullable"); err != nil {
		return Member{}, err
	}
	return mem, nil
}

func compileAssociation(name string, v cue.Value) (Association, error) {
	a := Association{Name: name}
	var err error
	if a.Related, err = optionalString(v, "related"); err != nil {
		return Association{}, err
	}
	if a.Related == "" {
		return Association{}, &CompileError{Field: "related", Message: fmt.Sprintf("association %s: related is required", name), Pos: v.Pos()}
	}
	if a.Keys, err = stringList(v, "keys"); err != nil {
		return Association{}, err
	}
	if a.RelatedKeys, err = stringList(v, "related_keys"); err != nil {
		return Association{}, err
	}
	if a.Many, err = optionalBool(v, "many"); err != nil {
		return Association{}, err
	}
	return a, nil
}

func optionalString(v cue.Value, field string) (string, error) {
	f := v.LookupPath(cue.ParsePath(field))
	if !f.Exists() {
		return "", nil
	}
	s, err := f.String()
	if err != nil {
		return "", formatCUEError(err)
	}
	return s, nil
}

func optionalBool(v cue.Value, field string) (bool, error) {
	f := v.LookupPath(cue.ParsePath(field))
	if !f.Exists() {
		return false, nil
	}
	b, err := f.Bool()
	if err != nil {
		return false, formatCUEError(err)
	}
	return b, nil
}

func stringList(v cue.Value, field string) ([]string, error) {
	f := v.LookupPath(cue.ParsePath(field))
	if !f.Exists() {
		return nil, nil
	}
	iter, err := f.List()
	if err != nil {
		return nil, formatCUEError(err)
	}
	var out []string
	for iter.Next() {
		s, err := iter.Value().String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		out = append(out, s)
	}
	return out, nil
}

// FindCUEFiles walks dir and returns all .cue file paths.
func FindCUEFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && filepath.Ext(path) == ".cue" {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}
