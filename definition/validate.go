package definition

import (
	_ "embed"
	"fmt"
	"strings"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
)

//go:embed schema.cue
var schemaSource string

// schema validates decoded entries. A cue.Context is not safe for concurrent
// use, so every evaluation holds mu.
type schema struct {
	mu       sync.Mutex
	ctx      *cue.Context
	category cue.Value
}

func newSchema() (*schema, error) {
	ctx := cuecontext.New()
	v := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := v.Err(); err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	category := v.LookupPath(cue.ParsePath("#Category"))
	if !category.Exists() {
		return nil, fmt.Errorf("compile schema: #Category not defined")
	}
	return &schema{ctx: ctx, category: category}, nil
}

// check unifies raw (a decoded YAML/JSON document) with #Category and
// returns one ValidationError per CUE error.
func (s *schema) check(file string, raw any) []ValidationError {
	s.mu.Lock()
	defer s.mu.Unlock()

	v := s.ctx.Encode(raw)
	if err := v.Err(); err != nil {
		return []ValidationError{{File: file, Code: CodeSchema, Message: err.Error()}}
	}
	err := s.category.Unify(v).Validate(cue.Concrete(true))
	if err == nil {
		return nil
	}
	var out []ValidationError
	for _, e := range cueerrors.Errors(err) {
		format, args := e.Msg()
		out = append(out, ValidationError{
			File:    file,
			Field:   strings.Join(e.Path(), "."),
			Code:    CodeSchema,
			Message: fmt.Sprintf(format, args...),
		})
	}
	if len(out) == 0 {
		out = append(out, ValidationError{File: file, Code: CodeSchema, Message: err.Error()})
	}
	return out
}

// crossCheck validates relations between entries that no single file can
// see: unique category ids, unique attribute ids and known parents.
func crossCheck(entries []entry) []ValidationError {
	var errs []ValidationError
	ids := make(map[string]string, len(entries))
	for _, en := range entries {
		if first, dup := ids[en.cat.ID]; dup {
			errs = append(errs, ValidationError{
				File:    en.file,
				Field:   "id",
				Code:    CodeDuplicateID,
				Message: fmt.Sprintf("category %q already defined in %s", en.cat.ID, first),
			})
			continue
		}
		ids[en.cat.ID] = en.file
	}
	for _, en := range entries {
		if en.cat.Parent != "" {
			if _, ok := ids[en.cat.Parent]; !ok {
				errs = append(errs, ValidationError{
					File:    en.file,
					Field:   "parent",
					Code:    CodeUnknownParent,
					Message: fmt.Sprintf("parent %q is not a known category", en.cat.Parent),
				})
			}
		}
		attrs := make(map[string]bool, len(en.cat.Attributes))
		for i, a := range en.cat.Attributes {
			if attrs[a.ID] {
				errs = append(errs, ValidationError{
					File:    en.file,
					Field:   fmt.Sprintf("attributes[%d].id", i),
					Code:    CodeDuplicateAttr,
					Message: fmt.Sprintf("duplicate attribute id %q", a.ID),
				})
			}
			attrs[a.ID] = true
		}
	}
	return errs
}
