package definition

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Parser reads a definitions directory into a Set. It is safe for
// concurrent use and may be called repeatedly on the same directory.
type Parser struct {
	schema *schema
}

// NewParser compiles the embedded category schema.
func NewParser() (*Parser, error) {
	s, err := newSchema()
	if err != nil {
		return nil, err
	}
	return &Parser{schema: s}, nil
}

type entry struct {
	file string
	cat  Category
}

// ParseAll loads every definition file under root and returns them as one
// Set stamped with version. Any rejected entry fails the whole call with
// ValidationErrors; no partial Set is returned.
func (p *Parser) ParseAll(ctx context.Context, root, version string) (*Set, error) {
	categories, err := p.Load(ctx, root)
	if err != nil {
		return nil, err
	}
	return NewSet(version, categories)
}

// Load parses and validates every file under root, collecting all errors
// rather than stopping at the first. The returned error is ValidationErrors
// or the context error.
func (p *Parser) Load(ctx context.Context, root string) ([]Category, error) {
	files, err := listFiles(root)
	if err != nil {
		return nil, ValidationErrors{{File: root, Code: CodeNoRoot, Message: err.Error()}}
	}

	var errs ValidationErrors
	entries := make([]entry, 0, len(files))
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rel, _ := filepath.Rel(root, path)
		cat, fileErrs := p.parseFile(path, filepath.ToSlash(rel))
		if len(fileErrs) > 0 {
			errs = append(errs, fileErrs...)
			continue
		}
		entries = append(entries, entry{file: filepath.ToSlash(rel), cat: cat})
	}
	if len(errs) == 0 {
		errs = append(errs, crossCheck(entries)...)
	}
	if len(errs) > 0 {
		return nil, errs
	}

	out := make([]Category, len(entries))
	for i, en := range entries {
		out[i] = en.cat
	}
	return out, nil
}

func (p *Parser) parseFile(path, name string) (Category, []ValidationError) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Category{}, []ValidationError{{File: name, Code: CodeRead, Message: err.Error()}}
	}

	var node yaml.Node
	dec := yaml.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&node); err != nil {
		msg := err.Error()
		if errors.Is(err, io.EOF) {
			msg = "empty document"
		}
		return Category{}, []ValidationError{{File: name, Code: CodeRead, Message: msg}}
	}
	// One category per file; a trailing document would otherwise be ignored.
	var extra yaml.Node
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		msg := "multiple documents"
		if err != nil {
			msg = err.Error()
		}
		return Category{}, []ValidationError{{File: name, Code: CodeRead, Message: msg}}
	}

	var raw any
	if err := node.Decode(&raw); err != nil {
		return Category{}, []ValidationError{{File: name, Code: CodeRead, Message: err.Error()}}
	}
	doc, ok := raw.(map[string]any)
	if !ok {
		return Category{}, []ValidationError{{File: name, Code: CodeSchema, Message: "document must be a mapping"}}
	}
	if id, _ := doc["id"].(string); strings.TrimSpace(id) == "" {
		return Category{}, []ValidationError{{File: name, Field: "id", Code: CodeMissingID, Message: "category id is required"}}
	}
	if errs := p.schema.check(name, doc); len(errs) > 0 {
		return Category{}, errs
	}

	var cat Category
	if err := node.Decode(&cat); err != nil {
		return Category{}, []ValidationError{{File: name, Code: CodeRead, Message: err.Error()}}
	}
	return cat, nil
}

func listFiles(root string) ([]string, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", root)
	}
	var files []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".yaml", ".yml", ".json":
			files = append(files, path)
		}
		return nil
	})
	return files, err
}
