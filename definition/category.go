package definition

import (
	"encoding/hex"
	"fmt"
	"sort"

	"github.com/fxamacker/cbor/v2"
	"github.com/zeebo/blake3"
)

// DataType is the value type of a category attribute.
type DataType string

const (
	TypeString  DataType = "string"
	TypeInteger DataType = "integer"
	TypeDecimal DataType = "decimal"
	TypeBoolean DataType = "boolean"
	TypeDate    DataType = "date"
)

// Category is one validated definition entry.
type Category struct {
	ID         string      `yaml:"id" json:"id" cbor:"id"`
	Parent     string      `yaml:"parent,omitempty" json:"parent,omitempty" cbor:"parent,omitempty"`
	Name       string      `yaml:"name" json:"name" cbor:"name"`
	Selectable bool        `yaml:"selectable" json:"selectable" cbor:"selectable"`
	Attributes []Attribute `yaml:"attributes,omitempty" json:"attributes" cbor:"attributes"`
}

// Attribute describes a property carried by items of a category.
type Attribute struct {
	ID       string   `yaml:"id" json:"id" cbor:"id"`
	Name     string   `yaml:"name" json:"name" cbor:"name"`
	DataType DataType `yaml:"data_type" json:"data_type" cbor:"data_type"`
	Unit     string   `yaml:"unit,omitempty" json:"unit,omitempty" cbor:"unit,omitempty"`
	Optional bool     `yaml:"optional" json:"optional" cbor:"optional"`
}

// Set is the complete, validated collection of categories for one source
// version. A Set is never mutated after NewSet returns; a newer version
// replaces it wholesale.
type Set struct {
	Version    string
	Digest     string
	Categories []Category
}

// Len returns the number of categories, zero for a nil Set.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Categories)
}

// NewSet sorts categories by id and stamps the set with version and the
// content digest of the categories.
func NewSet(version string, categories []Category) (*Set, error) {
	sorted := make([]Category, len(categories))
	copy(sorted, categories)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })
	for i := range sorted {
		if sorted[i].Attributes == nil {
			sorted[i].Attributes = []Attribute{}
		}
	}
	digest, err := Digest(sorted)
	if err != nil {
		return nil, err
	}
	return &Set{Version: version, Digest: digest, Categories: sorted}, nil
}

var digestMode = mustDigestMode()

func mustDigestMode() cbor.EncMode {
	mode, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("definition: cbor enc mode: %v", err))
	}
	return mode
}

// Digest returns the hex blake3-256 hash of the deterministic CBOR encoding
// of categories. Equal content always yields an equal digest.
func Digest(categories []Category) (string, error) {
	data, err := digestMode.Marshal(categories)
	if err != nil {
		return "", fmt.Errorf("digest: %w", err)
	}
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
