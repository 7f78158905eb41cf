package db

import (
	"errors"
	"fmt"
)

// Distance is the similarity metric of a vector field.
type Distance string

// DistanceCosine makes KNN scores comparable across embedding models.
const DistanceCosine Distance = "COSINE"

// FieldType is the FT schema type of an indexed hash field.
type FieldType int

// Schema field types.
const (
	FieldTag FieldType = iota
	FieldNumeric
	FieldText
	FieldVector
)

func (t FieldType) String() string {
	switch t {
	case FieldTag:
		return "TAG"
	case FieldNumeric:
		return "NUMERIC"
	case FieldText:
		return "TEXT"
	case FieldVector:
		return "VECTOR"
	default:
		return fmt.Sprintf("FieldType(%d)", int(t))
	}
}

// HNSW parameterizes a vector field. Zero M or EFConstruct keeps the server default.
type HNSW struct {
	Dim         int
	Distance    Distance
	M           int
	EFConstruct int
}

// IndexField is one schema entry. Vector is set only for FieldVector.
type IndexField struct {
	Name   string
	Type   FieldType
	Vector *HNSW
}

// IndexDefinition describes an FT index over the hashes under Prefix.
type IndexDefinition struct {
	Name   string
	Prefix string
	Fields []IndexField
}

// Validate checks names, duplicates and the vector field parameters.
func (d *IndexDefinition) Validate() error {
	if !validName(d.Name) {
		return fmt.Errorf("invalid index name %q", d.Name)
	}
	if d.Prefix == "" {
		return errors.New("key prefix is required")
	}
	if len(d.Fields) == 0 {
		return errors.New("at least one field is required")
	}

	seen := make(map[string]bool, len(d.Fields))
	vectors := 0
	for i := range d.Fields {
		f := &d.Fields[i]
		if f.Name == "" {
			return fmt.Errorf("field %d has no name", i)
		}
		if seen[f.Name] {
			return fmt.Errorf("duplicate field %q", f.Name)
		}
		seen[f.Name] = true

		if f.Type != FieldVector {
			continue
		}
		vectors++
		if f.Vector == nil || f.Vector.Dim <= 0 {
			return fmt.Errorf("vector field %q needs a positive dimension", f.Name)
		}
	}
	if vectors > 1 {
		return errors.New("at most one vector field is supported")
	}
	return nil
}

// validName accepts [a-zA-Z0-9_:-]+.
func validName(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '_', r == ':', r == '-':
		default:
			return false
		}
	}
	return true
}
