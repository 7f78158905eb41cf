package db

import "strings"

// IndexBuilder assembles an IndexDefinition.
//
//	def, err := db.NewIndex("pagedex:pages:idx", "pagedex:pages:").
//		Tag("division", "file_type").
//		Numeric("page_number").
//		Text("text").
//		HNSW("vector", db.HNSW{Dim: 768, Distance: db.DistanceCosine}).
//		Build()
type IndexBuilder struct {
	def IndexDefinition
}

// NewIndex starts an index over the hashes whose keys start with prefix.
func NewIndex(name, prefix string) *IndexBuilder {
	return &IndexBuilder{def: IndexDefinition{Name: name, Prefix: prefix}}
}

// Tag adds exact-match TAG fields.
func (b *IndexBuilder) Tag(names ...string) *IndexBuilder {
	return b.add(FieldTag, names)
}

// Numeric adds NUMERIC fields.
func (b *IndexBuilder) Numeric(names ...string) *IndexBuilder {
	return b.add(FieldNumeric, names)
}

// Text adds full-text fields scored with BM25.
func (b *IndexBuilder) Text(names ...string) *IndexBuilder {
	return b.add(FieldText, names)
}

// HNSW adds the vector field.
func (b *IndexBuilder) HNSW(name string, params HNSW) *IndexBuilder {
	if params.Distance == "" {
		params.Distance = DistanceCosine
	}
	b.def.Fields = append(b.def.Fields, IndexField{Name: name, Type: FieldVector, Vector: &params})
	return b
}

func (b *IndexBuilder) add(t FieldType, names []string) *IndexBuilder {
	for _, n := range names {
		b.def.Fields = append(b.def.Fields, IndexField{Name: n, Type: t})
	}
	return b
}

// Build validates the definition and returns it.
func (b *IndexBuilder) Build() (*IndexDefinition, error) {
	def := b.def
	def.Fields = append([]IndexField(nil), b.def.Fields...)
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return &def, nil
}

// String renders the schema roughly as FT.CREATE would receive it, for logs.
func (d *IndexDefinition) String() string {
	parts := []string{"FT.CREATE", d.Name, "ON", "HASH", "PREFIX", "1", d.Prefix, "SCHEMA"}
	for i := range d.Fields {
		parts = append(parts, d.Fields[i].Name, d.Fields[i].Type.String())
	}
	return strings.Join(parts, " ")
}
