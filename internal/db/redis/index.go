package redis

import (
	"context"
	"fmt"
	"strconv"

	"github.com/kailas-cloud/pagedex/internal/db"
)

// CreateIndex creates an FT index from the given definition.
func (s *Store) CreateIndex(ctx context.Context, def *db.IndexDefinition) error {
	args, err := buildCreateArgs(def, s.flavor)
	if err != nil {
		return err
	}

	cmd := s.b().Arbitrary("FT.CREATE").Args(args...).Build()
	if err := s.do(ctx, cmd).Error(); err != nil {
		if isRedisErr(err, "index already exists") {
			return db.ErrIndexExists
		}
		return &db.Error{Op: db.OpCreateIndex, Key: def.Name, Err: err}
	}
	return nil
}

// DropIndex removes an FT index by name.
func (s *Store) DropIndex(ctx context.Context, name string) error {
	cmd := s.b().Arbitrary("FT.DROPINDEX").Args(name).Build()
	if err := s.do(ctx, cmd).Error(); err != nil {
		if isRedisErr(err, "unknown index name") {
			return db.ErrIndexNotFound
		}
		return &db.Error{Op: db.OpDropIndex, Key: name, Err: err}
	}
	return nil
}

// IndexExists probes index existence via FT.INFO; "unknown index name" means absent.
func (s *Store) IndexExists(ctx context.Context, name string) (bool, error) {
	cmd := s.b().Arbitrary("FT.INFO").Args(name).Build()
	if err := s.do(ctx, cmd).Error(); err != nil {
		if isRedisErr(err, "unknown index name") {
			return false, nil
		}
		return false, &db.Error{Op: db.OpIndexInfo, Key: name, Err: err}
	}
	return true, nil
}

// SupportsTextSearch reports whether TEXT fields and BM25 scoring are available.
// valkey-search only indexes VECTOR, TAG and NUMERIC fields.
func (s *Store) SupportsTextSearch(_ context.Context) bool {
	return s.flavor != db.FlavorValkey
}

// buildCreateArgs renders FT.CREATE arguments. Valkey has no TEXT fields,
// so they are left out of its schema.
func buildCreateArgs(def *db.IndexDefinition, flavor db.Flavor) ([]string, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}

	args := []string{def.Name, "ON", "HASH", "PREFIX", "1", def.Prefix, "SCHEMA"}
	for i := range def.Fields {
		f := &def.Fields[i]
		switch f.Type {
		case db.FieldTag, db.FieldNumeric:
			args = append(args, f.Name, f.Type.String())
		case db.FieldText:
			if flavor == db.FlavorValkey {
				continue
			}
			args = append(args, f.Name, "TEXT")
		case db.FieldVector:
			args = append(args, f.Name)
			args = append(args, hnswArgs(f.Vector)...)
		default:
			return nil, fmt.Errorf("field %s: unsupported type %s", f.Name, f.Type)
		}
	}
	return args, nil
}

func hnswArgs(p *db.HNSW) []string {
	attrs := []string{
		"TYPE", "FLOAT32",
		"DIM", strconv.Itoa(p.Dim),
		"DISTANCE_METRIC", string(p.Distance),
	}
	if p.M > 0 {
		attrs = append(attrs, "M", strconv.Itoa(p.M))
	}
	if p.EFConstruct > 0 {
		attrs = append(attrs, "EF_CONSTRUCTION", strconv.Itoa(p.EFConstruct))
	}
	return append([]string{"VECTOR", "HNSW", strconv.Itoa(len(attrs))}, attrs...)
}
