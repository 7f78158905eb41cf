package qdrant

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"github.com/kailas-cloud/pagedex/internal/domain/page"
	"github.com/kailas-cloud/pagedex/internal/domain/search/filter"
)

// pointUUID reads a 32-hex page id as a UUID, the only string id form
// Qdrant accepts. The mapping is reversible, so the page id is also the
// point id.
func pointUUID(id string) (string, error) {
	if len(id) != 32 {
		return "", fmt.Errorf("page id %q is not 32 hex chars", id)
	}
	u, err := uuid.Parse(id)
	if err != nil {
		return "", fmt.Errorf("page id %q: %w", id, err)
	}
	return u.String(), nil
}

func toPoint(rec *page.Record) (*qdrant.PointStruct, error) {
	if len(rec.Vector) == 0 {
		return nil, fmt.Errorf("page %s has no vector", rec.ID)
	}
	uid, err := pointUUID(rec.ID)
	if err != nil {
		return nil, err
	}
	fields := rec.Fields(true)
	payload := make(map[string]*qdrant.Value, len(fields))
	for k, v := range fields {
		payload[k] = qdrant.NewValueString(v)
	}
	return &qdrant.PointStruct{
		Id:      qdrant.NewIDUUID(uid),
		Vectors: qdrant.NewVectorsDense(rec.Vector),
		Payload: payload,
	}, nil
}

func payloadFields(payload map[string]*qdrant.Value) map[string]string {
	out := make(map[string]string, len(payload))
	for k, v := range payload {
		out[k] = v.GetStringValue()
	}
	return out
}

// buildFilter maps a filter expression onto Qdrant must/should/must_not
// keyword matches. An empty expression yields nil (no filter).
func buildFilter(expr filter.Expression) *qdrant.Filter {
	if expr.IsEmpty() {
		return nil
	}
	return &qdrant.Filter{
		Must:    conditions(expr.Must()),
		Should:  conditions(expr.Should()),
		MustNot: conditions(expr.MustNot()),
	}
}

func conditions(cs []filter.Condition) []*qdrant.Condition {
	if len(cs) == 0 {
		return nil
	}
	out := make([]*qdrant.Condition, len(cs))
	for i, c := range cs {
		out[i] = qdrant.NewMatch(c.Key(), c.Match())
	}
	return out
}
