package redis

import (
	"encoding/binary"
	"math"
	"strings"
	"unicode"

	"github.com/kailas-cloud/pagedex/internal/domain/search/filter"
)

// buildFilter renders a filter expression as an FT.SEARCH TAG pre-filter:
// must clauses are AND-ed, should clauses form one OR group, must-not
// clauses are negated. An empty expression renders as "".
func buildFilter(expr filter.Expression) string {
	if expr.IsEmpty() {
		return ""
	}

	var parts []string
	for _, c := range expr.Must() {
		parts = append(parts, tagMatch(c))
	}
	if should := expr.Should(); len(should) > 0 {
		alts := make([]string, len(should))
		for i, c := range should {
			alts[i] = tagMatch(c)
		}
		parts = append(parts, "("+strings.Join(alts, " | ")+")")
	}
	for _, c := range expr.MustNot() {
		parts = append(parts, "-"+tagMatch(c))
	}
	return strings.Join(parts, " ")
}

func tagMatch(c filter.Condition) string {
	return buildTagFilter(c.Key(), c.Match())
}

func buildTagFilter(key, value string) string {
	return "@" + key + ":{" + escapeTag(value) + "}"
}

// escapeTag backslash-escapes every character that is not a letter, digit or
// underscore, which is what the TAG tokenizer treats as a separator.
func escapeTag(v string) string {
	var b strings.Builder
	b.Grow(len(v) + 4)
	for _, r := range v {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_' {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// vectorToBytes packs v as little-endian FLOAT32, the KNN $BLOB format.
func vectorToBytes(v []float32) string {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return string(buf)
}
