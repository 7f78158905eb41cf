package filter

import "fmt"

// MaxConditionsPerGroup is the maximum number of conditions per filter group.
const MaxConditionsPerGroup = 32

// Page metadata keys that can be filtered on.
const (
	KeyDivision   = "division"
	KeyFileType   = "file_type"
	KeyDocumentID = "doc_id"
	KeyLanguage   = "language"
)

var filterableKeys = map[string]struct{}{
	KeyDivision:   {},
	KeyFileType:   {},
	KeyDocumentID: {},
	KeyLanguage:   {},
}

// Expression is a pre-filter with must/should/must_not boolean semantics.
// Index backends translate it into their native filter language.
type Expression struct {
	must    []Condition
	should  []Condition
	mustNot []Condition
}

// NewExpression validates and creates a filter Expression.
func NewExpression(must, should, mustNot []Condition) (Expression, error) {
	if len(must) > MaxConditionsPerGroup {
		return Expression{}, fmt.Errorf("too many must conditions (max %d)", MaxConditionsPerGroup)
	}
	if len(should) > MaxConditionsPerGroup {
		return Expression{}, fmt.Errorf("too many should conditions (max %d)", MaxConditionsPerGroup)
	}
	if len(mustNot) > MaxConditionsPerGroup {
		return Expression{}, fmt.Errorf("too many must_not conditions (max %d)", MaxConditionsPerGroup)
	}
	return Expression{must: must, should: should, mustNot: mustNot}, nil
}

// ForPages builds the standard page pre-filter. Empty values are not filtered.
func ForPages(division, fileType string) Expression {
	var must []Condition
	if division != "" {
		must = append(must, Condition{key: KeyDivision, match: division})
	}
	if fileType != "" {
		must = append(must, Condition{key: KeyFileType, match: fileType})
	}
	return Expression{must: must}
}

// Must returns the must conditions.
func (e Expression) Must() []Condition { return e.must }

// Should returns the should conditions.
func (e Expression) Should() []Condition { return e.should }

// MustNot returns the must-not conditions.
func (e Expression) MustNot() []Condition { return e.mustNot }

// IsEmpty reports whether the expression has no conditions.
func (e Expression) IsEmpty() bool {
	return len(e.must) == 0 && len(e.should) == 0 && len(e.mustNot) == 0
}

// MustMap returns the must conditions as key/value equality pairs.
func (e Expression) MustMap() map[string]string {
	if len(e.must) == 0 {
		return nil
	}
	m := make(map[string]string, len(e.must))
	for _, c := range e.must {
		m[c.key] = c.match
	}
	return m
}

// Matches evaluates the expression against page metadata. Backends without
// full boolean filtering use it to post-filter candidates.
func (e Expression) Matches(fields map[string]string) bool {
	for _, c := range e.must {
		if fields[c.key] != c.match {
			return false
		}
	}
	for _, c := range e.mustNot {
		if fields[c.key] == c.match {
			return false
		}
	}
	if len(e.should) == 0 {
		return true
	}
	for _, c := range e.should {
		if fields[c.key] == c.match {
			return true
		}
	}
	return false
}

// Condition is a single exact-match clause on a page metadata key.
type Condition struct {
	key   string
	match string
}

// NewMatch creates an exact match condition.
func NewMatch(key, match string) (Condition, error) {
	if key == "" {
		return Condition{}, fmt.Errorf("filter key is required")
	}
	if _, ok := filterableKeys[key]; !ok {
		return Condition{}, fmt.Errorf("key %q is not filterable", key)
	}
	if match == "" {
		return Condition{}, fmt.Errorf("match value is required for key %q", key)
	}
	return Condition{key: key, match: match}, nil
}

// Key returns the field name.
func (c Condition) Key() string { return c.key }

// Match returns the exact match value.
func (c Condition) Match() string { return c.match }
