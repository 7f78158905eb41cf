package search

import (
	"math"
	"sort"

	"github.com/kailas-cloud/pagedex/internal/domain/division"
	"github.com/kailas-cloud/pagedex/internal/domain/page"
	"github.com/kailas-cloud/pagedex/internal/domain/search/result"
)

// tieEpsilon is the resolution below which two final scores are equal.
const tieEpsilon = 1e-6

type candidate struct {
	page     page.Record
	semantic float64
	keyword  float64
}

// collect merges vector and keyword hits by page id and normalizes both
// scores into [0,1]: cosine is clamped, BM25 is divided by the best BM25 of
// the candidate set. A page absent from one list scores 0 there.
func collect(vector, keyword []result.Hit) []*candidate {
	byID := make(map[string]*candidate, len(vector)+len(keyword))
	order := make([]*candidate, 0, len(vector)+len(keyword))

	get := func(rec page.Record) *candidate {
		if c, ok := byID[rec.ID]; ok {
			if c.page.Text == "" && rec.Text != "" {
				c.page = rec
			}
			return c
		}
		c := &candidate{page: rec}
		byID[rec.ID] = c
		order = append(order, c)
		return c
	}

	for _, h := range vector {
		get(h.Page).semantic = clamp01(h.Score)
	}

	var maxBM25 float64
	for _, h := range keyword {
		maxBM25 = math.Max(maxBM25, h.Score)
	}
	for _, h := range keyword {
		c := get(h.Page)
		if maxBM25 > 0 {
			c.keyword = clamp01(h.Score / maxBM25)
		}
	}
	return order
}

// fuse computes the weighted final score of each candidate.
func fuse(cands []*candidate, wKeyword, wSemantic float64) []result.Result {
	out := make([]result.Result, 0, len(cands))
	for _, c := range cands {
		score := wKeyword*c.keyword + wSemantic*c.semantic
		out = append(out, result.New(c.page, score, c.semantic, c.keyword))
	}
	return out
}

// rank orders results by final score, breaking ties deterministically:
// pages of the caller's home division first, then page number, file path
// and page id.
func rank(rs []result.Result, scope division.Scope) {
	sort.SliceStable(rs, func(i, j int) bool {
		a, b := rs[i], rs[j]
		sa, sb := quantize(a.Score()), quantize(b.Score())
		if sa != sb {
			return sa > sb
		}
		ha, hb := isHome(a, scope), isHome(b, scope)
		if ha != hb {
			return ha
		}
		pa, pb := a.Page(), b.Page()
		if pa.PageNumber != pb.PageNumber {
			return pa.PageNumber < pb.PageNumber
		}
		if pa.FilePath != pb.FilePath {
			return pa.FilePath < pb.FilePath
		}
		return pa.ID < pb.ID
	})
}

func isHome(r result.Result, scope division.Scope) bool {
	return scope.Home != "" && division.Normalize(r.Page().Division) == scope.Home
}

func quantize(score float64) int64 {
	return int64(math.Round(score / tieEpsilon))
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
