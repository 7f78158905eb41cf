// Package textproc normalizes extracted page text and tags its dominant language.
package textproc

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/abadojack/whatlanggo"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// LangUnknown is reported when detection is not reliable.
const LangUnknown = "unknown"

// minDetectRunes is the shortest text the detector is asked about.
const minDetectRunes = 20

var (
	// Control characters other than line and page breaks, plus the BOM and zero-width marks.
	stripped = runes.Remove(runes.Predicate(func(r rune) bool {
		if r == '\n' || r == '\t' || r == '\r' || r == '\f' {
			return false
		}
		return unicode.IsControl(r) || r == '\uFEFF' || r == '\u200B' || r == '\u00AD'
	}))

	detectOpts = whatlanggo.Options{
		Whitelist: map[whatlanggo.Lang]bool{
			whatlanggo.Fra: true,
			whatlanggo.Eng: true,
			whatlanggo.Deu: true,
			whatlanggo.Spa: true,
			whatlanggo.Por: true,
			whatlanggo.Ita: true,
		},
	}
)

// Clean returns NFC-normalized text with control characters removed,
// hyphenated line breaks joined, runs of blanks collapsed and at most one
// empty line between paragraphs.
func Clean(text string) string {
	if text == "" {
		return ""
	}
	out, _, err := transform.String(transform.Chain(norm.NFC, stripped), text)
	if err != nil {
		out = norm.NFC.String(text)
	}
	out = strings.ReplaceAll(out, "\r\n", "\n")
	out = strings.ReplaceAll(out, "\r", "\n")
	out = strings.ReplaceAll(out, "\f", "\n")

	lines := strings.Split(out, "\n")
	var b strings.Builder
	b.Grow(len(out))
	blank := 0
	for i := 0; i < len(lines); i++ {
		line := strings.Join(strings.Fields(lines[i]), " ")
		if line == "" {
			blank++
			continue
		}
		// "exer-\ncice" -> "exercice"
		for strings.HasSuffix(line, "-") && i+1 < len(lines) && startsLower(lines[i+1]) {
			i++
			line = strings.TrimSuffix(line, "-") + strings.Join(strings.Fields(lines[i]), " ")
		}
		if b.Len() > 0 {
			if blank > 0 {
				b.WriteString("\n\n")
			} else {
				b.WriteByte('\n')
			}
		}
		blank = 0
		b.WriteString(line)
	}
	return b.String()
}

func startsLower(s string) bool {
	s = strings.TrimSpace(s)
	for _, r := range s {
		return unicode.IsLower(r)
	}
	return false
}

// DetectLanguage returns the ISO 639-1 code of the dominant language of text,
// or LangUnknown when the text is too short or detection is unreliable.
func DetectLanguage(text string) string {
	if len([]rune(text)) < minDetectRunes {
		return LangUnknown
	}
	info := whatlanggo.DetectWithOptions(text, detectOpts)
	if !info.IsReliable() {
		return LangUnknown
	}
	code := info.Lang.Iso6391()
	if code == "" {
		return LangUnknown
	}
	return code
}

// WordCount counts whitespace separated words.
func WordCount(text string) int {
	return len(strings.Fields(text))
}

// Density returns non-space characters per square inch for a page of the
// given size in PDF points. It returns 0 for a degenerate page.
func Density(text string, widthPt, heightPt float64) float64 {
	if widthPt <= 0 || heightPt <= 0 {
		return 0
	}
	n := 0
	for _, r := range text {
		if !unicode.IsSpace(r) {
			n++
		}
	}
	area := (widthPt / 72) * (heightPt / 72)
	return float64(n) / area
}

// Paginate splits text into pages of at most budget bytes, cutting at the
// last whitespace before the budget when there is one. Form feeds force a
// page break. Empty input yields no pages. A page never exceeds budget
// unless budget is narrower than a single rune.
func Paginate(text string, budget int) []string {
	if budget <= 0 {
		budget = 3000
	}
	var pages []string
	for _, section := range strings.Split(text, "\f") {
		section = strings.TrimSpace(section)
		for section != "" {
			if len(section) <= budget {
				pages = append(pages, section)
				break
			}
			cut := budget
			// stay on a rune boundary
			for cut > 0 && !isRuneStart(section[cut]) {
				cut--
			}
			if cut == 0 {
				// budget narrower than the first rune: a page holds at least one
				_, cut = utf8.DecodeRuneInString(section)
			} else if ws := strings.LastIndexAny(section[:cut], " \n\t"); ws > budget/2 {
				cut = ws
			}
			pages = append(pages, strings.TrimSpace(section[:cut]))
			section = strings.TrimSpace(section[cut:])
		}
	}
	return pages
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }
