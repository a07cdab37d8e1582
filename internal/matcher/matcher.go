// Package matcher finds pattern occurrences in file content. Text and regex
// queries run over raw bytes; structural queries run tree-sitter queries over
// the file's syntax tree.
package matcher

import (
	"bytes"
	"fmt"
	"regexp"
	"unicode"
	"unicode/utf8"

	"github.com/standardbeagle/sift/internal/errors"
	"github.com/standardbeagle/sift/internal/types"
)

// Option configures a Matcher.
type Option func(*Matcher)

// WithRegexCacheSize sets the number of compiled patterns kept.
func WithRegexCacheSize(n int) Option {
	return func(m *Matcher) {
		m.regexes = NewRegexCache(n)
	}
}

// Matcher implements text, regex and structural matching. It is safe for
// concurrent use.
type Matcher struct {
	regexes    *RegexCache
	structural *Structural
}

// New creates a matcher.
func New(opts ...Option) *Matcher {
	m := &Matcher{
		regexes:    NewRegexCache(DefaultRegexCacheSize),
		structural: NewStructural(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Supports reports whether the file can be searched in the query's mode.
func (m *Matcher) Supports(id types.FileID, params types.QueryParams) bool {
	if params.Mode == types.ModeStructural {
		return m.structural.Supports(id)
	}
	return true
}

// Validate reports a pattern that cannot match any file, such as a regex
// that does not compile.
func (m *Matcher) Validate(params types.QueryParams) error {
	if params.Mode != types.ModeRegex || params.FindText == "" {
		return nil
	}
	_, err := m.regexes.Get(params.FindText, !params.MatchCase)
	return err
}

// Match returns the match ranges of params in content, in ascending order.
// Line and Column are left zero.
func (m *Matcher) Match(id types.FileID, content []byte, params types.QueryParams) ([]types.MatchRange, error) {
	if params.FindText == "" {
		return nil, nil
	}
	switch params.Mode {
	case types.ModeText:
		return m.matchText(content, params)
	case types.ModeRegex:
		re, err := m.regexes.Get(params.FindText, !params.MatchCase)
		if err != nil {
			return nil, err
		}
		return scanRegexp(content, re, params.WholeWord, false), nil
	case types.ModeStructural:
		ranges, err := m.structural.Match(id, content, params.FindText)
		if err != nil {
			return nil, errors.NewSearchError(params.FindText, err)
		}
		return ranges, nil
	default:
		return nil, fmt.Errorf("unsupported search mode %s", params.Mode)
	}
}

// RegexStats returns the compiled-pattern cache counters.
func (m *Matcher) RegexStats() CacheStats {
	return m.regexes.Stats()
}

// Close releases compiled structural queries.
func (m *Matcher) Close() {
	m.structural.Close()
}

func (m *Matcher) matchText(content []byte, params types.QueryParams) ([]types.MatchRange, error) {
	if params.MatchCase {
		return scanLiteral(content, []byte(params.FindText), params.WholeWord), nil
	}
	re, err := m.regexes.Get(regexp.QuoteMeta(params.FindText), true)
	if err != nil {
		return nil, err
	}
	return scanRegexp(content, re, params.WholeWord, true), nil
}

// scanLiteral finds leftmost non-overlapping occurrences of needle.
func scanLiteral(content, needle []byte, wholeWord bool) []types.MatchRange {
	var out []types.MatchRange
	pos := 0
	for pos+len(needle) <= len(content) {
		i := bytes.Index(content[pos:], needle)
		if i < 0 {
			break
		}
		start, end := pos+i, pos+i+len(needle)
		if wholeWord && !isWholeWord(content, start, end) {
			pos = start + runeLen(content[start:])
			continue
		}
		out = append(out, types.MatchRange{Start: start, End: end})
		pos = end
	}
	return out
}

// scanRegexp finds leftmost non-overlapping matches of re, skipping empty
// ones. A resumable pattern carries no anchors, so a rejected whole-word
// candidate is retried one rune later.
func scanRegexp(content []byte, re *regexp.Regexp, wholeWord, resumable bool) []types.MatchRange {
	var out []types.MatchRange
	if wholeWord && resumable {
		pos := 0
		for pos < len(content) {
			loc := re.FindIndex(content[pos:])
			if loc == nil {
				break
			}
			start, end := pos+loc[0], pos+loc[1]
			if end == start || !isWholeWord(content, start, end) {
				pos = start + runeLen(content[start:])
				continue
			}
			out = append(out, types.MatchRange{Start: start, End: end})
			pos = end
		}
		return out
	}

	for _, loc := range re.FindAllIndex(content, -1) {
		if loc[1] == loc[0] {
			continue
		}
		if wholeWord && !isWholeWord(content, loc[0], loc[1]) {
			continue
		}
		out = append(out, types.MatchRange{Start: loc[0], End: loc[1]})
	}
	return out
}

func runeLen(b []byte) int {
	if len(b) == 0 {
		return 1
	}
	_, size := utf8.DecodeRune(b)
	return size
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

// isWholeWord checks word boundaries on each side of content[start:end]
// whose edge rune is a word rune.
func isWholeWord(content []byte, start, end int) bool {
	first, _ := utf8.DecodeRune(content[start:end])
	if isWordRune(first) && start > 0 {
		before, _ := utf8.DecodeLastRune(content[:start])
		if isWordRune(before) {
			return false
		}
	}
	last, _ := utf8.DecodeLastRune(content[start:end])
	if isWordRune(last) && end < len(content) {
		after, _ := utf8.DecodeRune(content[end:])
		if isWordRune(after) {
			return false
		}
	}
	return true
}
