package types

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// Common system-wide constants
const (
	// File size limits
	DefaultMaxFileSize = 10 * 1024 * 1024 // 10MB per file

	// Default number of concurrently scanned files
	DefaultConcurrency = 8

	// Default buffer size of a run's event channel
	DefaultEventBuffer = 256

	// Number of bytes read for binary magic number detection
	BinaryPreCheckBytes = 512
)

// FileID identifies a file by its slash-separated path relative to the project root.
type FileID string

// SearchMode selects the pattern language of a query.
type SearchMode uint8

const (
	ModeText SearchMode = iota
	ModeRegex
	ModeStructural
)

func (m SearchMode) String() string {
	switch m {
	case ModeText:
		return "text"
	case ModeRegex:
		return "regex"
	case ModeStructural:
		return "structural"
	default:
		return fmt.Sprintf("mode(%d)", uint8(m))
	}
}

// ParseSearchMode converts a mode name ("text", "regex", "structural") to a SearchMode.
func ParseSearchMode(s string) (SearchMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "text", "literal":
		return ModeText, nil
	case "regex", "regexp":
		return ModeRegex, nil
	case "structural", "ast":
		return ModeStructural, nil
	default:
		return ModeText, fmt.Errorf("unknown search mode %q", s)
	}
}

// Scope selects the file set of a query.
type Scope uint8

const (
	ScopeGlobal Scope = iota
	ScopeCurrentFile
)

func (s Scope) String() string {
	switch s {
	case ScopeGlobal:
		return "global"
	case ScopeCurrentFile:
		return "current_file"
	default:
		return fmt.Sprintf("scope(%d)", uint8(s))
	}
}

// QueryParams is the immutable description of one search request.
type QueryParams struct {
	FindText  string
	MatchCase bool
	WholeWord bool
	Include   string // comma-separated globs, passed through to enumeration
	Exclude   string // comma-separated globs, passed through to enumeration
	Mode      SearchMode
	Scope     Scope

	// ActiveFile is the file searched when Scope is ScopeCurrentFile.
	ActiveFile FileID
}

// Normalize returns a copy with fields that do not affect the file set cleared.
func (q QueryParams) Normalize() QueryParams {
	if q.Scope != ScopeCurrentFile {
		q.ActiveFile = ""
	}
	q.Include = strings.TrimSpace(q.Include)
	q.Exclude = strings.TrimSpace(q.Exclude)
	return q
}

// Validate reports malformed parameters.
func (q QueryParams) Validate() error {
	if q.Mode > ModeStructural {
		return fmt.Errorf("invalid search mode %d", q.Mode)
	}
	if q.Scope > ScopeCurrentFile {
		return fmt.Errorf("invalid scope %d", q.Scope)
	}
	if q.Scope == ScopeCurrentFile && q.ActiveFile == "" {
		return fmt.Errorf("current file scope requires an active file")
	}
	return nil
}

// Compatible reports whether q and other are equal in every field except FindText.
func (q QueryParams) Compatible(other QueryParams) bool {
	a, b := q.Normalize(), other.Normalize()
	a.FindText, b.FindText = "", ""
	return a == b
}

// Extends reports whether q.FindText starts with parent.FindText.
// The comparison folds case when q does not match case.
func (q QueryParams) Extends(parent QueryParams) bool {
	if q.MatchCase {
		return strings.HasPrefix(q.FindText, parent.FindText)
	}
	rest := q.FindText
	for _, pr := range parent.FindText {
		if rest == "" {
			return false
		}
		cr, size := utf8.DecodeRuneInString(rest)
		if cr != pr && !strings.EqualFold(string(cr), string(pr)) {
			return false
		}
		rest = rest[size:]
	}
	return true
}

// SameText reports whether q and other carry the same FindText under q's case rules.
func (q QueryParams) SameText(other QueryParams) bool {
	if q.MatchCase {
		return q.FindText == other.FindText
	}
	return strings.EqualFold(q.FindText, other.FindText)
}

func (q QueryParams) String() string {
	var flags []string
	if q.MatchCase {
		flags = append(flags, "case")
	}
	if q.WholeWord {
		flags = append(flags, "word")
	}
	s := fmt.Sprintf("%s %q", q.Mode, q.FindText)
	if len(flags) > 0 {
		s += " [" + strings.Join(flags, ",") + "]"
	}
	if q.Scope == ScopeCurrentFile {
		s += " in " + string(q.ActiveFile)
	}
	return s
}

// MatchRange is a byte range into a file's content at scan time, with its
// 1-based line and 0-based byte column.
type MatchRange struct {
	Start  int `json:"start"`
	End    int `json:"end"`
	Line   int `json:"line,omitempty"`
	Column int `json:"column,omitempty"`
}

// LineText is the full text of a line that contains at least one match.
type LineText struct {
	Number int    `json:"number"` // 1-based
	Offset int    `json:"offset"` // byte offset of the line start
	Text   string `json:"text"`
}

// FileResult holds the matches of one file for one query.
type FileResult struct {
	FileID      FileID       `json:"file_id"`
	Matches     []MatchRange `json:"matches"`
	Lines       []LineText   `json:"lines,omitempty"`
	Err         error        `json:"-"`
	ContentHash uint64       `json:"-"`
}

// HasMatches reports whether the file matched at least once.
func (r FileResult) HasMatches() bool {
	return len(r.Matches) > 0
}

// LineFor returns the stored line with the given number.
func (r FileResult) LineFor(number int) (LineText, bool) {
	for _, l := range r.Lines {
		if l.Number == number {
			return l, true
		}
	}
	return LineText{}, false
}
