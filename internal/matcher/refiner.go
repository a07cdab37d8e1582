package matcher

import (
	"regexp"
	"regexp/syntax"
	"strings"

	"github.com/standardbeagle/sift/internal/types"
)

// Refiner derives a refined query's results from a broader query's stored
// lines. Narrowing is only allowed where every line the refinement can match
// already holds a recorded match of the broader query:
//   - text queries whose refinement has no newline
//   - regex queries that cannot match empty text, \n or \r, use no
//     anchors, and whose parse tree starts with the broader pattern's tree
//
// Stored line texts end before a \r\n terminator, so a refinement that could
// consume the \r would lose the matches ending there.
//
// Structural and whole-word queries are never narrowed.
type Refiner struct {
	m *Matcher
}

// NewRefiner creates a refiner that rescans lines with m.
func NewRefiner(m *Matcher) *Refiner {
	return &Refiner{m: m}
}

// CanNarrow reports whether child's results may be computed from parent's.
func (r *Refiner) CanNarrow(parent, child types.QueryParams) bool {
	if !parent.Compatible(child) || !child.Extends(parent) || parent.FindText == "" {
		return false
	}
	if child.WholeWord {
		return false
	}
	switch child.Mode {
	case types.ModeText:
		return !strings.ContainsAny(child.FindText, "\r\n")
	case types.ModeRegex:
		return regexRefines(parent.FindText, child.FindText, !child.MatchCase)
	default:
		return false
	}
}

// Narrow rescans the stored lines of result with child and keeps the lines
// that still match. Offsets stay relative to the whole file.
func (r *Refiner) Narrow(result types.FileResult, child types.QueryParams) types.FileResult {
	out := types.FileResult{FileID: result.FileID, ContentHash: result.ContentHash}
	for _, line := range result.Lines {
		ranges, err := r.m.Match(result.FileID, []byte(line.Text), child)
		if err != nil {
			out.Err = err
			return out
		}
		if len(ranges) == 0 {
			continue
		}
		for _, mr := range ranges {
			out.Matches = append(out.Matches, types.MatchRange{
				Start:  line.Offset + mr.Start,
				End:    line.Offset + mr.End,
				Line:   line.Number,
				Column: mr.Start,
			})
		}
		out.Lines = append(out.Lines, line)
	}
	return out
}

func parseRegex(pattern string, foldCase bool) (*syntax.Regexp, error) {
	flags := syntax.Perl
	if foldCase {
		flags |= syntax.FoldCase
	}
	re, err := syntax.Parse(pattern, flags)
	if err != nil {
		return nil, err
	}
	return re.Simplify(), nil
}

func regexRefines(parent, child string, foldCase bool) bool {
	p, err := parseRegex(parent, foldCase)
	if err != nil {
		return false
	}
	c, err := parseRegex(child, foldCase)
	if err != nil {
		return false
	}
	if !lineBounded(p) || !lineBounded(c) || matchesEmpty(parent) || matchesEmpty(child) {
		return false
	}

	ps, cs := concatElements(p), concatElements(c)
	if len(ps) > len(cs) {
		return false
	}
	for i := range ps {
		if !ps[i].Equal(cs[i]) {
			return false
		}
	}
	return true
}

func matchesEmpty(pattern string) bool {
	re, err := regexp.Compile(pattern)
	return err != nil || re.MatchString("")
}

// lineBounded reports whether re uses no anchors or word boundaries and
// cannot consume a line terminator byte.
func lineBounded(re *syntax.Regexp) bool {
	switch re.Op {
	case syntax.OpBeginLine, syntax.OpEndLine, syntax.OpBeginText, syntax.OpEndText,
		syntax.OpWordBoundary, syntax.OpNoWordBoundary, syntax.OpAnyChar, syntax.OpAnyCharNotNL:
		return false
	case syntax.OpLiteral:
		for _, r := range re.Rune {
			if isLineTerminator(r) {
				return false
			}
		}
	case syntax.OpCharClass:
		for i := 0; i+1 < len(re.Rune); i += 2 {
			if classHas(re.Rune[i], re.Rune[i+1], '\n') || classHas(re.Rune[i], re.Rune[i+1], '\r') {
				return false
			}
		}
	}
	for _, sub := range re.Sub {
		if !lineBounded(sub) {
			return false
		}
	}
	return true
}

func isLineTerminator(r rune) bool {
	return r == '\n' || r == '\r'
}

func classHas(lo, hi, r rune) bool {
	return lo <= r && r <= hi
}

// concatElements flattens a top-level concatenation into its elements, with
// literals split into one element per rune.
func concatElements(re *syntax.Regexp) []*syntax.Regexp {
	parts := []*syntax.Regexp{re}
	if re.Op == syntax.OpConcat {
		parts = re.Sub
	}
	var out []*syntax.Regexp
	for _, p := range parts {
		if p.Op != syntax.OpLiteral {
			out = append(out, p)
			continue
		}
		for _, r := range p.Rune {
			out = append(out, &syntax.Regexp{Op: syntax.OpLiteral, Flags: p.Flags & syntax.FoldCase, Rune: []rune{r}})
		}
	}
	return out
}
