package core

import (
	"sort"

	"github.com/standardbeagle/sift/internal/types"
)

// LineIndex maps byte offsets of one file's content to lines.
type LineIndex struct {
	content []byte
	starts  []int // byte offset of every line start
	ends    []int // exclusive end of every line, before \r\n or \n
}

// NewLineIndex builds the index in a single pass over content.
func NewLineIndex(content []byte) *LineIndex {
	n := CountLines(content)
	idx := &LineIndex{
		content: content,
		starts:  make([]int, 0, n),
		ends:    make([]int, 0, n),
	}
	scanner := NewLineScanner(content)
	for scanner.Scan() {
		idx.starts = append(idx.starts, scanner.Offset())
		idx.ends = append(idx.ends, scanner.EndOffset())
	}
	return idx
}

// Lines returns the number of lines.
func (li *LineIndex) Lines() int {
	return len(li.starts)
}

// Locate returns the 1-based line and 0-based byte column of offset.
// Offsets past the end resolve to the last line.
func (li *LineIndex) Locate(offset int) (line, column int) {
	if len(li.starts) == 0 {
		return 1, offset
	}
	// largest start <= offset
	i := sort.Search(len(li.starts), func(i int) bool { return li.starts[i] > offset }) - 1
	if i < 0 {
		i = 0
	}
	return i + 1, offset - li.starts[i]
}

// Line returns the LineText of the 1-based line number.
func (li *LineIndex) Line(number int) (types.LineText, bool) {
	if number < 1 || number > len(li.starts) {
		return types.LineText{}, false
	}
	i := number - 1
	return types.LineText{
		Number: number,
		Offset: li.starts[i],
		Text:   string(li.content[li.starts[i]:li.ends[i]]),
	}, true
}

// Project fills Line and Column of every range and collects the text of each
// distinct line on which a range starts, in line order.
func (li *LineIndex) Project(ranges []types.MatchRange) ([]types.MatchRange, []types.LineText) {
	if len(ranges) == 0 {
		return ranges, nil
	}

	out := make([]types.MatchRange, len(ranges))
	var lines []types.LineText
	last := 0
	for i, r := range ranges {
		r.Line, r.Column = li.Locate(r.Start)
		out[i] = r
		if r.Line != last {
			if lt, ok := li.Line(r.Line); ok {
				lines = append(lines, lt)
			}
			last = r.Line
		}
	}

	// Matchers report ranges in offset order; structural captures may not be.
	if !sort.SliceIsSorted(lines, func(a, b int) bool { return lines[a].Number < lines[b].Number }) {
		sort.Slice(lines, func(a, b int) bool { return lines[a].Number < lines[b].Number })
		lines = dedupLines(lines)
	}
	return out, lines
}

func dedupLines(lines []types.LineText) []types.LineText {
	out := lines[:0]
	for _, l := range lines {
		if len(out) > 0 && out[len(out)-1].Number == l.Number {
			continue
		}
		out = append(out, l)
	}
	return out
}

// ProjectMatches is a convenience for NewLineIndex(content).Project(ranges).
func ProjectMatches(content []byte, ranges []types.MatchRange) ([]types.MatchRange, []types.LineText) {
	if len(ranges) == 0 {
		return nil, nil
	}
	return NewLineIndex(content).Project(ranges)
}
