package core

import (
	"bytes"
)

// LineScanner provides zero-allocation line iteration over byte content.
//
// Usage:
//
//	scanner := NewLineScanner(content)
//	for scanner.Scan() {
//	    line := scanner.Bytes()   // zero-copy view of the current line
//	    n := scanner.LineNumber() // 1-based
//	}
type LineScanner struct {
	data    []byte
	start   int // Start of current line
	end     int // End of current line (exclusive, before newline)
	pos     int
	lineNum int
	done    bool
}

// NewLineScanner creates a new line scanner for the given content.
// The scanner strips trailing \r\n or \n from each line.
func NewLineScanner(data []byte) *LineScanner {
	return &LineScanner{data: data}
}

// Scan advances to the next line. Returns false when done.
func (ls *LineScanner) Scan() bool {
	if ls.done || ls.pos >= len(ls.data) {
		ls.done = true
		return false
	}

	ls.start = ls.pos
	ls.lineNum++

	idx := bytes.IndexByte(ls.data[ls.pos:], '\n')
	if idx < 0 {
		ls.end = len(ls.data)
		ls.pos = len(ls.data)
	} else {
		ls.end = ls.pos + idx
		ls.pos += idx + 1
	}

	if ls.end > ls.start && ls.data[ls.end-1] == '\r' {
		ls.end--
	}
	return true
}

// Bytes returns the current line as a byte slice (zero-copy).
// The returned slice is valid until the next Scan call.
func (ls *LineScanner) Bytes() []byte {
	if ls.start > len(ls.data) || ls.end > len(ls.data) {
		return nil
	}
	return ls.data[ls.start:ls.end]
}

// Text returns the current line as a string.
func (ls *LineScanner) Text() string {
	return string(ls.Bytes())
}

// LineNumber returns the current line number (1-based).
func (ls *LineScanner) LineNumber() int {
	return ls.lineNum
}

// Offset returns the byte offset of the current line start.
func (ls *LineScanner) Offset() int {
	return ls.start
}

// EndOffset returns the byte offset of the current line end (exclusive, before any \r\n).
func (ls *LineScanner) EndOffset() int {
	return ls.end
}

// CountLines counts the number of lines in content without allocation.
func CountLines(data []byte) int {
	if len(data) == 0 {
		return 0
	}
	newlines := bytes.Count(data, []byte{'\n'})
	if data[len(data)-1] != '\n' {
		return newlines + 1
	}
	return newlines
}
