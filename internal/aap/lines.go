package aap

import "bytes"

// lineSplitter cuts a byte stream into lines on \n, \r or \r\n. The empty line
// between \r and \n is emitted and left to the caller to skip. A line that grows
// past max is dropped up to the next terminator and reported by its length.
type lineSplitter struct {
	max     int
	line    []byte
	dropped int
}

func newLineSplitter(max int) *lineSplitter {
	return &lineSplitter{max: max}
}

// feed consumes data, calling emit for every completed line and oversized for
// every dropped one. Bytes after the last terminator are kept for the next call.
func (ls *lineSplitter) feed(data []byte, emit func(string), oversized func(int)) {
	for len(data) > 0 {
		i := bytes.IndexAny(data, "\r\n")
		if i < 0 {
			ls.add(data)
			return
		}
		ls.add(data[:i])
		ls.end(emit, oversized)
		data = data[i+1:]
	}
}

// flush ends a trailing line that has no terminator.
func (ls *lineSplitter) flush(emit func(string), oversized func(int)) {
	if len(ls.line) > 0 || ls.dropped > 0 {
		ls.end(emit, oversized)
	}
}

func (ls *lineSplitter) add(part []byte) {
	if ls.dropped > 0 {
		ls.dropped += len(part)
		return
	}
	if len(ls.line)+len(part) > ls.max {
		ls.dropped = len(ls.line) + len(part)
		ls.line = ls.line[:0]
		return
	}
	ls.line = append(ls.line, part...)
}

func (ls *lineSplitter) end(emit func(string), oversized func(int)) {
	if ls.dropped > 0 {
		oversized(ls.dropped)
		ls.dropped = 0
		return
	}
	emit(string(ls.line))
	ls.line = ls.line[:0]
}
