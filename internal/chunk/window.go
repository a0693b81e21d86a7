package chunk

import (
	"strings"
	"unicode/utf8"
)

// lineSpan is a 1-based inclusive line range.
type lineSpan struct {
	start int
	end   int
}

// splitLines splits content on newlines, dropping the phantom final
// element a trailing newline produces.
func splitLines(content string) []string {
	lines := strings.Split(content, "\n")
	if n := len(lines); n > 0 && lines[n-1] == "" {
		lines = lines[:n-1]
	}
	return lines
}

// slidingWindows covers [1, total] with fixed-size windows. Consecutive
// windows overlap by overlap lines; the final window keeps at least
// overlap lines even when that re-covers part of its predecessor.
func slidingWindows(total, size, overlap int) []lineSpan {
	if total <= 0 {
		return nil
	}
	if size <= 0 || total <= size {
		return []lineSpan{{start: 1, end: total}}
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}
	step := size - overlap

	var spans []lineSpan
	for start := 1; start <= total; start += step {
		end := start + size - 1
		if end >= total {
			if total-start+1 < overlap {
				start = total - overlap + 1
				if start < 1 {
					start = 1
				}
			}
			spans = append(spans, lineSpan{start: start, end: total})
			break
		}
		spans = append(spans, lineSpan{start: start, end: end})
	}
	return spans
}

// piece is the chunk-sized unit a span is cut into.
type piece struct {
	content   string
	startLine int
	endLine   int
}

// buildPieces renders a span and, when it exceeds max characters, splits
// it at line boundaries. A single line longer than max is cut mid-line
// as a last resort; its pieces share the same line number.
func buildPieces(lines []string, span lineSpan, max int) []piece {
	content := strings.Join(lines[span.start-1:span.end], "\n")
	if max <= 0 || len(content) <= max {
		return []piece{{content: content, startLine: span.start, endLine: span.end}}
	}

	var pieces []piece
	cur := span.start
	for cur <= span.end {
		line := lines[cur-1]
		if len(line) > max {
			for off := 0; off < len(line); {
				end := off + max
				if end >= len(line) {
					end = len(line)
				} else {
					for end > off && !utf8.RuneStart(line[end]) {
						end--
					}
				}
				pieces = append(pieces, piece{content: line[off:end], startLine: cur, endLine: cur})
				off = end
			}
			cur++
			continue
		}

		size := 0
		end := cur
		for end <= span.end && len(lines[end-1]) <= max {
			add := len(lines[end-1])
			if end > cur {
				add++ // joining newline
			}
			if size+add > max {
				break
			}
			size += add
			end++
		}
		pieces = append(pieces, piece{
			content:   strings.Join(lines[cur-1:end], "\n"),
			startLine: cur,
			endLine:   end - 1,
		})
		cur = end
	}
	return pieces
}
