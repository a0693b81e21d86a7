package chunk

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestSlidingWindows(t *testing.T) {
	tests := []struct {
		name    string
		total   int
		size    int
		overlap int
		want    []lineSpan
	}{
		{
			name:  "hundred lines default params",
			total: 100, size: 40, overlap: 8,
			want: []lineSpan{{1, 40}, {33, 72}, {65, 100}},
		},
		{
			name:  "exactly one window",
			total: 40, size: 40, overlap: 8,
			want: []lineSpan{{1, 40}},
		},
		{
			name:  "single line",
			total: 1, size: 40, overlap: 8,
			want: []lineSpan{{1, 1}},
		},
		{
			name:  "one line past the window",
			total: 41, size: 40, overlap: 8,
			want: []lineSpan{{1, 40}, {33, 41}},
		},
		{
			name:  "window boundary lands on final line",
			total: 72, size: 40, overlap: 8,
			want: []lineSpan{{1, 40}, {33, 72}},
		},
		{
			name:  "zero lines",
			total: 0, size: 40, overlap: 8,
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := slidingWindows(tt.total, tt.size, tt.overlap)
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("span %d = %v, want %v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestSlidingWindowsCoverage(t *testing.T) {
	// Whatever the parameters, the union of windows is [1, total].
	for _, total := range []int{1, 7, 39, 40, 41, 100, 517} {
		spans := slidingWindows(total, 40, 8)
		covered := make([]bool, total+1)
		for _, s := range spans {
			if s.start < 1 || s.end > total || s.start > s.end {
				t.Fatalf("total=%d: bad span %v", total, s)
			}
			for l := s.start; l <= s.end; l++ {
				covered[l] = true
			}
		}
		for l := 1; l <= total; l++ {
			if !covered[l] {
				t.Errorf("total=%d: line %d uncovered", total, l)
			}
		}
	}
}

func TestSlidingWindowsDegenerateOverlap(t *testing.T) {
	// overlap >= size degrades to non-overlapping windows
	spans := slidingWindows(100, 10, 10)
	if len(spans) != 10 {
		t.Fatalf("len = %d, want 10", len(spans))
	}
	for i, s := range spans {
		want := lineSpan{start: i*10 + 1, end: (i + 1) * 10}
		if s != want {
			t.Errorf("span %d = %v, want %v", i, s, want)
		}
	}
}

func TestSplitLines(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    int
	}{
		{"no trailing newline", "a\nb", 2},
		{"trailing newline", "a\nb\n", 2},
		{"empty", "", 0},
		{"only newline", "\n", 1},
		{"blank final line", "a\n\n", 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := splitLines(tt.content); len(got) != tt.want {
				t.Errorf("len = %d, want %d (%q)", len(got), tt.want, got)
			}
		})
	}
}

func TestBuildPiecesWithinLimit(t *testing.T) {
	lines := []string{"aaaa", "bbbb", "cccc"}
	pieces := buildPieces(lines, lineSpan{1, 3}, 8000)
	if len(pieces) != 1 {
		t.Fatalf("len = %d, want 1", len(pieces))
	}
	if pieces[0].content != "aaaa\nbbbb\ncccc" || pieces[0].startLine != 1 || pieces[0].endLine != 3 {
		t.Errorf("unexpected piece: %+v", pieces[0])
	}
}

func TestBuildPiecesSplitsAtLineBoundary(t *testing.T) {
	lines := []string{"aaaa", "bbbb", "cccc", "dddd", "eeee"}
	pieces := buildPieces(lines, lineSpan{1, 5}, 9)

	want := []piece{
		{content: "aaaa\nbbbb", startLine: 1, endLine: 2},
		{content: "cccc\ndddd", startLine: 3, endLine: 4},
		{content: "eeee", startLine: 5, endLine: 5},
	}
	if len(pieces) != len(want) {
		t.Fatalf("pieces = %+v, want %+v", pieces, want)
	}
	for i := range want {
		if pieces[i] != want[i] {
			t.Errorf("piece %d = %+v, want %+v", i, pieces[i], want[i])
		}
	}
}

func TestBuildPiecesHardCutsOverlongLine(t *testing.T) {
	long := strings.Repeat("é", 10) // 20 bytes, multibyte runes
	pieces := buildPieces([]string{long}, lineSpan{1, 1}, 7)

	var rejoined strings.Builder
	for _, p := range pieces {
		if len(p.content) > 7 {
			t.Errorf("piece exceeds limit: %d bytes", len(p.content))
		}
		if !utf8.ValidString(p.content) {
			t.Errorf("piece cut mid-rune: %q", p.content)
		}
		if p.startLine != 1 || p.endLine != 1 {
			t.Errorf("hard-cut piece should keep its line: %+v", p)
		}
		rejoined.WriteString(p.content)
	}
	if rejoined.String() != long {
		t.Error("hard-cut pieces do not reassemble the original line")
	}
}

func TestBuildPiecesMixedLongAndShortLines(t *testing.T) {
	lines := []string{"short", strings.Repeat("x", 30), "tail"}
	pieces := buildPieces(lines, lineSpan{1, 3}, 10)

	if len(pieces) < 4 {
		t.Fatalf("len = %d, want >= 4 (short, 3 cuts, tail)", len(pieces))
	}
	if pieces[0].content != "short" {
		t.Errorf("first piece = %q", pieces[0].content)
	}
	last := pieces[len(pieces)-1]
	if last.content != "tail" || last.startLine != 3 {
		t.Errorf("last piece = %+v", last)
	}
}
