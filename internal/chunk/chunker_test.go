package chunk

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/VanshDeo/OpenQuest/pkg/models"
)

func newTestChunker(t *testing.T) *Chunker {
	t.Helper()
	c := New()
	t.Cleanup(c.Close)
	return c
}

// checkContentMatchesRange verifies the citability invariant: a chunk's
// content is exactly the inclusive line range it claims.
func checkContentMatchesRange(t *testing.T, content string, chunks []models.Chunk) {
	t.Helper()
	lines := splitLines(content)
	for _, c := range chunks {
		if c.StartLine < 1 || c.EndLine > len(lines) || c.StartLine > c.EndLine {
			t.Errorf("chunk %d has bad range [%d,%d] for %d lines", c.ChunkIndex, c.StartLine, c.EndLine, len(lines))
			continue
		}
		want := strings.Join(lines[c.StartLine-1:c.EndLine], "\n")
		if c.Content != want {
			t.Errorf("chunk %d content does not match lines [%d,%d]", c.ChunkIndex, c.StartLine, c.EndLine)
		}
	}
}

func coveredLines(chunks []models.Chunk) map[int]bool {
	covered := map[int]bool{}
	for _, c := range chunks {
		for l := c.StartLine; l <= c.EndLine; l++ {
			covered[l] = true
		}
	}
	return covered
}

func checkIndexesMonotone(t *testing.T, chunks []models.Chunk) {
	t.Helper()
	for i, c := range chunks {
		if c.ChunkIndex != i {
			t.Errorf("chunk %d has index %d", i, c.ChunkIndex)
		}
	}
}

func TestChunkTypeScriptSymbols(t *testing.T) {
	src := `export function handleLogin(req: Request): Response {
  const token = issueToken(req);
  return respond(200, token);
}

export function handleLogout(req: Request): Response {
  revokeToken(req);
  return respond(204, null);
}
`

	chunks, strategy, err := newTestChunker(t).Chunk(context.Background(), "acme/auth", "src/auth/login.ts", src)
	if err != nil {
		t.Fatalf("Chunk failed: %v", err)
	}

	if strategy != models.StrategyAST {
		t.Errorf("strategy = %q, want %q", strategy, models.StrategyAST)
	}
	if len(chunks) != 2 {
		t.Fatalf("len(chunks) = %d, want 2", len(chunks))
	}
	if chunks[0].SymbolName != "handleLogin" {
		t.Errorf("chunks[0].SymbolName = %q, want handleLogin", chunks[0].SymbolName)
	}
	if chunks[1].SymbolName != "handleLogout" {
		t.Errorf("chunks[1].SymbolName = %q, want handleLogout", chunks[1].SymbolName)
	}
	if chunks[0].Language != "typescript" {
		t.Errorf("Language = %q, want typescript", chunks[0].Language)
	}
	if chunks[0].EndLine >= chunks[1].StartLine {
		t.Errorf("symbol chunks overlap: [%d,%d] then [%d,%d]",
			chunks[0].StartLine, chunks[0].EndLine, chunks[1].StartLine, chunks[1].EndLine)
	}
	checkContentMatchesRange(t, src, chunks)
	checkIndexesMonotone(t, chunks)
}

func TestChunkTypeScriptArrowFunctions(t *testing.T) {
	src := `const add = (a: number, b: number): number => a + b;

export const remove = async (id: string) => {
  await db.delete(id);
};
`

	chunks, strategy, err := newTestChunker(t).Chunk(context.Background(), "acme/api", "src/util.ts", src)
	if err != nil {
		t.Fatalf("Chunk failed: %v", err)
	}

	if strategy != models.StrategyAST {
		t.Fatalf("strategy = %q, want ast", strategy)
	}
	var names []string
	for _, c := range chunks {
		if c.SymbolName != "" {
			names = append(names, c.SymbolName)
		}
	}
	if len(names) != 2 || names[0] != "add" || names[1] != "remove" {
		t.Errorf("symbol names = %v, want [add remove]", names)
	}
}

func TestChunkGoSymbolsWithFiller(t *testing.T) {
	src := `package auth

import "errors"

// Login validates the supplied credentials.
func Login(user, pass string) error {
	if user == "" {
		return errors.New("missing user")
	}
	return nil
}

func Logout(user string) error {
	return nil
}
`

	chunks, strategy, err := newTestChunker(t).Chunk(context.Background(), "acme/api", "internal/auth/auth.go", src)
	if err != nil {
		t.Fatalf("Chunk failed: %v", err)
	}

	if strategy != models.StrategyAST {
		t.Fatalf("strategy = %q, want ast", strategy)
	}
	if len(chunks) != 3 {
		t.Fatalf("len(chunks) = %d, want 3 (filler + two functions)", len(chunks))
	}

	// package clause and import land in a filler chunk without a symbol
	if chunks[0].SymbolName != "" {
		t.Errorf("filler chunk has symbol %q", chunks[0].SymbolName)
	}
	if chunks[1].SymbolName != "Login" {
		t.Errorf("chunks[1].SymbolName = %q, want Login", chunks[1].SymbolName)
	}
	// leading doc comment is part of the symbol chunk
	if !strings.Contains(chunks[1].Content, "// Login validates") {
		t.Errorf("doc comment not attached to symbol chunk: %q", chunks[1].Content)
	}
	if chunks[2].SymbolName != "Logout" {
		t.Errorf("chunks[2].SymbolName = %q, want Logout", chunks[2].SymbolName)
	}

	// ast strategy must cover every non-blank line
	covered := coveredLines(chunks)
	for i, line := range splitLines(src) {
		if strings.TrimSpace(line) == "" {
			continue
		}
		if !covered[i+1] {
			t.Errorf("non-blank line %d not covered by any chunk", i+1)
		}
	}

	checkContentMatchesRange(t, src, chunks)
	checkIndexesMonotone(t, chunks)
}

func TestChunkGoMethodsAndTypes(t *testing.T) {
	src := `package ws

type Workspace struct {
	root string
}

func (w *Workspace) Root() string {
	return w.root
}
`

	chunks, strategy, err := newTestChunker(t).Chunk(context.Background(), "acme/api", "ws/ws.go", src)
	if err != nil {
		t.Fatalf("Chunk failed: %v", err)
	}
	if strategy != models.StrategyAST {
		t.Fatalf("strategy = %q, want ast", strategy)
	}

	var names []string
	for _, c := range chunks {
		if c.SymbolName != "" {
			names = append(names, c.SymbolName)
		}
	}
	if len(names) != 2 || names[0] != "Workspace" || names[1] != "Root" {
		t.Errorf("symbol names = %v, want [Workspace Root]", names)
	}
}

func TestChunkPythonSymbols(t *testing.T) {
	src := `import os

# resolve the workspace root
def resolve_root(path):
    return os.path.abspath(path)

class Workspace:
    def __init__(self, root):
        self.root = root
`

	chunks, strategy, err := newTestChunker(t).Chunk(context.Background(), "acme/tools", "tools/ws.py", src)
	if err != nil {
		t.Fatalf("Chunk failed: %v", err)
	}
	if strategy != models.StrategyAST {
		t.Fatalf("strategy = %q, want ast", strategy)
	}
	if len(chunks) != 3 {
		t.Fatalf("len(chunks) = %d, want 3", len(chunks))
	}
	if chunks[1].SymbolName != "resolve_root" {
		t.Errorf("chunks[1].SymbolName = %q, want resolve_root", chunks[1].SymbolName)
	}
	if !strings.Contains(chunks[1].Content, "# resolve the workspace root") {
		t.Errorf("hash doc comment not attached: %q", chunks[1].Content)
	}
	if chunks[2].SymbolName != "Workspace" {
		t.Errorf("chunks[2].SymbolName = %q, want Workspace", chunks[2].SymbolName)
	}
	// methods stay inside the class chunk, never as separate chunks
	for _, c := range chunks {
		if c.SymbolName == "__init__" {
			t.Error("nested method surfaced as top-level chunk")
		}
	}
}

func TestChunkPythonDecoratedFunction(t *testing.T) {
	src := `@app.route("/health")
def health():
    return "ok"
`

	chunks, strategy, err := newTestChunker(t).Chunk(context.Background(), "acme/tools", "app.py", src)
	if err != nil {
		t.Fatalf("Chunk failed: %v", err)
	}
	if strategy != models.StrategyAST {
		t.Fatalf("strategy = %q, want ast", strategy)
	}
	if len(chunks) != 1 {
		t.Fatalf("len(chunks) = %d, want 1", len(chunks))
	}
	if chunks[0].SymbolName != "health" {
		t.Errorf("SymbolName = %q, want health", chunks[0].SymbolName)
	}
	if chunks[0].StartLine != 1 {
		t.Errorf("decorator not included: StartLine = %d, want 1", chunks[0].StartLine)
	}
}

func TestChunkMarkdownSlidingWindow(t *testing.T) {
	var b strings.Builder
	for i := 1; i <= 100; i++ {
		fmt.Fprintf(&b, "Line %d of the architecture notes.\n", i)
	}
	src := b.String()

	chunks, strategy, err := newTestChunker(t).Chunk(context.Background(), "acme/docs", "docs/notes.md", src)
	if err != nil {
		t.Fatalf("Chunk failed: %v", err)
	}

	if strategy != models.StrategySlidingWindow {
		t.Errorf("strategy = %q, want sliding-window", strategy)
	}
	if len(chunks) < 2 {
		t.Fatalf("len(chunks) = %d, want >= 2", len(chunks))
	}
	for _, c := range chunks {
		if c.StartLine < 1 || c.EndLine > 100 {
			t.Errorf("chunk range [%d,%d] outside [1,100]", c.StartLine, c.EndLine)
		}
		if c.SymbolName != "" {
			t.Errorf("sliding-window chunk has symbol %q", c.SymbolName)
		}
		if c.Language != "markdown" {
			t.Errorf("Language = %q, want markdown", c.Language)
		}
	}

	// sliding-window covers every line, blank or not
	covered := coveredLines(chunks)
	for l := 1; l <= 100; l++ {
		if !covered[l] {
			t.Errorf("line %d not covered", l)
		}
	}
	checkContentMatchesRange(t, src, chunks)
	checkIndexesMonotone(t, chunks)
}

func TestChunkOversizeSymbolSplit(t *testing.T) {
	var b strings.Builder
	b.WriteString("package big\n\nfunc Generated() {\n")
	for i := 0; i < 400; i++ {
		fmt.Fprintf(&b, "\tuse(%q)\n", strings.Repeat("x", 30))
	}
	b.WriteString("}\n")
	src := b.String()

	chunks, strategy, err := newTestChunker(t).Chunk(context.Background(), "acme/big", "gen/big.go", src)
	if err != nil {
		t.Fatalf("Chunk failed: %v", err)
	}
	if strategy != models.StrategyAST {
		t.Fatalf("strategy = %q, want ast", strategy)
	}

	var symbolPieces []models.Chunk
	for _, c := range chunks {
		if c.SymbolName == "Generated" || (c.StartLine >= 3 && c.SymbolName == "") {
			symbolPieces = append(symbolPieces, c)
		}
	}
	if len(symbolPieces) < 2 {
		t.Fatalf("oversize symbol not split: %d pieces", len(symbolPieces))
	}
	if symbolPieces[0].SymbolName != "Generated" {
		t.Errorf("first piece lost its symbol name: %q", symbolPieces[0].SymbolName)
	}
	for i, c := range symbolPieces[1:] {
		if c.SymbolName != "" {
			t.Errorf("piece %d kept symbol name %q, want empty", i+1, c.SymbolName)
		}
	}
	for _, c := range chunks {
		if len(c.Content) > DefaultMaxChunkChars {
			t.Errorf("chunk %d exceeds max chars: %d", c.ChunkIndex, len(c.Content))
		}
	}
	checkContentMatchesRange(t, src, chunks)
	checkIndexesMonotone(t, chunks)
}

func TestChunkEdgeCases(t *testing.T) {
	tests := []struct {
		name         string
		path         string
		content      string
		wantChunks   int
		wantStrategy models.ChunkStrategy
	}{
		{
			name:         "empty file yields zero chunks",
			path:         "empty.md",
			content:      "",
			wantChunks:   0,
			wantStrategy: models.StrategySlidingWindow,
		},
		{
			name:         "whitespace only yields zero chunks",
			path:         "blank.md",
			content:      "\n\n  \n",
			wantChunks:   0,
			wantStrategy: models.StrategySlidingWindow,
		},
		{
			name:         "single line yields one chunk",
			path:         "title.md",
			content:      "# Architecture\n",
			wantChunks:   1,
			wantStrategy: models.StrategySlidingWindow,
		},
		{
			name:         "comments-only source falls back to windows",
			path:         "license-header.ts",
			content:      "// Copyright the project authors.\n// All rights reserved.\n",
			wantChunks:   1,
			wantStrategy: models.StrategySlidingWindow,
		},
		{
			name:         "unknown extension falls back to windows",
			path:         "data.bin.txt",
			content:      "just some text\n",
			wantChunks:   1,
			wantStrategy: models.StrategySlidingWindow,
		},
	}

	c := newTestChunker(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chunks, strategy, err := c.Chunk(context.Background(), "acme/x", tt.path, tt.content)
			if err != nil {
				t.Fatalf("Chunk failed: %v", err)
			}
			if len(chunks) != tt.wantChunks {
				t.Errorf("len(chunks) = %d, want %d", len(chunks), tt.wantChunks)
			}
			if strategy != tt.wantStrategy {
				t.Errorf("strategy = %q, want %q", strategy, tt.wantStrategy)
			}
		})
	}
}

func TestChunkRoundTripStableSymbols(t *testing.T) {
	src := `export function first(): number {
  return 1;
}

export function second(): number {
  return 2;
}
`

	c := newTestChunker(t)
	chunks1, _, err := c.Chunk(context.Background(), "acme/x", "src/a.ts", src)
	if err != nil {
		t.Fatalf("first Chunk failed: %v", err)
	}

	// reassemble from chunks and chunk again
	lines := splitLines(src)
	var parts []string
	last := 0
	for _, ch := range chunks1 {
		if ch.StartLine > last+1 {
			parts = append(parts, strings.Join(lines[last:ch.StartLine-1], "\n"))
		}
		parts = append(parts, ch.Content)
		last = ch.EndLine
	}
	reassembled := strings.Join(parts, "\n")

	chunks2, _, err := c.Chunk(context.Background(), "acme/x", "src/a.ts", reassembled)
	if err != nil {
		t.Fatalf("second Chunk failed: %v", err)
	}

	symbols := func(cs []models.Chunk) []string {
		var out []string
		for _, ch := range cs {
			if ch.SymbolName != "" {
				out = append(out, ch.SymbolName)
			}
		}
		return out
	}
	s1, s2 := symbols(chunks1), symbols(chunks2)
	if len(s1) != len(s2) {
		t.Fatalf("symbol sets differ: %v vs %v", s1, s2)
	}
	for i := range s1 {
		if s1[i] != s2[i] {
			t.Errorf("symbol %d: %q vs %q", i, s1[i], s2[i])
		}
	}
}

func TestChunkIDStability(t *testing.T) {
	a := chunkID("acme/x", "src/a.ts", 0, "content")
	b := chunkID("acme/x", "src/a.ts", 0, "content")
	if a != b {
		t.Error("chunkID not deterministic")
	}
	if chunkID("acme/x", "src/a.ts", 1, "content") == a {
		t.Error("chunkID ignores index")
	}
	if chunkID("acme/y", "src/a.ts", 0, "content") == a {
		t.Error("chunkID ignores repo")
	}
	if chunkID("acme/x", "src/a.ts", 0, "other") == a {
		t.Error("chunkID ignores content")
	}
	if len(a) != 32 {
		t.Errorf("chunkID length = %d, want 32", len(a))
	}
}

func TestDetectLanguage(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"src/auth/login.ts", "typescript"},
		{"web/App.tsx", "tsx"},
		{"lib/index.js", "javascript"},
		{"scripts/build.mjs", "javascript"},
		{"cmd/api/main.go", "go"},
		{"tools/gen.py", "python"},
		{"README.md", "markdown"},
		{"config.yaml", "yaml"},
		{"schema.sql", "sql"},
		{"Dockerfile", "dockerfile"},
		{"Makefile", "makefile"},
		{"LICENSE", ""},
		{"image.png", ""},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if got := DetectLanguage(tt.path); got != tt.want {
				t.Errorf("DetectLanguage(%q) = %q, want %q", tt.path, got, tt.want)
			}
		})
	}
}

func TestChunkCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := newTestChunker(t).Chunk(ctx, "acme/x", "src/a.ts", "export function f() {}\n")
	if err == nil {
		t.Skip("parser completed before observing cancellation")
	}
	if ctx.Err() == nil {
		t.Error("expected context error")
	}
}
