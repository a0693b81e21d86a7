// Package chunk splits accepted files into citable retrieval chunks.
// Files in languages with a registered grammar are chunked per top-level
// symbol with small filler windows covering the code between symbols;
// everything else falls back to fixed-size sliding windows.
package chunk

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/VanshDeo/OpenQuest/pkg/models"
)

const (
	DefaultWindowLines   = 40
	DefaultOverlapLines  = 8
	DefaultMaxChunkChars = 8000
)

type Options struct {
	WindowLines   int
	OverlapLines  int
	MaxChunkChars int
}

// Chunker turns one file into chunks. Not safe for concurrent use;
// construct one per worker goroutine.
type Chunker struct {
	parser   *Parser
	registry *LanguageRegistry
	opts     Options
}

func New() *Chunker {
	return NewWithOptions(Options{})
}

func NewWithOptions(opts Options) *Chunker {
	if opts.WindowLines <= 0 {
		opts.WindowLines = DefaultWindowLines
	}
	if opts.OverlapLines <= 0 {
		opts.OverlapLines = DefaultOverlapLines
	}
	if opts.MaxChunkChars <= 0 {
		opts.MaxChunkChars = DefaultMaxChunkChars
	}

	registry := DefaultRegistry()
	return &Chunker{
		parser:   NewParserWithRegistry(registry),
		registry: registry,
		opts:     opts,
	}
}

// Close releases parser resources.
func (c *Chunker) Close() {
	if c.parser != nil {
		c.parser.Close()
	}
}

// Chunk splits one file. Strategy is ast when the language has a grammar
// and at least one top-level symbol was found, sliding-window otherwise.
// Empty files yield zero chunks. chunkIndex runs in file order from 0.
func (c *Chunker) Chunk(ctx context.Context, repoID, filePath, content string) ([]models.Chunk, models.ChunkStrategy, error) {
	language := DetectLanguage(filePath)
	lines := splitLines(content)
	if len(lines) == 0 || strings.TrimSpace(content) == "" {
		return nil, models.StrategySlidingWindow, nil
	}

	if cfg, ok := c.registry.ByName(language); ok {
		spans, err := c.symbolSpans(ctx, []byte(content), cfg, lines)
		if err != nil {
			return nil, "", err
		}
		if len(spans) > 0 {
			regions := c.symbolRegions(lines, spans)
			return c.buildChunks(repoID, filePath, language, lines, regions), models.StrategyAST, nil
		}
	}

	regions := make([]chunkRegion, 0)
	for _, span := range slidingWindows(len(lines), c.opts.WindowLines, c.opts.OverlapLines) {
		regions = append(regions, chunkRegion{span: span})
	}
	return c.buildChunks(repoID, filePath, language, lines, regions), models.StrategySlidingWindow, nil
}

// symbolSpans parses the file and locates top-level symbols. Parse
// failures other than context cancellation degrade to the sliding
// window by returning no spans.
func (c *Chunker) symbolSpans(ctx context.Context, source []byte, cfg *LanguageConfig, lines []string) ([]symbolSpan, error) {
	tree, err := c.parser.Parse(ctx, source, cfg.Name)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, nil
	}
	if tree.Root == nil {
		return nil, nil
	}
	return findTopLevelSymbols(tree, cfg, lines), nil
}

// chunkRegion is a line span plus the symbol it was cut for, if any.
type chunkRegion struct {
	span   lineSpan
	symbol string
}

// symbolRegions interleaves symbol spans with filler windows over the
// lines between them, so every non-blank line of the file lands in some
// chunk.
func (c *Chunker) symbolRegions(lines []string, spans []symbolSpan) []chunkRegion {
	var regions []chunkRegion
	pos := 1
	for _, s := range spans {
		if s.startLine > pos {
			regions = append(regions, c.fillerRegions(lines, pos, s.startLine-1)...)
		}
		regions = append(regions, chunkRegion{
			span:   lineSpan{start: s.startLine, end: s.endLine},
			symbol: s.name,
		})
		pos = s.endLine + 1
	}
	if pos <= len(lines) {
		regions = append(regions, c.fillerRegions(lines, pos, len(lines))...)
	}
	return regions
}

// fillerRegions windows the gap [from, to], trimmed of blank edges.
// Gaps that are blank all the way through produce nothing.
func (c *Chunker) fillerRegions(lines []string, from, to int) []chunkRegion {
	for from <= to && strings.TrimSpace(lines[from-1]) == "" {
		from++
	}
	for to >= from && strings.TrimSpace(lines[to-1]) == "" {
		to--
	}
	if from > to {
		return nil
	}

	var regions []chunkRegion
	for _, span := range slidingWindows(to-from+1, c.opts.WindowLines, c.opts.OverlapLines) {
		regions = append(regions, chunkRegion{
			span: lineSpan{start: span.start + from - 1, end: span.end + from - 1},
		})
	}
	return regions
}

func (c *Chunker) buildChunks(repoID, filePath, language string, lines []string, regions []chunkRegion) []models.Chunk {
	chunks := make([]models.Chunk, 0, len(regions))
	index := 0
	for _, r := range regions {
		for i, p := range buildPieces(lines, r.span, c.opts.MaxChunkChars) {
			symbol := ""
			if i == 0 {
				// oversize symbols keep their name on the first piece only
				symbol = r.symbol
			}
			chunks = append(chunks, models.Chunk{
				ID:         chunkID(repoID, filePath, index, p.content),
				RepoID:     repoID,
				FilePath:   filePath,
				Language:   language,
				SymbolName: symbol,
				StartLine:  p.startLine,
				EndLine:    p.endLine,
				Content:    p.content,
				ChunkIndex: index,
			})
			index++
		}
	}
	return chunks
}

// chunkID derives a stable id from the chunk's identity and content, so
// re-ingesting an unchanged file reproduces the same ids.
func chunkID(repoID, filePath string, index int, content string) string {
	contentHash := sha256.Sum256([]byte(content))
	input := fmt.Sprintf("%s|%s|%d|%s", repoID, filePath, index, hex.EncodeToString(contentHash[:]))
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])[:32]
}
