package ai

import (
	"context"
	"hash/fnv"
	"math"
	"regexp"
	"strings"
	"unicode"

	"github.com/VanshDeo/OpenQuest/internal/apperr"
)

// LocalDim is the vector size of the local embedder. Indexes written with it
// carry the local model tag and are never mixed with hosted-model indexes.
const LocalDim = 256

const localModelTag = "local-static-256"

// Term weights for the local vector: identifier tokens dominate, character
// trigrams add fuzz tolerance for partial matches.
const (
	localTokenWeight = 0.7
	localNgramWeight = 0.3
	localNgramSize   = 3
)

// codeStopWords are keywords so common across languages that they carry no
// retrieval signal.
var codeStopWords = map[string]bool{
	"func": true, "function": true, "def": true, "class": true,
	"return": true, "import": true, "const": true, "var": true,
	"let": true, "int": true, "string": true, "bool": true,
	"void": true, "true": true, "false": true, "nil": true,
	"null": true, "this": true, "self": true, "new": true,
}

var wordRegex = regexp.MustCompile(`[a-zA-Z0-9]+`)

// LocalClient embeds text without any network dependency: identifier tokens
// and character trigrams are hashed into a fixed-size vector which is then
// unit-normalized. Deterministic, fast, and strictly development-grade.
type LocalClient struct{}

// NewLocalClient creates the offline embedder.
func NewLocalClient() *LocalClient {
	return &LocalClient{}
}

func (c *LocalClient) EmbedBatch(ctx context.Context, texts []string, task TaskType) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, apperr.Wrap(apperr.Cancelled, err, "embedding aborted")
		}
		out[i] = c.embed(text)
	}
	return out, nil
}

// StreamAnswer always fails: the local provider has no language model behind
// it, only retrieval.
func (c *LocalClient) StreamAnswer(ctx context.Context, system, user string, onToken func(string)) (string, error) {
	return "", apperr.New(apperr.UpstreamUnavailable, "local provider cannot generate answers; configure a hosted provider")
}

func (c *LocalClient) EmbeddingModel() string { return localModelTag }

func (c *LocalClient) AnswerModel() string { return "" }

func (c *LocalClient) Dim() int { return LocalDim }

func (c *LocalClient) DevOnly() bool { return true }

func (c *LocalClient) Close() error { return nil }

func (c *LocalClient) embed(text string) []float32 {
	vector := make([]float32, LocalDim)

	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return vector
	}

	for _, token := range localTokens(trimmed) {
		vector[hashIndex(token)] += localTokenWeight
	}
	squashed := squashAlnum(trimmed)
	for i := 0; i+localNgramSize <= len(squashed); i++ {
		vector[hashIndex(squashed[i:i+localNgramSize])] += localNgramWeight
	}

	return unitNorm(vector)
}

// localTokens lowercases and splits identifiers the way a code search wants
// them: on word boundaries, then on snake_case and camelCase seams, with
// keyword noise removed.
func localTokens(text string) []string {
	var tokens []string
	for _, word := range wordRegex.FindAllString(text, -1) {
		for _, part := range splitIdentifier(word) {
			lower := strings.ToLower(part)
			if lower == "" || codeStopWords[lower] {
				continue
			}
			tokens = append(tokens, lower)
		}
	}
	return tokens
}

func splitIdentifier(token string) []string {
	if strings.Contains(token, "_") {
		var result []string
		for _, part := range strings.Split(token, "_") {
			if part != "" {
				result = append(result, splitCamelCase(part)...)
			}
		}
		return result
	}
	return splitCamelCase(token)
}

func splitCamelCase(s string) []string {
	if s == "" {
		return nil
	}

	var result []string
	var current strings.Builder

	runes := []rune(s)
	for i, r := range runes {
		if i > 0 && unicode.IsUpper(r) {
			prevIsLower := unicode.IsLower(runes[i-1])
			nextIsLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])

			// Split when previous or next is lowercase; keeps acronyms whole.
			if prevIsLower || nextIsLower {
				if current.Len() > 0 {
					result = append(result, current.String())
					current.Reset()
				}
			}
		}
		current.WriteRune(r)
	}

	if current.Len() > 0 {
		result = append(result, current.String())
	}
	return result
}

// squashAlnum strips everything but letters and digits for trigram extraction.
func squashAlnum(text string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// hashIndex maps a term to a vector slot with FNV-64.
func hashIndex(s string) int {
	h := fnv.New64()
	_, _ = h.Write([]byte(s))
	return int(h.Sum64() % uint64(LocalDim))
}

// unitNorm scales v to unit length. Zero vectors pass through unchanged.
func unitNorm(v []float32) []float32 {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	magnitude := math.Sqrt(sumSquares)
	if magnitude == 0 {
		return v
	}
	for i, val := range v {
		v[i] = float32(float64(val) / magnitude)
	}
	return v
}
