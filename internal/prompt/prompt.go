// Package prompt renders a retrieval round into the system and user
// prompts handed to the answer model, with a citation map tying every
// excerpt marker back to its file span.
package prompt

import (
	"fmt"
	"strings"

	"github.com/VanshDeo/OpenQuest/pkg/models"
)

// DefaultBudget caps the assembled prompt size in characters, roughly
// a quarter of it in tokens.
const DefaultBudget = 24000

// SystemPrompt scopes the model to the supplied excerpts. It never
// varies per request; repository and question live in the user prompt.
const SystemPrompt = `You are a code assistant answering questions about a single repository.

Rules:
- Use only the code excerpts provided in the user message. Do not rely on outside knowledge about the repository.
- Cite every factual claim with the [N] marker of the excerpt that supports it.
- Never invent file paths, line numbers, symbols, or code that is not shown in the excerpts.
- If the excerpts do not contain enough information to answer, say so plainly instead of guessing.
- Keep answers concise and reference code like [1] or [2] inline.`

// Assembly is the LLM-ready rendering of one retrieval round. Citations
// holds exactly one entry per excerpt that made it into UserPrompt, in
// marker order.
type Assembly struct {
	SystemPrompt  string
	UserPrompt    string
	Citations     []models.Citation
	TokenEstimate int
}

// Assembler builds prompts under a fixed character budget.
type Assembler struct {
	budget int
}

// NewAssembler creates an assembler with the given character budget.
// Values below 1 fall back to DefaultBudget.
func NewAssembler(budget int) *Assembler {
	if budget < 1 {
		budget = DefaultBudget
	}
	return &Assembler{budget: budget}
}

// Assemble enumerates chunks as [1], [2], ... in rank order and builds
// the user prompt from the question plus the labeled excerpt bodies.
// Chunks that would push the prompt past the budget are dropped from
// the tail together with their citations, so every marker in the
// prompt resolves to a citation and vice versa.
func (a *Assembler) Assemble(query, repoID string, chunks []models.RetrievedChunk) Assembly {
	preamble := fmt.Sprintf("Question about repository %s:\n\n%s\n\n", repoID, query)

	var b strings.Builder
	b.WriteString(preamble)
	b.WriteString("Code excerpts:\n\n")

	used := b.Len()
	var citations []models.Citation
	for i, c := range chunks {
		section := chunkHeader(i+1, c) + "\n" + c.Content + "\n\n"
		if used+len(section) > a.budget {
			break
		}
		b.WriteString(section)
		used += len(section)
		citations = append(citations, models.Citation{
			Key:        fmt.Sprintf("[%d]", i+1),
			FilePath:   c.FilePath,
			StartLine:  c.StartLine,
			EndLine:    c.EndLine,
			SymbolName: c.SymbolName,
		})
	}

	if len(citations) == 0 {
		user := preamble +
			"No code excerpts were retrieved for this question. State that the repository does not appear to contain relevant code for it, and do not guess.\n"
		return Assembly{
			SystemPrompt:  SystemPrompt,
			UserPrompt:    user,
			Citations:     nil,
			TokenEstimate: (len(SystemPrompt) + len(user)) / 4,
		}
	}

	user := b.String()
	return Assembly{
		SystemPrompt:  SystemPrompt,
		UserPrompt:    user,
		Citations:     citations,
		TokenEstimate: (len(SystemPrompt) + len(user)) / 4,
	}
}

// chunkHeader renders the marker line above an excerpt body, e.g.
// "[2] src/auth/login.ts Lines 10–52 · handleLogin".
func chunkHeader(n int, c models.RetrievedChunk) string {
	h := fmt.Sprintf("[%d] %s Lines %d–%d", n, c.FilePath, c.StartLine, c.EndLine)
	if c.SymbolName != "" {
		h += " · " + c.SymbolName
	}
	return h
}

// NoContextAnswer is what the pipeline returns when retrieval produced
// nothing to ground an answer on; the LLM is not called in that case.
const NoContextAnswer = "I could not find any relevant code in this repository for that question. Try rephrasing it, or index the repository again if it changed recently."
