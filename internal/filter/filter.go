// Package filter rejects files by path, extension, and size before any
// expensive chunking or embedding work. Classification is pure: every
// input file lands in exactly one of accepted or rejected.
package filter

import (
	"bytes"
	"path"
	"strings"
	"unicode/utf8"

	"github.com/VanshDeo/OpenQuest/pkg/models"
)

// DefaultMaxFileBytes is 500 KiB. A file of exactly this size is accepted.
const DefaultMaxFileBytes int64 = 500 * 1024

// ignoredSegments rejects a file when any path segment matches.
var ignoredSegments = map[string]struct{}{
	"node_modules": {},
	".git":         {},
	"dist":         {},
	"build":        {},
	".next":        {},
	"__pycache__":  {},
	"vendor":       {},
	"coverage":     {},
	"target":       {},
	"bin":          {},
	"obj":          {},
	".idea":        {},
	".vscode":      {},
	".cache":       {},
	".venv":        {},
}

// lockfileNames are generated dependency manifests; indexing them buys
// nothing and they dwarf the hand-written code around them.
var lockfileNames = map[string]struct{}{
	"package-lock.json": {},
	"yarn.lock":         {},
	"pnpm-lock.yaml":    {},
	"go.sum":            {},
	"cargo.lock":        {},
	"gemfile.lock":      {},
	"poetry.lock":       {},
	"composer.lock":     {},
	"pipfile.lock":      {},
}

var allowedExtensions = map[string]struct{}{
	".go":         {},
	".ts":         {},
	".tsx":        {},
	".js":         {},
	".jsx":        {},
	".mjs":        {},
	".cjs":        {},
	".py":         {},
	".rb":         {},
	".java":       {},
	".kt":         {},
	".rs":         {},
	".c":          {},
	".h":          {},
	".cpp":        {},
	".hpp":        {},
	".cc":         {},
	".cs":         {},
	".php":        {},
	".swift":      {},
	".scala":      {},
	".sh":         {},
	".bash":       {},
	".sql":        {},
	".html":       {},
	".css":        {},
	".scss":       {},
	".less":       {},
	".vue":        {},
	".svelte":     {},
	".md":         {},
	".mdx":        {},
	".txt":        {},
	".json":       {},
	".yaml":       {},
	".yml":        {},
	".toml":       {},
	".xml":        {},
	".ini":        {},
	".cfg":        {},
	".conf":       {},
	".graphql":    {},
	".proto":      {},
	".tf":         {},
	".gradle":     {},
	".properties": {},
}

// allowedBasenames admits common extensionless text files.
var allowedBasenames = map[string]struct{}{
	"dockerfile": {},
	"makefile":   {},
	"gemfile":    {},
	"rakefile":   {},
}

type Result struct {
	Accepted []models.FileRecord
	Rejected []models.Rejection
}

// Filter classifies fetched files. The zero value is not usable; call New.
type Filter struct {
	maxFileBytes int64
}

// New returns a Filter with the given size cap. maxFileBytes <= 0 falls
// back to DefaultMaxFileBytes.
func New(maxFileBytes int64) *Filter {
	if maxFileBytes <= 0 {
		maxFileBytes = DefaultMaxFileBytes
	}
	return &Filter{maxFileBytes: maxFileBytes}
}

// Apply classifies every file exactly once. Rules are checked in order:
// ignored-path, extension-not-allowed, too-large, binary, empty. The
// first matching rule names the rejection reason.
func (f *Filter) Apply(files []models.FileRecord) Result {
	res := Result{
		Accepted: make([]models.FileRecord, 0, len(files)),
		Rejected: make([]models.Rejection, 0),
	}
	for _, rec := range files {
		if reason, rejected := f.classify(rec); rejected {
			res.Rejected = append(res.Rejected, models.Rejection{Path: rec.Path, Reason: reason})
			continue
		}
		res.Accepted = append(res.Accepted, rec)
	}
	return res
}

// Precheck applies the content-free rules only: ignored-path, extension,
// and size. Fetchers call it on tree listings to skip downloads that Apply
// would reject anyway. A file passing Precheck can still be rejected later
// as binary or empty once its content is known.
func (f *Filter) Precheck(filePath string, size int64) (models.RejectReason, bool) {
	for _, seg := range strings.Split(filePath, "/") {
		if _, ok := ignoredSegments[seg]; ok {
			return models.RejectIgnoredPath, true
		}
	}

	base := strings.ToLower(path.Base(filePath))
	if _, ok := lockfileNames[base]; ok {
		return models.RejectIgnoredPath, true
	}

	if ext := strings.ToLower(path.Ext(filePath)); ext != "" {
		if _, ok := allowedExtensions[ext]; !ok {
			return models.RejectExtension, true
		}
	} else if _, ok := allowedBasenames[base]; !ok {
		return models.RejectExtension, true
	}

	if size > f.maxFileBytes {
		return models.RejectTooLarge, true
	}

	return "", false
}

func (f *Filter) classify(rec models.FileRecord) (models.RejectReason, bool) {
	size := rec.Size
	if size == 0 {
		size = int64(len(rec.Content))
	}
	if reason, rejected := f.Precheck(rec.Path, size); rejected {
		return reason, rejected
	}

	if bytes.IndexByte(rec.Content, 0) >= 0 || !utf8.Valid(rec.Content) {
		return models.RejectBinary, true
	}

	if len(bytes.TrimSpace(rec.Content)) == 0 {
		return models.RejectEmpty, true
	}

	return "", false
}
