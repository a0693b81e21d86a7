package chunk

import (
	"path"
	"strings"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	"github.com/smacker/go-tree-sitter/typescript/typescript"
)

// LanguageConfig describes how to locate top-level symbol definitions in
// one language's syntax tree.
type LanguageConfig struct {
	Name       string
	Extensions []string

	// SymbolTypes are node types that define a chunk-worthy symbol when
	// they appear at the top level of a file.
	SymbolTypes []string

	// WrapperTypes are transparent nodes (export statements, decorator
	// wrappers) whose inner declaration is the actual symbol. The chunk
	// span covers the wrapper so the export keyword or decorators stay
	// with the symbol.
	WrapperTypes []string

	// ProbeVarDecls marks languages where a const/let/var binding of an
	// arrow function or function expression counts as a function symbol.
	ProbeVarDecls bool

	// CommentPrefix is the line-comment marker used when attaching a
	// leading doc comment to a symbol.
	CommentPrefix string
}

// LanguageRegistry maps extensions to language configs and grammars.
type LanguageRegistry struct {
	mu        sync.RWMutex
	configs   map[string]*LanguageConfig
	extToLang map[string]string
	grammars  map[string]*sitter.Language
}

func NewLanguageRegistry() *LanguageRegistry {
	r := &LanguageRegistry{
		configs:   make(map[string]*LanguageConfig),
		extToLang: make(map[string]string),
		grammars:  make(map[string]*sitter.Language),
	}

	r.registerGo()
	r.registerTypeScript()
	r.registerJavaScript()
	r.registerPython()

	return r
}

// ByName returns the config for a language name.
func (r *LanguageRegistry) ByName(name string) (*LanguageConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cfg, ok := r.configs[name]
	return cfg, ok
}

// ByExtension returns the config for a file extension like ".ts".
func (r *LanguageRegistry) ByExtension(ext string) (*LanguageConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ext = strings.ToLower(ext)
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}

	name, ok := r.extToLang[ext]
	if !ok {
		return nil, false
	}
	cfg, ok := r.configs[name]
	return cfg, ok
}

// Grammar returns the tree-sitter grammar for a language name.
func (r *LanguageRegistry) Grammar(name string) (*sitter.Language, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	g, ok := r.grammars[name]
	return g, ok
}

func (r *LanguageRegistry) register(cfg *LanguageConfig, grammar *sitter.Language) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.configs[cfg.Name] = cfg
	r.grammars[cfg.Name] = grammar
	for _, ext := range cfg.Extensions {
		r.extToLang[ext] = cfg.Name
	}
}

func (r *LanguageRegistry) registerGo() {
	r.register(&LanguageConfig{
		Name:       "go",
		Extensions: []string{".go"},
		SymbolTypes: []string{
			"function_declaration",
			"method_declaration",
			"type_declaration",
		},
		CommentPrefix: "//",
	}, golang.GetLanguage())
}

func (r *LanguageRegistry) registerTypeScript() {
	tsConfig := &LanguageConfig{
		Name:       "typescript",
		Extensions: []string{".ts"},
		SymbolTypes: []string{
			"function_declaration",
			"generator_function_declaration",
			"class_declaration",
			"abstract_class_declaration",
			"interface_declaration",
			"type_alias_declaration",
			"enum_declaration",
		},
		WrapperTypes:  []string{"export_statement"},
		ProbeVarDecls: true,
		CommentPrefix: "//",
	}
	r.register(tsConfig, typescript.GetLanguage())

	tsxConfig := *tsConfig
	tsxConfig.Name = "tsx"
	tsxConfig.Extensions = []string{".tsx"}
	r.register(&tsxConfig, tsx.GetLanguage())
}

func (r *LanguageRegistry) registerJavaScript() {
	jsConfig := &LanguageConfig{
		Name:       "javascript",
		Extensions: []string{".js", ".mjs", ".cjs"},
		SymbolTypes: []string{
			"function_declaration",
			"generator_function_declaration",
			"class_declaration",
		},
		WrapperTypes:  []string{"export_statement"},
		ProbeVarDecls: true,
		CommentPrefix: "//",
	}
	r.register(jsConfig, javascript.GetLanguage())

	jsxConfig := *jsConfig
	jsxConfig.Name = "jsx"
	jsxConfig.Extensions = []string{".jsx"}
	r.register(&jsxConfig, javascript.GetLanguage())
}

func (r *LanguageRegistry) registerPython() {
	r.register(&LanguageConfig{
		Name:       "python",
		Extensions: []string{".py"},
		SymbolTypes: []string{
			"function_definition",
			"class_definition",
		},
		WrapperTypes:  []string{"decorated_definition"},
		CommentPrefix: "#",
	}, python.GetLanguage())
}

var defaultRegistry = NewLanguageRegistry()

// DefaultRegistry returns the shared registry of parseable languages.
func DefaultRegistry() *LanguageRegistry {
	return defaultRegistry
}

// proseLanguages names languages we recognize but never parse; the name
// is recorded on chunks for display and retrieval filtering.
var proseLanguages = map[string]string{
	".md":         "markdown",
	".mdx":        "markdown",
	".txt":        "text",
	".json":       "json",
	".yaml":       "yaml",
	".yml":        "yaml",
	".toml":       "toml",
	".xml":        "xml",
	".html":       "html",
	".css":        "css",
	".scss":       "css",
	".less":       "css",
	".sql":        "sql",
	".sh":         "shell",
	".bash":       "shell",
	".rb":         "ruby",
	".java":       "java",
	".kt":         "kotlin",
	".rs":         "rust",
	".c":          "c",
	".h":          "c",
	".cpp":        "cpp",
	".hpp":        "cpp",
	".cc":         "cpp",
	".cs":         "csharp",
	".php":        "php",
	".swift":      "swift",
	".scala":      "scala",
	".vue":        "vue",
	".svelte":     "svelte",
	".proto":      "protobuf",
	".graphql":    "graphql",
	".tf":         "terraform",
	".gradle":     "gradle",
	".ini":        "config",
	".cfg":        "config",
	".conf":       "config",
	".properties": "config",
}

var specialBasenames = map[string]string{
	"dockerfile": "dockerfile",
	"makefile":   "makefile",
}

// DetectLanguage maps a file path to a language name, or "" when the
// file type is unknown.
func DetectLanguage(filePath string) string {
	ext := strings.ToLower(path.Ext(filePath))
	if ext != "" {
		if cfg, ok := DefaultRegistry().ByExtension(ext); ok {
			return cfg.Name
		}
		if name, ok := proseLanguages[ext]; ok {
			return name
		}
		return ""
	}
	return specialBasenames[strings.ToLower(path.Base(filePath))]
}
