package chunk

import "strings"

// symbolSpan is one located top-level definition. Lines are 1-based and
// inclusive; the span covers the leading doc comment when contiguous.
type symbolSpan struct {
	name      string
	startLine int
	endLine   int
}

// findTopLevelSymbols scans the direct children of the file root. Nested
// definitions stay inside their parent's span, so spans never overlap.
func findTopLevelSymbols(tree *Tree, cfg *LanguageConfig, lines []string) []symbolSpan {
	var spans []symbolSpan
	lastEnd := 0

	for _, child := range tree.Root.Children {
		outer, decl := child, child
		if isWrapper(cfg, child.Type) {
			inner := unwrapDeclaration(child, cfg)
			if inner == nil {
				continue
			}
			decl = inner
		}

		name := symbolName(decl, tree.Source, cfg)
		if name == "" {
			continue
		}

		start := int(outer.StartPoint.Row) + 1
		end := int(outer.EndPoint.Row) + 1
		if end > len(lines) {
			end = len(lines)
		}
		if start <= lastEnd {
			start = lastEnd + 1
		}
		if start > end {
			continue
		}

		start = extendOverDocComment(lines, start, lastEnd, cfg.CommentPrefix)
		spans = append(spans, symbolSpan{name: name, startLine: start, endLine: end})
		lastEnd = end
	}

	return spans
}

// extendOverDocComment moves start upward over a contiguous run of
// comment lines directly above the symbol. A blank line breaks the run.
// floor is the last line already claimed by the previous symbol.
func extendOverDocComment(lines []string, start, floor int, prefix string) int {
	if prefix == "" || start <= floor+1 {
		return start
	}

	above := strings.TrimSpace(lines[start-2])

	// Block doc comments (/** ... */) in slash-comment languages.
	if prefix == "//" && strings.HasSuffix(above, "*/") {
		for i := start - 1; i > floor; i-- {
			if strings.HasPrefix(strings.TrimSpace(lines[i-1]), "/*") {
				return i
			}
		}
		return start
	}

	for start-1 > floor && strings.HasPrefix(strings.TrimSpace(lines[start-2]), prefix) {
		start--
	}
	return start
}

func isWrapper(cfg *LanguageConfig, nodeType string) bool {
	for _, w := range cfg.WrapperTypes {
		if nodeType == w {
			return true
		}
	}
	return false
}

func isSymbolType(cfg *LanguageConfig, nodeType string) bool {
	for _, s := range cfg.SymbolTypes {
		if nodeType == s {
			return true
		}
	}
	return false
}

func isVarDecl(nodeType string) bool {
	return nodeType == "lexical_declaration" || nodeType == "variable_declaration"
}

// unwrapDeclaration returns the declaration inside a transparent wrapper
// such as an export statement, or nil when the wrapper holds none.
func unwrapDeclaration(n *Node, cfg *LanguageConfig) *Node {
	for _, child := range n.Children {
		if isSymbolType(cfg, child.Type) {
			return child
		}
		if cfg.ProbeVarDecls && isVarDecl(child.Type) {
			return child
		}
	}
	return nil
}

// symbolName extracts the defined name, or "" when the node does not
// define a nameable symbol.
func symbolName(n *Node, source []byte, cfg *LanguageConfig) string {
	if cfg.ProbeVarDecls && isVarDecl(n.Type) {
		return varFunctionName(n, source)
	}
	if !isSymbolType(cfg, n.Type) {
		return ""
	}

	switch cfg.Name {
	case "go":
		return goSymbolName(n, source)
	case "python":
		return identifierName(n, source)
	default:
		return scriptSymbolName(n, source)
	}
}

func goSymbolName(n *Node, source []byte) string {
	switch n.Type {
	case "function_declaration":
		return identifierName(n, source)
	case "method_declaration":
		// method names are field_identifier, not identifier
		if child := n.ChildOfType("field_identifier"); child != nil {
			return child.Content(source)
		}
	case "type_declaration":
		if spec := n.ChildOfType("type_spec"); spec != nil {
			if id := spec.ChildOfType("type_identifier"); id != nil {
				return id.Content(source)
			}
		}
	}
	return ""
}

// scriptSymbolName handles TypeScript and JavaScript declarations, where
// classes and interfaces name themselves with type_identifier.
func scriptSymbolName(n *Node, source []byte) string {
	for _, child := range n.Children {
		if child.Type == "identifier" || child.Type == "type_identifier" {
			return child.Content(source)
		}
	}
	return ""
}

func identifierName(n *Node, source []byte) string {
	if child := n.ChildOfType("identifier"); child != nil {
		return child.Content(source)
	}
	return ""
}

// varFunctionName names const/let/var bindings whose value is an arrow
// function or function expression; plain value bindings return "".
func varFunctionName(n *Node, source []byte) string {
	for _, child := range n.Children {
		if child.Type != "variable_declarator" {
			continue
		}
		var name string
		var hasFunction bool
		for _, grandchild := range child.Children {
			switch grandchild.Type {
			case "identifier":
				name = grandchild.Content(source)
			case "arrow_function", "function", "function_expression", "generator_function":
				hasFunction = true
			}
		}
		if name != "" && hasFunction {
			return name
		}
	}
	return ""
}
