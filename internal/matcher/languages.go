package matcher

import (
	"path"
	"strings"
	"sync"
	"unsafe"

	tree_sitter_zig "github.com/tree-sitter-grammars/tree-sitter-zig/bindings/go"
	tree_sitter "github.com/tree-sitter/go-tree-sitter"
	tree_sitter_csharp "github.com/tree-sitter/tree-sitter-c-sharp/bindings/go"
	tree_sitter_cpp "github.com/tree-sitter/tree-sitter-cpp/bindings/go"
	tree_sitter_go "github.com/tree-sitter/tree-sitter-go/bindings/go"
	tree_sitter_java "github.com/tree-sitter/tree-sitter-java/bindings/go"
	tree_sitter_javascript "github.com/tree-sitter/tree-sitter-javascript/bindings/go"
	tree_sitter_php "github.com/tree-sitter/tree-sitter-php/bindings/go"
	tree_sitter_python "github.com/tree-sitter/tree-sitter-python/bindings/go"
	tree_sitter_rust "github.com/tree-sitter/tree-sitter-rust/bindings/go"
	tree_sitter_typescript "github.com/tree-sitter/tree-sitter-typescript/bindings/go"

	"github.com/standardbeagle/sift/internal/types"
)

// grammar is a lazily loaded tree-sitter language.
type grammar struct {
	name string
	load func() unsafe.Pointer

	once sync.Once
	lang *tree_sitter.Language
}

func (g *grammar) language() *tree_sitter.Language {
	g.once.Do(func() {
		g.lang = tree_sitter.NewLanguage(g.load())
	})
	return g.lang
}

var (
	grammarGo         = &grammar{name: "go", load: tree_sitter_go.Language}
	grammarJavaScript = &grammar{name: "javascript", load: tree_sitter_javascript.Language}
	grammarTypeScript = &grammar{name: "typescript", load: tree_sitter_typescript.LanguageTypescript}
	grammarTSX        = &grammar{name: "tsx", load: tree_sitter_typescript.LanguageTSX}
	grammarPython     = &grammar{name: "python", load: tree_sitter_python.Language}
	grammarRust       = &grammar{name: "rust", load: tree_sitter_rust.Language}
	grammarJava       = &grammar{name: "java", load: tree_sitter_java.Language}
	grammarCSharp     = &grammar{name: "csharp", load: tree_sitter_csharp.Language}
	grammarCpp        = &grammar{name: "cpp", load: tree_sitter_cpp.Language}
	grammarPHP        = &grammar{name: "php", load: tree_sitter_php.LanguagePHP}
	grammarZig        = &grammar{name: "zig", load: tree_sitter_zig.Language}
)

var grammarsByExt = map[string]*grammar{
	".go":    grammarGo,
	".js":    grammarJavaScript,
	".jsx":   grammarJavaScript,
	".mjs":   grammarJavaScript,
	".cjs":   grammarJavaScript,
	".ts":    grammarTypeScript,
	".mts":   grammarTypeScript,
	".tsx":   grammarTSX,
	".py":    grammarPython,
	".rs":    grammarRust,
	".java":  grammarJava,
	".cs":    grammarCSharp,
	".c":     grammarCpp,
	".h":     grammarCpp,
	".cc":    grammarCpp,
	".cpp":   grammarCpp,
	".cxx":   grammarCpp,
	".hpp":   grammarCpp,
	".php":   grammarPHP,
	".phtml": grammarPHP,
	".zig":   grammarZig,
}

// grammarFor returns the grammar registered for the file's extension.
func grammarFor(id types.FileID) *grammar {
	return grammarsByExt[strings.ToLower(path.Ext(string(id)))]
}

// LanguageFor returns the structural language name of a file, or "".
func LanguageFor(id types.FileID) string {
	if g := grammarFor(id); g != nil {
		return g.name
	}
	return ""
}
