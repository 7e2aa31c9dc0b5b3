// Package language maps file paths to language labels. It is a pure lookup
// table: no state, no I/O.
package language

import (
	"path"
	"strings"
)

var byExtension = map[string]string{
	".go":      "Go",
	".ts":      "TypeScript",
	".tsx":     "TypeScript",
	".js":      "JavaScript",
	".jsx":     "JavaScript",
	".mjs":     "JavaScript",
	".cjs":     "JavaScript",
	".py":      "Python",
	".rb":      "Ruby",
	".rs":      "Rust",
	".java":    "Java",
	".kt":      "Kotlin",
	".kts":     "Kotlin",
	".swift":   "Swift",
	".c":       "C",
	".h":       "C",
	".cpp":     "C++",
	".cc":      "C++",
	".cxx":     "C++",
	".hpp":     "C++",
	".cs":      "C#",
	".fs":      "F#",
	".php":     "PHP",
	".scala":   "Scala",
	".clj":     "Clojure",
	".cljs":    "ClojureScript",
	".ex":      "Elixir",
	".exs":     "Elixir",
	".erl":     "Erlang",
	".hs":      "Haskell",
	".ml":      "OCaml",
	".lua":     "Lua",
	".pl":      "Perl",
	".r":       "R",
	".dart":    "Dart",
	".zig":     "Zig",
	".sh":      "Shell",
	".bash":    "Shell",
	".zsh":     "Shell",
	".fish":    "Shell",
	".ps1":     "PowerShell",
	".sql":     "SQL",
	".html":    "HTML",
	".htm":     "HTML",
	".css":     "CSS",
	".scss":    "SCSS",
	".sass":    "SCSS",
	".less":    "Less",
	".vue":     "Vue",
	".svelte":  "Svelte",
	".tf":      "Terraform",
	".proto":   "Protocol Buffers",
	".graphql": "GraphQL",
	".gql":     "GraphQL",
	".vim":     "Vim Script",
	".el":      "Emacs Lisp",
	".m":       "Objective-C",
	".mm":      "Objective-C",
	".groovy":  "Groovy",
	".gradle":  "Groovy",
	".nim":     "Nim",
	".jl":      "Julia",

	// Catch-all config and doc formats; detected so they can be excluded
	// by label rather than silently dropped.
	".json":  "JSON",
	".jsonc": "JSON",
	".yaml":  "YAML",
	".yml":   "YAML",
	".toml":  "TOML",
	".xml":   "XML",
	".ini":   "INI",
	".cfg":   "INI",
	".conf":  "INI",
	".md":    "Markdown",
	".mdx":   "Markdown",
	".rst":   "Text",
	".txt":   "Text",
	".csv":   "CSV",
	".tsv":   "CSV",
	".svg":   "SVG",
	".lock":  "Lock",
}

var byFilename = map[string]string{
	"dockerfile":        "Dockerfile",
	"makefile":          "Makefile",
	"gnumakefile":       "Makefile",
	"cmakelists.txt":    "CMake",
	"gemfile":           "Ruby",
	"rakefile":          "Ruby",
	"vagrantfile":       "Ruby",
	"justfile":          "Just",
	"go.mod":            "Go Module",
	"go.sum":            "Lock",
	"package-lock.json": "Lock",
	"yarn.lock":         "Lock",
	"pnpm-lock.yaml":    "Lock",
	"cargo.lock":        "Lock",
	"composer.lock":     "Lock",
	".gitignore":        "Ignore List",
	".dockerignore":     "Ignore List",
	".editorconfig":     "INI",
}

// Labels counted toward nothing unless the caller opts back in: generated or
// configuration formats whose line counts say little about authored code.
var defaultExcluded = map[string]bool{
	"JSON":        true,
	"YAML":        true,
	"TOML":        true,
	"XML":         true,
	"INI":         true,
	"Markdown":    true,
	"Text":        true,
	"CSV":         true,
	"SVG":         true,
	"Lock":        true,
	"Ignore List": true,
	"Go Module":   true,
}

// Detect returns the language label for a file path, or "" when the file is
// not recognized.
func Detect(filename string) string {
	base := strings.ToLower(path.Base(filename))
	if lang, ok := byFilename[base]; ok {
		return lang
	}
	if lang, ok := byExtension[strings.ToLower(path.Ext(base))]; ok {
		return lang
	}
	return ""
}

// IsDefaultExcluded reports whether a label belongs to the built-in excluded
// set of catch-all, config, and documentation formats.
func IsDefaultExcluded(label string) bool {
	return defaultExcluded[label]
}
