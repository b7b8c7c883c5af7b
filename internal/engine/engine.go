// Package engine wraps the JavaScript engine behind the two primitives this
// system needs: compile source to a cache buffer, and execute a cache buffer
// in a module-shaped scope. Everything above this package treats the engine
// as opaque.
package engine

import "strings"

// Module is a unit the engine can load on behalf of require(): either source
// text or a precompiled cache buffer, never both.
type Module struct {
	// Filename is the absolute path used for module identity and stack traces.
	Filename string

	// Source is the raw source text (source modules only).
	Source string

	// Cache is the engine bytecode payload (precompiled modules only).
	Cache []byte

	// AsModule executes the module under the CommonJS wrapper scope.
	AsModule bool
}

// ResolveFunc maps a require specifier, relative to the requiring module's
// directory, onto a loadable Module. Installed by the module hook registry.
type ResolveFunc func(fromDir, specifier string) (*Module, error)

// ExecRequest describes one bytecode execution.
type ExecRequest struct {
	// Cache is the engine bytecode payload to execute.
	Cache []byte

	// AsModule reads the result from module.exports instead of the
	// completion value.
	AsModule bool

	// Filename and Dirname seed __filename and __dirname in the scope.
	Filename string
	Dirname  string

	// Resolve serves require() calls made by the executing code. When nil,
	// require throws.
	Resolve ResolveFunc
}

// Engine is the opaque engine capability: compile source to a cache buffer,
// execute a cache buffer. Implementations must be safe for concurrent use.
type Engine interface {
	// VersionTag identifies the engine build. Artifacts record it at compile
	// time; loading on a different build is a cache rejection.
	VersionTag() uint32

	// Compile produces the engine's cache buffer for source. A nil, nil
	// return means the engine declined to produce a cache for this input.
	Compile(source, filename string) ([]byte, error)

	// Exec evaluates a cache buffer and returns the module exports or the
	// completion value, converted to plain Go values.
	Exec(req ExecRequest) (any, error)
}

const (
	wrapPrefix = "(function (exports, require, module, __filename, __dirname) { "
	wrapSuffix = "\n})(module.exports, require, module, __filename, __dirname);"
)

// Wrap surrounds source with the CommonJS function wrapper so that top-level
// require, module, exports, __filename and __dirname resolve against the
// scope installed at execution time.
func Wrap(source string) string {
	return wrapPrefix + source + wrapSuffix
}

// IsWrappable reports whether source is non-degenerate input the engine can
// produce a cache for.
func IsWrappable(source string) bool {
	return strings.TrimSpace(source) != ""
}
