package bytenode

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/jamestiotio/bytenode/internal/config"
)

// Options configures a single in-memory compile.
type Options struct {
	// Filename is the logical source name recorded for stack traces.
	Filename string

	// CompileAsModule wraps the source in the CommonJS function wrapper so
	// that top-level require, module, exports, __filename and __dirname
	// resolve at run time. Struct-literal callers almost always want true;
	// DefaultOptions sets it.
	CompileAsModule bool

	// HostCommand overrides the alternate-runtime host command for
	// Electron-path compiles.
	HostCommand []string

	// Timeout bounds the alternate-runtime ready wait plus compile round
	// trip. Zero means the configured default.
	Timeout time.Duration
}

// DefaultOptions returns the option defaults: compile as a module.
func DefaultOptions() Options {
	return Options{CompileAsModule: true}
}

// CompileRequest describes one file compile. Exactly one of Filename and
// Code must be set.
type CompileRequest struct {
	// Filename is the source file to read. Mutually exclusive with Code.
	Filename string

	// Code is inline source text. Mutually exclusive with Filename; requires
	// Output.
	Code string

	// Output is the artifact destination. Defaults to Filename with its
	// extension replaced by the artifact extension.
	Output string

	// LoaderFilename, when set, also emits a loader stub. A % in the
	// template is replaced by the source base name; relative templates
	// resolve against the output directory.
	LoaderFilename string

	// Electron compiles inside the GUI-host runtime instead of in-process.
	Electron bool

	// CompileAsModule wraps the source before compiling (see Options).
	CompileAsModule bool

	// CacheDir, when set, consults and maintains the artifact index there.
	CacheDir string

	// HostCommand and Timeout configure the Electron path (see Options).
	HostCommand []string
	Timeout     time.Duration
}

// DefaultCompileRequest returns a request with defaults applied for the
// given source file.
func DefaultCompileRequest(filename string) CompileRequest {
	return CompileRequest{Filename: filename, CompileAsModule: true}
}

// outputPath derives the artifact destination for a request.
func (r CompileRequest) outputPath() string {
	if r.Output != "" {
		return r.Output
	}
	if r.Filename == "" {
		return ""
	}
	return strings.TrimSuffix(r.Filename, filepath.Ext(r.Filename)) + config.ArtifactExt
}

func (r CompileRequest) timeout() time.Duration {
	if r.Timeout > 0 {
		return r.Timeout
	}
	return time.Duration(config.DefaultHostTimeoutSeconds) * time.Second
}

func (r CompileRequest) hostCommand() []string {
	if len(r.HostCommand) > 0 {
		return r.HostCommand
	}
	return config.DefaultHostCommand
}
