// Package bytenode compiles JavaScript source into engine bytecode
// artifacts, persists them, and executes them in place of source text. The
// module hook lets require() of an artifact path load bytecode transparently.
//
// Typical flow: CompileFile writes a .jsc artifact (optionally with a loader
// stub); Install hooks the artifact extension into the module registry; Run
// or RunFile executes artifacts directly.
package bytenode

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/jamestiotio/bytenode/internal/cache"
	"github.com/jamestiotio/bytenode/internal/codec"
	"github.com/jamestiotio/bytenode/internal/config"
	"github.com/jamestiotio/bytenode/internal/emitter"
	"github.com/jamestiotio/bytenode/internal/engine"
	"github.com/jamestiotio/bytenode/internal/host"
	"github.com/jamestiotio/bytenode/internal/loader"
)

// Scope names the module identity an artifact executes under.
type Scope = loader.Scope

// Logger receives facade-level diagnostics. Silent by default; the CLI
// replaces it.
var Logger = zerolog.Nop()

// defaultEngine is swapped for a fake in tests.
var defaultEngine engine.Engine = engine.NewQuickJS()

// CompileCode compiles source text to a patched, loadable artifact using the
// in-process engine. A degenerate source returns the artifact alongside
// ErrCacheUnavailable; the caller decides whether to proceed.
func CompileCode(code string, opts Options) ([]byte, error) {
	artifact, err := codec.Compile(defaultEngine, code, codec.Options{
		Filename:        opts.Filename,
		CompileAsModule: opts.CompileAsModule,
	})
	if err != nil && !errors.Is(err, ErrCacheUnavailable) {
		return nil, err
	}
	patched, perr := codec.PatchHeader(artifact)
	if perr != nil {
		return nil, perr
	}
	return patched, err
}

// CompileElectronCode compiles source text inside the GUI-host runtime. The
// host's compile primitive is only reliable after its ready lifecycle event,
// so the call suspends until the host signals readiness, bounded by
// opts.Timeout (or the configured default). Readiness never reached, host
// exit, or timeout all surface as ErrRuntimeUnavailable.
func CompileElectronCode(ctx context.Context, code string, opts Options) ([]byte, error) {
	command := opts.HostCommand
	if len(command) == 0 {
		command = config.DefaultHostCommand
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = time.Duration(config.DefaultHostTimeoutSeconds) * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	sess, err := host.Dial(ctx, command, Logger)
	if err != nil {
		return nil, err
	}
	defer sess.Close()

	artifact, err := sess.Compile(ctx, code, opts.Filename, opts.CompileAsModule)
	if err != nil && !errors.Is(err, ErrCacheUnavailable) {
		return nil, err
	}
	patched, perr := codec.PatchHeader(artifact)
	if perr != nil {
		return nil, perr
	}
	return patched, err
}

// CompileFile compiles a source file (or inline code) to an artifact on
// disk, optionally emitting a loader stub next to it.
func CompileFile(ctx context.Context, req CompileRequest) error {
	if (req.Filename == "") == (req.Code == "") {
		return fmt.Errorf("%w: exactly one of Filename and Code must be set", ErrConfig)
	}
	if req.Filename == "" && strings.Contains(req.LoaderFilename, config.LoaderPlaceholder) {
		return fmt.Errorf("%w: loader template %q needs a source filename for its %s placeholder",
			ErrConfig, req.LoaderFilename, config.LoaderPlaceholder)
	}

	code := req.Code
	sourceName := req.Filename
	if req.Filename != "" {
		data, err := os.ReadFile(req.Filename)
		if err != nil {
			if os.IsNotExist(err) {
				return fmt.Errorf("%w: %s", ErrFileNotFound, req.Filename)
			}
			return fmt.Errorf("%w: %s: %v", ErrIO, req.Filename, err)
		}
		code = string(data)
	}

	output := req.outputPath()
	if output == "" {
		return fmt.Errorf("%w: inline code requires an Output path", ErrConfig)
	}

	// Advisory cache: a hit copies the recorded artifact, a failure falls
	// through to a normal compile.
	var ix *cache.Index
	sourceHash := cache.HashSource(code)
	if req.CacheDir != "" {
		var err error
		if ix, err = cache.Open(req.CacheDir); err != nil {
			Logger.Debug().Err(err).Msg("artifact cache unavailable")
			ix = nil
		} else {
			defer ix.Close()
			if hit, ok, err := ix.Lookup(sourceHash, defaultEngine.VersionTag()); err == nil && ok {
				if artifact, err := os.ReadFile(hit); err == nil {
					return finishCompileFile(req, output, sourceName, artifact, ix, sourceHash)
				}
			}
		}
	}

	opts := Options{
		Filename:        sourceName,
		CompileAsModule: req.CompileAsModule,
		HostCommand:     req.hostCommand(),
		Timeout:         req.timeout(),
	}
	var artifact []byte
	var err error
	if req.Electron {
		artifact, err = CompileElectronCode(ctx, code, opts)
	} else {
		artifact, err = CompileCode(code, opts)
	}
	if err != nil {
		return err
	}
	return finishCompileFile(req, output, sourceName, artifact, ix, sourceHash)
}

func finishCompileFile(req CompileRequest, output, sourceName string, artifact []byte, ix *cache.Index, sourceHash string) error {
	if err := emitter.WriteArtifact(output, artifact); err != nil {
		return err
	}
	if req.LoaderFilename != "" {
		stubPath := emitter.ExpandLoaderPath(req.LoaderFilename, sourceName)
		if !filepath.IsAbs(stubPath) {
			stubPath = filepath.Join(filepath.Dir(output), stubPath)
		}
		if err := emitter.WriteLoaderStub(stubPath, filepath.Base(output)); err != nil {
			return err
		}
	}
	if ix != nil {
		if err := ix.Record(sourceHash, defaultEngine.VersionTag(), output); err != nil {
			Logger.Debug().Err(err).Msg("artifact cache record failed")
		}
	}
	return nil
}

// Install hooks the artifact extension into the process-wide module
// registry so require() of an artifact path executes bytecode. Idempotent.
func Install() {
	loader.Default.Install(defaultEngine)
}

// Uninstall removes the module hook.
func Uninstall() {
	loader.Default.Uninstall()
}

// Run executes a patched artifact and returns its exports, or the value of
// its final expression when not compiled as a module.
func Run(artifact []byte, scope *Scope) (any, error) {
	return loader.NewRunner(defaultEngine, loader.Default).Run(artifact, scope)
}

// RunFile loads an artifact from disk and executes it.
func RunFile(path string, scope *Scope) (any, error) {
	return loader.NewRunner(defaultEngine, loader.Default).RunFile(path, scope)
}
