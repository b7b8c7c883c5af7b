package loader

import (
	"fmt"
	"path/filepath"

	"github.com/jamestiotio/bytenode/internal/codec"
	"github.com/jamestiotio/bytenode/internal/engine"
)

// Scope names the module identity an artifact executes under. The zero value
// runs the artifact as an anonymous module in the current directory.
type Scope struct {
	Filename string
	Dirname  string
}

// Runner reconstructs code objects from binary artifacts and executes them.
type Runner struct {
	Engine   engine.Engine
	Registry *Registry
}

func NewRunner(eng engine.Engine, reg *Registry) *Runner {
	return &Runner{Engine: eng, Registry: reg}
}

// Run validates an artifact against the running engine build, synthesizes
// the dummy source buffer the header declares, and executes the payload in a
// module-shaped scope. Returns the module exports, or the completion value
// for artifacts not compiled as a module.
func (r *Runner) Run(artifact []byte, scope *Scope) (any, error) {
	h, err := codec.ValidateHeader(artifact, r.Engine.VersionTag())
	if err != nil {
		return nil, err
	}
	payload, err := codec.Payload(artifact)
	if err != nil {
		return nil, err
	}

	// The engine is handed a stand-in source of the header-declared length
	// instead of the original text; a length disagreement means the header
	// was doctored after patching.
	dummy := codec.DummySource(h)
	if uint32(len(dummy)) != h.SourceLen {
		return nil, fmt.Errorf("%w: dummy source length %d does not match declared %d",
			codec.ErrCacheRejected, len(dummy), h.SourceLen)
	}

	filename := "<bytecode>"
	dirname := "."
	if scope != nil {
		if scope.Filename != "" {
			filename = scope.Filename
		}
		if scope.Dirname != "" {
			dirname = scope.Dirname
		} else if scope.Filename != "" {
			dirname = filepath.Dir(scope.Filename)
		}
	}

	var resolve engine.ResolveFunc
	if r.Registry != nil {
		resolve = r.Registry.Resolve
	}
	return r.Engine.Exec(engine.ExecRequest{
		Cache:    payload,
		AsModule: h.CompiledAsModule,
		Filename: filename,
		Dirname:  dirname,
		Resolve:  resolve,
	})
}

// RunFile loads an artifact from disk and runs it with a scope derived from
// its path.
func (r *Runner) RunFile(path string, scope *Scope) (any, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	mod, err := artifactHandler(r.Engine)(abs)
	if err != nil {
		return nil, err
	}
	if scope == nil {
		scope = &Scope{Filename: abs, Dirname: filepath.Dir(abs)}
	}
	var resolve engine.ResolveFunc
	if r.Registry != nil {
		resolve = r.Registry.Resolve
	}
	return r.Engine.Exec(engine.ExecRequest{
		Cache:    mod.Cache,
		AsModule: mod.AsModule,
		Filename: scope.Filename,
		Dirname:  scope.Dirname,
		Resolve:  resolve,
	})
}
