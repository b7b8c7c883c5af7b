// Package loader executes binary artifacts and owns the module hook: the
// process-wide registry that routes require() of an artifact path through the
// bytecode loader instead of the source loader.
package loader

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/jamestiotio/bytenode/internal/codec"
	"github.com/jamestiotio/bytenode/internal/config"
	"github.com/jamestiotio/bytenode/internal/engine"
)

// Handler loads the module stored at path.
type Handler func(path string) (*engine.Module, error)

// Registry maps file extensions to module handlers. Source extensions are
// served built-in; the artifact handler is registered explicitly via Install
// so that hooking the module system stays an opt-in, process-visible step.
type Registry struct {
	mu        sync.Mutex
	installed bool
	handlers  map[string]Handler
}

// Default is the process-wide registry used by the facade.
var Default = NewRegistry()

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Install registers the artifact handler for the artifact extension.
// Idempotent: installing twice leaves a single registration.
func (r *Registry) Install(eng engine.Engine) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.installed {
		return
	}
	r.handlers[config.ArtifactExt] = artifactHandler(eng)
	r.installed = true
}

// Uninstall removes the artifact handler. Exists so tests can restore the
// process-wide state they mutate.
func (r *Registry) Uninstall() {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.handlers, config.ArtifactExt)
	r.installed = false
}

// Installed reports whether the artifact handler is registered.
func (r *Registry) Installed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.installed
}

// Register adds a handler for a custom extension. Fails instead of
// clobbering an existing registration.
func (r *Registry) Register(ext string, h Handler) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.handlers[ext]; ok {
		return fmt.Errorf("extension %s already registered", ext)
	}
	r.handlers[ext] = h
	return nil
}

// handlerFor returns the registered handler for ext, if any.
func (r *Registry) handlerFor(ext string) (Handler, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.handlers[ext]
	return h, ok
}

// extensions returns the registered extensions, for resolution probing.
func (r *Registry) extensions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	exts := make([]string, 0, len(r.handlers))
	for ext := range r.handlers {
		exts = append(exts, ext)
	}
	return exts
}

// Resolve maps a require specifier onto a loadable module. Relative
// specifiers resolve against the requiring module's directory; extensionless
// specifiers probe source extensions first, then registered ones.
func (r *Registry) Resolve(fromDir, specifier string) (*engine.Module, error) {
	path := specifier
	if !filepath.IsAbs(path) {
		path = filepath.Join(fromDir, specifier)
	}

	if fileExists(path) {
		return r.load(path)
	}
	for _, ext := range config.SourceFileExtensions {
		if fileExists(path + ext) {
			return r.load(path + ext)
		}
	}
	for _, ext := range r.extensions() {
		if fileExists(path + ext) {
			return r.load(path + ext)
		}
	}
	return nil, fmt.Errorf("module not found: %s", specifier)
}

// load dispatches a concrete path to its extension handler, falling back to
// the source loader for anything unregistered.
func (r *Registry) load(path string) (*engine.Module, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	if h, ok := r.handlerFor(filepath.Ext(abs)); ok {
		return h(abs)
	}
	return sourceHandler(abs)
}

// artifactHandler reads, validates and unwraps a binary artifact for the
// given engine build.
func artifactHandler(eng engine.Engine) Handler {
	tag := eng.VersionTag()
	return func(path string) (*engine.Module, error) {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading artifact %s: %w", path, err)
		}
		h, err := codec.ValidateHeader(data, tag)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", path, err)
		}
		payload, err := codec.Payload(data)
		if err != nil {
			return nil, err
		}
		return &engine.Module{
			Filename: path,
			Cache:    payload,
			AsModule: h.CompiledAsModule,
		}, nil
	}
}

func sourceHandler(path string) (*engine.Module, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading module %s: %w", path, err)
	}
	return &engine.Module{
		Filename: path,
		Source:   string(data),
		AsModule: true,
	}, nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
