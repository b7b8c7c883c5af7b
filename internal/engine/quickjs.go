package engine

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"math"
	"path/filepath"
	"strings"

	quickjs "github.com/buke/quickjs-go"
)

// quickjsBuildTag names the engine build an artifact is bound to. Bytecode
// written by one QuickJS build is not loadable on another, so the tag is
// derived from the pinned binding version.
const quickjsBuildTag = "quickjs-go/v0.5"

// moduleRegistryGlobal holds the per-context map of absolute path -> exports.
// Keeping the cache on the JS side sidesteps value-ownership juggling between
// Go and the engine.
const moduleRegistryGlobal = "__bytenodeModules"

// QuickJS implements Engine on github.com/buke/quickjs-go. Each Compile and
// Exec call runs on a private runtime and context, so the zero value is safe
// for concurrent use.
type QuickJS struct{}

func NewQuickJS() *QuickJS { return &QuickJS{} }

func (e *QuickJS) VersionTag() uint32 {
	h := fnv.New32a()
	h.Write([]byte(quickjsBuildTag))
	return h.Sum32()
}

func (e *QuickJS) Compile(source, filename string) ([]byte, error) {
	if !IsWrappable(source) {
		// The engine declines degenerate input; callers surface this as a
		// CacheUnavailable condition.
		return nil, nil
	}
	rt := quickjs.NewRuntime()
	defer rt.Close()
	ctx := rt.NewContext()
	defer ctx.Close()

	cache, err := ctx.Compile(source, quickjs.EvalFileName(filename))
	if err != nil {
		return nil, fmt.Errorf("compiling %s: %w", filename, err)
	}
	return cache, nil
}

func (e *QuickJS) Exec(req ExecRequest) (any, error) {
	rt := quickjs.NewRuntime()
	defer rt.Close()
	ctx := rt.NewContext()
	defer ctx.Close()

	s := &session{ctx: ctx, resolve: req.Resolve}
	s.install()

	dirname := req.Dirname
	if dirname == "" && req.Filename != "" {
		dirname = filepath.Dir(req.Filename)
	}
	return s.eval(req.Cache, req.Filename, dirname, req.AsModule, "")
}

// session is one execution context plus the require bridge into Go.
type session struct {
	ctx     *quickjs.Context
	resolve ResolveFunc
}

func (s *session) install() {
	g := s.ctx.Globals()
	g.Set(moduleRegistryGlobal, s.ctx.NewObject())
	g.Set("require", s.ctx.Function(s.require))

	// Not every engine build ships a console; give scripts one that writes
	// to stdout like the standard runtime would.
	cons := g.Get("console")
	hasConsole := cons.IsObject()
	cons.Free()
	if !hasConsole {
		console := s.ctx.NewObject()
		console.Set("log", s.ctx.Function(consoleLog))
		console.Set("error", s.ctx.Function(consoleLog))
		g.Set("console", console)
	}
}

func consoleLog(ctx *quickjs.Context, this *quickjs.Value, args []*quickjs.Value) *quickjs.Value {
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = a.ToString()
	}
	fmt.Println(strings.Join(parts, " "))
	return ctx.NewUndefined()
}

// require resolves a specifier through the registry and returns the target
// module's exports, executing it on first load.
func (s *session) require(ctx *quickjs.Context, this *quickjs.Value, args []*quickjs.Value) *quickjs.Value {
	if len(args) == 0 || !args[0].IsString() {
		return ctx.ThrowTypeError("require expects a module specifier")
	}
	if s.resolve == nil {
		return ctx.ThrowReferenceError("require is not available in this scope")
	}
	specifier := args[0].ToString()

	g := ctx.Globals()
	fromDir := ""
	dir := g.Get("__dirname")
	if dir.IsString() {
		fromDir = dir.ToString()
	}
	dir.Free()

	mod, err := s.resolve(fromDir, specifier)
	if err != nil {
		return ctx.ThrowError(err)
	}

	reg := g.Get(moduleRegistryGlobal)
	defer reg.Free()
	if reg.Has(mod.Filename) {
		return reg.Get(mod.Filename)
	}

	cache := mod.Cache
	if cache == nil {
		src := mod.Source
		if mod.AsModule {
			src = Wrap(src)
		}
		cache, err = ctx.Compile(src, quickjs.EvalFileName(mod.Filename))
		if err != nil {
			return ctx.ThrowError(fmt.Errorf("compiling %s: %w", mod.Filename, err))
		}
	}

	if _, err := s.eval(cache, mod.Filename, filepath.Dir(mod.Filename), mod.AsModule, mod.Filename); err != nil {
		return ctx.ThrowError(err)
	}
	return reg.Get(mod.Filename)
}

// eval executes bytecode under a fresh module scope, saving and restoring the
// requiring module's scope globals around it. When registryKey is non-empty
// the new module's exports are recorded in the per-context registry.
func (s *session) eval(cache []byte, filename, dirname string, asModule bool, registryKey string) (any, error) {
	g := s.ctx.Globals()

	prevModule := g.Get("module")
	prevFilename := g.Get("__filename")
	prevDirname := g.Get("__dirname")

	module := s.ctx.NewObject()
	module.Set("exports", s.ctx.NewObject())
	module.Set("filename", s.ctx.NewString(filename))
	g.Set("module", module)
	g.Set("__filename", s.ctx.NewString(filename))
	g.Set("__dirname", s.ctx.NewString(dirname))

	// Pre-register the exports object so a require cycle observes the
	// partially-built exports instead of recursing.
	if asModule && registryKey != "" {
		cur := g.Get("module")
		reg := g.Get(moduleRegistryGlobal)
		reg.Set(registryKey, cur.Get("exports"))
		reg.Free()
		cur.Free()
	}

	ret := s.ctx.EvalBytecode(cache)

	var result any
	var err error
	retConsumed := false
	switch {
	case ret.IsException():
		err = fmt.Errorf("executing %s: %w", filename, s.ctx.Exception())
	case asModule:
		cur := g.Get("module")
		if registryKey != "" {
			reg := g.Get(moduleRegistryGlobal)
			reg.Set(registryKey, cur.Get("exports"))
			reg.Free()
		}
		exports := cur.Get("exports")
		result = s.toGo(exports)
		exports.Free()
		cur.Free()
	default:
		// A bare script's require() value is its completion value, so a
		// loader stub re-exports exactly what a direct run would return.
		result = s.toGo(ret)
		if registryKey != "" {
			reg := g.Get(moduleRegistryGlobal)
			reg.Set(registryKey, ret)
			reg.Free()
			retConsumed = true
		}
	}
	if !retConsumed {
		ret.Free()
	}

	g.Set("module", prevModule)
	g.Set("__filename", prevFilename)
	g.Set("__dirname", prevDirname)

	return result, err
}

// toGo converts a JS value to a plain Go value. Integral numbers come back
// as int64, objects and arrays round-trip through JSON.
func (s *session) toGo(v *quickjs.Value) any {
	switch {
	case v.IsUndefined() || v.IsNull():
		return nil
	case v.IsBool():
		return v.ToBool()
	case v.IsNumber():
		f := v.ToFloat64()
		if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
			return int64(f)
		}
		return f
	case v.IsString():
		return v.ToString()
	default:
		var out any
		if err := json.Unmarshal([]byte(v.JSONStringify()), &out); err == nil {
			return out
		}
		return v.ToString()
	}
}
