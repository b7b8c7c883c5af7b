package engine

import (
	"fmt"
	"strings"
	"testing"
)

func TestQuickJS_VersionTagStable(t *testing.T) {
	e := NewQuickJS()
	if e.VersionTag() == 0 {
		t.Fatal("version tag must be non-zero")
	}
	if e.VersionTag() != NewQuickJS().VersionTag() {
		t.Error("version tag must be stable across instances")
	}
}

func TestQuickJS_CompileAndExecExpression(t *testing.T) {
	e := NewQuickJS()
	cache, err := e.Compile("40 + 3;", "calc.js")
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	if len(cache) == 0 {
		t.Fatal("expected a non-empty cache")
	}

	got, err := e.Exec(ExecRequest{Cache: cache, Filename: "calc.js"})
	if err != nil {
		t.Fatalf("Exec failed: %v", err)
	}
	if got != int64(43) {
		t.Errorf("result: got %v (%T), want 43", got, got)
	}
}

func TestQuickJS_ModuleExports(t *testing.T) {
	e := NewQuickJS()
	src := Wrap("exports.answer = 43; exports.name = 'calc';")
	cache, err := e.Compile(src, "mod.js")
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}

	got, err := e.Exec(ExecRequest{Cache: cache, AsModule: true, Filename: "/virtual/mod.js"})
	if err != nil {
		t.Fatalf("Exec failed: %v", err)
	}
	exports, ok := got.(map[string]any)
	if !ok {
		t.Fatalf("exports: got %T, want map", got)
	}
	if exports["answer"] != float64(43) && exports["answer"] != int64(43) {
		t.Errorf("exports.answer: got %v", exports["answer"])
	}
	if exports["name"] != "calc" {
		t.Errorf("exports.name: got %v", exports["name"])
	}
}

func TestQuickJS_SyntaxError(t *testing.T) {
	e := NewQuickJS()
	if _, err := e.Compile("function (", "bad.js"); err == nil {
		t.Fatal("expected a compile error")
	}
}

func TestQuickJS_DegenerateInputYieldsNoCache(t *testing.T) {
	e := NewQuickJS()
	cache, err := e.Compile("   \n\t", "empty.js")
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	if cache != nil {
		t.Errorf("expected nil cache for degenerate input, got %d bytes", len(cache))
	}
}

func TestQuickJS_RuntimeErrorPropagates(t *testing.T) {
	e := NewQuickJS()
	cache, err := e.Compile("throw new Error('boom');", "boom.js")
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	if _, err := e.Exec(ExecRequest{Cache: cache, Filename: "boom.js"}); err == nil {
		t.Fatal("expected the thrown error to propagate")
	}
}

func TestQuickJS_RequireBridging(t *testing.T) {
	e := NewQuickJS()
	resolve := func(fromDir, specifier string) (*Module, error) {
		if specifier == "./dep" {
			return &Module{
				Filename: "/virtual/dep.js",
				Source:   "exports.val = 7;",
				AsModule: true,
			}, nil
		}
		return nil, fmt.Errorf("module not found: %s", specifier)
	}

	src := Wrap("var d = require('./dep'); exports.out = d.val + 1;")
	cache, err := e.Compile(src, "main.js")
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}

	got, err := e.Exec(ExecRequest{
		Cache:    cache,
		AsModule: true,
		Filename: "/virtual/main.js",
		Resolve:  resolve,
	})
	if err != nil {
		t.Fatalf("Exec failed: %v", err)
	}
	exports := got.(map[string]any)
	if exports["out"] != float64(8) && exports["out"] != int64(8) {
		t.Errorf("exports.out: got %v", exports["out"])
	}
}

func TestQuickJS_RequireExecutesModuleOnce(t *testing.T) {
	e := NewQuickJS()
	resolve := func(fromDir, specifier string) (*Module, error) {
		return &Module{
			Filename: "/virtual/counted.js",
			Source:   "globalThis.__loads = (globalThis.__loads || 0) + 1; exports.n = globalThis.__loads;",
			AsModule: true,
		}, nil
	}

	src := Wrap("var a = require('./counted'); var b = require('./counted'); exports.sum = a.n + b.n;")
	cache, err := e.Compile(src, "main.js")
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}

	got, err := e.Exec(ExecRequest{Cache: cache, AsModule: true, Filename: "/virtual/main.js", Resolve: resolve})
	if err != nil {
		t.Fatalf("Exec failed: %v", err)
	}
	exports := got.(map[string]any)
	if exports["sum"] != float64(2) && exports["sum"] != int64(2) {
		t.Errorf("module executed more than once: sum = %v", exports["sum"])
	}
}

func TestQuickJS_RequireCycleSeesPartialExports(t *testing.T) {
	e := NewQuickJS()
	sources := map[string]struct {
		filename string
		source   string
	}{
		"./a": {"/virtual/a.js", "exports.early = 1; var b = require('./b'); exports.late = 2; exports.bSawLateMissing = b.sawLateMissing;"},
		"./b": {"/virtual/b.js", "var a = require('./a'); exports.sawEarly = a.early; exports.sawLateMissing = a.late === undefined;"},
	}
	resolve := func(fromDir, specifier string) (*Module, error) {
		m, ok := sources[specifier]
		if !ok {
			return nil, fmt.Errorf("module not found: %s", specifier)
		}
		return &Module{Filename: m.filename, Source: m.source, AsModule: true}, nil
	}

	src := Wrap("var a = require('./a'); exports.late = a.late; exports.bSawLateMissing = a.bSawLateMissing;")
	cache, err := e.Compile(src, "main.js")
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}

	got, err := e.Exec(ExecRequest{Cache: cache, AsModule: true, Filename: "/virtual/main.js", Resolve: resolve})
	if err != nil {
		t.Fatalf("Exec failed: %v", err)
	}
	exports := got.(map[string]any)
	// b ran in the middle of a's body: it must see a's partial exports
	// rather than recursing into a again.
	if exports["bSawLateMissing"] != true {
		t.Errorf("cycle observed completed exports: %#v", exports)
	}
	if exports["late"] != float64(2) && exports["late"] != int64(2) {
		t.Errorf("a.late after the cycle: got %v", exports["late"])
	}
}

func TestQuickJS_CycleThroughEntryReexecutesIt(t *testing.T) {
	e := NewQuickJS()
	entry := "globalThis.__entryRuns = (globalThis.__entryRuns || 0) + 1; var a = require('./a'); exports.runs = globalThis.__entryRuns;"
	resolve := func(fromDir, specifier string) (*Module, error) {
		switch specifier {
		case "./a":
			return &Module{Filename: "/virtual/a.js", Source: "var m = require('./main'); exports.ok = true;", AsModule: true}, nil
		case "./main":
			return &Module{Filename: "/virtual/main.js", Source: entry, AsModule: true}, nil
		}
		return nil, fmt.Errorf("module not found: %s", specifier)
	}

	cache, err := e.Compile(Wrap(entry), "main.js")
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}

	// The entry execution is not registered, so a cycle back to the entry
	// file runs it a second time; the registered copy then breaks the cycle.
	got, err := e.Exec(ExecRequest{Cache: cache, AsModule: true, Filename: "/virtual/main.js", Resolve: resolve})
	if err != nil {
		t.Fatalf("Exec failed: %v", err)
	}
	exports := got.(map[string]any)
	if exports["runs"] != float64(2) && exports["runs"] != int64(2) {
		t.Errorf("entry executions: got %v, want 2", exports["runs"])
	}
}

func TestQuickJS_RequireWithoutResolverThrows(t *testing.T) {
	e := NewQuickJS()
	cache, err := e.Compile("require('./x');", "main.js")
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	if _, err := e.Exec(ExecRequest{Cache: cache, Filename: "main.js"}); err == nil {
		t.Fatal("require without a resolver must throw")
	}
}

func TestQuickJS_ScopeIdentity(t *testing.T) {
	e := NewQuickJS()
	src := Wrap("exports.file = __filename; exports.dir = __dirname;")
	cache, err := e.Compile(src, "id.js")
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}

	got, err := e.Exec(ExecRequest{
		Cache:    cache,
		AsModule: true,
		Filename: "/srv/app/id.js",
		Dirname:  "/srv/app",
	})
	if err != nil {
		t.Fatalf("Exec failed: %v", err)
	}
	exports := got.(map[string]any)
	if exports["file"] != "/srv/app/id.js" {
		t.Errorf("__filename: got %v", exports["file"])
	}
	if exports["dir"] != "/srv/app" {
		t.Errorf("__dirname: got %v", exports["dir"])
	}
}

func TestQuickJS_ValueConversions(t *testing.T) {
	e := NewQuickJS()
	cases := []struct {
		src  string
		want any
	}{
		{"'text';", "text"},
		{"true;", true},
		{"1.5;", 1.5},
		{"7;", int64(7)},
		{"null;", nil},
		{"undefined;", nil},
	}
	for _, c := range cases {
		cache, err := e.Compile(c.src, "conv.js")
		if err != nil {
			t.Fatalf("Compile(%q) failed: %v", c.src, err)
		}
		got, err := e.Exec(ExecRequest{Cache: cache, Filename: "conv.js"})
		if err != nil {
			t.Fatalf("Exec(%q) failed: %v", c.src, err)
		}
		if got != c.want {
			t.Errorf("%q: got %v (%T), want %v", c.src, got, got, c.want)
		}
	}

	cache, err := e.Compile("({a: 1, b: 'x'});", "obj.js")
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	got, err := e.Exec(ExecRequest{Cache: cache, Filename: "obj.js"})
	if err != nil {
		t.Fatalf("Exec failed: %v", err)
	}
	obj, ok := got.(map[string]any)
	if !ok || obj["b"] != "x" {
		t.Errorf("object conversion: got %#v", got)
	}
}

func TestWrap(t *testing.T) {
	wrapped := Wrap("var x = 1;")
	if !strings.HasPrefix(wrapped, "(function (exports, require, module, __filename, __dirname)") {
		t.Errorf("unexpected wrapper prefix: %q", wrapped[:40])
	}
	if !strings.HasSuffix(wrapped, "(module.exports, require, module, __filename, __dirname);") {
		t.Errorf("unexpected wrapper suffix")
	}
	if !strings.Contains(wrapped, "var x = 1;") {
		t.Error("wrapper lost the source")
	}
}
