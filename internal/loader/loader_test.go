package loader

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/jamestiotio/bytenode/internal/codec"
	"github.com/jamestiotio/bytenode/internal/config"
	"github.com/jamestiotio/bytenode/internal/engine"
)

// fakeEngine records Exec requests and returns a canned result.
type fakeEngine struct {
	execCalls []engine.ExecRequest
	result    any
}

func (f *fakeEngine) VersionTag() uint32 { return 0xabcd }

func (f *fakeEngine) Compile(source, filename string) ([]byte, error) {
	return []byte("CACHE:" + source), nil
}

func (f *fakeEngine) Exec(req engine.ExecRequest) (any, error) {
	f.execCalls = append(f.execCalls, req)
	return f.result, nil
}

func patchedArtifact(t *testing.T, eng engine.Engine, source string, asModule bool) []byte {
	t.Helper()
	artifact, err := codec.Compile(eng, source, codec.Options{
		Filename:        "test.js",
		CompileAsModule: asModule,
	})
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	patched, err := codec.PatchHeader(artifact)
	if err != nil {
		t.Fatalf("PatchHeader failed: %v", err)
	}
	return patched
}

func TestRunner_RunPassesPayloadAndScope(t *testing.T) {
	eng := &fakeEngine{result: int64(43)}
	r := NewRunner(eng, NewRegistry())
	artifact := patchedArtifact(t, eng, "42 + 1;", false)

	got, err := r.Run(artifact, &Scope{Filename: "/srv/app/main.jsc"})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if got != int64(43) {
		t.Errorf("result: got %v, want 43", got)
	}
	if len(eng.execCalls) != 1 {
		t.Fatalf("Exec calls: got %d, want 1", len(eng.execCalls))
	}
	req := eng.execCalls[0]
	if string(req.Cache) != "CACHE:42 + 1;" {
		t.Errorf("payload: got %q", req.Cache)
	}
	if req.AsModule {
		t.Error("AsModule should be false for a bare-script artifact")
	}
	if req.Filename != "/srv/app/main.jsc" {
		t.Errorf("Filename: got %q", req.Filename)
	}
	if req.Dirname != "/srv/app" {
		t.Errorf("Dirname: got %q", req.Dirname)
	}
	if req.Resolve == nil {
		t.Error("Resolve should be wired when a registry is attached")
	}
}

func TestRunner_RunRejectsTamperedArtifact(t *testing.T) {
	eng := &fakeEngine{}
	r := NewRunner(eng, nil)
	artifact := patchedArtifact(t, eng, "1;", false)
	artifact[len(artifact)-1] ^= 0xFF

	if _, err := r.Run(artifact, nil); !errors.Is(err, codec.ErrCacheRejected) {
		t.Fatalf("expected ErrCacheRejected, got %v", err)
	}
	if len(eng.execCalls) != 0 {
		t.Error("tampered artifact must never reach the engine")
	}
}

func TestRunner_RunFile(t *testing.T) {
	eng := &fakeEngine{result: map[string]any{"answer": int64(43)}}
	dir := t.TempDir()
	path := filepath.Join(dir, "mod"+config.ArtifactExt)
	if err := os.WriteFile(path, patchedArtifact(t, eng, "exports.answer = 43;", true), 0o644); err != nil {
		t.Fatalf("writing artifact: %v", err)
	}

	r := NewRunner(eng, NewRegistry())
	got, err := r.RunFile(path, nil)
	if err != nil {
		t.Fatalf("RunFile failed: %v", err)
	}
	exports, ok := got.(map[string]any)
	if !ok || exports["answer"] != int64(43) {
		t.Errorf("exports: got %#v", got)
	}
	req := eng.execCalls[0]
	if !req.AsModule {
		t.Error("module artifact must execute with the module scope")
	}
	if req.Dirname != dir {
		t.Errorf("Dirname: got %q, want %q", req.Dirname, dir)
	}
}
