// Package emitter persists compiled artifacts and loader stubs. Writes are
// atomic (temp file + rename) so a crashed compile never leaves a truncated
// artifact behind for the module hook to trip over.
package emitter

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/jamestiotio/bytenode/internal/config"
)

// ErrIO reports a file-system failure. Carries the path and underlying
// reason; never retried.
var ErrIO = errors.New("file write failed")

// WriteArtifact writes a compiled artifact to path.
func WriteArtifact(path string, artifact []byte) error {
	return writeAtomic(path, artifact, 0o644)
}

// LoaderStub renders the one-line source file that redirects require() to a
// sibling artifact.
func LoaderStub(artifactBase string) []byte {
	return []byte(fmt.Sprintf("module.exports = require('./%s');\n", artifactBase))
}

// WriteLoaderStub writes a loader stub at path pointing at the artifact file
// named artifactBase (a base name, not a full path).
func WriteLoaderStub(path, artifactBase string) error {
	return writeAtomic(path, LoaderStub(artifactBase), 0o644)
}

// ExpandLoaderPath substitutes the % placeholder in a loader path template
// with the source file's base name (extension stripped). A template without
// a placeholder is used as-is.
func ExpandLoaderPath(template, sourcePath string) string {
	if !strings.Contains(template, config.LoaderPlaceholder) {
		return template
	}
	base := filepath.Base(sourcePath)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	return strings.ReplaceAll(template, config.LoaderPlaceholder, base)
}

func writeAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp := filepath.Join(dir, ".tmp-"+uuid.NewString())
	if err := os.WriteFile(tmp, data, perm); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrIO, path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("%w: %s: %v", ErrIO, path, err)
	}
	return nil
}
