package bytenode

import (
	"errors"

	"github.com/jamestiotio/bytenode/internal/codec"
	"github.com/jamestiotio/bytenode/internal/emitter"
	"github.com/jamestiotio/bytenode/internal/host"
)

// Error taxonomy. Every failure the library surfaces wraps exactly one of
// these, so callers discriminate with errors.Is.
var (
	// ErrConfig reports a compile request with missing or mutually
	// exclusive options.
	ErrConfig = errors.New("invalid compile request")

	// ErrCompile reports source text that failed to parse.
	ErrCompile = codec.ErrCompile

	// ErrCacheUnavailable signals that the engine declined to produce a
	// cache for degenerate input. Recoverable by the caller.
	ErrCacheUnavailable = codec.ErrCacheUnavailable

	// ErrCacheRejected reports a load-time header or engine-version
	// mismatch. Terminal for that load.
	ErrCacheRejected = codec.ErrCacheRejected

	// ErrRuntimeUnavailable reports that the alternate runtime never became
	// ready, exited, or timed out.
	ErrRuntimeUnavailable = host.ErrRuntimeUnavailable

	// ErrFileNotFound reports a missing source file.
	ErrFileNotFound = errors.New("source file not found")

	// ErrIO reports a file-system write failure.
	ErrIO = emitter.ErrIO
)
