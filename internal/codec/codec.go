// Package codec turns JavaScript source into a versioned binary artifact and
// validates or repairs artifact headers so the engine accepts them at load
// time without the original source. All transforms are pure and synchronous;
// the only external call is the engine's compile primitive.
package codec

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/jamestiotio/bytenode/internal/engine"
)

var (
	// ErrCompile reports source that failed to parse.
	ErrCompile = errors.New("source compilation failed")

	// ErrCacheUnavailable signals that the engine declined to produce a
	// cache for degenerate input. Recoverable: the caller may proceed
	// without a compiled artifact.
	ErrCacheUnavailable = errors.New("engine produced no bytecode cache")

	// ErrCacheRejected reports an artifact whose header or payload does not
	// match what the running engine expects. Terminal for that load.
	ErrCacheRejected = errors.New("bytecode cache rejected")
)

// Options configures a single compile.
type Options struct {
	// Filename is the logical name recorded for stack traces.
	Filename string

	// CompileAsModule wraps the source in the CommonJS function wrapper
	// before compiling.
	CompileAsModule bool

	// HostVariant marks the artifact as produced by the GUI-host runtime,
	// which relaxes the engine-tag check on load.
	HostVariant bool
}

// Compile produces an unpatched artifact from source text. When the engine
// declines to produce a cache the artifact is returned with an empty payload
// alongside ErrCacheUnavailable; callers decide whether that is fatal.
func Compile(eng engine.Engine, source string, opts Options) ([]byte, error) {
	filename := opts.Filename
	if filename == "" {
		filename = "<anonymous>"
	}
	src := source
	if opts.CompileAsModule {
		src = engine.Wrap(source)
	}

	cache, err := eng.Compile(src, filename)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCompile, err)
	}

	h := Header{
		FormatVersion:    formatV1,
		CompiledAsModule: opts.CompileAsModule,
		HostVariant:      opts.HostVariant,
		Rejected:         true, // bound to its source until patched
		EngineTag:        eng.VersionTag(),
		SourceLen:        uint32(len(src)),
		PayloadLen:       uint32(len(cache)),
	}
	artifact := encodeHeader(h, cache)
	if len(cache) == 0 {
		return artifact, ErrCacheUnavailable
	}
	return artifact, nil
}

// PatchHeader repairs an artifact header so the loader accepts it without
// the original source: the rejected flag is cleared and the recorded source
// length is replaced by the dummy-buffer length the loader will synthesize
// (the true length rounded up to 16 bytes). Idempotent: patching a patched
// artifact yields byte-identical output. The input is not mutated.
func PatchHeader(artifact []byte) ([]byte, error) {
	h, l, err := decodeHeader(artifact)
	if err != nil {
		return nil, err
	}

	out := make([]byte, len(artifact))
	copy(out, artifact)
	out[l.RejectedOffset] = 0
	binary.LittleEndian.PutUint32(out[l.SourceLengthOffset:], dummyLength(h.SourceLen))
	binary.LittleEndian.PutUint32(out[l.ChecksumOffset:],
		checksum(l, out[:l.HeaderSize], out[l.HeaderSize:]))
	return out, nil
}

// ValidateHeader checks that an artifact is loadable on the engine build
// identified by engineTag. Every failure is an ErrCacheRejected; an empty
// payload is ErrCacheUnavailable.
func ValidateHeader(artifact []byte, engineTag uint32) (Header, error) {
	h, l, err := decodeHeader(artifact)
	if err != nil {
		return Header{}, err
	}
	if h.Rejected {
		return Header{}, fmt.Errorf("%w: artifact header was never patched", ErrCacheRejected)
	}
	if got := checksum(l, artifact[:l.HeaderSize], artifact[l.HeaderSize:]); got != h.Checksum {
		return Header{}, fmt.Errorf("%w: header checksum mismatch", ErrCacheRejected)
	}
	if !h.HostVariant && h.EngineTag != engineTag {
		return Header{}, fmt.Errorf("%w: artifact engine tag %#x does not match running engine %#x",
			ErrCacheRejected, h.EngineTag, engineTag)
	}
	if h.PayloadLen == 0 {
		return Header{}, ErrCacheUnavailable
	}
	return h, nil
}

// Payload returns the engine cache bytes of a structurally valid artifact.
func Payload(artifact []byte) ([]byte, error) {
	_, l, err := decodeHeader(artifact)
	if err != nil {
		return nil, err
	}
	return artifact[l.HeaderSize:], nil
}

// dummyLength is the length of the dummy source buffer synthesized at load
// time: the true length aligned up to 16 so it never has to match the
// original source, while staying derivable from the header alone.
func dummyLength(sourceLen uint32) uint32 {
	return (sourceLen + 15) &^ 15
}

// DummySource synthesizes the stand-in source buffer supplied to the engine
// in place of the original text. Its length is always 16-aligned; a patched
// header declares exactly this length, so any disagreement means the declared
// length was never patched.
func DummySource(h Header) []byte {
	buf := make([]byte, dummyLength(h.SourceLen))
	for i := range buf {
		buf[i] = ' '
	}
	return buf
}
