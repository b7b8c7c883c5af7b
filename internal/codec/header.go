package codec

import (
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"sync"
)

// artifactMagic is the header magic for bytecode artifacts: "JSCB".
var artifactMagic = [4]byte{'J', 'S', 'C', 'B'}

// Format version constants.
const (
	formatV1 byte = 0x01
)

// Header flag bits.
const (
	// FlagModule marks an artifact compiled under the CommonJS wrapper.
	FlagModule byte = 1 << 0

	// FlagHostVariant marks an artifact produced by the GUI-host runtime.
	// The loader skips the engine-tag comparison for these, matching the
	// host runtime's relaxed cache validation.
	FlagHostVariant byte = 1 << 1
)

// HeaderLayout names the byte offsets of every header field for one format
// version. The rejected-flag and source-length offsets are the fragile
// coupling to the engine build, so they live in this table instead of
// literals scattered through the codec, and can be overridden per engine
// build via configuration.
type HeaderLayout struct {
	HeaderSize          int
	VersionOffset       int
	FlagsOffset         int
	RejectedOffset      int
	EngineTagOffset     int
	SourceLengthOffset  int
	PayloadLengthOffset int
	ChecksumOffset      int
}

var (
	layoutMu sync.RWMutex
	layouts  = map[byte]HeaderLayout{
		formatV1: {
			HeaderSize:          28,
			VersionOffset:       4,
			FlagsOffset:         5,
			RejectedOffset:      6,
			EngineTagOffset:     8,
			SourceLengthOffset:  12,
			PayloadLengthOffset: 16,
			ChecksumOffset:      20,
		},
	}
)

// LayoutFor returns the header layout for a format version. Unknown versions
// fail loudly rather than guessing offsets.
func LayoutFor(version byte) (HeaderLayout, error) {
	layoutMu.RLock()
	defer layoutMu.RUnlock()
	l, ok := layouts[version]
	if !ok {
		return HeaderLayout{}, fmt.Errorf("%w: unknown artifact format version %d", ErrCacheRejected, version)
	}
	return l, nil
}

// OverrideLayout replaces the layout for a format version. Used when a
// configuration file relocates the patched fields for a newer engine build.
func OverrideLayout(version byte, l HeaderLayout) {
	layoutMu.Lock()
	defer layoutMu.Unlock()
	layouts[version] = l
}

// Header is the decoded fixed-size artifact header.
type Header struct {
	FormatVersion    byte
	CompiledAsModule bool
	HostVariant      bool
	Rejected         bool
	EngineTag        uint32
	SourceLen        uint32
	PayloadLen       uint32
	Checksum         uint32
}

func (h Header) flags() byte {
	var f byte
	if h.CompiledAsModule {
		f |= FlagModule
	}
	if h.HostVariant {
		f |= FlagHostVariant
	}
	return f
}

// checksum covers every field the loader trusts plus the payload, so a
// tampered length or tag is detected before the engine sees the cache.
func checksum(l HeaderLayout, hdr []byte, payload []byte) uint32 {
	h := fnv.New32a()
	h.Write(hdr[l.FlagsOffset : l.FlagsOffset+1])
	h.Write(hdr[l.RejectedOffset : l.RejectedOffset+1])
	h.Write(hdr[l.EngineTagOffset : l.EngineTagOffset+4])
	h.Write(hdr[l.SourceLengthOffset : l.SourceLengthOffset+4])
	h.Write(hdr[l.PayloadLengthOffset : l.PayloadLengthOffset+4])
	h.Write(payload)
	return h.Sum32()
}

// encodeHeader writes a header plus payload into a fresh artifact buffer.
// The codec only encodes format versions it has a layout for.
func encodeHeader(h Header, payload []byte) []byte {
	l, _ := LayoutFor(h.FormatVersion)
	buf := make([]byte, l.HeaderSize+len(payload))
	copy(buf, artifactMagic[:])
	buf[l.VersionOffset] = h.FormatVersion
	buf[l.FlagsOffset] = h.flags()
	if h.Rejected {
		buf[l.RejectedOffset] = 1
	}
	binary.LittleEndian.PutUint32(buf[l.EngineTagOffset:], h.EngineTag)
	binary.LittleEndian.PutUint32(buf[l.SourceLengthOffset:], h.SourceLen)
	binary.LittleEndian.PutUint32(buf[l.PayloadLengthOffset:], h.PayloadLen)
	copy(buf[l.HeaderSize:], payload)
	binary.LittleEndian.PutUint32(buf[l.ChecksumOffset:], checksum(l, buf[:l.HeaderSize], payload))
	return buf
}

// decodeHeader parses and structurally validates an artifact's header.
// It does not check the checksum, rejected flag or engine tag; that is
// ValidateHeader's job.
func decodeHeader(artifact []byte) (Header, HeaderLayout, error) {
	if len(artifact) < len(artifactMagic)+1 {
		return Header{}, HeaderLayout{}, fmt.Errorf("%w: artifact too short", ErrCacheRejected)
	}
	for i := range artifactMagic {
		if artifact[i] != artifactMagic[i] {
			return Header{}, HeaderLayout{}, fmt.Errorf("%w: invalid magic, expected JSCB", ErrCacheRejected)
		}
	}
	version := artifact[len(artifactMagic)]
	l, err := LayoutFor(version)
	if err != nil {
		return Header{}, HeaderLayout{}, err
	}
	if len(artifact) < l.HeaderSize {
		return Header{}, HeaderLayout{}, fmt.Errorf("%w: truncated header", ErrCacheRejected)
	}

	flags := artifact[l.FlagsOffset]
	h := Header{
		FormatVersion:    version,
		CompiledAsModule: flags&FlagModule != 0,
		HostVariant:      flags&FlagHostVariant != 0,
		Rejected:         artifact[l.RejectedOffset] != 0,
		EngineTag:        binary.LittleEndian.Uint32(artifact[l.EngineTagOffset:]),
		SourceLen:        binary.LittleEndian.Uint32(artifact[l.SourceLengthOffset:]),
		PayloadLen:       binary.LittleEndian.Uint32(artifact[l.PayloadLengthOffset:]),
		Checksum:         binary.LittleEndian.Uint32(artifact[l.ChecksumOffset:]),
	}
	if int(h.PayloadLen) != len(artifact)-l.HeaderSize {
		return Header{}, HeaderLayout{}, fmt.Errorf("%w: payload length mismatch (header says %d, have %d)",
			ErrCacheRejected, h.PayloadLen, len(artifact)-l.HeaderSize)
	}
	return h, l, nil
}
