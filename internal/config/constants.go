package config

// ArtifactExt is the file extension for compiled bytecode artifacts.
const ArtifactExt = ".jsc"

// SourceFileExt is the default source file extension.
const SourceFileExt = ".js"

// SourceFileExtensions are all recognized JavaScript source extensions.
var SourceFileExtensions = []string{".js", ".cjs"}

// DefaultHostCommand is the command spawned for alternate-runtime compiles
// when no host is configured. It must speak the stdio line protocol
// implemented by `bytenode host`.
var DefaultHostCommand = []string{"bytenode", "host"}

// DefaultHostTimeoutSeconds bounds the wait for the host ready event plus
// the compile round trip.
const DefaultHostTimeoutSeconds = 30

// LoaderPlaceholder is substituted with the source base name in loader stub
// path templates.
const LoaderPlaceholder = "%"

// CacheDBName is the file name of the artifact index inside a cache directory.
const CacheDBName = "bytenode.db"
