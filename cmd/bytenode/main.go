package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"

	"github.com/jamestiotio/bytenode"
	"github.com/jamestiotio/bytenode/internal/codec"
	"github.com/jamestiotio/bytenode/internal/config"
	"github.com/jamestiotio/bytenode/internal/engine"
	"github.com/jamestiotio/bytenode/internal/host"
)

// defaultLoaderTemplate is used when --loader is given without a value.
const defaultLoaderTemplate = "%.loader.js"

// configFile is the optional per-project configuration looked up in the
// working directory.
const configFile = "bytenode.yaml"

func main() {
	logger := newLogger()
	bytenode.Logger = logger
	cfg := loadConfig(logger)

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(2)
	}

	switch os.Args[1] {
	case "compile":
		os.Exit(handleCompile(os.Args[2:], cfg))
	case "run":
		os.Exit(handleRun(os.Args[2:]))
	case "host":
		os.Exit(handleHost(logger))
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(2)
	}
}

func newLogger() zerolog.Logger {
	w := zerolog.ConsoleWriter{
		Out:     os.Stderr,
		NoColor: !isatty.IsTerminal(os.Stderr.Fd()),
	}
	level := zerolog.InfoLevel
	if os.Getenv("BYTENODE_DEBUG") == "1" {
		level = zerolog.DebugLevel
	}
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}

// loadConfig reads the optional project config and applies any header-layout
// overrides to the codec. A missing file is the normal case.
func loadConfig(logger zerolog.Logger) *config.Config {
	cfg, err := config.Load(configFile)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			logger.Warn().Err(err).Msg("ignoring project config")
		}
		return nil
	}
	for ver, h := range cfg.Headers {
		layout, lerr := codec.LayoutFor(byte(ver))
		if lerr != nil {
			// New format version: start from the current layout and relocate
			// the patched fields.
			layout, _ = codec.LayoutFor(1)
		}
		layout.HeaderSize = h.HeaderSize
		layout.RejectedOffset = h.RejectedOffset
		layout.SourceLengthOffset = h.SourceLengthOffset
		layout.ChecksumOffset = h.ChecksumOffset
		codec.OverrideLayout(byte(ver), layout)
	}
	return cfg
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage: bytenode <command> [options]

Commands:
  compile <file.js>   Compile a source file to a %s artifact
    -o, --output <path>     artifact destination (default: <file>%s)
    --loader [template]     also emit a loader stub (%s in the template is
                             replaced by the source base name; default
                             template %q)
    --electron               compile inside the GUI-host runtime
    --no-module              skip the CommonJS module wrapper
    --cache-dir <dir>        reuse artifacts for unchanged sources
    --timeout <seconds>      host readiness/compile budget

  run <file%s>        Execute a compiled artifact
  host                Run the stdio compile host (used by --electron)
  help                Show this message
`, config.ArtifactExt, config.ArtifactExt, config.LoaderPlaceholder,
		defaultLoaderTemplate, config.ArtifactExt)
}

func handleCompile(args []string, cfg *config.Config) int {
	req := bytenode.DefaultCompileRequest("")
	req.HostCommand = cfg.HostCommand()
	req.Timeout = time.Duration(cfg.HostTimeoutSeconds()) * time.Second

	for i := 0; i < len(args); i++ {
		arg := args[i]
		needValue := func() (string, bool) {
			if i+1 >= len(args) {
				fmt.Fprintf(os.Stderr, "%s requires a value\n", arg)
				return "", false
			}
			i++
			return args[i], true
		}
		switch {
		case arg == "-o" || arg == "--output":
			v, ok := needValue()
			if !ok {
				return 2
			}
			req.Output = v
		case arg == "--loader":
			if i+1 < len(args) && !strings.HasPrefix(args[i+1], "-") {
				i++
				req.LoaderFilename = args[i]
			} else {
				req.LoaderFilename = defaultLoaderTemplate
			}
		case arg == "--electron":
			req.Electron = true
		case arg == "--no-module":
			req.CompileAsModule = false
		case arg == "--cache-dir":
			v, ok := needValue()
			if !ok {
				return 2
			}
			req.CacheDir = v
		case arg == "--timeout":
			v, ok := needValue()
			if !ok {
				return 2
			}
			secs, err := strconv.Atoi(v)
			if err != nil || secs <= 0 {
				fmt.Fprintf(os.Stderr, "--timeout expects a positive number of seconds, got %q\n", v)
				return 2
			}
			req.Timeout = time.Duration(secs) * time.Second
		case strings.HasPrefix(arg, "-"):
			fmt.Fprintf(os.Stderr, "Unknown flag: %s\n", arg)
			return 2
		default:
			if req.Filename != "" {
				fmt.Fprintf(os.Stderr, "Unexpected argument: %s\n", arg)
				return 2
			}
			req.Filename = arg
		}
	}
	if req.Filename == "" {
		fmt.Fprintln(os.Stderr, "Usage: bytenode compile <file.js> [options]")
		return 2
	}

	if err := bytenode.CompileFile(context.Background(), req); err != nil {
		reportCompileError(err)
		return 1
	}
	fmt.Printf("Compiled %s -> %s\n", req.Filename, compiledOutput(req))
	return 0
}

func reportCompileError(err error) {
	switch {
	case errors.Is(err, bytenode.ErrFileNotFound):
		fmt.Fprintf(os.Stderr, "File not found: %s\n", err)
	case errors.Is(err, bytenode.ErrCompile):
		fmt.Fprintf(os.Stderr, "Compile error: %s\n", err)
	case errors.Is(err, bytenode.ErrCacheUnavailable):
		fmt.Fprintf(os.Stderr, "Engine produced no bytecode for this input: %s\n", err)
	case errors.Is(err, bytenode.ErrRuntimeUnavailable):
		fmt.Fprintf(os.Stderr, "Host runtime unavailable: %s\n", err)
	case errors.Is(err, bytenode.ErrIO):
		fmt.Fprintf(os.Stderr, "Write failed: %s\n", err)
	default:
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
	}
}

// compiledOutput mirrors the output-path derivation for the success message.
func compiledOutput(req bytenode.CompileRequest) string {
	if req.Output != "" {
		return req.Output
	}
	return strings.TrimSuffix(req.Filename, filepath.Ext(req.Filename)) + config.ArtifactExt
}

func handleRun(args []string) int {
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "Usage: bytenode run <file"+config.ArtifactExt+">")
		return 2
	}
	bytenode.Install()

	result, err := bytenode.RunFile(args[0], nil)
	if err != nil {
		switch {
		case errors.Is(err, codec.ErrCacheRejected):
			fmt.Fprintf(os.Stderr, "Cache rejected: %s\n", err)
		default:
			fmt.Fprintf(os.Stderr, "Runtime error: %s\n", err)
		}
		return 1
	}
	if result != nil {
		fmt.Println(result)
	}
	return 0
}

func handleHost(logger zerolog.Logger) int {
	eng := engine.NewQuickJS()
	if err := host.Serve(context.Background(), os.Stdin, os.Stdout, eng, logger); err != nil {
		logger.Error().Err(err).Msg("host loop failed")
		return 1
	}
	return 0
}
