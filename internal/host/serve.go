package host

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"

	"github.com/rs/zerolog"

	"github.com/jamestiotio/bytenode/internal/codec"
	"github.com/jamestiotio/bytenode/internal/engine"
)

// Serve runs the host side of the line protocol: announce readiness, then
// compile until the peer closes the stream or the context is cancelled.
// This is what `bytenode host` runs, standing in for the GUI-host runtime.
func Serve(ctx context.Context, in io.Reader, out io.Writer, eng engine.Engine, logger zerolog.Logger) error {
	enc := json.NewEncoder(out)
	if err := enc.Encode(message{Event: "ready", EngineTag: eng.VersionTag()}); err != nil {
		return err
	}
	logger.Debug().Msg("host ready")

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), maxFrame)
	ok, notOK := true, false
	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var req message
		if err := json.Unmarshal(line, &req); err != nil {
			enc.Encode(message{Ok: &notOK, Error: "undecodable request: " + err.Error()})
			continue
		}
		if req.Op != "compile" {
			enc.Encode(message{ID: req.ID, Ok: &notOK, Error: "unknown op: " + req.Op})
			continue
		}

		artifact, err := codec.Compile(eng, req.Source, codec.Options{
			Filename:        req.Filename,
			CompileAsModule: req.Module,
			HostVariant:     true,
		})
		reply := message{ID: req.ID, Ok: &ok}
		switch {
		case errors.Is(err, codec.ErrCacheUnavailable):
			reply.Artifact = base64.StdEncoding.EncodeToString(artifact)
			reply.Condition = conditionCacheUnavailable
		case err != nil:
			reply.Ok = &notOK
			reply.Error = err.Error()
		default:
			reply.Artifact = base64.StdEncoding.EncodeToString(artifact)
		}
		if err := enc.Encode(reply); err != nil {
			return err
		}
	}
	return scanner.Err()
}
