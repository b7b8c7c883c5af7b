// Package host drives compiles through the alternate GUI-host runtime: an
// external process embedding the same engine behind its own lifecycle. The
// client waits for the host's ready event, sends one compile request at a
// time over the child's stdio, and surfaces every lifecycle failure as
// ErrRuntimeUnavailable.
package host

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/jamestiotio/bytenode/internal/codec"
)

// ErrRuntimeUnavailable reports that the alternate runtime never reached its
// ready state, exited, or timed out.
var ErrRuntimeUnavailable = errors.New("alternate runtime unavailable")

// State tracks the session through its lifecycle.
type State int32

const (
	StateNotStarted State = iota
	StateAwaitingReady
	StateReady
	StateCompiling
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not-started"
	case StateAwaitingReady:
		return "awaiting-ready"
	case StateReady:
		return "ready"
	case StateCompiling:
		return "compiling"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// message is the single wire frame for both directions of the line protocol.
type message struct {
	// ID correlates a request with its reply, so a late reply to an
	// abandoned request is never taken for the current one.
	ID uint64 `json:"id,omitempty"`

	// host -> client lifecycle event
	Event     string `json:"event,omitempty"`
	EngineTag uint32 `json:"engineTag,omitempty"`

	// client -> host request
	Op       string `json:"op,omitempty"`
	Source   string `json:"source,omitempty"`
	Filename string `json:"filename,omitempty"`
	Module   bool   `json:"module,omitempty"`

	// host -> client reply
	Ok        *bool  `json:"ok,omitempty"`
	Artifact  string `json:"artifact,omitempty"`
	Condition string `json:"condition,omitempty"`
	Error     string `json:"error,omitempty"`
}

const conditionCacheUnavailable = "cache-unavailable"

// maxFrame bounds a single protocol line; artifacts travel base64-encoded.
const maxFrame = 64 << 20

// Session is a client connection to one host process.
type Session struct {
	logger zerolog.Logger
	state  atomic.Int32

	mu  sync.Mutex // serializes Compile calls
	enc *json.Encoder
	seq uint64 // request ids, guarded by mu

	ready     chan struct{} // closed on the first ready event
	eof       chan struct{} // closed when the host side goes away
	replies   chan message
	engineTag atomic.Uint32

	cmd       *exec.Cmd
	stdin     io.Closer
	closeOnce sync.Once
}

// NewSession attaches to an already-connected host over in/out. Used
// directly in tests; production callers go through Dial.
func NewSession(in io.Reader, out io.Writer, logger zerolog.Logger) *Session {
	s := &Session{
		logger:  logger,
		enc:     json.NewEncoder(out),
		ready:   make(chan struct{}),
		eof:     make(chan struct{}),
		replies: make(chan message, 1),
	}
	s.state.Store(int32(StateAwaitingReady))
	go s.readLoop(in)
	return s
}

// Dial starts the host process and attaches a session to its stdio.
func Dial(ctx context.Context, command []string, logger zerolog.Logger) (*Session, error) {
	if len(command) == 0 {
		return nil, fmt.Errorf("%w: no host command configured", ErrRuntimeUnavailable)
	}
	cmd := exec.CommandContext(ctx, command[0], command[1:]...)
	cmd.Stderr = os.Stderr
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRuntimeUnavailable, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRuntimeUnavailable, err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: starting host %q: %v", ErrRuntimeUnavailable, command[0], err)
	}
	logger.Debug().Str("command", command[0]).Int("pid", cmd.Process.Pid).Msg("host started")

	s := NewSession(stdout, stdin, logger)
	s.cmd = cmd
	s.stdin = stdin
	return s, nil
}

// State returns the session's current lifecycle state.
func (s *Session) State() State { return State(s.state.Load()) }

// EngineTag returns the engine build tag the host announced. Zero until the
// ready event; safe to call from any goroutine.
func (s *Session) EngineTag() uint32 { return s.engineTag.Load() }

func (s *Session) setState(st State) {
	s.state.Store(int32(st))
	s.logger.Debug().Stringer("state", st).Msg("host session state")
}

func (s *Session) readLoop(in io.Reader) {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), maxFrame)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var msg message
		if err := json.Unmarshal(line, &msg); err != nil {
			s.logger.Warn().Err(err).Msg("host sent an undecodable frame")
			continue
		}
		switch {
		case msg.Event == "ready":
			// Only the reader goroutine closes s.ready, so the check and
			// close cannot race with each other.
			select {
			case <-s.ready:
				s.logger.Warn().Msg("host sent a duplicate ready event")
			default:
				s.engineTag.Store(msg.EngineTag)
				s.setState(StateReady)
				close(s.ready)
			}
		case msg.Ok != nil:
			select {
			case s.replies <- msg:
			default:
				s.logger.Warn().Msg("dropping unsolicited host reply")
			}
		}
	}
	close(s.eof)
}

// Compile runs one compile inside the host after its ready event. The
// context bounds both the ready wait and the round trip; expiry or host
// death surfaces as ErrRuntimeUnavailable. The returned artifact is
// unpatched, exactly as a local codec compile would produce it.
func (s *Session) Compile(ctx context.Context, source, filename string, asModule bool) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	select {
	case <-s.ready:
	case <-s.eof:
		s.setState(StateFailed)
		return nil, fmt.Errorf("%w: host exited before signalling ready", ErrRuntimeUnavailable)
	case <-ctx.Done():
		s.setState(StateFailed)
		return nil, fmt.Errorf("%w: timed out waiting for host ready: %v", ErrRuntimeUnavailable, ctx.Err())
	}

	s.setState(StateCompiling)
	s.seq++
	id := s.seq
	req := message{ID: id, Op: "compile", Source: source, Filename: filename, Module: asModule}
	if err := s.enc.Encode(req); err != nil {
		s.setState(StateFailed)
		return nil, fmt.Errorf("%w: sending compile request: %v", ErrRuntimeUnavailable, err)
	}

	for {
		select {
		case msg := <-s.replies:
			if msg.ID != id {
				// Late reply to a request this session already gave up on.
				s.logger.Warn().Uint64("id", msg.ID).Msg("discarding stale host reply")
				continue
			}
			if msg.Ok == nil || !*msg.Ok {
				s.setState(StateFailed)
				return nil, fmt.Errorf("%w: %s", codec.ErrCompile, msg.Error)
			}
			artifact, err := base64.StdEncoding.DecodeString(msg.Artifact)
			if err != nil {
				s.setState(StateFailed)
				return nil, fmt.Errorf("%w: undecodable artifact from host: %v", ErrRuntimeUnavailable, err)
			}
			s.setState(StateDone)
			if msg.Condition == conditionCacheUnavailable {
				return artifact, codec.ErrCacheUnavailable
			}
			return artifact, nil
		case <-s.eof:
			s.setState(StateFailed)
			return nil, fmt.Errorf("%w: host exited during compile", ErrRuntimeUnavailable)
		case <-ctx.Done():
			s.setState(StateFailed)
			return nil, fmt.Errorf("%w: compile timed out: %v", ErrRuntimeUnavailable, ctx.Err())
		}
	}
}

// Close shuts the host down and joins the reader. Safe to call more than
// once and after failures.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		if s.stdin != nil {
			s.stdin.Close()
		}
		if s.cmd != nil {
			err = s.cmd.Wait()
		}
		<-s.eof
	})
	return err
}
