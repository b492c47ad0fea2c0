package engine

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/castlegate/chessd/internal/obslog"
	"go.uber.org/zap"
)

const (
	defaultReadyTimeout = 4 * time.Second
	defaultSkillLevel   = 10
	minSkillLevel       = 0
	maxSkillLevel       = 20
)

// ErrProtocol is returned when the engine stream ends or a search finishes
// without a terminal bestmove line.
var ErrProtocol = errors.New("engine protocol violation")

// ErrNotFound is returned when no engine binary can be located.
var ErrNotFound = errors.New("engine binary not found")

// defaultPaths is the ordered candidate search list used when no explicit
// binary path is configured.
var defaultPaths = []string{
	"stockfish",
	"/usr/local/bin/stockfish",
	"/usr/games/stockfish",
	"/opt/homebrew/bin/stockfish",
}

// Reply carries the terminal best move plus the last telemetry seen on the
// stream before it.
type Reply struct {
	Move       string
	Evaluation int
	Depth      int
	Elapsed    time.Duration
}

// UCI drives one external engine subprocess over its line protocol. The
// process, its streams, and the read cursor are owned exclusively by this
// value; Close is idempotent and safe on a partially constructed adapter.
type UCI struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Reader

	mu     sync.Mutex // guards stdin writes
	search sync.Mutex // serializes searches

	level int
	depth int

	closeOnce sync.Once
	closeErr  error
}

// New spawns the engine and completes the UCI handshake. An empty binaryPath
// triggers the candidate-path search. Any failure tears the process down.
func New(ctx context.Context, binaryPath string) (*UCI, error) {
	path, err := resolveBinary(binaryPath)
	if err != nil {
		return nil, err
	}

	cmd := exec.Command(path)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("create stdin pipe: %w", err)
	}
	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return nil, fmt.Errorf("create stdout pipe: %w", err)
	}
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		stdin.Close()
		stdoutPipe.Close()
		return nil, fmt.Errorf("start engine: %w", err)
	}

	e := &UCI{
		cmd:    cmd,
		stdin:  stdin,
		stdout: bufio.NewReader(stdoutPipe),
		level:  defaultSkillLevel,
		depth:  depthForLevel(defaultSkillLevel),
	}

	if err := e.initialize(ctx); err != nil {
		_ = e.Close()
		return nil, err
	}
	obslog.L().Info("engine_spawned", zap.String("binary", path))
	return e, nil
}

func resolveBinary(binaryPath string) (string, error) {
	candidates := defaultPaths
	if strings.TrimSpace(binaryPath) != "" {
		candidates = []string{strings.TrimSpace(binaryPath)}
	}
	for _, c := range candidates {
		if p, err := exec.LookPath(c); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w: tried %s", ErrNotFound, strings.Join(candidates, ", "))
}

func (e *UCI) initialize(ctx context.Context) error {
	initCtx, cancel := context.WithTimeout(ctx, defaultReadyTimeout)
	defer cancel()

	if err := e.send("uci\n"); err != nil {
		return fmt.Errorf("send uci: %w", err)
	}
	if err := e.awaitToken(initCtx, "uciok"); err != nil {
		return fmt.Errorf("wait uciok: %w", err)
	}
	if err := e.send("ucinewgame\n"); err != nil {
		return fmt.Errorf("send ucinewgame: %w", err)
	}
	if err := e.send("isready\n"); err != nil {
		return fmt.Errorf("send isready: %w", err)
	}
	if err := e.awaitToken(initCtx, "readyok"); err != nil {
		return fmt.Errorf("wait readyok: %w", err)
	}
	return nil
}

// SetDifficulty maps a 0-20 level onto the engine's native skill option and
// an internal search-depth tier. Out-of-range input falls back to the
// default level.
func (e *UCI) SetDifficulty(level int) error {
	level = clampLevel(level)
	e.level = level
	e.depth = depthForLevel(level)
	return e.send(fmt.Sprintf("setoption name Skill Level value %d\n", level))
}

// SearchDepth returns the depth tier derived from the current difficulty.
func (e *UCI) SearchDepth() int { return e.depth }

func clampLevel(level int) int {
	if level < minSkillLevel || level > maxSkillLevel {
		return defaultSkillLevel
	}
	return level
}

func depthForLevel(level int) int {
	switch {
	case level <= 5:
		return 1
	case level <= 10:
		return 3
	case level <= 15:
		return 8
	default:
		return 15
	}
}

// BestMove sets the position, starts a bounded search, and scans the stream
// for telemetry and the terminal bestmove line. A stream that ends without a
// terminal line fails with ErrProtocol.
func (e *UCI) BestMove(ctx context.Context, fen string, depth int, budget time.Duration) (Reply, error) {
	e.search.Lock()
	defer e.search.Unlock()

	if err := e.send(buildPositionCommand(fen)); err != nil {
		return Reply{}, fmt.Errorf("send position: %w", err)
	}
	if err := e.send(buildGoCommand(depth, budget)); err != nil {
		return Reply{}, fmt.Errorf("send go: %w", err)
	}

	searchCtx, cancel := context.WithTimeout(ctx, searchTimeout(budget))
	defer cancel()

	var (
		eval      int
		seenDepth int
		start     = time.Now()
	)

	for {
		line, err := e.readLine(searchCtx)
		if err != nil {
			return Reply{}, fmt.Errorf("%w: read line: %v", ErrProtocol, err)
		}
		if line == "" {
			continue
		}

		switch {
		case strings.HasPrefix(line, "info "):
			if ev, d, ok := parseInfo(line); ok {
				eval = ev
				if d > 0 {
					seenDepth = d
				}
			}
		case strings.HasPrefix(line, "bestmove"):
			parts := strings.Fields(line)
			if len(parts) < 2 || parts[1] == "" || parts[1] == "(none)" {
				return Reply{}, fmt.Errorf("%w: empty bestmove", ErrProtocol)
			}
			return Reply{
				Move:       parts[1],
				Evaluation: eval,
				Depth:      seenDepth,
				Elapsed:    time.Since(start),
			}, nil
		}
	}
}

func buildPositionCommand(fen string) string {
	fen = strings.TrimSpace(fen)
	if fen == "" || fen == "startpos" {
		return "position startpos\n"
	}
	return "position fen " + fen + "\n"
}

func buildGoCommand(depth int, budget time.Duration) string {
	args := []string{"go"}
	if depth > 0 {
		args = append(args, "depth", strconv.Itoa(depth))
	}
	if budget > 0 {
		args = append(args, "movetime", strconv.Itoa(int(budget.Milliseconds())))
	}
	if len(args) == 1 {
		args = append(args, "depth", "1")
	}
	return strings.Join(args, " ") + "\n"
}

func searchTimeout(budget time.Duration) time.Duration {
	if budget > 0 {
		return budget + 2*time.Second
	}
	return 6 * time.Second
}

// parseInfo extracts evaluation and depth from an info line. Mate scores
// collapse to a saturated centipawn value.
func parseInfo(line string) (eval, depth int, ok bool) {
	parts := strings.Fields(line)
	for i := 0; i < len(parts); i++ {
		switch parts[i] {
		case "depth":
			if i+1 < len(parts) {
				if v, err := strconv.Atoi(parts[i+1]); err == nil {
					depth = v
					ok = true
				}
				i++
			}
		case "score":
			if i+2 < len(parts) {
				switch parts[i+1] {
				case "cp":
					if v, err := strconv.Atoi(parts[i+2]); err == nil {
						eval = v
						ok = true
					}
				case "mate":
					if v, err := strconv.Atoi(parts[i+2]); err == nil {
						const mateValue = 30000
						if v >= 0 {
							eval = mateValue
						} else {
							eval = -mateValue
						}
						ok = true
					}
				}
				i += 2
			}
		}
	}
	return eval, depth, ok
}

// Close sends a graceful quit, closes the streams, and force-terminates the
// process if it lingers. Safe to call more than once and on an adapter whose
// spawn never completed.
func (e *UCI) Close() error {
	e.closeOnce.Do(func() {
		if e.stdin != nil {
			_ = e.send("quit\n")
			_ = e.stdin.Close()
		}
		if e.cmd != nil && e.cmd.Process != nil {
			done := make(chan error, 1)
			go func() { done <- e.cmd.Wait() }()
			select {
			case <-done:
			case <-time.After(2 * time.Second):
				_ = e.cmd.Process.Kill()
				<-done
			}
		}
	})
	return e.closeErr
}

func (e *UCI) send(msg string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stdin == nil {
		return fmt.Errorf("engine stdin closed")
	}
	_, err := io.WriteString(e.stdin, msg)
	return err
}

func (e *UCI) awaitToken(ctx context.Context, token string) error {
	for {
		line, err := e.readLine(ctx)
		if err != nil {
			return err
		}
		if strings.Contains(line, token) {
			return nil
		}
	}
}

func (e *UCI) readLine(ctx context.Context) (string, error) {
	type result struct {
		line string
		err  error
	}
	ch := make(chan result, 1)

	go func() {
		line, err := e.stdout.ReadString('\n')
		ch <- result{line: strings.TrimSpace(line), err: err}
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.err != nil && res.line == "" {
			return "", res.err
		}
		return res.line, nil
	}
}
