package live

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"

	"go.uber.org/zap"

	"github.com/sdpower/claude-usage/internal/loader"
	"github.com/sdpower/claude-usage/internal/logging"
	"github.com/sdpower/claude-usage/internal/types"
)

var (
	ErrSpawn  = errors.New("failed to start keeper")
	ErrStream = errors.New("keeper stream failed")
)

// Process is a running event source.
type Process interface {
	Stdout() io.Reader
	// Wait blocks until the process exits. Call it only after Stdout is drained.
	Wait() error
	Kill() error
}

// Spawner starts a fresh event source.
type Spawner interface {
	Spawn(ctx context.Context) (Process, error)
}

// KeeperSpawner runs `<path> watch --json`.
type KeeperSpawner struct {
	Path   string
	Logger *zap.SugaredLogger
}

func (k KeeperSpawner) Spawn(_ context.Context) (Process, error) {
	log := k.Logger
	if log == nil {
		log = logging.Named("keeper")
	}

	// Cancellation is handled by the orchestrator through Kill so the
	// stream always ends with a drained pipe. A nil Stdin reads from the
	// null device.
	cmd := exec.Command(k.Path, "watch", "--json")
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSpawn, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSpawn, err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrSpawn, k.Path, err)
	}
	log.Debugw("Started keeper watch process", "path", k.Path, "pid", cmd.Process.Pid)

	p := &keeperProcess{cmd: cmd, stdout: stdout, stderrDone: make(chan struct{})}
	go func() {
		defer close(p.stderrDone)
		lines := loader.NewLineReader(stderr)
		for {
			line, err := lines.Next()
			if errors.Is(err, loader.ErrLineTooLong) {
				continue
			}
			if err != nil {
				return
			}
			log.Debugw("keeper stderr", "line", string(line))
		}
	}()
	return p, nil
}

type keeperProcess struct {
	cmd        *exec.Cmd
	stdout     io.Reader
	stderrDone chan struct{}
}

func (p *keeperProcess) Stdout() io.Reader { return p.stdout }

func (p *keeperProcess) Wait() error {
	<-p.stderrDone
	return p.cmd.Wait()
}

func (p *keeperProcess) Kill() error {
	if p.cmd.Process == nil {
		return nil
	}
	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}

// Watcher decodes usage records from a keeper's NDJSON stream.
type Watcher struct {
	lines *loader.LineReader
	log   *zap.SugaredLogger

	decodeErrors int
}

func NewWatcher(r io.Reader, log *zap.SugaredLogger) *Watcher {
	if log == nil {
		log = logging.Named("watcher")
	}
	return &Watcher{lines: loader.NewLineReader(r), log: log}
}

// Next returns the next record carrying usage. Undecodable and oversized
// lines are skipped. It returns io.EOF when the stream ends cleanly and an
// error wrapping ErrStream on a read failure.
func (w *Watcher) Next() (types.UsageRecord, error) {
	for {
		line, err := w.lines.Next()
		switch {
		case err == nil:
		case errors.Is(err, io.EOF):
			return types.UsageRecord{}, io.EOF
		case errors.Is(err, loader.ErrLineTooLong):
			w.decodeErrors++
			w.log.Warnw("Skipping oversized keeper line", "limit", loader.MaxLineSize)
			continue
		default:
			return types.UsageRecord{}, fmt.Errorf("%w: %v", ErrStream, err)
		}

		if len(line) == 0 {
			continue
		}
		rec, err := loader.DecodeLine(line)
		if err != nil {
			if !errors.Is(err, loader.ErrNoUsage) {
				w.decodeErrors++
				w.log.Warnw("Skipping undecodable keeper line", "error", err)
			}
			continue
		}
		return rec, nil
	}
}

// DecodeErrors returns how many lines failed to decode.
func (w *Watcher) DecodeErrors() int {
	return w.decodeErrors
}
