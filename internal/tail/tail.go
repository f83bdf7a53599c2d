// Package tail follows a growing file as an ordered, unbounded sequence of
// lines. The file is expected to be actively written by another process;
// the tailer never requires it to be complete or closed.
package tail

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dbgwatch/dbgwatch/internal/constants"
)

// Tailer streams lines appended to a file. A Tailer is single-use: once
// stopped or cancelled, a new Follow call is required to tail again.
type Tailer struct {
	path   string
	lines  chan string
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// Options tune tailing behavior. Zero values select defaults.
type Options struct {
	// PollInterval is how long to wait at end-of-file before probing for
	// appended data. Must stay well under a second to keep wake latency low.
	PollInterval time.Duration
}

// Follow opens path and starts streaming lines appended to it. Lines are
// delivered in append order on the Lines channel, which closes when the
// context is cancelled, Stop is called, or a read error occurs.
func Follow(ctx context.Context, path string, opts Options) (*Tailer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening log file: %w", err)
	}

	if opts.PollInterval <= 0 {
		opts.PollInterval = constants.TailPollInterval
	}

	ctx, cancel := context.WithCancel(ctx)
	t := &Tailer{
		path:   path,
		lines:  make(chan string),
		cancel: cancel,
		done:   make(chan struct{}),
	}

	go t.run(ctx, f, opts.PollInterval)

	return t, nil
}

// Lines returns the channel of appended lines. The channel closes when
// tailing ends; check Err afterwards for the cause.
func (t *Tailer) Lines() <-chan string {
	return t.lines
}

// Stop cancels tailing. Safe to call more than once and after the stream
// has already ended.
func (t *Tailer) Stop() {
	t.cancel()
	<-t.done
}

// Err returns the error that ended the stream, or nil for cancellation.
// Only valid after the Lines channel has closed.
func (t *Tailer) Err() error {
	select {
	case <-t.done:
		return t.err
	default:
		return nil
	}
}

// run reads lines until cancelled. At end-of-file it parks on a timer
// instead of spinning; a partially written line (no newline yet) is held
// back until its terminator arrives.
func (t *Tailer) run(ctx context.Context, f *os.File, poll time.Duration) {
	defer close(t.done)
	defer close(t.lines)
	defer f.Close()

	r := bufio.NewReaderSize(f, constants.ReaderBufferSize)
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	var partial []byte
	for {
		chunk, err := r.ReadBytes('\n')

		if n := len(chunk); n > 0 && chunk[n-1] == '\n' {
			line := append(partial, chunk[:n-1]...)
			partial = nil
			if n := len(line); n > 0 && line[n-1] == '\r' {
				line = line[:n-1]
			}
			select {
			case t.lines <- string(line):
			case <-ctx.Done():
				return
			}
			continue
		}

		partial = append(partial, chunk...)
		if len(partial) > constants.ReaderMaxLineSize {
			t.err = fmt.Errorf("log line exceeds %d bytes", constants.ReaderMaxLineSize)
			return
		}

		switch {
		case err == nil:
			// ReadBytes only returns without error on a full line;
			// nothing to do here, but keep the loop total.
		case err == io.EOF:
			// Regular files report EOF at the current end; the next read
			// picks up whatever the writer appended in the meantime.
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		default:
			t.err = err
			return
		}
	}
}
