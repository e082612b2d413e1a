package conn

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"
)

// ErrInterrupted is returned by an InterruptibleReader whose context was
// canceled while it waited for data.
var ErrInterrupted = errors.New("read interrupted")

// PollInterval bounds how long a canceled read can keep blocking before it
// notices the cancellation.
const PollInterval = 100 * time.Millisecond

// Availabler is implemented by sources that can report how many bytes can be
// read without blocking.
type Availabler interface {
	Available() (int, error)
}

type deadlineReader interface {
	io.Reader
	SetReadDeadline(t time.Time) error
}

// InterruptibleReader makes reads from a blocking source observe context
// cancellation.
//
// Sources with read deadlines (net.Conn) are read in PollInterval slices.
// Sources implementing Availabler are polled every PollInterval until data is
// available, then read. Anything else is read directly after a context check.
// Either way a cancellation is noticed after at most one PollInterval.
type InterruptibleReader struct {
	ctx  context.Context
	r    io.Reader
	poll time.Duration
}

// NewInterruptibleReader wraps r so reads fail with ErrInterrupted once ctx is
// done.
func NewInterruptibleReader(ctx context.Context, r io.Reader) *InterruptibleReader {
	return &InterruptibleReader{ctx: ctx, r: r, poll: PollInterval}
}

func (r *InterruptibleReader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	switch src := r.r.(type) {
	case deadlineReader:
		return r.readWithDeadline(src, p)
	case Availabler:
		return r.readWhenAvailable(src, p)
	default:
		if err := r.interrupted(); err != nil {
			return 0, err
		}
		return r.r.Read(p)
	}
}

func (r *InterruptibleReader) readWithDeadline(src deadlineReader, p []byte) (int, error) {
	defer func() { _ = src.SetReadDeadline(time.Time{}) }()

	for {
		if err := r.interrupted(); err != nil {
			return 0, err
		}

		_ = src.SetReadDeadline(time.Now().Add(r.poll))
		n, err := src.Read(p)
		if n > 0 {
			if isTimeout(err) {
				err = nil
			}
			return n, err
		}
		if isTimeout(err) {
			continue
		}
		return n, err
	}
}

func (r *InterruptibleReader) readWhenAvailable(src Availabler, p []byte) (int, error) {
	t := time.NewTimer(r.poll)
	defer t.Stop()

	for {
		if err := r.interrupted(); err != nil {
			return 0, err
		}

		n, err := src.Available()
		if err != nil {
			return 0, err
		}
		if n > 0 {
			return r.r.Read(p)
		}

		t.Reset(r.poll)
		select {
		case <-r.ctx.Done():
		case <-t.C:
		}
	}
}

func (r *InterruptibleReader) interrupted() error {
	if err := r.ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrInterrupted, err)
	}
	return nil
}

func isTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
