// Package input wraps interactive stdin reads so they honor context
// cancellation. The main loop closes stdin on SIGINT, which surfaces here
// as ErrInputAborted rather than a raw I/O error.
package input

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os"
	"strings"
)

// ErrInputAborted signals that interactive input was interrupted, typically
// by Ctrl+C cancelling the context and closing stdin.
var ErrInputAborted = errors.New("input aborted")

// IsAborted reports whether err represents a user abort.
func IsAborted(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrInputAborted) || errors.Is(err, context.Canceled)
}

// MapInputError normalizes stdin errors caused by a closed descriptor
// (EOF, closed file) into ErrInputAborted. Other errors pass through.
func MapInputError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, io.EOF) || errors.Is(err, os.ErrClosed) {
		return ErrInputAborted
	}
	errStr := strings.ToLower(err.Error())
	if strings.Contains(errStr, "use of closed file") ||
		strings.Contains(errStr, "bad file descriptor") ||
		strings.Contains(errStr, "file already closed") {
		return ErrInputAborted
	}
	return err
}

// ReadLineWithContext reads one line from reader, returning early with
// ErrInputAborted when ctx is cancelled or context.DeadlineExceeded when it
// times out. The blocked read goroutine exits once stdin is closed.
func ReadLineWithContext(ctx context.Context, reader *bufio.Reader) (string, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	type lineResult struct {
		line string
		err  error
	}
	ch := make(chan lineResult, 1)
	go func() {
		line, err := reader.ReadString('\n')
		ch <- lineResult{line: line, err: MapInputError(err)}
	}()
	select {
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", context.DeadlineExceeded
		}
		return "", ErrInputAborted
	case res := <-ch:
		return res.line, res.err
	}
}

// ReadPasswordWithContext reads a secret without echo via the supplied
// readPassword function (normally term.ReadPassword), with the same
// cancellation behavior as ReadLineWithContext.
func ReadPasswordWithContext(ctx context.Context, readPassword func(int) ([]byte, error), fd int) ([]byte, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if readPassword == nil {
		return nil, errors.New("readPassword function is nil")
	}
	type passwordResult struct {
		b   []byte
		err error
	}
	ch := make(chan passwordResult, 1)
	go func() {
		b, err := readPassword(fd)
		ch <- passwordResult{b: b, err: MapInputError(err)}
	}()
	select {
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, context.DeadlineExceeded
		}
		return nil, ErrInputAborted
	case res := <-ch:
		return res.b, res.err
	}
}
