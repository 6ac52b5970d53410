// Package logtail reads service log files that may not exist yet.
package logtail

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
)

// ErrLogNotFound is returned by Tail when the log file does not exist. It
// wraps os.ErrNotExist.
var ErrLogNotFound = fmt.Errorf("log file not found: %w", os.ErrNotExist)

// DefaultTailBytes is how much of a log Tail returns.
const DefaultTailBytes = 256 << 10

const chunkSize = 64 << 10

// Reader reads service logs. The zero value uses DefaultTailBytes.
type Reader struct {
	TailBytes int64
}

func NewReader() *Reader {
	return &Reader{TailBytes: DefaultTailBytes}
}

// Tail returns the last TailBytes of the file at path; a partial first line is
// dropped when the file was cut.
func (r *Reader) Tail(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", ErrLogNotFound
		}
		return "", err
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return "", err
	}

	limit := r.TailBytes
	if limit <= 0 {
		limit = DefaultTailBytes
	}
	off := fi.Size() - limit
	if off < 0 {
		off = 0
	}

	buf := make([]byte, fi.Size()-off)
	n, err := f.ReadAt(buf, off)
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	buf = buf[:n]
	if off > 0 {
		if i := bytes.IndexByte(buf, '\n'); i >= 0 {
			buf = buf[i+1:]
		}
	}
	return string(buf), nil
}

// Offset returns the current size of the log, or 0 when it does not exist.
// Record it before launching a service and pass it to ContainsSince.
func (r *Reader) Offset(path string) int64 {
	fi, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return fi.Size()
}

// ContainsSince reports whether marker occurs in the log after byte offset.
// A missing log is not an error. If the log is now shorter than offset it was
// truncated or rotated and is searched from the start.
func (r *Reader) ContainsSince(path string, offset int64, marker string) (bool, error) {
	if marker == "" {
		return true, nil
	}
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return false, err
	}
	if offset < 0 || fi.Size() < offset {
		offset = 0
	}
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return false, err
	}

	needle := []byte(marker)
	keep := len(needle) - 1
	buf := make([]byte, 0, chunkSize+keep)
	chunk := make([]byte, chunkSize)
	for {
		n, err := f.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
			if bytes.Contains(buf, needle) {
				return true, nil
			}
			if len(buf) > keep {
				buf = append(buf[:0], buf[len(buf)-keep:]...)
			}
		}
		if errors.Is(err, io.EOF) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
	}
}
