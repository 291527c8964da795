// Package capture records audio from an input device into a chat attachment.
package capture

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"
	"time"

	"github.com/xiaot623/sparring/internal/domain"
)

// Device is an audio input that can be opened for exclusive capture.
type Device interface {
	Open(ctx context.Context) (Stream, error)
}

// Stream delivers captured audio chunks until it is closed. Chunks is closed
// when the stream ends or after Close.
type Stream interface {
	Chunks() <-chan []byte
	Close() error
}

// FileDevice plays a file back as if it were a microphone. It is used by the
// CLI, which has no access to a real input device.
type FileDevice struct {
	Path      string
	ChunkSize int
	// Interval paces chunk delivery; zero delivers as fast as the reader
	// consumes.
	Interval time.Duration
}

// Open opens the file. A permission failure maps to domain.ErrPermissionDenied
// and a missing file to domain.ErrDeviceUnavailable.
func (d FileDevice) Open(ctx context.Context) (Stream, error) {
	f, err := os.Open(d.Path)
	if err != nil {
		if errors.Is(err, fs.ErrPermission) {
			return nil, fmt.Errorf("%w: %v", domain.ErrPermissionDenied, err)
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrDeviceUnavailable, err)
	}

	size := d.ChunkSize
	if size <= 0 {
		size = 4096
	}
	s := &fileStream{
		f:      f,
		chunks: make(chan []byte),
		done:   make(chan struct{}),
	}
	go s.read(size, d.Interval)
	return s, nil
}

type fileStream struct {
	f      *os.File
	chunks chan []byte
	done   chan struct{}
	once   sync.Once
}

func (s *fileStream) Chunks() <-chan []byte { return s.chunks }

func (s *fileStream) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.f.Close()
	})
	return err
}

func (s *fileStream) read(size int, interval time.Duration) {
	defer close(s.chunks)
	for {
		buf := make([]byte, size)
		n, err := s.f.Read(buf)
		if n > 0 {
			select {
			case s.chunks <- buf[:n]:
			case <-s.done:
				return
			}
		}
		if err != nil {
			return
		}
		if interval > 0 {
			select {
			case <-time.After(interval):
			case <-s.done:
				return
			}
		}
	}
}
