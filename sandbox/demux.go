package sandbox

import (
	"bytes"
	"io"
	"sync"

	"github.com/docker/docker/pkg/stdcopy"
)

// syncBuffer is an append-only buffer that can be read while being written.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// StreamDemuxer splits the multiplexed attach stream of a container into
// stdout and stderr. Each frame is an 8-byte header (stream tag, three
// zero bytes, big-endian payload length) followed by the payload; frames
// may be split across or packed into reads arbitrarily.
type StreamDemuxer struct {
	stdout syncBuffer
	stderr syncBuffer
}

// NewStreamDemuxer creates an empty StreamDemuxer.
func NewStreamDemuxer() *StreamDemuxer {
	return &StreamDemuxer{}
}

// Drain consumes r until EOF or error. It returns nil on a clean EOF.
func (d *StreamDemuxer) Drain(r io.Reader) error {
	_, err := stdcopy.StdCopy(&d.stdout, &d.stderr, r)
	return err
}

// Stdout returns everything received on the stdout stream so far.
func (d *StreamDemuxer) Stdout() string {
	return d.stdout.String()
}

// Stderr returns everything received on the stderr stream so far.
func (d *StreamDemuxer) Stderr() string {
	return d.stderr.String()
}
