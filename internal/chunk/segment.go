// Package chunk slices files into fixed-size chunks by byte offset and puts
// them back together in arrival order.
package chunk

import (
	"errors"
	"fmt"
	"io"

	"github.com/sheerbytes/relaydrop/pkg/protocol"
)

const (
	// Size is the payload size of every chunk except the last.
	Size = protocol.ChunkSize

	// MaxFileSize bounds what a single session will stream.
	MaxFileSize = 64 * 1024 * 1024 * 1024 // 64GB
)

var (
	// ErrIndexOutOfRange indicates a chunk index at or past TotalChunks.
	ErrIndexOutOfRange = errors.New("chunk index out of range")
	// ErrShortRead indicates the source ended before the chunk was filled.
	ErrShortRead = errors.New("short read")
	// ErrFileTooLarge indicates a file over the size a reader or writer accepts.
	ErrFileTooLarge = errors.New("file size too large")
)

// TotalChunks returns ceil(size / Size). An empty file has no chunks.
func TotalChunks(size uint64) uint32 {
	return uint32((size + Size - 1) / Size)
}

// Bounds returns the offset and length of chunk index in a file of size bytes.
func Bounds(index uint32, size uint64) (offset uint64, length int, err error) {
	if index >= TotalChunks(size) {
		return 0, 0, fmt.Errorf("%w: %d of %d", ErrIndexOutOfRange, index, TotalChunks(size))
	}
	offset = uint64(index) * Size
	remaining := size - offset
	if remaining > Size {
		remaining = Size
	}
	return offset, int(remaining), nil
}

// Segmenter reads chunks from a random-access source.
// It is safe for concurrent use if the underlying ReaderAt is.
type Segmenter struct {
	src  io.ReaderAt
	size uint64
}

// NewSegmenter returns a Segmenter over size bytes of src.
func NewSegmenter(src io.ReaderAt, size uint64) (*Segmenter, error) {
	if size > MaxFileSize {
		return nil, ErrFileTooLarge
	}
	return &Segmenter{src: src, size: size}, nil
}

// Read returns a freshly allocated copy of chunk index.
func (s *Segmenter) Read(index uint32) ([]byte, error) {
	offset, length, err := Bounds(index, s.size)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, length)
	n, err := s.src.ReadAt(buf, int64(offset))
	if n == length {
		// ReadAt may return io.EOF alongside a full read at the end of the source.
		return buf, nil
	}
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read chunk %d: %w", index, err)
	}
	return nil, fmt.Errorf("read chunk %d: %w: got %d of %d bytes", index, ErrShortRead, n, length)
}
