package chunk

import (
	"bytes"
	"errors"
	"fmt"
	"io"
)

// MaxBufferedSize bounds a file reassembled in memory. Larger files need a sink.
const MaxBufferedSize = 256 * 1024 * 1024 // 256MB

var (
	// ErrOutOfOrder indicates a chunk whose index is not the next expected one.
	ErrOutOfOrder = errors.New("chunk out of order")
	// ErrOverflow indicates more bytes than the announced total.
	ErrOverflow = errors.New("chunk exceeds announced size")
)

// Reassembler concatenates chunks that must arrive strictly in order, either
// into memory or straight through to a sink.
type Reassembler struct {
	sink    io.Writer
	buf     bytes.Buffer
	next    uint32
	written uint64
	total   uint64
}

// NewReassembler returns a Reassembler that buffers exactly total bytes in memory.
func NewReassembler(total uint64) (*Reassembler, error) {
	if total > MaxBufferedSize {
		return nil, fmt.Errorf("%w: %d bytes cannot be held in memory", ErrFileTooLarge, total)
	}
	r := &Reassembler{total: total}
	if total > 0 && total <= 16*Size {
		r.buf.Grow(int(total))
	}
	return r, nil
}

// NewStreamingReassembler returns a Reassembler that writes each accepted
// chunk to sink and keeps nothing itself.
func NewStreamingReassembler(total uint64, sink io.Writer) (*Reassembler, error) {
	if total > MaxFileSize {
		return nil, ErrFileTooLarge
	}
	return &Reassembler{sink: sink, total: total}, nil
}

// Append adds chunk index. index must equal the number of chunks already appended.
// Errors other than ErrOutOfOrder and ErrOverflow come from the sink.
func (r *Reassembler) Append(index uint32, data []byte) error {
	if index != r.next {
		return fmt.Errorf("%w: got %d, want %d", ErrOutOfOrder, index, r.next)
	}
	if r.written+uint64(len(data)) > r.total {
		return fmt.Errorf("%w: %d + %d > %d", ErrOverflow, r.written, len(data), r.total)
	}
	if r.sink == nil {
		r.buf.Write(data)
	} else if _, err := r.sink.Write(data); err != nil {
		return fmt.Errorf("write chunk %d: %w", index, err)
	}
	r.written += uint64(len(data))
	r.next++
	return nil
}

// Next returns the index the next chunk must carry.
func (r *Reassembler) Next() uint32 {
	return r.next
}

// Complete reports whether exactly the announced number of bytes arrived.
func (r *Reassembler) Complete() bool {
	return r.written == r.total
}

// Bytes returns the reassembled data, or nil when streaming to a sink.
// The slice aliases the internal buffer.
func (r *Reassembler) Bytes() []byte {
	if r.sink != nil {
		return nil
	}
	return r.buf.Bytes()
}
