// Package termio serializes terminal output through background writers.
package termio

import (
	"io"
	"os"
	"sync"
)

type item struct {
	buf  []byte
	done chan struct{} // set for flush markers
}

type writer struct {
	file io.Writer
	ch   chan item
}

func (w *writer) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	buf := make([]byte, len(p))
	copy(buf, p)
	w.ch <- item{buf: buf}
	return len(p), nil
}

// flush blocks until everything written before it reached the file.
func (w *writer) flush() {
	done := make(chan struct{})
	w.ch <- item{done: done}
	<-done
}

type manager struct {
	once   sync.Once
	stdout *writer
	stderr *writer
}

var global manager

func Init() {
	global.once.Do(func() {
		global.stdout = newWriter(os.Stdout)
		global.stderr = newWriter(os.Stderr)
	})
}

func newWriter(f io.Writer) *writer {
	w := &writer{
		file: f,
		ch:   make(chan item, 1024),
	}
	go func() {
		for it := range w.ch {
			if it.done != nil {
				close(it.done)
				continue
			}
			_, _ = w.file.Write(it.buf)
		}
	}()
	return w
}

func Stdout() io.Writer {
	Init()
	return global.stdout
}

func Stderr() io.Writer {
	Init()
	return global.stderr
}

// Flush waits for pending stdout and stderr output. Call it before exiting.
func Flush() {
	Init()
	global.stdout.flush()
	global.stderr.flush()
}

// IsTerminal reports whether f is a character device.
func IsTerminal(f *os.File) bool {
	if f == nil {
		return false
	}
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
