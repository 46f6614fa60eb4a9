/*************************************************************************
 * Copyright 2017 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package compress runs post-rotation backup compression on a dedicated
// goroutine, and (when compress_on_write is set) wraps an open log file in
// a streaming gzip writer instead.
package compress

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/klauspost/compress/gzip"

	"github.com/gravwell/loghogd/internal/dlog"
)

// Format identifies an external compression tool.
type Format string

const (
	Gzip Format = "gzip"
	Bzip2 Format = "bzip2"
	Xz   Format = "xz"

	fallbackFormat = Gzip
)

// extensions maps a Format to the suffix its compressed output carries.
var extensions = map[Format]string{
	Gzip:  ".gz",
	Bzip2: ".bz2",
	Xz:    ".xz",
}

func (f Format) valid() bool {
	_, ok := extensions[f]
	return ok
}

// Extension returns the filename suffix this Compressor's format produces.
func (c *Compressor) Extension() string {
	return extensions[c.format]
}

// Compressor queues rotated backup files for external compression on a
// single background goroutine, mirroring the original design's one-worker
// queue: a single consumer means no two compressions of the same file race,
// and failures are just logged rather than retried.
type Compressor struct {
	format  Format
	level   int
	onWrite bool

	queue    chan string
	log      *dlog.Logger
	shutdown atomic.Bool
	stop     chan struct{}
	done     chan struct{}
}

// New discovers an available compressor binary for format (falling back to
// gzip, and erroring if neither is installed), validates level (0-9), and
// starts the background compression goroutine. onWrite selects streaming
// gzip-on-write instead of post-rotation external compression; when true,
// Extension/Wrap always behave as gzip regardless of format.
func New(format Format, level int, onWrite bool, log *dlog.Logger) (*Compressor, error) {
	if !format.valid() {
		return nil, fmt.Errorf("%q is not a valid compression format", format)
	}
	if level < 0 || level > 9 {
		return nil, fmt.Errorf("compression level must be between 0 and 9 inclusive, got %d", level)
	}

	resolved, err := discover(format, log)
	if err != nil {
		return nil, err
	}

	if onWrite {
		resolved = Gzip
		log.Info("streaming compression enabled", dlog.KV("format", string(Gzip)))
	}

	c := &Compressor{
		format:  resolved,
		level:   level,
		onWrite: onWrite,
		queue:   make(chan string, 256),
		log:     log,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go c.run()
	return c, nil
}

// discover picks the executable backing format, falling back to gzip if
// format isn't installed, and errors only if neither is available.
func discover(format Format, log *dlog.Logger) (Format, error) {
	if _, err := exec.LookPath(string(format)); err == nil {
		return format, nil
	}
	if _, err := exec.LookPath(string(fallbackFormat)); err == nil {
		log.Warn("compressor missing, falling back", dlog.KV("requested", string(format)), dlog.KV("fallback", string(fallbackFormat)))
		return fallbackFormat, nil
	}
	return "", fmt.Errorf("compressor %s and fallback %s are both unavailable on PATH", format, fallbackFormat)
}

// OnWrite reports whether compress_on_write is enabled.
func (c *Compressor) OnWrite() bool {
	return c.onWrite
}

// Enqueue requests background compression of filename. A no-op once
// Shutdown has been called or when compress_on_write is enabled (in which
// case rotated files are never left uncompressed in the first place).
func (c *Compressor) Enqueue(filename string) {
	if c.onWrite || c.shutdown.Load() {
		return
	}
	select {
	case c.queue <- filename:
	default:
		c.log.Warn("compression queue full, dropping request", dlog.KV("file", filename))
	}
}

// Shutdown stops accepting new work and signals the worker goroutine to
// abandon anything still queued: a file already mid-compression is allowed
// to finish, but nothing behind it is compressed.
func (c *Compressor) Shutdown() {
	if !c.shutdown.CompareAndSwap(false, true) {
		return
	}
	close(c.stop)
	<-c.done
}

// run pulls one filename at a time, checking for shutdown both before
// accepting the next item and before acting on it, so a shutdown request
// abandons whatever is still sitting in the queue instead of draining it.
func (c *Compressor) run() {
	defer close(c.done)
	for {
		select {
		case <-c.stop:
			return
		case filename, ok := <-c.queue:
			if !ok {
				return
			}
			select {
			case <-c.stop:
				return
			default:
			}
			c.compressOne(filename)
		}
	}
}

func (c *Compressor) compressOne(filename string) {
	if _, err := os.Stat(filename); err != nil {
		c.log.Warn("file not found, messages coming in too fast?", dlog.KV("file", filename))
		return
	}
	c.log.Info("compressing", dlog.KV("file", filename))

	cmd := exec.Command(string(c.format), fmt.Sprintf("-%d", c.level), filename)
	out, err := cmd.CombinedOutput()
	if err != nil {
		c.log.Error("compression failed", dlog.KV("file", filename), dlog.KVErr(err), dlog.KV("output", string(out)))
		return
	}
	c.log.Info("compression succeeded", dlog.KV("file", filename))
}

// Wrap returns w wrapped in a streaming gzip writer when compress_on_write
// is enabled, or w unchanged otherwise. The returned io.WriteCloser must be
// closed to flush the gzip footer.
func (c *Compressor) Wrap(w io.WriteCloser, name string) io.WriteCloser {
	if !c.onWrite {
		return w
	}
	gw, _ := gzip.NewWriterLevel(w, c.level)
	gw.Name = name
	return &gzipWriteCloser{gw: gw, under: w}
}

type gzipWriteCloser struct {
	gw    *gzip.Writer
	under io.WriteCloser
}

func (g *gzipWriteCloser) Write(p []byte) (int, error) { return g.gw.Write(p) }

// Flush pushes any buffered compressed bytes out to the underlying writer
// without closing the gzip stream, so a partially-written file is still
// readable before the next rotation.
func (g *gzipWriteCloser) Flush() error { return g.gw.Flush() }

func (g *gzipWriteCloser) Close() error {
	if err := g.gw.Close(); err != nil {
		g.under.Close()
		return err
	}
	return g.under.Close()
}

// WrapFilename appends the compressor's extension to filename when
// compress_on_write is enabled.
func (c *Compressor) WrapFilename(filename string) string {
	if !c.onWrite {
		return filename
	}
	return filename + c.Extension()
}

// UnwrapFilename strips the compressor's extension from filename when
// compress_on_write is enabled and the extension is present.
func (c *Compressor) UnwrapFilename(filename string) string {
	if !c.onWrite {
		return filename
	}
	return strings.TrimSuffix(filename, c.Extension())
}

// FindUncompressed walks root looking for rotated backup files that lack a
// known compression extension and enqueues them. Intended to be called once
// at startup to recover from files left uncompressed by an unclean
// shutdown.
func (c *Compressor) FindUncompressed(root string, isBackup func(name string) bool) error {
	if c.onWrite {
		return nil
	}
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return err
		}
		ext := filepath.Ext(path)
		for _, known := range extensions {
			if ext == known {
				return nil
			}
		}
		if isBackup(filepath.Base(path)) {
			c.Enqueue(path)
		}
		return nil
	})
}
