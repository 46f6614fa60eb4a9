/*************************************************************************
 * Copyright 2017 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package writer

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/gravwell/loghogd/internal/compress"
	"github.com/gravwell/loghogd/internal/dlog"
	"github.com/gravwell/loghogd/internal/facility"
	"github.com/gravwell/loghogd/internal/schedule"
)

// logLineLayout renders a written line as "<local timestamp> - <hostname> -
// <body>\n", matching LOG_LINE_PROTO from the original implementation.
const logLineLayout = "2006-01-02 15:04:05.000000"

// Writer dispatches ingested messages to the correct on-disk file, opening
// and rotating files as needed. A single Writer instance must own every
// open file under logDir - running two Writers against overlapping
// directories would let both believe they hold exclusive rotation rights
// over the same path.
type Writer struct {
	mu    sync.Mutex
	files map[string]*logFile

	logDir string
	sched  *schedule.Scheduler
	comp   *compress.Compressor
	log    *dlog.Logger
}

// New returns a Writer rooted at logDir, sharing sched for rotation timing
// and comp for backup/stream compression.
func New(logDir string, sched *schedule.Scheduler, comp *compress.Compressor, log *dlog.Logger) *Writer {
	return &Writer{
		files:  make(map[string]*logFile),
		logDir: logDir,
		sched:  sched,
		comp:   comp,
		log:    log,
	}
}

// Write appends body, attributed to hostname, to the file selected by fac -
// rotating that file first if it has earned it.
func (w *Writer) Write(hostname string, fac facility.Facility, body string) error {
	lf, err := w.getFile(hostname, fac)
	if err != nil {
		return err
	}

	line := fmt.Sprintf("%s - %s - %s\n", time.Now().Format(logLineLayout), hostname, body)
	return lf.rotateAndWrite([]byte(line))
}

// filename derives the on-disk path for (hostname, facility), honoring
// file_per_host and any compress_on_write extension.
func (w *Writer) filename(hostname string, fac facility.Facility) string {
	var base string
	if fac.FilePerHost {
		base = fmt.Sprintf("%s-%s.log", hostname, fac.ModStr)
	} else {
		base = fmt.Sprintf("%s.log", fac.ModStr)
	}
	path := filepath.Join(w.logDir, fac.AppID, base)
	return w.comp.WrapFilename(path)
}

// getFile returns the logFile for (hostname, facility), opening it on
// first use. Subsequent calls for the same resolved path reuse the same
// *logFile (and thus the same per-file mutex), which is what gives
// concurrent writers from different connections a single serialization
// point.
func (w *Writer) getFile(hostname string, fac facility.Facility) (*logFile, error) {
	path := w.filename(hostname, fac)

	w.mu.Lock()
	defer w.mu.Unlock()

	if lf, ok := w.files[path]; ok {
		return lf, nil
	}

	lf, err := openLogFile(path, fac, w.sched, w.comp, w.log)
	if err != nil {
		return nil, err
	}
	w.files[path] = lf
	return lf, nil
}

// Reload closes every open file; the next Write for a given (hostname,
// facility) transparently reopens it. Used on SIGHUP after the facility
// database has been swapped in, so files pick up any changed rotation
// settings.
func (w *Writer) Reload() error {
	return w.CloseAll()
}

// CloseAll closes every open file, e.g. during graceful shutdown.
func (w *Writer) CloseAll() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	var firstErr error
	for path, lf := range w.files {
		if err := lf.close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(w.files, path)
	}
	return firstErr
}
