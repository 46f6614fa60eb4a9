/*************************************************************************
 * Copyright 2017 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package writer owns every open on-disk log file: appending lines,
// deciding when a file has earned rotation, and performing that rotation
// (close, rename with a timestamp suffix, prune old backups, hand the
// retired file to the compressor, reopen).
package writer

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/gravwell/loghogd/internal/compress"
	"github.com/gravwell/loghogd/internal/dlog"
	"github.com/gravwell/loghogd/internal/facility"
	"github.com/gravwell/loghogd/internal/schedule"
)

// logFile is one open, possibly-wrapped, on-disk file and the facility
// settings governing its rotation. Every logFile is guarded by its own
// mutex: unlike the single-threaded process this daemon is descended from,
// multiple connection goroutines may append to the same file concurrently,
// so rotate-check-then-write must be atomic per file.
type logFile struct {
	mu sync.Mutex

	path   string
	fac    facility.Facility
	sched  *schedule.Scheduler
	comp   *compress.Compressor
	log    *dlog.Logger

	f           io.WriteCloser
	size        int64
	dirtyWrites int
}

func openLogFile(path string, fac facility.Facility, sched *schedule.Scheduler, comp *compress.Compressor, log *dlog.Logger) (*logFile, error) {
	lf := &logFile{
		path:  path,
		fac:   fac,
		sched: sched,
		comp:  comp,
		log:   log,
	}
	if err := lf.open(); err != nil {
		return nil, err
	}
	return lf, nil
}

// jobID returns the scheduler key for this file's rotation clock -
// the path itself, matching the Python original's use of filename as the
// dbm key.
func (lf *logFile) jobID() string {
	return lf.path
}

// open creates the file if it doesn't exist yet (recording the creation
// time as the file's first rotation checkpoint), or opens it for append if
// it does. Must be called with mu held.
func (lf *logFile) open() error {
	if err := os.MkdirAll(filepath.Dir(lf.path), 0o755); err != nil {
		return err
	}

	fd, err := os.OpenFile(lf.path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0o640)
	if err != nil {
		if !os.IsExist(err) {
			return err
		}
		fd, err = os.OpenFile(lf.path, os.O_APPEND|os.O_WRONLY, 0o640)
		if err != nil {
			return err
		}
	} else {
		if rerr := lf.sched.RecordExecution(lf.jobID(), time.Now()); rerr != nil {
			fd.Close()
			return rerr
		}
	}

	lf.f = lf.comp.Wrap(fd, filepath.Base(lf.path))

	fi, err := os.Stat(lf.path)
	if err != nil {
		return err
	}
	lf.size = fi.Size()
	lf.dirtyWrites = 0
	return nil
}

// rotateAndWrite rotates this file if it has earned rotation, then appends
// data, all under a single lock acquisition - holding the lock across both
// steps is what lets multiple connection goroutines safely share one
// logFile.
func (lf *logFile) rotateAndWrite(data []byte) error {
	lf.mu.Lock()
	defer lf.mu.Unlock()

	if err := lf.maybeRotate(); err != nil {
		return err
	}
	return lf.writeLocked(data)
}

// writeLocked appends data, flushing and refreshing the cached size once
// every flush_every writes - checking the file's size on every single write
// would be wasteful, so rotation may lag by up to flush_every-1 writes past
// max_size. Must be called with mu held.
func (lf *logFile) writeLocked(data []byte) error {
	if _, err := lf.f.Write(data); err != nil {
		return err
	}
	lf.dirtyWrites++

	if lf.dirtyWrites >= lf.fac.FlushEvery {
		if fl, ok := lf.f.(flusher); ok {
			if err := fl.Flush(); err != nil {
				return err
			}
		}
		lf.dirtyWrites = 0
		if fi, err := os.Stat(lf.path); err == nil {
			lf.size = fi.Size()
		}
	}
	return nil
}

type flusher interface {
	Flush() error
}

// maybeRotate checks whether this file has earned rotation and performs it
// if so. Must be called with mu held.
func (lf *logFile) maybeRotate() error {
	reason, ok := lf.shouldRotate()
	if !ok {
		return nil
	}
	lf.log.Info("rotating", dlog.KV("file", lf.path), dlog.KV("reason", reason))

	if err := lf.f.Close(); err != nil {
		lf.log.Warn("error closing file before rotation", dlog.KV("file", lf.path), dlog.KVErr(err))
	}

	last, _ := lf.sched.GetLastExecution(lf.jobID())
	stamp := last.Format("2006-01-02-15-04-05.000000")
	unwrapped := lf.comp.UnwrapFilename(lf.path)
	rotated := lf.comp.WrapFilename(fmt.Sprintf("%s.%s", unwrapped, stamp))

	if err := rename(lf.path, rotated); err != nil {
		lf.log.Warn("error renaming rotated file", dlog.KV("from", lf.path), dlog.KV("to", rotated), dlog.KVErr(err))
	} else {
		if err := lf.pruneBackups(); err != nil {
			lf.log.Warn("error pruning old backups", dlog.KV("file", lf.path), dlog.KVErr(err))
		}
		lf.comp.Enqueue(fmt.Sprintf("%s.%s", unwrapped, stamp))
	}

	return lf.open()
}

func rename(src, dst string) error {
	if err := os.Rename(src, dst); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return nil
}

// shouldRotate reports whether this file should rotate now, and why. A
// "size" rotation mode only ever checks size - mixing a cron check in
// would mean asking the scheduler to parse "size" as a cron expression,
// which it cannot do.
func (lf *logFile) shouldRotate() (string, bool) {
	if lf.fac.MaxSize > 0 && lf.size >= lf.fac.MaxSize {
		return "max_size", true
	}
	if lf.fac.Rotate == facility.RotateSize {
		return "", false
	}

	now := time.Now()
	next, err := lf.sched.GetNextExecution(lf.jobID(), lf.fac.Rotate, now)
	if err != nil {
		lf.log.Error("invalid rotation schedule", dlog.KV("file", lf.path), dlog.KVErr(err))
		return "", false
	}
	if next.Before(now) {
		return lf.fac.Rotate, true
	}
	return "", false
}

// pruneBackups keeps only the newest BackupCount files sharing this file's
// basename as a prefix, in the same directory.
func (lf *logFile) pruneBackups() error {
	dir := filepath.Dir(lf.path)
	prefix := filepath.Base(lf.comp.UnwrapFilename(lf.path))

	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}

	var backups []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if hasPrefix(e.Name(), prefix) {
			backups = append(backups, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(backups)

	if excess := len(backups) - lf.fac.BackupCount; excess > 0 {
		for _, b := range backups[:excess] {
			if err := os.Remove(b); err != nil {
				lf.log.Warn("error removing old backup", dlog.KV("file", b), dlog.KVErr(err))
			}
		}
	}
	return nil
}

func hasPrefix(name, prefix string) bool {
	return len(name) >= len(prefix) && name[:len(prefix)] == prefix
}

func (lf *logFile) close() error {
	lf.mu.Lock()
	defer lf.mu.Unlock()
	return lf.f.Close()
}
