/*************************************************************************
 * Copyright 2017 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package schedule tracks, per job id, the last time a cron-driven rotation
// fired and computes the next fire time. State is pure data - a
// map[string]time.Time plus a stateless next-fire function - persisted
// across restarts the same way ingesters/utils.State persists ingest
// progress: gob-encoded, written with dchest/safefile so a crash mid-write
// never corrupts the file on disk.
package schedule

import (
	"encoding/gob"
	"os"
	"sync"
	"time"

	"github.com/dchest/safefile"
	"github.com/robfig/cron/v3"
)

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Scheduler tracks the last rotation time for every rotating log file,
// identified by an opaque job id (in practice, the log file's path).
type Scheduler struct {
	mtx   sync.Mutex
	last  map[string]time.Time
	fpath string
	perm  os.FileMode
}

// New returns a Scheduler that persists to path. If path already holds a
// gob-encoded state file, it is loaded immediately; a missing file is not
// an error and simply starts with no recorded executions.
func New(path string) (*Scheduler, error) {
	s := &Scheduler{
		last:  make(map[string]time.Time),
		fpath: path,
		perm:  0o640,
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Scheduler) load() error {
	fin, err := os.Open(s.fpath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer fin.Close()

	var m map[string]time.Time
	if err := gob.NewDecoder(fin).Decode(&m); err != nil {
		return err
	}
	s.last = m
	return nil
}

// persist must be called with s.mtx held.
func (s *Scheduler) persist() error {
	fout, err := safefile.Create(s.fpath, s.perm)
	if err != nil {
		return err
	}
	if err := gob.NewEncoder(fout).Encode(s.last); err != nil {
		fout.Close()
		os.Remove(fout.Name())
		return err
	}
	return fout.Commit()
}

// GetLastExecution returns the last recorded fire time for jobID, if any.
func (s *Scheduler) GetLastExecution(jobID string) (time.Time, bool) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	t, ok := s.last[jobID]
	return t, ok
}

// RecordExecution records that jobID fired at when, persisting the updated
// state to disk before returning.
func (s *Scheduler) RecordExecution(jobID string, when time.Time) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	s.last[jobID] = when
	return s.persist()
}

// GetNextExecution returns the first time after jobID's last recorded
// execution at which cronExpr fires; that time may already lie before now,
// which is how a caller detects an overdue rotation. If jobID has never
// fired before, now is recorded as its last execution (so the very first
// rotation deadline is measured from the daemon's start rather than from
// some prior run) and the next fire after now is returned.
func (s *Scheduler) GetNextExecution(jobID, cronExpr string, now time.Time) (time.Time, error) {
	sched, err := parser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, err
	}

	s.mtx.Lock()
	last, ok := s.last[jobID]
	if !ok {
		s.last[jobID] = now
		last = now
		if err := s.persist(); err != nil {
			s.mtx.Unlock()
			return time.Time{}, err
		}
	}
	s.mtx.Unlock()

	return sched.Next(last), nil
}
