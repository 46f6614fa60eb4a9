/*************************************************************************
 * Copyright 2017 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package dlog is loghogd's internal operational logger. It is not the log
// of ingested records (that is the Writer's job) - it is where the daemon
// reports its own startup, shutdown, and error events.
package dlog

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/crewjam/rfc5424"
)

const (
	OFF      Level = 0
	DEBUG    Level = 1
	INFO     Level = 2
	WARN     Level = 3
	ERROR    Level = 4
	CRITICAL Level = 5
	FATAL    Level = 6
)

const (
	defaultDepth = 3
	defaultID    = `loghogd@1`

	maxAppname  = 48
	maxHostname = 255
)

var (
	ErrNotOpen      = errors.New("logger is not open")
	ErrInvalidLevel = errors.New("log level is invalid")
)

// Level is one rung of the daemon's internal severity ladder.
type Level int

func (l Level) String() string {
	switch l {
	case OFF:
		return `OFF`
	case DEBUG:
		return `DEBUG`
	case INFO:
		return `INFO`
	case WARN:
		return `WARN`
	case ERROR:
		return `ERROR`
	case CRITICAL:
		return `CRITICAL`
	case FATAL:
		return `FATAL`
	}
	return `UNKNOWN`
}

func (l Level) Valid() bool {
	return l >= OFF && l <= FATAL
}

func (l Level) priority() rfc5424.Priority {
	switch l {
	case OFF:
		return 0
	case DEBUG:
		return rfc5424.User | rfc5424.Debug
	case INFO:
		return rfc5424.User | rfc5424.Info
	case WARN:
		return rfc5424.User | rfc5424.Warning
	case ERROR:
		return rfc5424.User | rfc5424.Error
	case CRITICAL:
		return rfc5424.User | rfc5424.Crit
	case FATAL:
		return rfc5424.User | rfc5424.Emergency
	}
	return rfc5424.User | rfc5424.Debug
}

// LevelFromString parses the main configuration's log_level value.
func LevelFromString(s string) (l Level, err error) {
	switch strings.ToUpper(s) {
	case `OFF`:
		l = OFF
	case `DEBUG`:
		l = DEBUG
	case `INFO`:
		l = INFO
	case `WARN`:
		l = WARN
	case `ERROR`:
		l = ERROR
	case `CRITICAL`:
		l = CRITICAL
	case `FATAL`:
		l = FATAL
	default:
		err = ErrInvalidLevel
	}
	return
}

// Logger fans every log line out to every attached writer. A single
// instance is typically shared by the whole daemon.
type Logger struct {
	hostname string
	appname  string
	wtrs     []io.WriteCloser
	mtx      sync.Mutex
	lvl      Level
	hot      bool
}

// New creates a Logger at INFO level writing to wtr.
func New(wtr io.WriteCloser) (l *Logger) {
	l = &Logger{
		wtrs: []io.WriteCloser{wtr},
		lvl:  INFO,
		hot:  true,
	}
	l.guessHostnameAppname()
	return
}

// NewFile opens (or creates) f in append mode and wraps it in a Logger.
func NewFile(f string) (*Logger, error) {
	fout, err := os.OpenFile(f, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0640)
	if err != nil {
		return nil, err
	}
	return New(fout), nil
}

// NewStderrLogger returns a Logger writing RFC5424 lines to stderr.
func NewStderrLogger() *Logger {
	return New(os.Stderr)
}

func (l *Logger) guessHostnameAppname() {
	if h, err := os.Hostname(); err == nil {
		if len(h) > maxHostname {
			h = h[:maxHostname]
		}
		l.hostname = h
	}
	if len(os.Args) > 0 {
		exe := filepath.Base(os.Args[0])
		if ext := filepath.Ext(exe); len(ext) > 0 && len(ext) < len(exe) {
			exe = strings.TrimSuffix(exe, ext)
		}
		if len(exe) > maxAppname {
			exe = exe[:maxAppname]
		}
		l.appname = exe
	}
}

func (l *Logger) ready() error {
	if !l.hot || len(l.wtrs) == 0 {
		return ErrNotOpen
	}
	return nil
}

// AddWriter attaches an additional writer; every subsequent log line goes to
// it as well. Used to add the rotating internal-log file alongside stderr.
func (l *Logger) AddWriter(wtr io.WriteCloser) error {
	if wtr == nil {
		return errors.New("nil writer")
	}
	l.mtx.Lock()
	defer l.mtx.Unlock()
	if err := l.ready(); err != nil {
		return err
	}
	l.wtrs = append(l.wtrs, wtr)
	return nil
}

// SetLevelString sets the minimum logged level from a config string.
func (l *Logger) SetLevelString(s string) error {
	lvl, err := LevelFromString(s)
	if err != nil {
		return err
	}
	return l.SetLevel(lvl)
}

func (l *Logger) SetLevel(lvl Level) error {
	if !lvl.Valid() {
		return ErrInvalidLevel
	}
	l.mtx.Lock()
	l.lvl = lvl
	l.mtx.Unlock()
	return nil
}

// Close closes every attached writer.
func (l *Logger) Close() (err error) {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	if e := l.ready(); e != nil {
		return e
	}
	l.hot = false
	for _, w := range l.wtrs {
		if e := w.Close(); e != nil {
			err = e
		}
	}
	return
}

func (l *Logger) Debug(msg string, sds ...rfc5424.SDParam) { l.output(defaultDepth, DEBUG, msg, sds...) }
func (l *Logger) Info(msg string, sds ...rfc5424.SDParam)  { l.output(defaultDepth, INFO, msg, sds...) }
func (l *Logger) Warn(msg string, sds ...rfc5424.SDParam)  { l.output(defaultDepth, WARN, msg, sds...) }
func (l *Logger) Error(msg string, sds ...rfc5424.SDParam) { l.output(defaultDepth, ERROR, msg, sds...) }
func (l *Logger) Critical(msg string, sds ...rfc5424.SDParam) {
	l.output(defaultDepth, CRITICAL, msg, sds...)
}

// Fatal logs at FATAL and exits with status -1.
func (l *Logger) Fatal(msg string, sds ...rfc5424.SDParam) {
	l.FatalCode(-1, msg, sds...)
}

// FatalCode logs at FATAL and exits with the given status code. Used for the
// startup paths that must exit with EX_CONFIG or EX_SOFTWARE.
func (l *Logger) FatalCode(code int, msg string, sds ...rfc5424.SDParam) {
	l.output(defaultDepth, FATAL, msg, sds...)
	os.Exit(code)
}

func (l *Logger) output(depth int, lvl Level, msg string, sds ...rfc5424.SDParam) {
	l.mtx.Lock()
	skip := l.lvl == OFF || lvl < l.lvl
	l.mtx.Unlock()
	if skip {
		return
	}
	ts := time.Now()
	b, err := genRFCMessage(ts, lvl.priority(), l.hostname, l.appname, callLoc(depth), msg, sds...)
	if err != nil {
		return
	}
	l.write(b)
}

func (l *Logger) write(b []byte) {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	if err := l.ready(); err != nil {
		return
	}
	for _, w := range l.wtrs {
		w.Write(b)
		w.Write([]byte("\n"))
	}
}

// Write implements io.Writer so *Logger can back a standard log.Logger too.
func (l *Logger) Write(b []byte) (n int, err error) {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	if err = l.ready(); err != nil {
		return
	}
	n = len(b)
	for _, w := range l.wtrs {
		if _, e := w.Write(b); e != nil {
			err = e
		}
	}
	return
}

// KV builds a single RFC5424 structured-data parameter, loghogd's equivalent
// of a logging field.
func KV(name string, value interface{}) rfc5424.SDParam {
	switch v := value.(type) {
	case string:
		return rfc5424.SDParam{Name: name, Value: v}
	default:
		return rfc5424.SDParam{Name: name, Value: fmt.Sprintf("%v", value)}
	}
}

func KVErr(err error) rfc5424.SDParam {
	return KV("error", err)
}

// genRFCMessage renders one RFC5424 line. Field caps: hostname 255,
// appname 48, msgid 32.
func genRFCMessage(ts time.Time, prio rfc5424.Priority, hostname, appname, msgid, msg string, sds ...rfc5424.SDParam) ([]byte, error) {
	m := rfc5424.Message{
		Priority:  prio,
		Timestamp: ts,
		Hostname:  trimLength(255, hostname),
		AppName:   trimLength(48, appname),
		MessageID: trimPathLength(32, msgid),
		Message:   []byte(msg),
	}
	if len(sds) > 0 {
		m.StructuredData = []rfc5424.StructuredData{
			{ID: defaultID, Parameters: sds},
		}
	}
	return m.MarshalBinary()
}

func callLoc(depth int) (s string) {
	if _, file, line, ok := runtime.Caller(depth); ok {
		dir, f := filepath.Split(file)
		f = filepath.Join(filepath.Base(dir), f)
		s = fmt.Sprintf("%s:%d", f, line)
	}
	return
}

func trimPathLength(i int, input string) string {
	if len(input) <= i {
		return input
	}
	return trimLength(i, filepath.Base(input))
}

func trimLength(i int, input string) string {
	if len(input) <= i {
		return input
	}
	return input[:i]
}
