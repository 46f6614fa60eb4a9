/*************************************************************************
 * Copyright 2017 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package processor turns a decoded wire frame into a write against the
// correct log file: validate the record, classify it against the facility
// database, verify its signature if one is required, then hand it to the
// Writer. Every failure is logged and the message dropped - nothing here
// ever closes the connection it arrived on.
package processor

import (
	"crypto/hmac"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"sync/atomic"

	"github.com/gravwell/loghogd/internal/dlog"
	"github.com/gravwell/loghogd/internal/facility"
	"github.com/gravwell/loghogd/internal/record"
)

// hashableFields lists the record fields, in order, concatenated to form
// the HMAC input. No separator is inserted between fields.
var hashableFields = []string{"app_id", "module", "stamp", "nsecs", "body"}

// Writer is the subset of *writer.Writer the Processor depends on.
type Writer interface {
	Write(hostname string, fac facility.Facility, body string) error
}

// Processor is a stateless pipeline from raw bytes to a Writer call. A
// single instance is shared by every connection goroutine; it holds no
// per-message state, only a pointer to the (possibly reloaded) facility
// database and the shared Writer.
type Processor struct {
	db     atomic.Pointer[facility.DB]
	writer Writer
	log    *dlog.Logger
}

// New returns a Processor looking up facilities in db and dispatching to w.
func New(db *facility.DB, w Writer, log *dlog.Logger) *Processor {
	p := &Processor{writer: w, log: log}
	p.db.Store(db)
	return p
}

// SetFacilityDB atomically swaps in a newly-loaded facility database, e.g.
// after a SIGHUP configuration reload.
func (p *Processor) SetFacilityDB(db *facility.DB) {
	p.db.Store(db)
}

// Process decodes, validates, classifies, authenticates, and dispatches one
// message. It never returns an error that should close the connection it
// came from - every failure is logged and swallowed here.
func (p *Processor) Process(raw []byte) {
	rec, err := record.Decode(raw)
	if err != nil {
		p.log.Warn("message payload is not valid JSON", dlog.KVErr(err))
		return
	}

	if missing := rec.MissingFields(); len(missing) > 0 {
		p.log.Warn("dropping message with missing fields", dlog.KV("missing", fmt.Sprintf("%v", missing)))
		return
	}

	db := p.db.Load()
	fac, ok := db.Lookup(rec.AppID, rec.Module)
	if !ok {
		p.log.Warn("received message for unknown application", dlog.KV("app_id", rec.AppID))
		return
	}

	if len(fac.Secret) > 0 {
		if !verifySignature(fac.Secret, rec) {
			p.log.Warn("message signature is invalid or missing", dlog.KV("app_id", rec.AppID), dlog.KV("module", rec.Module))
			return
		}
	}

	if err := p.writer.Write(rec.Hostname, *fac, rec.Body); err != nil {
		p.log.Error("error writing message", dlog.KVErr(err), dlog.KV("app_id", rec.AppID))
	}
}

// verifySignature reports whether rec carries a valid HMAC-MD5 signature
// under secret. A missing signature field is always invalid once a secret
// is configured.
func verifySignature(secret []byte, rec record.Record) bool {
	if !rec.HasSignature() {
		return false
	}
	want := Sign(secret, rec)
	return hmac.Equal([]byte(want), []byte(rec.Signature))
}

// Sign computes the lowercase hex HMAC-MD5 signature for rec under secret,
// matching the client-side contract: concatenate (no separator) the string
// form of app_id, module, stamp, nsecs, body, then HMAC-MD5 and hex-encode.
func Sign(secret []byte, rec record.Record) string {
	h := hmac.New(md5.New, secret)
	h.Write([]byte(hashable(rec)))
	return hex.EncodeToString(h.Sum(nil))
}

func hashable(rec record.Record) string {
	return rec.AppID + rec.Module + fmt.Sprintf("%d", rec.Stamp) + fmt.Sprintf("%d", rec.Nsecs) + rec.Body
}

// HashableFields exposes the field order the HMAC contract hashes over,
// for tests and documentation.
func HashableFields() []string {
	out := make([]string, len(hashableFields))
	copy(out, hashableFields)
	return out
}
