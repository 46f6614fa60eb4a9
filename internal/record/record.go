/*************************************************************************
 * Copyright 2017 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package record defines the wire JSON schema for a single ingested log
// message.
package record

import "encoding/json"

// Record is one decoded wire message. Unknown additional JSON fields are
// permitted and silently ignored, matching encoding/json's default
// behavior of not erroring on unrecognized keys.
type Record struct {
	Version   int    `json:"version"`
	AppID     string `json:"app_id"`
	Module    string `json:"module"`
	Stamp     int64  `json:"stamp"`
	Nsecs     int64  `json:"nsecs"`
	Hostname  string `json:"hostname"`
	Body      string `json:"body"`
	Signature string `json:"signature,omitempty"`

	// present tracks which required fields were actually present in the
	// decoded JSON, since Go's zero values (0, "") are indistinguishable
	// from an explicitly-sent zero/empty value.
	present map[string]bool `json:"-"`
}

// requiredFields lists every field MissingFields checks for presence.
var requiredFields = []string{"version", "app_id", "module", "stamp", "nsecs", "hostname", "body"}

// Decode parses raw JSON into a Record and records which top-level fields
// were present in the payload, so that MissingFields can tell missing
// fields from merely zero-valued ones. Decode itself does not reject a
// record with missing fields.
func Decode(raw []byte) (rec Record, err error) {
	var m map[string]json.RawMessage
	if err = json.Unmarshal(raw, &m); err != nil {
		return
	}
	if err = json.Unmarshal(raw, &rec); err != nil {
		return
	}
	rec.present = make(map[string]bool, len(m))
	for k := range m {
		rec.present[k] = true
	}
	return rec, nil
}

// MissingFields returns the required field names absent from the decoded
// payload, or nil if all are present.
func (r Record) MissingFields() (missing []string) {
	for _, f := range requiredFields {
		if !r.present[f] {
			missing = append(missing, f)
		}
	}
	return
}

// HasSignature reports whether the message carried a signature field.
func (r Record) HasSignature() bool {
	return r.present["signature"]
}
