/*************************************************************************
 * Copyright 2017 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package facility

import "fmt"

// DB is an immutable, in-memory classifier keyed by (app_id, ModuleID). A
// loaded DB is never mutated; LoadConfig builds a fresh one and the caller
// swaps it in atomically (see processor.Processor.SetFacilityDB).
type DB struct {
	apps map[string]map[string]*Facility // app_id -> moduleID.key() -> facility
}

// NewDB returns an empty, mutable builder database. Use LoadConfig to parse a
// configuration file directly, or Add to build one up programmatically (as
// tests do).
func NewDB() *DB {
	return &DB{apps: make(map[string]map[string]*Facility)}
}

// Add registers f with the database, overwriting any existing entry at the
// same (app_id, mod_id).
func (db *DB) Add(f Facility) {
	mp, ok := db.apps[f.AppID]
	if !ok {
		mp = make(map[string]*Facility)
		db.apps[f.AppID] = mp
	}
	fc := f
	mp[f.ModID.key()] = &fc
}

// Lookup returns the most specific Facility registered for app at modStr,
// walking from the full module path down to the bare root. It returns
// (nil, false) only when app itself has no facilities registered at all;
// every known app is guaranteed to have at least a root entry.
func (db *DB) Lookup(app, modStr string) (*Facility, bool) {
	mp, ok := db.apps[app]
	if !ok {
		return nil, false
	}
	mod := ParseModuleID(modStr)
	for _, prefix := range mod.prefixes() {
		if f, ok := mp[prefix.key()]; ok {
			return f, true
		}
	}
	// unreachable for a well-formed DB: every app has a root entry, and
	// root is always the shortest prefix tried.
	return nil, false
}

// Apps enumerates every registered application id.
func (db *DB) Apps() []string {
	out := make([]string, 0, len(db.apps))
	for a := range db.apps {
		out = append(out, a)
	}
	return out
}

// ErrMissingRoot is returned by the loader when a non-root section names an
// app_id with no corresponding root section.
type ErrMissingRoot struct {
	AppID string
}

func (e ErrMissingRoot) Error() string {
	return fmt.Sprintf("application %s lacks a root module; define a [%s] section in the facilities configuration", e.AppID, e.AppID)
}
