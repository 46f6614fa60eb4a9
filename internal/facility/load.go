/*************************************************************************
 * Copyright 2017 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package facility

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/gravwell/gcfg"
)

// facilitySection is one [app_id] or [app_id:dotted.module] block. Pointer
// fields distinguish "not present in this section" from "present with the
// zero value", which matters for inheritance from the app's root facility.
type facilitySection struct {
	Rotate        *string
	Backup_Count  *int
	Max_Size      *int64
	Secret        *string
	Flush_Every   *int
	File_Per_Host *bool
}

// facilitiesFile is the gcfg target. The facilities configuration's section
// headers (app_id or app_id:dotted.module) don't fit gcfg's two-level
// "[Section \"Subsection\"]" model directly, so rewriteHeaders rewrites
// every bare [name] into [Facility "name"] before handing the text to
// gcfg.ReadStringInto - the same gravwell/gcfg fork ingesters/SimpleRelay
// uses for its own listener sections, just with one section type instead
// of several.
type facilitiesFile struct {
	Facility map[string]*facilitySection
}

var headerRE = regexp.MustCompile(`(?m)^\s*\[([^\]]+)\]\s*$`)

func rewriteHeaders(raw string) string {
	return headerRE.ReplaceAllString(raw, `[Facility "$1"]`)
}

// LoadConfig parses the facilities configuration at path into a fresh,
// fully-populated DB. Root sections (app_id with no module part) are
// materialized first; non-root sections inherit Secret, Max_Size,
// File_Per_Host, and Flush_Every from their app's root when not set
// explicitly. A missing root for a referenced app, or any validation
// failure, aborts the load entirely - the returned error describes the
// first problem found and no partial DB is returned.
func LoadConfig(path string) (*DB, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var ff facilitiesFile
	if err := gcfg.ReadStringInto(&ff, rewriteHeaders(string(raw))); err != nil {
		return nil, err
	}

	db := NewDB()
	roots := make(map[string]Facility)

	// Pass 1: root sections (no ':' in the header).
	for name, sec := range ff.Facility {
		appID, modStr, isRoot := splitHeader(name)
		if !isRoot {
			continue
		}
		f, err := buildFacility(appID, ParseModuleID(modStr), sec, nil)
		if err != nil {
			return nil, err
		}
		db.Add(f)
		roots[appID] = f
	}

	// Pass 2: non-root sections, inheriting from their app's root.
	for name, sec := range ff.Facility {
		appID, modStr, isRoot := splitHeader(name)
		if isRoot {
			continue
		}
		root, ok := roots[appID]
		if !ok {
			return nil, ErrMissingRoot{AppID: appID}
		}
		f, err := buildFacility(appID, ParseModuleID(modStr), sec, &root)
		if err != nil {
			return nil, err
		}
		db.Add(f)
	}

	return db, nil
}

// splitHeader splits a facilities section header "app_id" or
// "app_id:dotted.module" into its app id and module string.
func splitHeader(header string) (appID, modStr string, isRoot bool) {
	appID, modStr, found := strings.Cut(header, ":")
	return appID, modStr, !found
}

func buildFacility(appID string, modID ModuleID, sec *facilitySection, root *Facility) (Facility, error) {
	modStr := modID.String()
	if sec.Rotate == nil {
		return Facility{}, fmt.Errorf("facility %s:%s: rotate is required", appID, modStr)
	}
	if sec.Backup_Count == nil {
		return Facility{}, fmt.Errorf("facility %s:%s: backup_count is required", appID, modStr)
	}

	var secret []byte
	var maxSize int64
	var flushEvery = 1
	var filePerHost bool
	if root != nil {
		secret = root.Secret
		maxSize = root.MaxSize
		flushEvery = root.FlushEvery
		filePerHost = root.FilePerHost
	}
	if sec.Secret != nil {
		secret = []byte(*sec.Secret)
	}
	if sec.Max_Size != nil {
		maxSize = *sec.Max_Size
	}
	if sec.Flush_Every != nil {
		flushEvery = *sec.Flush_Every
	}
	if sec.File_Per_Host != nil {
		filePerHost = *sec.File_Per_Host
	}

	return NewFacility(appID, modID, *sec.Rotate, *sec.Backup_Count, maxSize, secret, flushEvery, filePerHost)
}
