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

	"github.com/robfig/cron/v3"
)

// RotateSize is the literal rotate token meaning "rotate only by max_size".
const RotateSize = "size"

// rotateAliases maps the shorthand rotate tokens to the cron expressions
// they stand for.
var rotateAliases = map[string]string{
	"hourly":   "0 * * * *",
	"daily":    "0 0 * * *",
	"midnight": "0 0 * * *",
	"weekly":   "0 0 * * 1",
	"monthly":  "0 0 1 * *",
	"yearly":   "0 0 1 1 *",
	"annually": "0 0 1 1 *",
}

// Facility binds one (app_id, module path) to a log file's rotation,
// retention, and authentication settings.
type Facility struct {
	AppID       string
	ModID       ModuleID
	ModStr      string
	Rotate      string // either RotateSize or a five-field cron expression
	BackupCount int
	MaxSize     int64 // 0 means unset
	Secret      []byte
	FlushEvery  int
	FilePerHost bool
}

// ResolveRotate translates a shorthand rotate token (hourly, daily, ...) to
// its backing cron expression, or returns the literal "size" or an
// already-cron-shaped string unchanged.
func ResolveRotate(token string) string {
	if cron, ok := rotateAliases[token]; ok {
		return cron
	}
	return token
}

// cronParser matches the five-field syntax (no seconds field), as croniter
// does on the Python side.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// NewFacility validates settings and returns a Facility, or an error
// describing the first problem found.
func NewFacility(appID string, modID ModuleID, rotate string, backupCount int, maxSize int64, secret []byte, flushEvery int, filePerHost bool) (Facility, error) {
	modStr := modID.String()
	if appID == "" {
		return Facility{}, fmt.Errorf("app_id is required in the facility configuration")
	}

	rotate = ResolveRotate(rotate)
	if rotate == RotateSize {
		if maxSize <= 0 {
			return Facility{}, fmt.Errorf("facility %s:%s: rotation mode is %q but no max_size is specified", appID, modStr, RotateSize)
		}
	} else if _, err := cronParser.Parse(rotate); err != nil {
		return Facility{}, fmt.Errorf("facility %s:%s: %q is not a valid rotation mode: %w", appID, modStr, rotate, err)
	}

	if backupCount <= 0 {
		return Facility{}, fmt.Errorf("facility %s:%s: backup_count must be a positive integer", appID, modStr)
	}
	if maxSize < 0 {
		return Facility{}, fmt.Errorf("facility %s:%s: if specified, max_size must be a positive integer", appID, modStr)
	}
	if flushEvery <= 0 {
		return Facility{}, fmt.Errorf("facility %s:%s: if specified, flush_every must be a positive integer", appID, modStr)
	}

	return Facility{
		AppID:       appID,
		ModID:       modID,
		ModStr:      modStr,
		Rotate:      rotate,
		BackupCount: backupCount,
		MaxSize:     maxSize,
		Secret:      secret,
		FlushEvery:  flushEvery,
		FilePerHost: filePerHost,
	}, nil
}
