/*************************************************************************
 * Copyright 2017 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package version holds loghogd's build version, printed by the --version
// CLI flag.
package version

import (
	"fmt"
	"io"
)

const (
	MajorVersion = 1
	MinorVersion = 0
	PointVersion = 0
)

// PrintVersion writes a human-readable version banner to wtr.
func PrintVersion(wtr io.Writer) {
	fmt.Fprintf(wtr, "loghogd version %d.%d.%d\n", MajorVersion, MinorVersion, PointVersion)
}

// String returns the dotted version string, e.g. "1.0.0".
func String() string {
	return fmt.Sprintf("%d.%d.%d", MajorVersion, MinorVersion, PointVersion)
}
