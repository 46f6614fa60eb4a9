/*************************************************************************
 * Copyright 2017 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package facility

import "strings"

// rootSegment is the synthetic segment every ModuleID is prefixed with.
const rootSegment = "root"

// ModuleID is the canonical tuple representation of a dotted module path.
// It always begins with the synthetic "root" segment.
type ModuleID []string

// ParseModuleID splits a dotted module string into a ModuleID, discarding
// empty segments and prepending "root" unless the input already starts with
// it.
func ParseModuleID(s string) ModuleID {
	parts := strings.Split(strings.TrimSpace(s), ".")

	var out ModuleID
	if len(parts) == 0 || parts[0] != rootSegment {
		out = append(out, rootSegment)
	}
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// String renders a ModuleID back to its dotted form, omitting the synthetic
// root segment. ParseModuleID(m.String()) == m for every valid m.
func (m ModuleID) String() string {
	if len(m) > 1 {
		return strings.Join(m[1:], ".")
	}
	return ""
}

// key returns a comparable map key for m (a slice cannot be used directly as
// a map key).
func (m ModuleID) key() string {
	return strings.Join(m, "\x00")
}

// prefixes yields m, then m with its last segment dropped, and so on down
// to the bare root - the search order for longest-prefix matching.
func (m ModuleID) prefixes() []ModuleID {
	out := make([]ModuleID, 0, len(m))
	for n := len(m); n >= 1; n-- {
		out = append(out, m[:n])
	}
	return out
}

// IsRoot reports whether m is exactly the root module, with no
// sub-segments.
func (m ModuleID) IsRoot() bool {
	return len(m) == 1
}
