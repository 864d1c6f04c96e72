// Copyright (C) EvanL1.
// All rights reserved. This file is part of VoltageEMS-sub001.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package rtdb

import (
	"regexp"
	"sort"
	"strings"
)

// globToRegexp translates the shell-glob subset spec.md §4.1 requires for
// scan_match: '*' -> ".*", '?' -> ".", everything else escaped literally.
func globToRegexp(pattern string) (*regexp.Regexp, error) {
	var b strings.Builder
	b.WriteString("^")
	for _, r := range pattern {
		switch r {
		case '*':
			b.WriteString(".*")
		case '?':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString("$")
	return regexp.Compile(b.String())
}

func sortStrings(s []string) {
	sort.Strings(s)
}
