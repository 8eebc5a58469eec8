// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-pinvault.
//
// go-pinvault is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

// Package validation checks the names that end up in storage keys: keystore
// key names and secret store record keys.
package validation

import (
	"fmt"
	"regexp"
	"strings"
)

// MaxNameLength bounds key and record names.
const MaxNameLength = 128

const maxLogLength = 1000

var namePattern = regexp.MustCompile(`^[a-zA-Z0-9_\-\.]+$`)

// ValidateName rejects names that are empty, too long, contain control
// characters or path separators, or are "." or "..".
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("name cannot be empty")
	}
	if strings.Contains(name, "\x00") {
		return fmt.Errorf("name contains null byte")
	}
	// Length first, before the regexp sees it
	if len(name) > MaxNameLength {
		return fmt.Errorf("name too long (max %d characters)", MaxNameLength)
	}
	for _, r := range name {
		if r < 32 || r == 127 {
			return fmt.Errorf("name contains control characters")
		}
	}
	if name == "." || name == ".." {
		return fmt.Errorf("name cannot be %q", name)
	}
	if !namePattern.MatchString(name) {
		return fmt.Errorf("name contains invalid characters (allowed: a-z, A-Z, 0-9, -, _, .)")
	}
	return nil
}

// SanitizeForLog strips control characters and truncates long values.
func SanitizeForLog(s string) string {
	s = strings.Map(func(r rune) rune {
		if r < 32 || r == 127 {
			return -1
		}
		return r
	}, s)

	if len(s) > maxLogLength {
		s = s[:maxLogLength] + "...[truncated]"
	}
	return s
}
