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

package validation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"default key", "pinvault-biometric-key", false},
		{"default record", "pin_key", false},
		{"dotted", "pin.v2", false},
		{"max length", strings.Repeat("a", MaxNameLength), false},
		{"empty", "", true},
		{"too long", strings.Repeat("a", MaxNameLength+1), true},
		{"null byte", "pin\x00key", true},
		{"newline", "pin\nkey", true},
		{"slash", "a/b", true},
		{"backslash", `a\b`, true},
		{"dot", ".", true},
		{"dotdot", "..", true},
		{"space", "pin key", true},
		{"unicode", "pín", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateName(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSanitizeForLog(t *testing.T) {
	assert.Equal(t, "pinkey", SanitizeForLog("pin\r\nkey"))
	assert.Equal(t, "plain", SanitizeForLog("plain"))

	long := SanitizeForLog(strings.Repeat("x", maxLogLength+10))
	assert.True(t, strings.HasSuffix(long, "...[truncated]"))
	assert.Len(t, long, maxLogLength+len("...[truncated]"))
}
