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

package vault

import "fmt"

// State is the progress of the current vault operation.
type State int

const (
	StateIdle State = iota
	StatePrompting
	StateSucceeded
	StateFailed
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePrompting:
		return "prompting"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Action names the operation a state change belongs to.
type Action string

const (
	ActionUnlock    Action = "unlock"
	ActionSavePIN   Action = "save_pin"
	ActionRevealPIN Action = "reveal_pin"
)

// Event is a state transition. Err is set for StateError.
type Event struct {
	Action Action
	State  State
	Err    error
}

// StateListener receives every transition, on the goroutine that caused it.
type StateListener func(Event)
