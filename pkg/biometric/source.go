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

package biometric

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
)

// SampleOutcome is what the user presented to the sensor.
type SampleOutcome int

const (
	// SampleMatch is an enrolled biometric.
	SampleMatch SampleOutcome = iota
	// SampleNoMatch is a biometric the sensor did not recognize.
	SampleNoMatch
	// SampleCancel is a press of the negative button.
	SampleCancel
)

// String returns the outcome name.
func (o SampleOutcome) String() string {
	switch o {
	case SampleMatch:
		return "match"
	case SampleNoMatch:
		return "no_match"
	case SampleCancel:
		return "cancel"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// SampleSource supplies the outcome of each sensor read. It blocks until the
// user acts or ctx is done.
type SampleSource func(ctx context.Context, req SampleRequest) (SampleOutcome, error)

// AlwaysMatch is a source that recognizes every sample.
func AlwaysMatch(ctx context.Context, req SampleRequest) (SampleOutcome, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return SampleMatch, nil
}

// ScriptedSource replays outcomes in order. Once the script is exhausted it
// blocks until ctx is done, like a user who never touches the sensor.
type ScriptedSource struct {
	mu       sync.Mutex
	outcomes []SampleOutcome
	requests []SampleRequest
}

// NewScriptedSource creates a source replaying outcomes.
func NewScriptedSource(outcomes ...SampleOutcome) *ScriptedSource {
	return &ScriptedSource{outcomes: outcomes}
}

// Push appends outcomes to the script.
func (s *ScriptedSource) Push(outcomes ...SampleOutcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outcomes = append(s.outcomes, outcomes...)
}

// Requests returns every request seen so far.
func (s *ScriptedSource) Requests() []SampleRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]SampleRequest, len(s.requests))
	copy(out, s.requests)
	return out
}

// Next implements SampleSource.
func (s *ScriptedSource) Next(ctx context.Context, req SampleRequest) (SampleOutcome, error) {
	s.mu.Lock()
	s.requests = append(s.requests, req)
	if len(s.outcomes) > 0 {
		outcome := s.outcomes[0]
		s.outcomes = s.outcomes[1:]
		s.mu.Unlock()
		return outcome, nil
	}
	s.mu.Unlock()

	<-ctx.Done()
	return 0, ctx.Err()
}

// TerminalSource reads outcomes from a line-oriented terminal. The prompt is
// written to out on the first attempt; each line read is one sample:
// "y" or an empty line matches, "n" does not match and "c" cancels.
func TerminalSource(in io.Reader, out io.Writer) SampleSource {
	lines := make(chan string)
	readErr := make(chan error, 1)
	var once sync.Once

	start := func() {
		go func() {
			scanner := bufio.NewScanner(in)
			for scanner.Scan() {
				lines <- scanner.Text()
			}
			err := scanner.Err()
			if err == nil {
				err = io.EOF
			}
			readErr <- err
		}()
	}

	return func(ctx context.Context, req SampleRequest) (SampleOutcome, error) {
		once.Do(start)

		if req.Attempt <= 1 {
			_, _ = fmt.Fprintf(out, "%s\n", req.Prompt.Title)
			if req.Prompt.Subtitle != "" {
				_, _ = fmt.Fprintf(out, "%s\n", req.Prompt.Subtitle)
			}
			if req.Prompt.Description != "" {
				_, _ = fmt.Fprintf(out, "%s\n", req.Prompt.Description)
			}
		} else {
			_, _ = fmt.Fprintln(out, "Not recognized. Try again.")
		}
		_, _ = fmt.Fprintf(out, "Touch sensor [y=match, n=no match, c=%s]: ", req.Prompt.NegativeButtonText)

		select {
		case <-ctx.Done():
			_, _ = fmt.Fprintln(out)
			return 0, ctx.Err()
		case err := <-readErr:
			// Keep the error visible to later reads
			readErr <- err
			return 0, fmt.Errorf("%w: %v", ErrUserCanceled, err)
		case line := <-lines:
			switch strings.ToLower(strings.TrimSpace(line)) {
			case "", "y", "yes":
				return SampleMatch, nil
			case "c", "cancel":
				return SampleCancel, nil
			default:
				return SampleNoMatch, nil
			}
		}
	}
}
