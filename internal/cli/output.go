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

package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/jeremyhahn/go-pinvault/pkg/biometric"
	"github.com/jeremyhahn/go-pinvault/pkg/vault"
)

// OutputFormat defines the output format type
type OutputFormat string

const (
	OutputFormatText OutputFormat = "text"
	OutputFormatJSON OutputFormat = "json"
)

// Printer handles formatted output
type Printer struct {
	format OutputFormat
	writer io.Writer
}

// NewPrinter creates a new Printer
func NewPrinter(format string, writer io.Writer) *Printer {
	return &Printer{
		format: OutputFormat(format),
		writer: writer,
	}
}

// StatusView is what the status command reports
type StatusView struct {
	vault.Status
	Enrolled         bool          `json:"enrolled"`
	SensorClass      string        `json:"sensor_class,omitempty"`
	LockoutRemaining time.Duration `json:"-"`
	LockoutSeconds   float64       `json:"lockout_remaining_seconds"`
	Storage          string        `json:"storage"`
	KeyStorage       string        `json:"key_storage"`
}

// PrintStatus prints vault status
func (p *Printer) PrintStatus(s *StatusView) error {
	s.LockoutSeconds = s.LockoutRemaining.Seconds()
	switch p.format {
	case OutputFormatJSON:
		return p.printJSON(s)
	case OutputFormatText:
		fmt.Fprintf(p.writer, "Capability:         %s\n", s.Capability)
		fmt.Fprintf(p.writer, "Biometrics enabled: %t\n", s.BiometricsEnabled)
		fmt.Fprintf(p.writer, "Enrolled:           %t\n", s.Enrolled)
		if s.SensorClass != "" {
			fmt.Fprintf(p.writer, "Sensor class:       %s\n", s.SensorClass)
		}
		fmt.Fprintf(p.writer, "PIN stored:         %t\n", s.PINStored)
		if s.LockoutRemaining > 0 {
			fmt.Fprintf(p.writer, "Locked out for:     %s\n", s.LockoutRemaining.Round(time.Second))
		}
		fmt.Fprintf(p.writer, "Storage:            %s\n", s.Storage)
		fmt.Fprintf(p.writer, "Key storage:        %s\n", s.KeyStorage)
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// PrintEnrollment prints a new enrollment
func (p *Printer) PrintEnrollment(e *biometric.Enrollment) error {
	switch p.format {
	case OutputFormatJSON:
		return p.printJSON(map[string]interface{}{
			"status":       "success",
			"sensor_class": e.SensorClass,
			"enrolled_at":  e.EnrolledAt,
		})
	case OutputFormatText:
		fmt.Fprintf(p.writer, "Biometric enrolled (%s sensor)\n", e.SensorClass)
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// PrintPIN prints a revealed PIN
func (p *Printer) PrintPIN(pin string) error {
	switch p.format {
	case OutputFormatJSON:
		return p.printJSON(map[string]interface{}{
			"pin": pin,
		})
	case OutputFormatText:
		fmt.Fprintln(p.writer, pin)
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// PrintSuccess prints a success message
func (p *Printer) PrintSuccess(message string) error {
	switch p.format {
	case OutputFormatJSON:
		return p.printJSON(map[string]interface{}{
			"status":  "success",
			"message": message,
		})
	case OutputFormatText:
		fmt.Fprintln(p.writer, message)
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// PrintError prints an error message. Biometric failures carry their code.
func (p *Printer) PrintError(err error) error {
	var challengeErr *vault.ChallengeError
	isChallenge := errors.As(err, &challengeErr)

	switch p.format {
	case OutputFormatJSON:
		body := map[string]interface{}{
			"status": "error",
			"error":  err.Error(),
		}
		if isChallenge {
			body["code"] = challengeErr.Code.String()
		}
		if capability, ok := vault.IsUnavailable(err); ok {
			body["capability"] = capability
		}
		return p.printJSON(body)
	default:
		if isChallenge {
			fmt.Fprintf(p.writer, "Error: %s\n", challengeErr.Message)
			return nil
		}
		fmt.Fprintf(p.writer, "Error: %v\n", err)
		return nil
	}
}

// PrintRaw writes data unchanged, or wrapped under key for JSON output
func (p *Printer) PrintRaw(key string, data []byte) error {
	switch p.format {
	case OutputFormatJSON:
		return p.printJSON(map[string]interface{}{
			key: string(data),
		})
	case OutputFormatText:
		_, err := p.writer.Write(data)
		return err
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// printJSON prints data as JSON
func (p *Printer) printJSON(data interface{}) error {
	encoder := json.NewEncoder(p.writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}
