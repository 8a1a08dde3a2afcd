// Package cli implements the glctl operations. Each command writes either a
// human summary or JSON and returns a process exit code.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting"
	"github.com/odyssey-erp/odyssey-gl/internal/app"
	"github.com/odyssey-erp/odyssey-gl/jobs"
)

// Exit codes shared by every command.
const (
	ExitOK       = 0
	ExitError    = 1
	ExitRejected = 10
)

// Output selects where and how a command reports.
type Output struct {
	JSONOutput bool
	Stdout     io.Writer
	Stderr     io.Writer
}

func (o *Output) defaults() {
	if o.Stdout == nil {
		o.Stdout = os.Stdout
	}
	if o.Stderr == nil {
		o.Stderr = os.Stderr
	}
}

// OpsCLI runs ledger operations against a wired ledger.
type OpsCLI struct {
	ledger    *app.Ledger
	integrity *jobs.IntegrityJob
}

// NewOpsCLI constructs the helper.
func NewOpsCLI(ledger *app.Ledger, integrity *jobs.IntegrityJob) (*OpsCLI, error) {
	if ledger == nil {
		return nil, fmt.Errorf("glctl: ledger services required")
	}
	return &OpsCLI{ledger: ledger, integrity: integrity}, nil
}

// fail reports err and maps ledger rule violations to ExitRejected.
func fail(out Output, command string, err error) int {
	code := accounting.ErrorCode(err)
	if out.JSONOutput {
		_ = json.NewEncoder(out.Stdout).Encode(map[string]string{"code": code, "error": err.Error()})
	} else {
		_, _ = fmt.Fprintf(out.Stderr, "%s: %v\n", command, err)
	}
	if code == "INTERNAL" {
		return ExitError
	}
	return ExitRejected
}

func writeJSON(out Output, command string, v any) int {
	if err := json.NewEncoder(out.Stdout).Encode(v); err != nil {
		_, _ = fmt.Fprintf(out.Stderr, "%s: encode json: %v\n", command, err)
		return ExitError
	}
	return ExitOK
}

func validPeriod(period string) bool {
	_, err := time.Parse("2006-01", strings.TrimSpace(period))
	return err == nil
}
