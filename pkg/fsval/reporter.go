package fsval

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"
)

// Reporter formats and outputs a Report.
type Reporter struct {
	writer io.Writer
}

// NewReporter returns a Reporter writing to w, defaulting to os.Stdout.
func NewReporter(w io.Writer) *Reporter {
	if w == nil {
		w = os.Stdout
	}
	return &Reporter{writer: w}
}

// PrintSummary prints a human-readable summary of a Report.
func (r *Reporter) PrintSummary(report *Report) {
	w := r.writer

	fmt.Fprintln(w)
	fmt.Fprintln(w, "+------------------------------------------------------------+")
	fmt.Fprintln(w, "|           fsfs commit-engine scenario results               |")
	fmt.Fprintln(w, "+------------------------------------------------------------+")
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Time:     %s\n", report.Timestamp.Format(time.RFC3339))
	fmt.Fprintf(w, "Duration: %v\n", report.Duration.Round(time.Millisecond))
	fmt.Fprintln(w)

	for _, res := range report.Results {
		status := "PASS"
		if !res.Passed {
			status = "FAIL"
		}
		fmt.Fprintf(w, "[%s] %-4s %-62s %v\n", status, res.Name, res.Description, res.Duration.Round(time.Microsecond))
		if !res.Passed {
			fmt.Fprintf(w, "       %s\n", res.Error)
		}
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "%d/%d scenarios passed\n", report.PassedCount, report.TotalCount)
	fmt.Fprintln(w)
}

// PrintCompact prints a one-line summary.
func (r *Reporter) PrintCompact(report *Report) {
	status := "PASS"
	if report.FailedCount > 0 {
		status = "FAIL"
	}
	fmt.Fprintf(r.writer, "[%s] %d/%d scenarios | %v\n", status, report.PassedCount, report.TotalCount, report.Duration.Round(time.Millisecond))
}

// PrintJSON writes report as indented JSON to the reporter's writer.
func (r *Reporter) PrintJSON(report *Report) error {
	enc := json.NewEncoder(r.writer)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

// SaveJSON writes report as indented JSON to path.
func (r *Reporter) SaveJSON(report *Report, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("fsval: creating %s: %w", path, err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}
