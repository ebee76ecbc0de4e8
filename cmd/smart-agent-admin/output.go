package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/target/smart-agent/internal/domain/model"
)

func renderJobTable(w io.Writer, views []model.JobRecordView) error {
	if len(views) == 0 {
		return writeln(w, "No job records found.")
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	if err := writeln(tw, "ID\tSTATUS\tCONTINUES\tAGENT\tENV\tUPDATED (UTC)"); err != nil {
		return fmt.Errorf("write job header row: %w", err)
	}

	for _, v := range views {
		if err := writef(
			tw,
			"%s\t%s\t%t\t%s\t%s\t%s\n",
			v.ID,
			v.Status,
			v.IsExecutionContinue,
			v.AgentName,
			v.Environment,
			formatTimestamp(v.UpdatedAt),
		); err != nil {
			return fmt.Errorf("write job row: %w", err)
		}
	}

	if err := tw.Flush(); err != nil {
		return fmt.Errorf("flush job table: %w", err)
	}
	return writef(w, "\n%d record(s)\n", len(views))
}

func renderJobDetail(w io.Writer, v *model.JobRecordView) error {
	rows := []struct{ label, value string }{
		{"ID", v.ID},
		{"Status", string(v.Status)},
		{"Continues", fmt.Sprintf("%t", v.IsExecutionContinue)},
		{"Agent", v.AgentName},
		{"Agent type", v.AgentType},
		{"Environment", v.Environment},
		{"Created (UTC)", formatTimestamp(v.CreatedAt)},
		{"Updated (UTC)", formatTimestamp(v.UpdatedAt)},
		{"Error", v.Error},
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, r := range rows {
		if r.value == "" {
			continue
		}
		if err := writef(tw, "%s:\t%s\n", r.label, r.value); err != nil {
			return fmt.Errorf("write job detail: %w", err)
		}
	}
	if err := tw.Flush(); err != nil {
		return fmt.Errorf("flush job detail: %w", err)
	}
	if len(v.Result) > 0 {
		if err := writeln(w, "Result:"); err != nil {
			return err
		}
		return writeln(w, string(v.Result))
	}
	return nil
}

func formatTimestamp(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode json: %w", err)
	}
	return nil
}

// confirmAction prompts on stdin unless --yes was given.
func confirmAction(opts sweepOptions, action, target string) error {
	if opts.Yes {
		return nil
	}
	return confirmFrom(os.Stdin, os.Stdout, action, target)
}

func confirmFrom(in io.Reader, out io.Writer, action, target string) error {
	if err := writef(out, "About to %s for %s.\n", action, target); err != nil {
		return fmt.Errorf("print confirmation message: %w", err)
	}
	if err := write(out, "Continue? [y/N]: "); err != nil {
		return fmt.Errorf("print confirmation prompt: %w", err)
	}
	resp, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("read confirmation: %w", err)
	}
	resp = strings.ToLower(strings.TrimSpace(resp))
	if resp == "y" || resp == "yes" {
		return nil
	}
	return errors.New("aborted by user")
}

func writef(w io.Writer, format string, args ...any) error {
	_, err := fmt.Fprintf(w, format, args...)
	return err
}

func write(w io.Writer, args ...any) error {
	_, err := fmt.Fprint(w, args...)
	return err
}

func writeln(w io.Writer, args ...any) error {
	if len(args) == 0 {
		_, err := fmt.Fprintln(w)
		return err
	}
	_, err := fmt.Fprintln(w, args...)
	return err
}
