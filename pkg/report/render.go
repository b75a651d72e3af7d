package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
)

var (
	titleColor   = color.New(color.FgBlue, color.Bold)
	sectionColor = color.New(color.FgCyan)
	successColor = color.New(color.FgGreen, color.Bold)
	failureColor = color.New(color.FgRed, color.Bold)
)

// RenderText writes the human-readable form of doc. Colors are used only
// when stdout is a terminal.
func RenderText(w io.Writer, doc Document) error {
	if _, err := titleColor.Fprintf(w, "%s\n", doc.Title); err != nil {
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, f := range doc.Fields {
		if _, err := fmt.Fprintf(tw, "  %s:\t%s\n", f.Name, f.Value); err != nil {
			return err
		}
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	for _, t := range doc.Tables {
		if len(t.Rows) == 0 {
			continue
		}
		if err := renderTable(w, t); err != nil {
			return err
		}
	}

	for _, f := range doc.Fields {
		if f.Name != "result" {
			continue
		}
		c := successColor
		if f.Value != "success" {
			c = failureColor
		}
		if _, err := c.Fprintf(w, "\n%s %s\n", doc.Title, f.Value); err != nil {
			return err
		}
	}
	return nil
}

func renderTable(w io.Writer, t Table) error {
	if _, err := sectionColor.Fprintf(w, "\n%s (%d)\n", t.Title, len(t.Rows)); err != nil {
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	if _, err := fmt.Fprintf(tw, "  %s\n", strings.Join(t.Columns, "\t")); err != nil {
		return err
	}
	for _, row := range t.Rows {
		if _, err := fmt.Fprintf(tw, "  %s\n", strings.Join(row, "\t")); err != nil {
			return err
		}
	}
	return tw.Flush()
}

// RenderJSON writes doc's structured result as a single line of JSON.
func RenderJSON(w io.Writer, doc Document) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(doc.Data); err != nil {
		return fmt.Errorf("failed to encode %s output: %w", doc.Kind, err)
	}
	return nil
}
