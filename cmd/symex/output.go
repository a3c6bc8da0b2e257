package main

import (
	"fmt"
	"io"
	"os"

	"github.com/benbjohnson/symex"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"
)

// escapes holds the terminal colors used by the text output. Colors are
// empty when the output is not a terminal.
type escapes struct {
	Red, Yellow, Reset []byte
}

func newEscapes(w io.Writer) escapes {
	f, ok := w.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return escapes{}
	}
	tt := term.NewTerminal(struct {
		io.Reader
		io.Writer
	}{os.Stdin, f}, "")
	return escapes{Red: tt.Escape.Red, Yellow: tt.Escape.Yellow, Reset: tt.Escape.Reset}
}

// writeReport writes the issues of report in the given format.
func writeReport(w io.Writer, format string, report *symex.Report) error {
	switch format {
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(report); err != nil {
			return err
		}
		return enc.Close()
	case "", "text":
		return writeText(w, report)
	default:
		return fmt.Errorf("unknown format: %q", format)
	}
}

func writeText(w io.Writer, report *symex.Report) error {
	esc := newEscapes(w)
	for _, issue := range report.Issues {
		if _, err := fmt.Fprintf(w, "%s: %s%s%s [%s]\n", issue.Location, esc.Red, issue.Message, esc.Reset, issue.Check); err != nil {
			return err
		}
		for _, flow := range issue.Flows {
			if _, err := fmt.Fprintf(w, "  flow #%d\n%s", flow.ID, flow); err != nil {
				return err
			}
		}
	}

	s := report.Stats
	_, err := fmt.Fprintf(w, "%s%d issues%s, %d methods, %d explored, %d aborted, %d failed, %d behaviors\n",
		esc.Yellow, len(report.Issues), esc.Reset, s.Methods, s.Explored, s.Aborted, s.Failed, s.Behaviors)
	return err
}
