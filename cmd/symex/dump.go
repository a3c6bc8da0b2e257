package main

import (
	"fmt"

	"github.com/benbjohnson/symex"
	"github.com/benbjohnson/symex/program"
	"github.com/davecgh/go-spew/spew"
	"github.com/spf13/cobra"
)

// DumpCommand represents a command for printing lowered programs.
type DumpCommand struct {
	Go     bool
	Yields bool
	Raw    bool
}

// NewDumpCommand returns a new instance of DumpCommand.
func NewDumpCommand() *DumpCommand {
	return &DumpCommand{}
}

// Command returns the cobra command for the "dump" subcommand.
func (cmd *DumpCommand) Command() *cobra.Command {
	c := &cobra.Command{
		Use:   "dump FILE...",
		Short: "Print the control flow graphs of a program",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			return cmd.Run(c, args)
		},
	}
	c.Flags().BoolVar(&cmd.Go, "go", false, "Arguments are Go package patterns")
	c.Flags().BoolVar(&cmd.Yields, "yields", false, "Print the behavior of each method")
	c.Flags().BoolVar(&cmd.Raw, "raw", false, "Print behaviors as raw Go values")
	return c
}

// Run executes the "dump" subcommand.
func (cmd *DumpCommand) Run(c *cobra.Command, args []string) error {
	ctx := c.Context()
	w := c.OutOrStdout()

	var prog *program.Program
	var err error
	if cmd.Go {
		prog, err = LoadGoProgram(args...)
	} else {
		prog, err = LoadProgram(ctx, args...)
	}
	if err != nil {
		return err
	}

	if !cmd.Yields {
		_, err := fmt.Fprint(w, prog.Dump())
		return err
	}

	config, err := loadConfig(c)
	if err != nil {
		return err
	}
	e, err := symex.NewEngine(config, prog.Types)
	if err != nil {
		return err
	}

	dumper := spew.ConfigState{Indent: "  ", MaxDepth: 4, DisablePointerAddresses: true, SortKeys: true}
	for _, m := range prog.Methods() {
		if m.Body() == nil {
			continue
		}
		fmt.Fprintln(w, m.Signature())
		for _, y := range e.Yields(ctx, m) {
			if cmd.Raw {
				dumper.Fdump(w, y)
				continue
			}
			fmt.Fprintf(w, "\t%s\n", y)
		}
	}
	return nil
}
