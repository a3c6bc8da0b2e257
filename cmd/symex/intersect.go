package main

import (
	"fmt"

	"github.com/benbjohnson/symex/automaton"
	"github.com/spf13/cobra"
)

// IntersectCommand represents a command for testing whether two patterns
// share a string.
type IntersectCommand struct {
	Partial bool
}

// NewIntersectCommand returns a new instance of IntersectCommand.
func NewIntersectCommand() *IntersectCommand {
	return &IntersectCommand{}
}

// Command returns the cobra command for the "intersect" subcommand.
func (cmd *IntersectCommand) Command() *cobra.Command {
	c := &cobra.Command{
		Use:   "intersect PATTERN PATTERN",
		Short: "Report whether two regular expressions match a common string",
		Args:  cobra.ExactArgs(2),
		RunE: func(c *cobra.Command, args []string) error {
			return cmd.Run(c, args)
		},
	}
	c.Flags().BoolVar(&cmd.Partial, "partial", false, "Match strings of the first pattern that prefix the second")
	return c
}

// Run executes the "intersect" subcommand.
func (cmd *IntersectCommand) Run(c *cobra.Command, args []string) error {
	a, err := automaton.Compile(args[0])
	if err != nil {
		return err
	}
	b, err := automaton.Compile(args[1])
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(c.OutOrStdout(), automaton.Intersects(a, b, cmd.Partial))
	return err
}
