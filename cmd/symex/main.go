package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/benbjohnson/symex"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	root := &cobra.Command{
		Use:   "symex",
		Short: "Symex is a tool for symbolic execution of Java and Go code.",
		Long: `
Symex explores the paths of each method, computes method behaviors and
reports null dereferences, divisions by zero, conditions that always
evaluate the same way and unclosed resources.`[1:],
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("config", "", "Path to a YAML configuration file")

	root.AddCommand(
		NewAnalyzeCommand().Command(),
		NewAnalyzeGoCommand().Command(),
		NewDumpCommand().Command(),
		NewIntersectCommand().Command(),
	)
	root.SetArgs(args)
	root.SetOut(stdout)
	return root.ExecuteContext(ctx)
}

// loadConfig reads the configuration named by the --config flag, or returns
// the defaults if none is set.
func loadConfig(cmd *cobra.Command) (*symex.Config, error) {
	filename, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, err
	} else if filename == "" {
		return symex.NewDefaultConfig(), nil
	}
	return symex.LoadConfig(filename)
}

// newLogger returns the logger for the configured level.
func newLogger(config *symex.Config) (*zap.Logger, error) {
	level, err := config.Level()
	if err != nil {
		return nil, err
	}
	return symex.NewLogger(level)
}
