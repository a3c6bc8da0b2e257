package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/benbjohnson/symex"
	"github.com/benbjohnson/symex/checks"
	"github.com/benbjohnson/symex/java"
	"github.com/benbjohnson/symex/program"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// AnalyzeCommand represents a command for analyzing Java and YAML programs.
type AnalyzeCommand struct {
	Format   string
	Checks   []string
	CacheIn  string
	CacheOut string
}

// NewAnalyzeCommand returns a new instance of AnalyzeCommand.
func NewAnalyzeCommand() *AnalyzeCommand {
	return &AnalyzeCommand{Format: "text"}
}

// Command returns the cobra command for the "analyze" subcommand.
func (cmd *AnalyzeCommand) Command() *cobra.Command {
	c := &cobra.Command{
		Use:   "analyze FILE...",
		Short: "Analyze Java sources and YAML program files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			return cmd.Run(c, args)
		},
	}
	addAnalysisFlags(c, &cmd.Format, &cmd.Checks)
	c.Flags().StringVar(&cmd.CacheIn, "cache-in", "", "Import method behaviors from a cache file")
	c.Flags().StringVar(&cmd.CacheOut, "cache-out", "", "Export method behaviors to a cache file")
	return c
}

// Run executes the "analyze" subcommand.
func (cmd *AnalyzeCommand) Run(c *cobra.Command, args []string) error {
	ctx := c.Context()

	config, err := loadConfig(c)
	if err != nil {
		return err
	}
	logger, err := newLogger(config)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	prog, err := LoadProgram(ctx, args...)
	if err != nil {
		return err
	}

	cache := symex.NewBehaviorCache(config.MaxNestingDepth, logger)
	if cmd.CacheIn != "" {
		if err := importCache(cache, cmd.CacheIn, prog.Types); err != nil {
			return err
		}
	}

	report, err := analyze(ctx, prog, config, logger, cmd.Checks, symex.WithBehaviorCache(cache))
	if err != nil {
		return err
	}

	if cmd.CacheOut != "" {
		if err := exportCache(cache, cmd.CacheOut); err != nil {
			return err
		}
	}
	return writeReport(c.OutOrStdout(), cmd.Format, report)
}

// AnalyzeGoCommand represents a command for analyzing Go packages.
type AnalyzeGoCommand struct {
	Format string
	Checks []string
}

// NewAnalyzeGoCommand returns a new instance of AnalyzeGoCommand.
func NewAnalyzeGoCommand() *AnalyzeGoCommand {
	return &AnalyzeGoCommand{Format: "text"}
}

// Command returns the cobra command for the "analyze-go" subcommand.
func (cmd *AnalyzeGoCommand) Command() *cobra.Command {
	c := &cobra.Command{
		Use:   "analyze-go PACKAGE...",
		Short: "Analyze Go packages",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			return cmd.Run(c, args)
		},
	}
	addAnalysisFlags(c, &cmd.Format, &cmd.Checks)
	return c
}

// Run executes the "analyze-go" subcommand.
func (cmd *AnalyzeGoCommand) Run(c *cobra.Command, args []string) error {
	ctx := c.Context()

	config, err := loadConfig(c)
	if err != nil {
		return err
	}
	logger, err := newLogger(config)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	prog, err := LoadGoProgram(args...)
	if err != nil {
		return err
	}

	report, err := analyze(ctx, prog, config, logger, cmd.Checks)
	if err != nil {
		return err
	}
	return writeReport(c.OutOrStdout(), cmd.Format, report)
}

func addAnalysisFlags(c *cobra.Command, format *string, names *[]string) {
	c.Flags().StringVar(format, "format", *format, "Output format: text|yaml")
	c.Flags().StringSliceVar(names, "checks", nil, "Checks to run (default: all)")
}

// analyze runs the named checks over every method of prog.
func analyze(ctx context.Context, prog *program.Program, config *symex.Config, logger *zap.Logger, names []string, opts ...symex.Option) (*symex.Report, error) {
	listeners := checks.All()
	if len(names) > 0 {
		var unknown []string
		if listeners, unknown = checks.ByName(names...); len(unknown) > 0 {
			return nil, fmt.Errorf("unknown checks: %s", strings.Join(unknown, ", "))
		}
	}

	opts = append(opts, symex.WithLogger(logger), symex.WithListeners(listeners...))
	e, err := symex.NewEngine(config, prog.Types, opts...)
	if err != nil {
		return nil, err
	}
	return e.Analyze(ctx, prog.Methods())
}

// LoadProgram parses Java sources and YAML program files into a single
// program. Directories are searched for Java sources.
func LoadProgram(ctx context.Context, paths ...string) (*program.Program, error) {
	var sources, fixtures []string
	for _, path := range paths {
		fi, err := os.Stat(path)
		if err != nil {
			return nil, err
		} else if fi.IsDir() {
			if err := filepath.WalkDir(path, func(path string, d os.DirEntry, err error) error {
				if err == nil && !d.IsDir() && filepath.Ext(path) == ".java" {
					sources = append(sources, path)
				}
				return err
			}); err != nil {
				return nil, err
			}
			continue
		}

		switch filepath.Ext(path) {
		case ".java":
			sources = append(sources, path)
		case ".yaml", ".yml":
			fixtures = append(fixtures, path)
		default:
			return nil, fmt.Errorf("%s: unsupported file type", path)
		}
	}

	prog := program.New()
	if len(sources) > 0 {
		other, err := java.ParseFiles(ctx, sources...)
		if err != nil {
			return nil, err
		}
		prog = other
	}
	for _, filename := range fixtures {
		other, err := program.Load(filename)
		if err != nil {
			return nil, err
		} else if err := prog.Merge(other); err != nil {
			return nil, fmt.Errorf("%s: %w", filename, err)
		}
	}
	return prog, nil
}

func importCache(cache *symex.BehaviorCache, filename string, types symex.TypeModel) error {
	f, err := os.Open(filename)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	} else if err != nil {
		return err
	}
	defer f.Close()

	if err := cache.Import(f, types); err != nil {
		return fmt.Errorf("%s: %w", filename, err)
	}
	return nil
}

func exportCache(cache *symex.BehaviorCache, filename string) error {
	f, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := cache.Export(f); err != nil {
		return fmt.Errorf("%s: %w", filename, err)
	}
	return f.Close()
}
