package main

import (
	"fmt"

	"github.com/benbjohnson/symex/gossa"
	"github.com/benbjohnson/symex/program"
	"golang.org/x/tools/go/packages"
	"golang.org/x/tools/go/ssa"
	"golang.org/x/tools/go/ssa/ssautil"
)

// LoadGoProgram builds the named Go packages in SSA form and lowers their
// functions into a program.
func LoadGoProgram(patterns ...string) (*program.Program, error) {
	// Load the initial set of packages.
	initial, err := packages.Load(&packages.Config{Mode: packages.LoadAllSyntax}, patterns...)
	if err != nil {
		return nil, err
	} else if packages.PrintErrors(initial) > 0 {
		return nil, fmt.Errorf("packages contain errors")
	}

	// Build program in SSA form.
	prog, pkgs := ssautil.AllPackages(initial, ssa.BuilderMode(0))
	for i, pkg := range pkgs {
		if pkg == nil {
			return nil, fmt.Errorf("cannot build SSA for package %s", initial[i])
		}
		pkg.SetDebugMode(true)
	}
	prog.Build()

	return gossa.Lower(prog, gossa.Functions(prog, pkgs))
}
