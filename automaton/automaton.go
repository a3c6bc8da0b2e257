// Package automaton answers questions about pairs of regular expressions by
// walking their compiled automata side by side.
package automaton

import (
	"errors"
	"fmt"
	"regexp/syntax"
	"unicode"

	"github.com/benbjohnson/symex/paircache"
)

// ErrPattern is returned when a pattern cannot be compiled.
var ErrPattern = errors.New("invalid pattern")

// Automaton is a compiled regular expression matching whole strings.
type Automaton struct {
	pattern string
	prog    *syntax.Prog

	// live marks instructions from which a match is reachable.
	live []bool
}

// Compile parses a Perl-syntax pattern into an automaton.
func Compile(pattern string) (*Automaton, error) {
	re, err := syntax.Parse(pattern, syntax.Perl)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrPattern, err)
	}
	prog, err := syntax.Compile(re.Simplify())
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrPattern, err)
	}

	a := &Automaton{pattern: pattern, prog: prog}
	a.live = a.liveInsts()
	return a, nil
}

// MustCompile is like Compile but panics on error.
func MustCompile(pattern string) *Automaton {
	a, err := Compile(pattern)
	if err != nil {
		panic(err)
	}
	return a
}

// String returns the source pattern.
func (a *Automaton) String() string { return a.pattern }

// Len returns the number of instructions of the automaton.
func (a *Automaton) Len() int { return len(a.prog.Inst) }

// liveInsts returns the instructions that can reach a match instruction.
func (a *Automaton) liveInsts() []bool {
	preds := make([][]int, len(a.prog.Inst))
	var queue []int
	for pc, inst := range a.prog.Inst {
		for _, next := range successors(inst) {
			preds[next] = append(preds[next], pc)
		}
		if inst.Op == syntax.InstMatch {
			queue = append(queue, pc)
		}
	}

	live := make([]bool, len(a.prog.Inst))
	for _, pc := range queue {
		live[pc] = true
	}
	for len(queue) > 0 {
		pc := queue[0]
		queue = queue[1:]
		for _, p := range preds[pc] {
			if !live[p] {
				live[p] = true
				queue = append(queue, p)
			}
		}
	}
	return live
}

// Intersects returns true if some string is matched by both a and b. If
// partial is set, it instead returns true if a matches a prefix of some
// string matched by b.
//
// Loops are cut by assuming false for pairs already being compared, so a
// negative answer is not conclusive for patterns with nested repetitions.
func Intersects(a, b *Automaton, partial bool) bool {
	x := intersection{a: a, b: b, cache: paircache.New[int, bool]()}
	return x.intersects(a.prog.Start, b.prog.Start, partial)
}

type intersection struct {
	a, b  *Automaton
	cache *paircache.Cache[int, bool]
}

func (x *intersection) intersects(pa, pb int, partial bool) bool {
	pair := paircache.NewOrderedPair(pa, pb, partial)
	if v, ok := x.cache.StartCalculation(pair, false); ok {
		return v
	}
	return x.cache.Save(pair, x.compute(pa, pb, partial))
}

func (x *intersection) compute(pa, pb int, partial bool) bool {
	ia, ib := x.a.prog.Inst[pa], x.b.prog.Inst[pb]

	if isEpsilon(ia.Op) {
		for _, next := range successors(ia) {
			if x.intersects(int(next), pb, partial) {
				return true
			}
		}
		return false
	} else if isEpsilon(ib.Op) {
		for _, next := range successors(ib) {
			if x.intersects(pa, int(next), partial) {
				return true
			}
		}
		return false
	}

	switch {
	case ia.Op == syntax.InstFail || ib.Op == syntax.InstFail:
		return false
	case ia.Op == syntax.InstMatch:
		return ib.Op == syntax.InstMatch || (partial && x.b.live[pb])
	case ib.Op == syntax.InstMatch:
		return false
	case overlaps(runeRanges(ia), runeRanges(ib)):
		return x.intersects(int(ia.Out), int(ib.Out), partial)
	}
	return false
}

// isEpsilon returns true for instructions that consume no input. Empty
// width assertions are treated as always satisfied.
func isEpsilon(op syntax.InstOp) bool {
	switch op {
	case syntax.InstAlt, syntax.InstAltMatch, syntax.InstCapture, syntax.InstNop, syntax.InstEmptyWidth:
		return true
	}
	return false
}

func successors(inst syntax.Inst) []uint32 {
	switch inst.Op {
	case syntax.InstAlt, syntax.InstAltMatch:
		return []uint32{inst.Out, inst.Arg}
	case syntax.InstMatch, syntax.InstFail:
		return nil
	}
	return []uint32{inst.Out}
}

// runeRanges returns the inclusive rune ranges consumed by inst as pairs.
func runeRanges(inst syntax.Inst) []rune {
	switch inst.Op {
	case syntax.InstRune1:
		return []rune{inst.Rune[0], inst.Rune[0]}
	case syntax.InstRuneAny:
		return []rune{0, unicode.MaxRune}
	case syntax.InstRuneAnyNotNL:
		return []rune{0, '\n' - 1, '\n' + 1, unicode.MaxRune}
	case syntax.InstRune:
		if len(inst.Rune) == 1 {
			r := inst.Rune[0]
			a := []rune{r, r}
			if syntax.Flags(inst.Arg)&syntax.FoldCase != 0 {
				for f := unicode.SimpleFold(r); f != r; f = unicode.SimpleFold(f) {
					a = append(a, f, f)
				}
			}
			return a
		}
		return inst.Rune
	}
	return nil
}

func overlaps(a, b []rune) bool {
	for i := 0; i+1 < len(a); i += 2 {
		for j := 0; j+1 < len(b); j += 2 {
			if a[i] <= b[j+1] && b[j] <= a[i+1] {
				return true
			}
		}
	}
	return false
}
