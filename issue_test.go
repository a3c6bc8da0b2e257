package symex_test

import (
	"testing"

	"github.com/benbjohnson/symex"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func step(line int, message string) symex.Step {
	return symex.Step{Location: symex.Location{File: "A.java", Line: line}, Message: message}
}

func TestReporter_Report(t *testing.T) {
	t.Run("Merge", func(t *testing.T) {
		r := symex.NewReporter(10)
		loc := symex.Location{File: "A.java", Line: 4}
		a := symex.Flow{Steps: []symex.Step{step(3, "Implies 'a' is null."), step(4, "'a' is dereferenced.")}}
		b := symex.Flow{Steps: []symex.Step{step(2, "Implies 'a' is null."), step(4, "'a' is dereferenced.")}}

		r.Report(symex.Issue{Check: "npe", Location: loc, Message: "m", Flows: []symex.Flow{a}})
		r.Report(symex.Issue{Check: "npe", Location: loc, Message: "m", Flows: []symex.Flow{a, b, {}}})
		require.Equal(t, 1, r.Len())

		issues := r.Issues()
		require.Len(t, issues, 1)
		if got, exp := issues[0].Flows, []symex.Flow{{ID: 1, Steps: a.Steps}, {ID: 2, Steps: b.Steps}}; !cmp.Equal(got, exp) {
			t.Fatal(cmp.Diff(exp, got))
		}
	})

	t.Run("MaxFlows", func(t *testing.T) {
		r := symex.NewReporter(1)
		r.Report(symex.Issue{Check: "npe", Message: "m", Flows: []symex.Flow{
			{Steps: []symex.Step{step(1, "x")}},
			{Steps: []symex.Step{step(2, "y")}},
		}})
		require.Len(t, r.Issues()[0].Flows, 1)
	})

	t.Run("Order", func(t *testing.T) {
		r := symex.NewReporter(10)
		r.Report(symex.Issue{Check: "b", Location: symex.Location{File: "B.java", Line: 1}, Message: "m"})
		r.Report(symex.Issue{Check: "b", Location: symex.Location{File: "A.java", Line: 9}, Message: "m"})
		r.Report(symex.Issue{Check: "a", Location: symex.Location{File: "A.java", Line: 9}, Message: "m"})
		r.Report(symex.Issue{Check: "a", Location: symex.Location{File: "A.java", Line: 2}, Message: "m"})

		var got []string
		for _, issue := range r.Issues() {
			got = append(got, issue.Check+"@"+issue.Location.String())
		}
		if exp := []string{"a@A.java:2", "a@A.java:9", "b@A.java:9", "b@B.java:1"}; !cmp.Equal(got, exp) {
			t.Fatal(cmp.Diff(exp, got))
		}
	})
}

func TestFlow_String(t *testing.T) {
	f := symex.Flow{Steps: []symex.Step{step(3, "Implies 'a' is null."), step(4, "'a' is dereferenced.")}}
	if got, exp := f.String(), "\t- A.java:3: Implies 'a' is null.\n\t- A.java:4: 'a' is dereferenced.\n"; got != exp {
		t.Fatalf("String()=%q, expected %q", got, exp)
	}
}

func TestLocation(t *testing.T) {
	require.Equal(t, "-", symex.Location{}.String())
	require.Equal(t, "A.java:3:7", symex.Location{File: "A.java", Line: 3, Column: 7}.String())
	require.True(t, symex.Location{File: "A.java", Line: 3}.Less(symex.Location{File: "A.java", Line: 3, Column: 1}))
	require.True(t, symex.Location{}.IsZero())
}
