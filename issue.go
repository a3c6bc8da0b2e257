package symex

import (
	"sort"
	"sync"
)

// Issue is a defect reported by a check.
type Issue struct {
	Check    string   `yaml:"check"`
	Location Location `yaml:"location"`
	Message  string   `yaml:"message"`
	Flows    []Flow   `yaml:"flows,omitempty"`
}

type issueKey struct {
	check   string
	loc     Location
	message string
}

// Reporter collects issues. It is safe for concurrent use.
type Reporter struct {
	mu       sync.Mutex
	issues   []*Issue
	index    map[issueKey]*Issue
	flowKeys map[*Issue]map[string]bool
	nextFlow int
	maxFlows int
}

// NewReporter returns a reporter keeping at most maxFlows flows per issue.
func NewReporter(maxFlows int) *Reporter {
	return &Reporter{
		index:    make(map[issueKey]*Issue),
		flowKeys: make(map[*Issue]map[string]bool),
		maxFlows: maxFlows,
	}
}

// Report adds an issue or merges its flows into an identical one. Flow IDs
// are assigned in the order flows are first reported.
func (r *Reporter) Report(issue Issue) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := issueKey{check: issue.Check, loc: issue.Location, message: issue.Message}
	existing := r.index[key]
	if existing == nil {
		existing = &Issue{Check: issue.Check, Location: issue.Location, Message: issue.Message}
		r.index[key] = existing
		r.flowKeys[existing] = make(map[string]bool)
		r.issues = append(r.issues, existing)
	}

	seen := r.flowKeys[existing]
	for _, f := range issue.Flows {
		if len(existing.Flows) >= r.maxFlows {
			break
		} else if k := f.key(); len(f.Steps) == 0 || seen[k] {
			continue
		} else {
			seen[k] = true
		}
		r.nextFlow++
		existing.Flows = append(existing.Flows, Flow{ID: r.nextFlow, Steps: f.Steps})
	}
}

// Len returns the number of distinct issues.
func (r *Reporter) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.issues)
}

// Issues returns a copy of the issues ordered by location, check and message.
func (r *Reporter) Issues() []Issue {
	r.mu.Lock()
	defer r.mu.Unlock()

	a := make([]Issue, len(r.issues))
	for i, issue := range r.issues {
		a[i] = *issue
		a[i].Flows = append([]Flow(nil), issue.Flows...)
	}
	sort.SliceStable(a, func(i, j int) bool {
		if a[i].Location != a[j].Location {
			return a[i].Location.Less(a[j].Location)
		} else if a[i].Check != a[j].Check {
			return a[i].Check < a[j].Check
		}
		return a[i].Message < a[j].Message
	})
	return a
}
