package symex

import (
	"fmt"
	"math/rand"
)

// WorkItem is a state waiting to be evaluated at a program point.
type WorkItem struct {
	Point ProgramPoint
	State *ProgramState
}

// Searcher represents a strategy for choosing the next work item to explore.
type Searcher interface {
	// Returns the next item to explore or nil if none remain.
	SelectItem() *WorkItem

	// Adds an item to the searcher.
	AddItem(item *WorkItem)

	// Returns the number of pending items.
	Len() int
}

// BatchSearcher is implemented by searchers that order the successors of a
// single step themselves. Items are passed in successor order.
type BatchSearcher interface {
	Searcher
	AddItems(items []*WorkItem)
}

// NewSearcher returns the searcher registered under name.
func NewSearcher(name string, seed int64) (Searcher, error) {
	switch name {
	case "", "dfs":
		return NewDFSSearcher(), nil
	case "bfs":
		return NewBFSSearcher(), nil
	case "random":
		return NewRandomSearcher(rand.New(rand.NewSource(seed))), nil
	}
	return nil, fmt.Errorf("unknown searcher: %q", name)
}

var (
	_ Searcher      = (*DFSSearcher)(nil)
	_ BatchSearcher = (*DFSSearcher)(nil)
	_ Searcher = (*BFSSearcher)(nil)
	_ Searcher = (*RandomSearcher)(nil)
)

// DFSSearcher represents a searcher with a depth-first search strategy.
type DFSSearcher struct {
	items []*WorkItem
}

// NewDFSSearcher returns a new instance of DFSSearcher.
func NewDFSSearcher() *DFSSearcher {
	return &DFSSearcher{}
}

// SelectItem returns the most recently added item.
func (s *DFSSearcher) SelectItem() *WorkItem {
	if len(s.items) == 0 {
		return nil
	}
	item := s.items[len(s.items)-1]
	s.items = s.items[:len(s.items)-1]
	return item
}

// AddItem adds a new item to the searcher.
func (s *DFSSearcher) AddItem(item *WorkItem) {
	s.items = append(s.items, item)
}

// AddItems adds the successors of one step so that the first is selected
// first.
func (s *DFSSearcher) AddItems(items []*WorkItem) {
	for i := len(items) - 1; i >= 0; i-- {
		s.items = append(s.items, items[i])
	}
}

// Len returns the number of pending items.
func (s *DFSSearcher) Len() int { return len(s.items) }

// BFSSearcher represents a searcher with a breadth-first search strategy.
type BFSSearcher struct {
	items []*WorkItem
}

// NewBFSSearcher returns a new instance of BFSSearcher.
func NewBFSSearcher() *BFSSearcher {
	return &BFSSearcher{}
}

// SelectItem returns the least recently added item.
func (s *BFSSearcher) SelectItem() *WorkItem {
	if len(s.items) == 0 {
		return nil
	}
	item := s.items[0]
	s.items = s.items[1:]
	return item
}

// AddItem adds a new item to the searcher.
func (s *BFSSearcher) AddItem(item *WorkItem) {
	s.items = append(s.items, item)
}

// Len returns the number of pending items.
func (s *BFSSearcher) Len() int { return len(s.items) }

// RandomSearcher selects pending items at random.
type RandomSearcher struct {
	items []*WorkItem
	rand  *rand.Rand
}

// NewRandomSearcher returns a new instance of RandomSearcher.
func NewRandomSearcher(rand *rand.Rand) *RandomSearcher {
	return &RandomSearcher{
		rand: rand,
	}
}

// SelectItem returns a random pending item.
func (s *RandomSearcher) SelectItem() *WorkItem {
	if len(s.items) == 0 {
		return nil
	}
	i := s.rand.Intn(len(s.items))
	item := s.items[i]
	s.items = append(s.items[:i], s.items[i+1:]...)
	return item
}

// AddItem adds a new item to the searcher.
func (s *RandomSearcher) AddItem(item *WorkItem) {
	s.items = append(s.items, item)
}

// Len returns the number of pending items.
func (s *RandomSearcher) Len() int { return len(s.items) }
