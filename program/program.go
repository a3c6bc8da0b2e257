// Package program provides a concrete symbol, type and method model for the
// engine, together with a YAML format describing control flow graphs
// directly. Frontends lower source code into a Program.
package program

import (
	"fmt"
	"sort"
	"strings"

	"github.com/benbjohnson/symex"
	"golang.org/x/exp/maps"
)

// Variable is a local variable, parameter or field. Variables are compared
// by identity.
type Variable struct {
	name  string
	field bool
}

// NewVariable returns a new local variable.
func NewVariable(name string) *Variable {
	return &Variable{name: name}
}

// NewField returns a new field variable.
func NewField(name string) *Variable {
	return &Variable{name: name, field: true}
}

// Name returns the source name of the variable.
func (v *Variable) Name() string { return v.name }

// IsField returns true if the variable is a field of an object.
func (v *Variable) IsField() bool { return v.field }

func (v *Variable) String() string { return v.name }

// Method is a method declaration with an optional body. It implements
// symex.Method.
type Method struct {
	Owner string
	Ident string

	// Sig is the unique signature. It defaults to Owner.Ident(arity).
	Sig string

	Parameters []symex.Param
	Throws     []symex.Type
	Returns    symex.Nullness
	IsNative   bool
	Void       bool
	Graph      *symex.Graph
	Loc        symex.Location
}

var _ symex.Method = (*Method)(nil)

// Signature returns the unique signature of the method.
func (m *Method) Signature() string {
	if m.Sig != "" {
		return m.Sig
	}
	return fmt.Sprintf("%s.%s(%d)", m.Owner, m.Ident, len(m.Parameters))
}

// Name returns the short name of the method.
func (m *Method) Name() string { return m.Ident }

// Params returns the declared parameters.
func (m *Method) Params() []symex.Param { return m.Parameters }

// Thrown returns the declared exception types.
func (m *Method) Thrown() []symex.Type { return m.Throws }

// ReturnNullness returns the nullness annotation of the result.
func (m *Method) ReturnNullness() symex.Nullness { return m.Returns }

// Body returns the control flow graph or nil for methods without source.
func (m *Method) Body() *symex.Graph { return m.Graph }

// Native returns true for methods that cannot be modeled.
func (m *Method) Native() bool { return m.IsNative }

func (m *Method) String() string { return m.Signature() }

// Program is a set of methods sharing a type hierarchy.
type Program struct {
	Types   *TypeHierarchy
	methods map[string]*Method
	order   []*Method
}

// New returns an empty program with the builtin type hierarchy.
func New() *Program {
	return &Program{
		Types:   NewTypeHierarchy(),
		methods: make(map[string]*Method),
	}
}

// Add adds m to the program. It returns an error if the signature is
// already declared.
func (p *Program) Add(m *Method) error {
	sig := m.Signature()
	if _, ok := p.methods[sig]; ok {
		return fmt.Errorf("duplicate method: %s", sig)
	}
	p.methods[sig] = m
	p.order = append(p.order, m)
	return nil
}

// Method returns the method with the given signature or nil.
func (p *Program) Method(sig string) *Method {
	return p.methods[sig]
}

// Find returns the methods named name with the given arity, optionally
// restricted to an owner, ordered by signature.
func (p *Program) Find(owner, name string, arity int) []*Method {
	var a []*Method
	for _, m := range p.order {
		if m.Ident == name && len(m.Parameters) == arity && (owner == "" || m.Owner == owner) {
			a = append(a, m)
		}
	}
	sort.Slice(a, func(i, j int) bool { return a[i].Signature() < a[j].Signature() })
	return a
}

// Methods returns every method in declaration order.
func (p *Program) Methods() []symex.Method {
	a := make([]symex.Method, len(p.order))
	for i, m := range p.order {
		a[i] = m
	}
	return a
}

// Signatures returns the sorted signatures of all methods.
func (p *Program) Signatures() []string {
	sigs := maps.Keys(p.methods)
	sort.Strings(sigs)
	return sigs
}

// Merge adds the types and methods of other to p.
func (p *Program) Merge(other *Program) error {
	for _, name := range other.Types.Names() {
		t := other.Types.Type(name)
		supers := make([]string, len(t.supers))
		for i, s := range t.supers {
			supers[i] = s.name
		}
		p.Types.Declare(name, supers...)
	}
	for _, m := range other.order {
		if err := p.Add(m); err != nil {
			return err
		}
	}
	return nil
}

// Dump writes the control flow graph of every method with a body.
func (p *Program) Dump() string {
	var buf strings.Builder
	for _, m := range p.order {
		if m.Graph == nil {
			continue
		}
		fmt.Fprintf(&buf, "%s\n", m.Signature())
		m.Graph.Dump(&buf)
		buf.WriteString("\n")
	}
	return buf.String()
}
