package program

import (
	"fmt"
	"os"

	"github.com/benbjohnson/symex"
	"gopkg.in/yaml.v3"
)

// File is the YAML representation of a program.
type File struct {
	Types   []TypeSpec   `yaml:"types"`
	Methods []MethodSpec `yaml:"methods"`
}

// TypeSpec declares a type and its supertypes.
type TypeSpec struct {
	Name  string   `yaml:"name"`
	Super []string `yaml:"super"`
}

// MethodSpec declares a method. Blocks are optional; the first block is the
// entry.
type MethodSpec struct {
	Owner     string      `yaml:"owner"`
	Name      string      `yaml:"name"`
	Signature string      `yaml:"signature"`
	Params    []ParamSpec `yaml:"params"`
	Returns   string      `yaml:"returns"`
	Throws    []string    `yaml:"throws"`
	Native    bool        `yaml:"native"`
	Void      bool        `yaml:"void"`
	Line      int         `yaml:"line"`
	Blocks    []BlockSpec `yaml:"blocks"`
}

// ParamSpec declares a parameter.
type ParamSpec struct {
	Name     string `yaml:"name"`
	Nullness string `yaml:"nullness"`
}

// BlockSpec declares a basic block. A missing terminator falls through to
// the only successor or exits the method.
type BlockSpec struct {
	ID         string        `yaml:"id"`
	Nodes      []NodeSpec    `yaml:"nodes"`
	Terminator *NodeSpec     `yaml:"terminator"`
	Successors []string      `yaml:"successors"`
	Handlers   []HandlerSpec `yaml:"handlers"`
}

// HandlerSpec declares an exception handler of a block.
type HandlerSpec struct {
	Block string   `yaml:"block"`
	Types []string `yaml:"types"`
}

// NodeSpec declares a CFG node.
type NodeSpec struct {
	Kind          string   `yaml:"kind"`
	Line          int      `yaml:"line"`
	Column        int      `yaml:"column"`
	Text          string   `yaml:"text"`
	Symbol        string   `yaml:"symbol"`
	Field         bool     `yaml:"field"`
	Literal       string   `yaml:"literal"`
	Op            string   `yaml:"op"`
	Type          string   `yaml:"type"`
	Callee        string   `yaml:"callee"`
	Args          int      `yaml:"args"`
	Receiver      bool     `yaml:"receiver"`
	ReceiverText  string   `yaml:"receiver-text"`
	ArgText       []string `yaml:"arg-text"`
	Void          bool     `yaml:"void"`
	NonNullResult bool     `yaml:"non-null-result"`
	Synthetic     bool     `yaml:"synthetic"`
}

// Load reads a program from a YAML file.
func Load(filename string) (*Program, error) {
	buf, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	return Parse(filename, buf)
}

// Parse decodes a YAML program. Node locations refer to filename.
func Parse(filename string, data []byte) (*Program, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}

	p := New()
	for _, ts := range f.Types {
		p.Types.Declare(ts.Name, ts.Super...)
	}

	// Declare every method first so that bodies may call any of them.
	specs := make(map[*Method]MethodSpec, len(f.Methods))
	for _, ms := range f.Methods {
		m, err := p.declare(filename, ms)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", filename, err)
		}
		specs[m] = ms
	}

	for _, m := range p.order {
		ms := specs[m]
		if len(ms.Blocks) == 0 {
			continue
		}
		g, err := p.buildGraph(filename, m, ms.Blocks)
		if err != nil {
			return nil, fmt.Errorf("%s: %s: %w", filename, m.Signature(), err)
		}
		m.Graph = g
	}
	return p, nil
}

func (p *Program) declare(filename string, ms MethodSpec) (*Method, error) {
	m := &Method{
		Owner:    ms.Owner,
		Ident:    ms.Name,
		Sig:      ms.Signature,
		IsNative: ms.Native,
		Void:     ms.Void,
		Loc:      symex.Location{File: filename, Line: ms.Line},
	}

	var err error
	if m.Returns, err = symex.ParseNullness(ms.Returns); err != nil {
		return nil, err
	}
	for _, ps := range ms.Params {
		nullness, err := symex.ParseNullness(ps.Nullness)
		if err != nil {
			return nil, err
		}
		m.Parameters = append(m.Parameters, symex.Param{Symbol: NewVariable(ps.Name), Nullness: nullness})
	}
	for _, name := range ms.Throws {
		m.Throws = append(m.Throws, p.Types.Declare(name))
	}
	return m, p.Add(m)
}

func (p *Program) buildGraph(filename string, m *Method, specs []BlockSpec) (*symex.Graph, error) {
	// Parameters are bound under their declared symbols.
	vars := make(map[string]*Variable)
	for _, param := range m.Parameters {
		vars[param.Symbol.Name()] = param.Symbol.(*Variable)
	}
	variable := func(name string, field bool) *Variable {
		if v := vars[name]; v != nil {
			return v
		}
		v := &Variable{name: name, field: field}
		vars[name] = v
		return v
	}

	b := symex.NewGraphBuilder()
	blocks := make(map[string]*symex.Block, len(specs))
	for _, bs := range specs {
		if _, ok := blocks[bs.ID]; ok {
			return nil, fmt.Errorf("duplicate block: %q", bs.ID)
		}
		blocks[bs.ID] = b.NewBlock()
	}
	block := func(id string) (*symex.Block, error) {
		if blk := blocks[id]; blk != nil {
			return blk, nil
		}
		return nil, fmt.Errorf("unknown block: %q", id)
	}

	node := func(ns NodeSpec) (*symex.Node, error) {
		kind, ok := symex.ParseNodeKind(ns.Kind)
		if !ok {
			return nil, fmt.Errorf("unknown node kind: %q", ns.Kind)
		}
		n := &symex.Node{
			Kind:          kind,
			Loc:           symex.Location{File: filename, Line: ns.Line, Column: ns.Column},
			Text:          ns.Text,
			Args:          ns.Args,
			Receiver:      ns.Receiver,
			ReceiverText:  ns.ReceiverText,
			ArgText:       ns.ArgText,
			Void:          ns.Void,
			NonNullResult: ns.NonNullResult,
			Synthetic:     ns.Synthetic,
		}
		if ns.Symbol != "" {
			n.Symbol = variable(ns.Symbol, ns.Field)
		}
		if ns.Literal != "" {
			if n.Literal, ok = symex.ParseLiteralKind(ns.Literal); !ok {
				return nil, fmt.Errorf("unknown literal: %q", ns.Literal)
			}
		}
		if ns.Op != "" {
			if n.Op, ok = symex.ParseOperator(ns.Op); !ok {
				return nil, fmt.Errorf("unknown operator: %q", ns.Op)
			}
		}
		if ns.Type != "" {
			n.Type = p.Types.Declare(ns.Type)
		}
		if ns.Callee != "" {
			n.Callee = p.callee(ns.Callee, ns.Args)
		}
		return n, nil
	}

	for _, bs := range specs {
		blk := blocks[bs.ID]
		for _, ns := range bs.Nodes {
			n, err := node(ns)
			if err != nil {
				return nil, fmt.Errorf("block %q: %w", bs.ID, err)
			}
			blk.Add(n)
		}

		for _, id := range bs.Successors {
			succ, err := block(id)
			if err != nil {
				return nil, err
			}
			blk.Successors = append(blk.Successors, succ)
		}
		if bs.Terminator != nil {
			n, err := node(*bs.Terminator)
			if err != nil {
				return nil, fmt.Errorf("block %q: %w", bs.ID, err)
			}
			blk.Terminator = n
		}

		for _, hs := range bs.Handlers {
			h, err := block(hs.Block)
			if err != nil {
				return nil, err
			}
			types := make([]symex.Type, len(hs.Types))
			for i, name := range hs.Types {
				types[i] = p.Types.Declare(name)
			}
			blk.Catch(h, types...)
		}
	}
	return b.Build(blocks[specs[0].ID])
}

// callee resolves a callee by signature, or by name among methods with the
// given arity. Unknown callees become external methods without a body.
func (p *Program) callee(name string, arity int) symex.Method {
	if m := p.Method(name); m != nil {
		return m
	}
	if a := p.Find("", name, arity); len(a) == 1 {
		return a[0]
	}
	m := &Method{Ident: name, Sig: name}
	for i := 0; i < arity; i++ {
		m.Parameters = append(m.Parameters, symex.Param{Symbol: NewVariable(fmt.Sprintf("p%d", i))})
	}
	return m
}
