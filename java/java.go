// Package java lowers Java source files into control flow graphs for the
// symbolic execution engine. Parsing is done with tree-sitter; the lowering
// covers the statements and expressions relevant to nullness, zeroness and
// resource tracking and models everything else conservatively.
package java

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/benbjohnson/symex"
	"github.com/benbjohnson/symex/program"
	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/java"
)

// ErrSyntax is returned when a source file does not parse.
var ErrSyntax = errors.New("syntax error")

// Source is a named Java compilation unit.
type Source struct {
	Filename string
	Src      []byte
}

// ParseFiles reads and parses the named files into a single program.
func ParseFiles(ctx context.Context, filenames ...string) (*program.Program, error) {
	sources := make([]Source, len(filenames))
	for i, filename := range filenames {
		src, err := os.ReadFile(filename)
		if err != nil {
			return nil, err
		}
		sources[i] = Source{Filename: filename, Src: src}
	}
	return ParseSources(ctx, sources...)
}

// Parse parses a single compilation unit.
func Parse(ctx context.Context, filename string, src []byte) (*program.Program, error) {
	return ParseSources(ctx, Source{Filename: filename, Src: src})
}

// ParseSources parses compilation units into a single program. Methods may
// call methods declared in any of the units.
func ParseSources(ctx context.Context, sources ...Source) (*program.Program, error) {
	parser := sitter.NewParser()
	parser.SetLanguage(java.GetLanguage())

	c := &compiler{
		prog:     program.New(),
		external: make(map[string]*program.Method),
	}

	var units []*unit
	for _, source := range sources {
		tree, err := parser.ParseCtx(ctx, nil, source.Src)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", source.Filename, err)
		}
		root := tree.RootNode()
		if root.HasError() {
			return nil, fmt.Errorf("%s:%d: %w", source.Filename, errorLine(root), ErrSyntax)
		}

		u := &unit{compiler: c, filename: source.Filename, src: source.Src, imports: make(map[string]string)}
		u.collect(root)
		units = append(units, u)
	}

	// Bodies are lowered once every method is declared so that calls resolve
	// across classes and files.
	for _, u := range units {
		for _, cls := range u.classes {
			for _, md := range cls.methods {
				g, err := u.lowerMethod(cls, md)
				if err != nil {
					return nil, fmt.Errorf("%s: %s: %w", u.filename, md.method.Signature(), err)
				}
				md.method.Graph = g
			}
		}
	}
	return c.prog, nil
}

// errorLine returns the line of the first error node below n.
func errorLine(n *sitter.Node) int {
	if n.IsError() || n.IsMissing() {
		return int(n.StartPoint().Row) + 1
	}
	for i := 0; i < int(n.ChildCount()); i++ {
		if child := n.Child(i); child != nil && child.HasError() {
			return errorLine(child)
		}
	}
	return int(n.StartPoint().Row) + 1
}

// compiler holds the state shared by all units of a program.
type compiler struct {
	prog     *program.Program
	classes  []*class
	external map[string]*program.Method
}

// class is a declared class with its fields and methods.
type class struct {
	name    string
	fields  map[string]*program.Variable
	methods []*methodDecl
}

type methodDecl struct {
	method *program.Method
	node   *sitter.Node
	params []*sitter.Node
}

// unit is a single compilation unit.
type unit struct {
	*compiler
	filename string
	src      []byte
	pkg      string
	imports  map[string]string // simple name to qualified name
	classes  []*class
}

func (u *unit) text(n *sitter.Node) string {
	if n == nil {
		return ""
	}
	return n.Content(u.src)
}

func (u *unit) loc(n *sitter.Node) symex.Location {
	p := n.StartPoint()
	return symex.Location{File: u.filename, Line: int(p.Row) + 1, Column: int(p.Column) + 1}
}

// collect declares the types and methods of a compilation unit.
func (u *unit) collect(root *sitter.Node) {
	for i := 0; i < int(root.NamedChildCount()); i++ {
		n := root.NamedChild(i)
		switch n.Type() {
		case "package_declaration":
			for j := 0; j < int(n.NamedChildCount()); j++ {
				if child := n.NamedChild(j); child.Type() == "scoped_identifier" || child.Type() == "identifier" {
					u.pkg = u.text(child)
				}
			}
		case "import_declaration":
			name := strings.TrimSpace(strings.TrimSuffix(strings.TrimPrefix(u.text(n), "import"), ";"))
			if !strings.HasPrefix(name, "static ") && !strings.HasSuffix(name, "*") {
				u.imports[name[strings.LastIndex(name, ".")+1:]] = name
			}
		case "class_declaration", "interface_declaration", "enum_declaration", "record_declaration":
			u.collectClass(n, "")
		}
	}
}

func (u *unit) collectClass(n *sitter.Node, outer string) {
	name := u.text(n.ChildByFieldName("name"))
	if outer != "" {
		name = outer + "." + name
	}
	cls := &class{name: name, fields: make(map[string]*program.Variable)}
	u.classes = append(u.classes, cls)
	u.compiler.classes = append(u.compiler.classes, cls)

	var supers []string
	if sc := n.ChildByFieldName("superclass"); sc != nil {
		supers = append(supers, u.typeNames(sc)...)
	}
	if si := n.ChildByFieldName("interfaces"); si != nil {
		supers = append(supers, u.typeNames(si)...)
	}
	for i := 0; i < int(n.NamedChildCount()); i++ {
		if child := n.NamedChild(i); child.Type() == "extends_interfaces" {
			supers = append(supers, u.typeNames(child)...)
		}
	}
	u.prog.Types.Declare(u.qualify(name), supers...)

	body := n.ChildByFieldName("body")
	if body == nil {
		return
	}
	for i := 0; i < int(body.NamedChildCount()); i++ {
		member := body.NamedChild(i)
		switch member.Type() {
		case "field_declaration":
			for j := 0; j < int(member.NamedChildCount()); j++ {
				if d := member.NamedChild(j); d.Type() == "variable_declarator" {
					fname := u.text(d.ChildByFieldName("name"))
					cls.fields[fname] = program.NewField(fname)
				}
			}
		case "method_declaration", "constructor_declaration":
			u.collectMethod(cls, member)
		case "class_declaration", "interface_declaration", "enum_declaration", "record_declaration":
			u.collectClass(member, name)
		}
	}
}

// typeNames returns the qualified names of the types listed below n.
func (u *unit) typeNames(n *sitter.Node) []string {
	var names []string
	var visit func(*sitter.Node)
	visit = func(n *sitter.Node) {
		switch n.Type() {
		case "type_identifier", "scoped_type_identifier":
			names = append(names, u.resolve(u.text(n)))
			return
		case "generic_type":
			if n.NamedChildCount() > 0 {
				visit(n.NamedChild(0))
			}
			return
		}
		for i := 0; i < int(n.NamedChildCount()); i++ {
			visit(n.NamedChild(i))
		}
	}
	visit(n)
	return names
}

func (u *unit) qualify(name string) string {
	if u.pkg == "" {
		return name
	}
	return u.pkg + "." + name
}

// resolve returns the qualified name of a type as written in source.
func (u *unit) resolve(name string) string {
	if i := strings.IndexByte(name, '<'); i >= 0 {
		name = name[:i]
	}
	if strings.Contains(name, ".") {
		return name
	} else if q, ok := u.imports[name]; ok {
		return q
	}
	for _, cls := range u.compiler.classes {
		if cls.name == name {
			return u.qualify(name)
		}
	}
	for _, pkg := range []string{"java.lang.", "java.io."} {
		if u.prog.Types.Type(pkg+name) != nil {
			return pkg + name
		}
	}
	return name
}

func (u *unit) collectMethod(cls *class, n *sitter.Node) {
	m := &program.Method{
		Owner: cls.name,
		Loc:   u.loc(n),
	}
	if n.Type() == "constructor_declaration" {
		m.Ident = "<init>"
		m.Void = true
	} else {
		m.Ident = u.text(n.ChildByFieldName("name"))
		m.Void = u.text(n.ChildByFieldName("type")) == "void"
	}

	md := &methodDecl{method: m, node: n}
	var types []string
	if params := n.ChildByFieldName("parameters"); params != nil {
		for i := 0; i < int(params.NamedChildCount()); i++ {
			p := params.NamedChild(i)
			if p.Type() != "formal_parameter" && p.Type() != "spread_parameter" {
				continue
			}
			name := u.text(p.ChildByFieldName("name"))
			if name == "" {
				// Spread parameters hold their name in a declarator.
				for j := 0; j < int(p.NamedChildCount()); j++ {
					if d := p.NamedChild(j); d.Type() == "variable_declarator" {
						name = u.text(d.ChildByFieldName("name"))
					}
				}
			}
			m.Parameters = append(m.Parameters, symex.Param{
				Symbol:   program.NewVariable(name),
				Nullness: u.nullness(p),
			})
			md.params = append(md.params, p)
			types = append(types, u.text(p.ChildByFieldName("type")))
		}
	}
	m.Sig = fmt.Sprintf("%s.%s(%s)", u.qualify(cls.name), m.Ident, strings.Join(types, ","))
	m.Returns = u.nullness(n)

	for i := 0; i < int(n.ChildCount()); i++ {
		child := n.Child(i)
		switch child.Type() {
		case "modifiers":
			for j := 0; j < int(child.ChildCount()); j++ {
				if child.Child(j).Type() == "native" {
					m.IsNative = true
				}
			}
		case "throws":
			for _, name := range u.typeNames(child) {
				m.Throws = append(m.Throws, u.prog.Types.Declare(name))
			}
		}
	}

	if err := u.prog.Add(m); err == nil {
		cls.methods = append(cls.methods, md)
	}
}

// nullness returns the nullness annotation among the modifiers of n.
func (u *unit) nullness(n *sitter.Node) symex.Nullness {
	for i := 0; i < int(n.NamedChildCount()); i++ {
		mods := n.NamedChild(i)
		if mods.Type() != "modifiers" {
			continue
		}
		for j := 0; j < int(mods.NamedChildCount()); j++ {
			a := mods.NamedChild(j)
			if a.Type() != "marker_annotation" && a.Type() != "annotation" {
				continue
			}
			name := u.text(a.ChildByFieldName("name"))
			name = name[strings.LastIndex(name, ".")+1:]
			switch name {
			case "Nullable", "CheckForNull":
				return symex.Nullable
			case "Nonnull", "NonNull", "NotNull":
				return symex.NonNull
			}
		}
	}
	return symex.NullnessUnknown
}

// reflective names methods whose behavior depends on reflection.
var reflective = map[string]bool{
	"invoke":      true,
	"forName":     true,
	"newInstance": true,
	"getMethod":   true,
}

// callee resolves a call by name and arity, preferring methods of owner.
// Unknown callees are external methods without a body.
func (u *unit) callee(owner, name string, arity int) symex.Method {
	if a := u.prog.Find(owner, name, arity); len(a) > 0 {
		return a[0]
	}
	if a := u.prog.Find("", name, arity); len(a) > 0 {
		return a[0]
	}

	sig := fmt.Sprintf("?.%s(%d)", name, arity)
	if m := u.external[sig]; m != nil {
		return m
	}
	m := &program.Method{Ident: name, Sig: sig}
	for i := 0; i < arity; i++ {
		m.Parameters = append(m.Parameters, symex.Param{Symbol: program.NewVariable(fmt.Sprintf("p%d", i))})
	}
	u.external[sig] = m
	return m
}
