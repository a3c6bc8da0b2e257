package program

import (
	"sort"
	"sync"

	"github.com/benbjohnson/symex"
	"golang.org/x/exp/maps"
)

// Type is a named class type with its direct supertypes.
type Type struct {
	name   string
	supers []*Type
}

// Name returns the fully qualified name of the type.
func (t *Type) Name() string { return t.name }

func (t *Type) String() string { return t.name }

// Supers returns the direct supertypes of t.
func (t *Type) Supers() []*Type { return t.supers }

// TypeHierarchy is a set of types forming a class hierarchy. It implements
// symex.TypeModel and is safe for concurrent use.
type TypeHierarchy struct {
	mu    sync.RWMutex
	types map[string]*Type
}

var _ symex.TypeModel = (*TypeHierarchy)(nil)

// builtinTypes are declared by every hierarchy, each after its supertype.
var builtinTypes = [][2]string{
	{"java.lang.Object", ""},
	{"java.lang.Throwable", "java.lang.Object"},
	{"java.lang.Exception", "java.lang.Throwable"},
	{"java.lang.Error", "java.lang.Throwable"},
	{"java.lang.RuntimeException", "java.lang.Exception"},
	{"java.lang.NullPointerException", "java.lang.RuntimeException"},
	{"java.lang.ArithmeticException", "java.lang.RuntimeException"},
	{"java.lang.IllegalArgumentException", "java.lang.RuntimeException"},
	{"java.lang.IllegalStateException", "java.lang.RuntimeException"},
	{"java.lang.IndexOutOfBoundsException", "java.lang.RuntimeException"},
	{"java.lang.ClassCastException", "java.lang.RuntimeException"},
	{"java.lang.UnsupportedOperationException", "java.lang.RuntimeException"},
	{"java.io.IOException", "java.lang.Exception"},
	{"java.io.FileNotFoundException", "java.io.IOException"},
	{"java.lang.AutoCloseable", "java.lang.Object"},
	{"java.io.Closeable", "java.lang.AutoCloseable"},
	{"java.lang.String", "java.lang.Object"},
	{"java.lang.AssertionError", "java.lang.Error"},
	{"java.io.InputStream", "java.io.Closeable"},
	{"java.io.OutputStream", "java.io.Closeable"},
	{"java.io.FileInputStream", "java.io.InputStream"},
	{"java.io.FileOutputStream", "java.io.OutputStream"},
	{"java.io.Reader", "java.io.Closeable"},
	{"java.io.Writer", "java.io.Closeable"},
	{"java.io.FileReader", "java.io.Reader"},
	{"java.io.FileWriter", "java.io.Writer"},
	{"java.io.BufferedReader", "java.io.Reader"},
	{"java.io.BufferedWriter", "java.io.Writer"},

	// Go panics.
	{"panic", ""},
	{"runtime.Error", "panic"},
}

// NewTypeHierarchy returns a hierarchy with the java.lang exception types
// and the Go panic types predeclared.
func NewTypeHierarchy() *TypeHierarchy {
	h := &TypeHierarchy{types: make(map[string]*Type)}
	for _, b := range builtinTypes {
		if b[1] == "" {
			h.Declare(b[0])
		} else {
			h.Declare(b[0], b[1])
		}
	}
	return h
}

// Declare returns the type named name, creating it if needed, and adds the
// given supertypes. Unknown supertypes are declared as well.
func (h *TypeHierarchy) Declare(name string, supers ...string) *Type {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.declare(name, supers...)
}

func (h *TypeHierarchy) declare(name string, supers ...string) *Type {
	t := h.types[name]
	if t == nil {
		t = &Type{name: name}
		h.types[name] = t
	}
	for _, s := range supers {
		super := h.declare(s)
		if super != t && !contains(t.supers, super) {
			t.supers = append(t.supers, super)
		}
	}
	return t
}

// Type returns the type named name or nil.
func (h *TypeHierarchy) Type(name string) *Type {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.types[name]
}

// Lookup returns the type named name or nil. It implements symex.TypeModel.
func (h *TypeHierarchy) Lookup(name string) symex.Type {
	if t := h.Type(name); t != nil {
		return t
	}
	return nil
}

// IsSubtypeOf returns true if t is super or inherits from it.
func (h *TypeHierarchy) IsSubtypeOf(t, super symex.Type) bool {
	if t == nil || super == nil {
		return false
	} else if t.Name() == super.Name() || super.Name() == "java.lang.Object" {
		return true
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	seen := make(map[*Type]bool)
	var visit func(*Type) bool
	visit = func(typ *Type) bool {
		if typ == nil || seen[typ] {
			return false
		}
		seen[typ] = true
		for _, s := range typ.supers {
			if s.name == super.Name() || visit(s) {
				return true
			}
		}
		return false
	}
	return visit(h.types[t.Name()])
}

// Names returns the names of all declared types in sorted order.
func (h *TypeHierarchy) Names() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	names := maps.Keys(h.types)
	sort.Strings(names)
	return names
}

func contains(a []*Type, t *Type) bool {
	for _, x := range a {
		if x == t {
			return true
		}
	}
	return false
}
