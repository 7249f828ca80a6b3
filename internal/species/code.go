package species

import (
	"strconv"
	"strings"
)

// Code is a hierarchical lineage code. Root species look like "A1"; each
// branching appends a dot-separated ordinal ("A1.2", "A1.2.1"), so a code
// encodes the full ancestry path.
type Code string

// PairKey identifies an unordered pair of species.
type PairKey struct {
	A, B Code
}

// NewPairKey returns the key for {a, b} with the codes in sorted order.
func NewPairKey(a, b Code) PairKey {
	if b < a {
		a, b = b, a
	}
	return PairKey{A: a, B: b}
}

func (c Code) segments() []string {
	if c == "" {
		return nil
	}
	return strings.Split(string(c), ".")
}

// Depth is the number of branchings since the root (root = 0).
func (c Code) Depth() int {
	s := c.segments()
	if len(s) == 0 {
		return 0
	}
	return len(s) - 1
}

// Parent returns the parent code, or "" for a root.
func (c Code) Parent() Code {
	i := strings.LastIndexByte(string(c), '.')
	if i < 0 {
		return ""
	}
	return c[:i]
}

// Child returns the n-th child code.
func (c Code) Child(n int) Code {
	return Code(string(c) + "." + strconv.Itoa(n))
}

// Root returns the first segment.
func (c Code) Root() Code {
	s := c.segments()
	if len(s) == 0 {
		return ""
	}
	return Code(s[0])
}

// Genus returns the genus letters of the root segment ("A1.2" → "A").
func (c Code) Genus() string {
	root := string(c.Root())
	i := strings.IndexFunc(root, func(r rune) bool { return r >= '0' && r <= '9' })
	if i < 0 {
		return root
	}
	return root[:i]
}

// IsAncestorOf reports whether c is a strict ancestor of d.
func (c Code) IsAncestorOf(d Code) bool {
	return c != "" && strings.HasPrefix(string(d), string(c)+".")
}

// CommonAncestor returns the deepest code both a and b descend from (or are),
// or "" when they share no root.
func CommonAncestor(a, b Code) Code {
	sa, sb := a.segments(), b.segments()
	n := 0
	for n < len(sa) && n < len(sb) && sa[n] == sb[n] {
		n++
	}
	if n == 0 {
		return ""
	}
	return Code(strings.Join(sa[:n], "."))
}

// TreeDistance counts branch edges between a and b through their common
// ancestor. Codes with different roots return -1.
func TreeDistance(a, b Code) int {
	ca := CommonAncestor(a, b)
	if ca == "" {
		return -1
	}
	d := ca.Depth()
	return (a.Depth() - d) + (b.Depth() - d)
}
