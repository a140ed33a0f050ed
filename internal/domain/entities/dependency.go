package entities

import (
	"fmt"
	"strings"
)

// CompareOp is a version comparison operator in a dependency atom
type CompareOp string

// Comparison operators accepted in dependency atoms
const (
	OpNone CompareOp = ""
	OpLT   CompareOp = "<"
	OpLE   CompareOp = "<="
	OpEQ   CompareOp = "="
	OpGE   CompareOp = ">="
	OpGT   CompareOp = ">"
)

// Dependency is one entry of a depends-style array: a package name with an
// optional version constraint, plus a description for optional dependencies
// written as "name: reason".
type Dependency struct {
	Name        string
	Op          CompareOp
	Version     string
	Description string
}

// ParseDependency parses a dependency atom such as "python>=3.6" or an
// optional dependency such as "git: for VCS sources".
func ParseDependency(s string) (Dependency, error) {
	d := Dependency{}

	atom := strings.TrimSpace(s)
	if idx := strings.Index(atom, ": "); idx >= 0 {
		d.Description = strings.TrimSpace(atom[idx+2:])
		atom = strings.TrimSpace(atom[:idx])
	} else {
		atom = strings.TrimSuffix(atom, ":")
	}

	// two-character operators before one-character ones
	for _, op := range []CompareOp{OpLE, OpGE, OpLT, OpGT, OpEQ} {
		if idx := strings.Index(atom, string(op)); idx >= 0 {
			d.Op = op
			d.Version = atom[idx+len(op):]
			atom = atom[:idx]
			break
		}
	}

	if atom == "" {
		return Dependency{}, fmt.Errorf("dependency %q has an empty package name", s)
	}
	if d.Op != OpNone && d.Version == "" {
		return Dependency{}, fmt.Errorf("dependency %q has an operator but no version", s)
	}
	if !IsValidPkgname(atom) {
		return Dependency{}, fmt.Errorf("dependency name %q contains forbidden characters", atom)
	}
	d.Name = atom

	return d, nil
}

// ParseDependencies parses a whole depends-style array, failing on the
// first malformed atom.
func ParseDependencies(atoms []string) ([]Dependency, error) {
	if len(atoms) == 0 {
		return nil, nil
	}
	deps := make([]Dependency, 0, len(atoms))
	for _, a := range atoms {
		d, err := ParseDependency(a)
		if err != nil {
			return nil, err
		}
		deps = append(deps, d)
	}
	return deps, nil
}

// String renders the atom back to its manifest form
func (d Dependency) String() string {
	var b strings.Builder
	b.WriteString(d.Name)
	if d.Op != OpNone {
		b.WriteString(string(d.Op))
		b.WriteString(d.Version)
	}
	if d.Description != "" {
		b.WriteString(": ")
		b.WriteString(d.Description)
	}
	return b.String()
}

// Satisfies reports whether a package at version v satisfies the
// constraint carried by the atom. Unconstrained atoms match any version.
func (d Dependency) Satisfies(v string) bool {
	if d.Op == OpNone {
		return true
	}
	cmp := VerCmp(v, d.Version)
	switch d.Op {
	case OpLT:
		return cmp < 0
	case OpLE:
		return cmp <= 0
	case OpEQ:
		return cmp == 0
	case OpGE:
		return cmp >= 0
	case OpGT:
		return cmp > 0
	}
	return false
}

// IsValidPkgname reports whether s is usable as a package name:
// alphanumerics plus @ . _ + -, not starting with a hyphen or a dot.
// Uppercase letters are accepted here and flagged by lint instead.
func IsValidPkgname(s string) bool {
	if s == "" || s[0] == '-' || s[0] == '.' {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case isAlnum(c):
		case c == '@' || c == '.' || c == '_' || c == '+' || c == '-':
		default:
			return false
		}
	}
	return true
}
