// Package config implements the INI-style configuration format from
// spec.md §6/§9: sections named "<kind>.<name>", a "defaults.<kind>"
// fallback section per kind, "include=" composition, "abstract=" base
// sections, and "class=" naming the Go type a section configures. It is
// grounded in the original implementation's eva/config.py
// resolved_config_section/ConfigurableObject, generalized from Python's
// configparser to a hand-rolled scanner since no INI library appears
// anywhere in the retrieved pack (see DESIGN.md).
package config

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// RawSection is one "[kind.name]" block exactly as parsed, before
// include/defaults resolution.
type RawSection struct {
	Key     string
	Options map[string]string
	order   []string
}

// File is a fully parsed configuration file.
type File struct {
	sections map[string]*RawSection
	order    []string
}

var sectionHeaderRegex = regexp.MustCompile(`^\[(.+)\]$`)

// Parse reads an INI-style configuration from r.
func Parse(r io.Reader) (*File, error) {
	f := &File{sections: make(map[string]*RawSection)}

	var current *RawSection
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") {
			continue
		}

		if m := sectionHeaderRegex.FindStringSubmatch(line); m != nil {
			key := strings.TrimSpace(m[1])
			if _, exists := f.sections[key]; exists {
				return nil, fmt.Errorf("config: line %d: duplicate section %q", lineNo, key)
			}
			current = &RawSection{Key: key, Options: make(map[string]string)}
			f.sections[key] = current
			f.order = append(f.order, key)
			continue
		}

		if current == nil {
			return nil, fmt.Errorf("config: line %d: option outside of any section", lineNo)
		}

		eq := strings.Index(line, "=")
		if eq < 0 {
			return nil, fmt.Errorf("config: line %d: expected key=value, got %q", lineNo, line)
		}
		key := strings.TrimSpace(line[:eq])
		value := strings.TrimSpace(line[eq+1:])
		if _, exists := current.Options[key]; !exists {
			current.order = append(current.order, key)
		}
		current.Options[key] = value
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: scan: %w", err)
	}
	return f, nil
}

// Sections returns every section key in file order.
func (f *File) Sections() []string {
	out := make([]string, len(f.order))
	copy(out, f.order)
	return out
}

// Section returns the raw, unresolved section named key.
func (f *File) Section(key string) (*RawSection, bool) {
	s, ok := f.sections[key]
	return s, ok
}

// IsAbstract reports whether the section named key sets abstract=true; such
// sections exist only to be included by others, never instantiated
// directly.
func (f *File) IsAbstract(key string) bool {
	s, ok := f.sections[key]
	if !ok {
		return false
	}
	value, _ := NullBool(s.Options["abstract"])
	return value != nil && *value
}

// kindOf returns the "<kind>" portion of a "<kind>.<name>" section key.
func kindOf(sectionKey string) string {
	if idx := strings.Index(sectionKey, "."); idx >= 0 {
		return sectionKey[:idx]
	}
	return sectionKey
}

// Resolve merges a section's includes and kind-level defaults into a flat
// option map, following the original's resolved_config_section: includes
// are merged first (lowest precedence), then defaults.<kind>, then the
// section's own options (highest precedence). Repeating the same base
// section anywhere in the include chain is an error (infinite recursion
// guard).
func (f *File) Resolve(key string) (map[string]string, error) {
	return f.resolve(key, nil, false)
}

func (f *File) resolve(key string, seen []string, ignoreDefaults bool) (map[string]string, error) {
	for _, s := range seen {
		if s == key {
			return nil, fmt.Errorf("config: multiple inheritance of %q detected in chain %v", key, append(seen, key))
		}
	}
	seen = append(append([]string{}, seen...), key)

	section, ok := f.sections[key]
	if !ok {
		return nil, fmt.Errorf("config: section %q not found", key)
	}

	resolved := make(map[string]string)

	if include, ok := section.Options["include"]; ok {
		for _, base := range ListString(include) {
			included, err := f.resolve(base, seen, true)
			if err != nil {
				return nil, err
			}
			for k, v := range included {
				resolved[k] = v
			}
		}
	}

	if !ignoreDefaults {
		defaultsKey := "defaults." + kindOf(key)
		if _, ok := f.sections[defaultsKey]; ok {
			defaults, err := f.resolve(defaultsKey, seen, true)
			if err != nil {
				return nil, err
			}
			for k, v := range defaults {
				resolved[k] = v
			}
		}
	}

	delete(resolved, "abstract")

	for k, v := range section.Options {
		resolved[k] = v
	}
	delete(resolved, "class")
	delete(resolved, "include")
	delete(resolved, "abstract")

	return resolved, nil
}

// ClassOf returns the "class=" value of the named section, without
// resolving includes (class is never inherited).
func (f *File) ClassOf(key string) (string, bool) {
	s, ok := f.sections[key]
	if !ok {
		return "", false
	}
	c, ok := s.Options["class"]
	return c, ok
}

// --- typed option decoders, matching eva.config.ConfigurableObject's
// normalize_config_* family ---

// String returns value unchanged; the decoder exists for symmetry with the
// other typed decoders and the CONFIG/type table pattern it mirrors.
func String(value string) string { return value }

// Int parses value as a base-10 integer. An empty string decodes to nil.
func Int(value string) (*int, error) {
	if value == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("config: invalid integer %q: %w", value, err)
	}
	return &n, nil
}

// PositiveInt parses value as a strictly positive integer.
func PositiveInt(value string) (int, error) {
	n, err := Int(value)
	if err != nil {
		return 0, err
	}
	if n == nil || *n <= 0 {
		return 0, fmt.Errorf("config: invalid non-positive integer: %q", value)
	}
	return *n, nil
}

// NullBool parses a boolean-ish string (true/false/yes/no/1/0/on/off),
// returning nil for an empty value.
func NullBool(value string) (*bool, error) {
	if value == "" {
		return nil, nil
	}
	switch strings.ToLower(value) {
	case "true", "yes", "1", "on":
		b := true
		return &b, nil
	case "false", "no", "0", "off":
		b := false
		return &b, nil
	default:
		return nil, fmt.Errorf("config: invalid boolean value %q", value)
	}
}

// Bool parses a required boolean-ish string.
func Bool(value string) (bool, error) {
	b, err := NullBool(value)
	if err != nil {
		return false, err
	}
	if b == nil {
		return false, fmt.Errorf("config: invalid boolean value")
	}
	return *b, nil
}

// ListString splits a comma-separated string into trimmed, non-empty
// elements.
func ListString(value string) []string {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ListInt splits a comma-separated string into integers.
func ListInt(value string) ([]int, error) {
	strs := ListString(value)
	out := make([]int, 0, len(strs))
	for _, s := range strs {
		n, err := strconv.Atoi(s)
		if err != nil {
			return nil, fmt.Errorf("config: invalid integer %q in list %q: %w", s, value, err)
		}
		out = append(out, n)
	}
	return out, nil
}

// Dependency is an unresolved "config_class" option value: the key of
// another section that must be built and bound in before this one can be
// fully constructed (spec.md §9's two-pass resolution, e.g. an adapter
// naming the executor section it runs on).
type Dependency struct {
	Key string
}

// ConfigClass decodes a config_class option into a Dependency.
func ConfigClass(value string) Dependency {
	return Dependency{Key: value}
}

// Binder resolves Dependency values against the set of objects already
// built from other sections, once every section has been constructed in
// its first pass (spec.md §9: "config_class late-binding with cycle
// detection").
type Binder struct {
	built map[string]interface{}
}

// NewBinder creates an empty Binder.
func NewBinder() *Binder {
	return &Binder{built: make(map[string]interface{})}
}

// Bind registers the already-constructed object for section key.
func (b *Binder) Bind(key string, object interface{}) {
	b.built[key] = object
}

// Resolve looks up the object bound to dep.Key.
func (b *Binder) Resolve(dep Dependency) (interface{}, error) {
	obj, ok := b.built[dep.Key]
	if !ok {
		return nil, fmt.Errorf("config: cannot resolve dependency: section %q is not configured", dep.Key)
	}
	return obj, nil
}

// SortedKeys is a small helper for deterministic iteration over a section
// map in tests and log output.
func SortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
