// Package header assembles the static header set sent with every request.
package header

import (
	"net/http"
	"net/textproto"
	"sort"
	"strings"
)

// Pair is one header name and value.
type Pair struct {
	Name  string
	Value string
}

// Set is an ordered, read-only list of headers with one entry per
// canonical name. Build it once and share it across requests.
type Set struct {
	pairs []Pair
}

// New builds a Set from pairs. A later pair replaces an earlier one with the
// same canonical name while keeping the earlier position.
func New(pairs ...Pair) Set {
	var s Set
	index := make(map[string]int, len(pairs))
	for _, p := range pairs {
		name := textproto.CanonicalMIMEHeaderKey(strings.TrimSpace(p.Name))
		if name == "" {
			continue
		}
		if i, ok := index[name]; ok {
			s.pairs[i].Value = p.Value
			continue
		}
		index[name] = len(s.pairs)
		s.pairs = append(s.pairs, Pair{Name: name, Value: p.Value})
	}
	return s
}

// FromProperties collects every property whose key starts with prefix. The
// remainder of the key is the header name. Keys are visited in sorted order
// so the result does not depend on map iteration.
func FromProperties(props map[string]string, prefix string) Set {
	keys := make([]string, 0, len(props))
	for k := range props {
		if strings.HasPrefix(k, prefix) && len(k) > len(prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	pairs := make([]Pair, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, Pair{Name: k[len(prefix):], Value: props[k]})
	}
	return New(pairs...)
}

// Len returns the number of headers.
func (s Set) Len() int { return len(s.pairs) }

// Get returns the value for name, or "" if absent.
func (s Set) Get(name string) string {
	name = textproto.CanonicalMIMEHeaderKey(name)
	for _, p := range s.pairs {
		if p.Name == name {
			return p.Value
		}
	}
	return ""
}

// Pairs returns a copy of the headers in order.
func (s Set) Pairs() []Pair {
	out := make([]Pair, len(s.pairs))
	copy(out, s.pairs)
	return out
}

// Map returns a copy of the headers keyed by canonical name.
func (s Set) Map() map[string]string {
	out := make(map[string]string, len(s.pairs))
	for _, p := range s.pairs {
		out[p.Name] = p.Value
	}
	return out
}

// ApplyTo sets every header on h, replacing existing values.
func (s Set) ApplyTo(h http.Header) {
	for _, p := range s.pairs {
		h.Set(p.Name, p.Value)
	}
}
