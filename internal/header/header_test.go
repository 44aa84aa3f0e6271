package header

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromProperties_FiltersPrefixAndCanonicalises(t *testing.T) {
	props := map[string]string{
		"sink_header.x-api-key":    "k1",
		"sink_header.Content-Type": "application/vnd+json",
		"sink_url":                 "http://ignored",
		"sink_header.":             "empty-name",
	}

	s := FromProperties(props, "sink_header.")
	require.Equal(t, 2, s.Len())
	assert.Equal(t, []Pair{
		{Name: "Content-Type", Value: "application/vnd+json"},
		{Name: "X-Api-Key", Value: "k1"},
	}, s.Pairs())
	assert.Equal(t, "k1", s.Get("X-API-KEY"))
	assert.Equal(t, "", s.Get("Authorization"))
}

func TestFromProperties_Deterministic(t *testing.T) {
	props := map[string]string{
		"h.b": "2", "h.a": "1", "h.c": "3", "h.d": "4", "h.e": "5",
	}
	first := FromProperties(props, "h.").Pairs()
	for i := 0; i < 20; i++ {
		assert.Equal(t, first, FromProperties(props, "h.").Pairs())
	}
}

func TestNew_LastWriteWins(t *testing.T) {
	s := New(
		Pair{Name: "x-trace", Value: "one"},
		Pair{Name: "Accept", Value: "*/*"},
		Pair{Name: "X-Trace", Value: "two"},
		Pair{Name: "  ", Value: "blank"},
	)
	assert.Equal(t, []Pair{
		{Name: "X-Trace", Value: "two"},
		{Name: "Accept", Value: "*/*"},
	}, s.Pairs())
}

func TestSet_CopiesAreIndependent(t *testing.T) {
	s := New(Pair{Name: "A", Value: "1"})

	pairs := s.Pairs()
	pairs[0].Value = "mutated"
	m := s.Map()
	m["A"] = "mutated"
	m["B"] = "new"

	assert.Equal(t, "1", s.Get("A"))
	assert.Equal(t, 1, s.Len())
}

func TestSet_ApplyTo(t *testing.T) {
	h := http.Header{}
	h.Set("Content-Type", "application/json")
	h.Set("Authorization", "Bearer placeholder")

	New(Pair{Name: "authorization", Value: "Bearer real"}).ApplyTo(h)

	assert.Equal(t, "application/json", h.Get("Content-Type"))
	assert.Equal(t, "Bearer real", h.Get("Authorization"))
	assert.Len(t, h.Values("Authorization"), 1)
}
