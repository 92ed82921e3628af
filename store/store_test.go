package store

import (
	"bytes"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/weave/rdf"
)

var (
	alice = rdf.NewIRI("did:key:z6MkAlice")
	bob   = rdf.NewIRI("did:key:z6MkBob")
	msg   = rdf.NewIRI("http://example.org/msg")
	knows = rdf.NewIRI("http://xmlns.com/foaf/0.1/knows")
	g1    = rdf.NewIRI("urn:weave:expression:one")
	g2    = rdf.NewIRI("urn:weave:expression:two")
)

func TestAddRemoveSetSemantics(t *testing.T) {
	s := New()
	q := rdf.NewQuad(alice, msg, rdf.NewLiteral("Hello World"), g1)

	assert.Equal(t, 1, s.Add(q))
	assert.Equal(t, 0, s.Add(q), "duplicate add is a no-op")
	assert.Equal(t, 1, s.Len())
	assert.True(t, s.Has(q))

	assert.Equal(t, 1, s.Remove(q))
	assert.Equal(t, 0, s.Remove(q))
	assert.Equal(t, 0, s.Len())
	assert.Empty(t, s.Graphs())
}

func TestZeroGraphIsDefault(t *testing.T) {
	s := New()
	s.Add(rdf.Quad{Subject: alice, Predicate: knows, Object: bob})

	assert.True(t, s.Has(rdf.Triple(alice, knows, bob)))
	assert.Len(t, s.Match(rdf.Term{}, rdf.Term{}, rdf.Term{}, rdf.DefaultGraph), 1)
}

func TestMatch(t *testing.T) {
	s := New()
	s.Add(
		rdf.NewQuad(alice, knows, bob, g1),
		rdf.NewQuad(alice, msg, rdf.NewLiteral("hi"), g2),
		rdf.Triple(alice, knows, bob),
	)

	tests := []struct {
		name    string
		s, p, o rdf.Term
		g       rdf.Term
		want    int
	}{
		{"everything", rdf.Term{}, rdf.Term{}, rdf.Term{}, rdf.Term{}, 3},
		{"by predicate", rdf.Term{}, knows, rdf.Term{}, rdf.Term{}, 2},
		{"default graph only", rdf.Term{}, rdf.Term{}, rdf.Term{}, rdf.DefaultGraph, 1},
		{"named graph", alice, rdf.Term{}, rdf.Term{}, g2, 1},
		{"by literal object", rdf.Term{}, rdf.Term{}, rdf.NewLiteral("hi"), rdf.Term{}, 1},
		{"no match", bob, rdf.Term{}, rdf.Term{}, rdf.Term{}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Len(t, s.Match(tt.s, tt.p, tt.o, tt.g), tt.want)
		})
	}

	assert.Len(t, s.MatchNamed(alice, knows, bob), 1)
	if diff := cmp.Diff([]rdf.Term{g1, g2}, s.Graphs()); diff != "" {
		t.Errorf("graphs mismatch (-want +got):\n%s", diff)
	}
}

func TestNQuadsSnapshot(t *testing.T) {
	s := New()
	s.Add(
		rdf.NewQuad(alice, knows, bob, g1),
		rdf.Triple(alice, msg, rdf.NewLiteral("line\nbreak")),
	)

	restored := New()
	require.NoError(t, restored.LoadNQuads(s.NQuads()))
	assert.ElementsMatch(t, s.All(), restored.All())

	require.NoError(t, restored.LoadNQuads(""))
	assert.Equal(t, 0, restored.Len())

	var buf bytes.Buffer
	require.NoError(t, s.WriteNQuads(&buf))
	streamed := New()
	require.NoError(t, streamed.ReadNQuads(&buf))
	assert.ElementsMatch(t, s.All(), streamed.All())
}

func TestConcurrentReadersAndWriters(t *testing.T) {
	s := New()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			s.Add(rdf.Triple(alice, msg, rdf.NewTypedLiteral(string(rune('a'+i)), rdf.XSDString)))
		}(i)
		go func() {
			defer wg.Done()
			_ = s.Match(alice, rdf.Term{}, rdf.Term{}, rdf.Term{})
		}()
	}
	wg.Wait()
	assert.Equal(t, 8, s.Len())
}
