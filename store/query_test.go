package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/weave/errors"
	"github.com/teranos/weave/rdf"
)

func fixture() *Store {
	s := New()
	name := rdf.NewIRI("http://schema.org/name")
	person := rdf.NewIRI("http://schema.org/Person")
	s.Add(
		rdf.NewQuad(alice, knows, bob, g1),
		rdf.Triple(alice, knows, bob),
		rdf.NewQuad(alice, msg, rdf.NewLiteral("Hello World"), g2),
		rdf.Triple(alice, msg, rdf.NewLiteral("Hello World")),
		rdf.Triple(alice, rdf.NewIRI(rdf.RDFType), person),
		rdf.Triple(bob, rdf.NewIRI(rdf.RDFType), person),
		rdf.Triple(alice, name, rdf.NewLiteral("Alice")),
		rdf.Triple(g1, rdf.NewIRI("https://weave.dev/ns#author"), alice),
	)
	return s
}

func TestSelect(t *testing.T) {
	s := fixture()

	res, err := s.Query(`SELECT ?o WHERE { <did:key:z6MkAlice> <http://example.org/msg> ?o }`)
	require.NoError(t, err)
	assert.False(t, res.Ask)
	assert.Equal(t, []string{"o"}, res.Vars)
	require.Len(t, res.Bindings, 1)
	assert.Equal(t, rdf.NewLiteral("Hello World"), res.Bindings[0]["o"])
}

func TestSelectPrefixesAndAbbreviations(t *testing.T) {
	s := fixture()

	res, err := s.Query(`
		PREFIX schema: <http://schema.org/>
		PREFIX foaf: <http://xmlns.com/foaf/0.1/>
		SELECT ?p WHERE {
			?p a schema:Person ;
			   schema:name "Alice" ;
			   foaf:knows ?friend .
		}`)
	require.NoError(t, err)
	require.Len(t, res.Bindings, 1)
	assert.Equal(t, alice, res.Bindings[0]["p"])
}

func TestSelectStarHidesBlankNodes(t *testing.T) {
	s := fixture()

	res, err := s.Query(`SELECT * { ?s <http://xmlns.com/foaf/0.1/knows> _:x }`)
	require.NoError(t, err)
	assert.Equal(t, []string{"s"}, res.Vars)
	assert.Len(t, res.Bindings, 1)
}

func TestGraphPatterns(t *testing.T) {
	s := fixture()

	t.Run("variable graph skips default graph", func(t *testing.T) {
		res, err := s.Query(`SELECT ?g ?s ?p ?o WHERE { GRAPH ?g { ?s ?p ?o } }`)
		require.NoError(t, err)
		require.Len(t, res.Bindings, 2)
		SortBindings(res.Bindings, "g")
		assert.Equal(t, g1, res.Bindings[0]["g"])
		assert.Equal(t, g2, res.Bindings[1]["g"])
	})

	t.Run("fixed graph", func(t *testing.T) {
		res, err := s.Query(`SELECT ?o { GRAPH <urn:weave:expression:two> { ?s ?p ?o } }`)
		require.NoError(t, err)
		require.Len(t, res.Bindings, 1)
		assert.Equal(t, "Hello World", res.Bindings[0]["o"].Value)
	})

	t.Run("graph joined with default-graph metadata", func(t *testing.T) {
		res, err := s.Query(`SELECT ?g ?author WHERE {
			GRAPH ?g { ?s ?p ?o }
			OPTIONAL { ?g <https://weave.dev/ns#author> ?author }
		}`)
		require.NoError(t, err)
		require.Len(t, res.Bindings, 2)
		SortBindings(res.Bindings, "g")
		assert.Equal(t, alice, res.Bindings[0]["author"])
		_, bound := res.Bindings[1]["author"]
		assert.False(t, bound, "optional leaves author unbound for g2")
	})
}

func TestAsk(t *testing.T) {
	s := fixture()

	ok, err := s.Ask(`ASK { GRAPH ?g { <did:key:z6MkAlice> <http://xmlns.com/foaf/0.1/knows> <did:key:z6MkBob> } }`)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Ask(`ASK WHERE { GRAPH ?g { <did:key:z6MkBob> ?p ?o } }`)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.Ask(`SELECT ?s { ?s ?p ?o }`)
	assert.Error(t, err)
}

func TestFilterDistinctLimit(t *testing.T) {
	s := fixture()

	res, err := s.Query(`SELECT DISTINCT ?s WHERE { ?s ?p ?o FILTER(?s != <did:key:z6MkBob>) }`)
	require.NoError(t, err)
	require.Len(t, res.Bindings, 2, "alice and the g1 metadata node")

	res, err = s.Query(`SELECT ?o WHERE { ?s <http://schema.org/name> ?o . FILTER(?o = "Alice") }`)
	require.NoError(t, err)
	assert.Len(t, res.Bindings, 1)

	res, err = s.Query(`SELECT ?s ?o WHERE { ?s ?p ?o } LIMIT 2`)
	require.NoError(t, err)
	assert.Len(t, res.Bindings, 2)
}

func TestRepeatedVariableMustAgree(t *testing.T) {
	s := New()
	s.Add(rdf.Triple(alice, knows, alice), rdf.Triple(alice, knows, bob))

	res, err := s.Query(`SELECT ?x { ?x <http://xmlns.com/foaf/0.1/knows> ?x }`)
	require.NoError(t, err)
	require.Len(t, res.Bindings, 1)
	assert.Equal(t, alice, res.Bindings[0]["x"])
}

func TestQueryErrors(t *testing.T) {
	s := fixture()
	for _, q := range []string{
		``,
		`DESCRIBE ?s`,
		`SELECT WHERE { ?s ?p ?o }`,
		`SELECT ?s { ?s ex:p ?o }`,
		`SELECT ?s { ?s ?p ?o `,
		`SELECT ?s { ?s "lit" ?o }`,
		`SELECT ?s { ?s ?p ?o } LIMIT x`,
		`SELECT ?s { ?s ?p ?o FILTER(?s > 1) }`,
		`SELECT ?s { ?s ?p "unterminated }`,
	} {
		_, err := s.Query(q)
		assert.Error(t, err, q)
		assert.True(t, errors.IsInvalidRequestError(err), q)
	}
}
