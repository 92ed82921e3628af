package shacl

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/weave/errors"
	"github.com/teranos/weave/store"
)

const personShape = `
@prefix sh: <http://www.w3.org/ns/shacl#> .
@prefix ex: <http://example.org/> .
@prefix xsd: <http://www.w3.org/2001/XMLSchema#> .

ex:PersonShape
    a sh:NodeShape ;
    sh:targetClass ex:Person ;
    sh:property [
        sh:path ex:name ;
        sh:minCount 1 ;
        sh:maxCount 1 ;
        sh:datatype xsd:string ;
    ] .
`

func validate(t *testing.T, shapes, data string) Report {
	t.Helper()
	s, err := ParseTurtle(shapes)
	require.NoError(t, err)
	quads, err := store.ParseTurtle(data)
	require.NoError(t, err)
	return s.Validate(quads)
}

func TestPersonShape(t *testing.T) {
	tests := []struct {
		name     string
		data     string
		conforms bool
	}{
		{"conforming", `@prefix ex: <http://example.org/> . ex:Alice a ex:Person ; ex:name "Alice" .`, true},
		{"missing name", `@prefix ex: <http://example.org/> . ex:Bob a ex:Person .`, false},
		{"two names", `@prefix ex: <http://example.org/> . ex:Charlie a ex:Person ; ex:name "Charlie", "Chuck" .`, false},
		{"wrong datatype", `@prefix ex: <http://example.org/> . ex:Davina a ex:Person ; ex:name 123 .`, false},
		{"untargeted", `@prefix ex: <http://example.org/> . ex:Rover a ex:Dog .`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report := validate(t, personShape, tt.data)
			assert.Equal(t, tt.conforms, report.Conforms)
			if !tt.conforms {
				require.NotEmpty(t, report.Results)
				assert.NotEmpty(t, report.Results[0].Message)
			}
		})
	}
}

func TestReportContents(t *testing.T) {
	report := validate(t, personShape, `@prefix ex: <http://example.org/> . ex:Bob a ex:Person .`)

	want := []Result{{
		Message:                   "Less than 1 values",
		Path:                      "http://example.org/name",
		FocusNode:                 "http://example.org/Bob",
		Severity:                  SeverityViolation,
		SourceConstraintComponent: NS + "MinCountConstraintComponent",
	}}
	if diff := cmp.Diff(want, report.Results); diff != "" {
		t.Errorf("results mismatch (-want +got):\n%s", diff)
	}
}

func TestConstraints(t *testing.T) {
	shapes := `
@prefix sh: <http://www.w3.org/ns/shacl#> .
@prefix ex: <http://example.org/> .

ex:S a sh:NodeShape ;
    sh:targetNode ex:n ;
    sh:property [ sh:path ex:code ; sh:pattern "^[a-z]+$" ; sh:flags "i" ; sh:minLength 2 ; sh:maxLength 4 ] ;
    sh:property [ sh:path ex:status ; sh:in ( "open" "closed" ) ] ;
    sh:property [ sh:path ex:owner ; sh:nodeKind sh:IRI ; sh:class ex:Agent ; sh:message "owner must be an agent" ; sh:severity sh:Warning ] .
`
	tests := []struct {
		name       string
		data       string
		components []string
	}{
		{"ok", `@prefix ex: <http://example.org/> .
ex:n ex:code "AbC" ; ex:status "open" ; ex:owner ex:a . ex:a a ex:Agent .`, nil},
		{"pattern", `@prefix ex: <http://example.org/> . ex:n ex:code "ab1" .`, []string{"PatternConstraintComponent"}},
		{"length", `@prefix ex: <http://example.org/> . ex:n ex:code "abcde" .`, []string{"MaxLengthConstraintComponent"}},
		{"in", `@prefix ex: <http://example.org/> . ex:n ex:status "pending" .`, []string{"InConstraintComponent"}},
		{"class", `@prefix ex: <http://example.org/> . ex:n ex:owner ex:a .`, []string{"ClassConstraintComponent"}},
		{"node kind", `@prefix ex: <http://example.org/> . ex:n ex:owner "a" .`, []string{"NodeKindConstraintComponent", "ClassConstraintComponent"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report := validate(t, shapes, tt.data)
			var got []string
			for _, r := range report.Results {
				got = append(got, localName(r.SourceConstraintComponent))
			}
			assert.Equal(t, tt.components, got)
			assert.Equal(t, len(tt.components) == 0, report.Conforms)
		})
	}

	report := validate(t, shapes, `@prefix ex: <http://example.org/> . ex:n ex:owner ex:a .`)
	require.Len(t, report.Results, 1)
	assert.Equal(t, "owner must be an agent", report.Results[0].Message)
	assert.Equal(t, SeverityWarning, report.Results[0].Severity)
}

func TestCheckReturnsValidationError(t *testing.T) {
	s, err := ParseTurtle(personShape)
	require.NoError(t, err)
	data, err := store.ParseTurtle(`@prefix ex: <http://example.org/> . ex:Bob a ex:Person .`)
	require.NoError(t, err)

	err = s.Check(data)
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.False(t, verr.Report.Conforms)
	assert.Contains(t, err.Error(), "Less than 1 values")

	var nilShapes *Shapes
	assert.NoError(t, nilShapes.Check(data))
}

func TestParseRejectsBadShapes(t *testing.T) {
	_, err := ParseTurtle(`
@prefix sh: <http://www.w3.org/ns/shacl#> .
@prefix ex: <http://example.org/> .
ex:S sh:targetClass ex:T ; sh:property [ sh:minCount 1 ] .`)
	assert.True(t, errors.Is(err, errors.ErrInvalidRequest))

	_, err = ParseTurtle(`
@prefix sh: <http://www.w3.org/ns/shacl#> .
@prefix ex: <http://example.org/> .
ex:S sh:targetClass ex:T ; sh:property [ sh:path ex:p ; sh:minCount "many" ] .`)
	assert.Error(t, err)
}
