package shapequery

import (
	"strings"
	"testing"
)

func personSchema() Schema {
	return Schema{
		"http://ex.org/Person": {
			IRI: "http://ex.org/Person",
			Predicates: []Predicate{
				{
					PredicateIRI: "http://ex.org/name",
					ReadableName: "name",
					MinCard:      1,
					MaxCard:      1,
					DataTypes:    []DataType{{Val: ValString}},
				},
				{
					PredicateIRI: "http://ex.org/status",
					ReadableName: "status",
					MinCard:      1,
					MaxCard:      1,
					DataTypes:    []DataType{{Val: ValString, Literals: []string{"active", "inactive"}}},
				},
				{
					PredicateIRI: "http://ex.org/nickname",
					ReadableName: "nickname",
					MinCard:      0,
					MaxCard:      1,
					DataTypes:    []DataType{{Val: ValString}},
				},
				{
					PredicateIRI: "http://ex.org/friend",
					ReadableName: "friend",
					MinCard:      0,
					MaxCard:      Unbounded,
					DataTypes:    []DataType{{Val: ValShape, Shape: "http://ex.org/Person"}},
				},
			},
		},
	}
}

func TestCompileEmitsOptionalForZeroMinCard(t *testing.T) {
	q, err := Compile(personSchema(), "http://ex.org/Person", nil, 1)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if !strings.Contains(q, "OPTIONAL") {
		t.Fatalf("expected OPTIONAL for nickname predicate, got:\n%s", q)
	}
	if !strings.Contains(q, "<http://ex.org/nickname>") {
		t.Fatalf("expected nickname predicate term, got:\n%s", q)
	}
}

func TestCompileEmitsFilterForRequiredLiterals(t *testing.T) {
	q, err := Compile(personSchema(), "http://ex.org/Person", nil, 1)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if !strings.Contains(q, "FILTER(") {
		t.Fatalf("expected FILTER for status predicate, got:\n%s", q)
	}
	if !strings.Contains(q, `"active"`) || !strings.Contains(q, `"inactive"`) {
		t.Fatalf("expected literal values quoted, got:\n%s", q)
	}
}

func TestCompileBreaksCyclesAtMaxDepth(t *testing.T) {
	q, err := Compile(personSchema(), "http://ex.org/Person", nil, 1)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	// friend -> Person -> friend should stop recursing after depth 1,
	// so the query must still be finite and well-formed.
	if !strings.HasPrefix(q, "CONSTRUCT {") {
		t.Fatalf("expected CONSTRUCT prefix, got:\n%s", q)
	}
	if !strings.Contains(q, "} WHERE {") {
		t.Fatalf("expected WHERE clause, got:\n%s", q)
	}
}

func TestCompileScopesToSubjectIRIs(t *testing.T) {
	q, err := Compile(personSchema(), "http://ex.org/Person", []string{"http://ex.org/alice"}, 1)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if !strings.Contains(q, "VALUES") || !strings.Contains(q, "<http://ex.org/alice>") {
		t.Fatalf("expected VALUES clause scoping to alice, got:\n%s", q)
	}
}

func TestCompileUnknownRootShapeErrors(t *testing.T) {
	if _, err := Compile(personSchema(), "http://ex.org/NoSuchShape", nil, 1); err == nil {
		t.Fatal("expected error for unknown root shape")
	}
}

func TestEscapeSparqlStringHandlesControlChars(t *testing.T) {
	got := escapeSparqlString("a\"b\\c\nd")
	want := `a\"b\\c\nd`
	if got != want {
		t.Fatalf("escapeSparqlString: got %q want %q", got, want)
	}
}
