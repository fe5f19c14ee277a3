package shapequery

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/nextgraph-org/ng-verifier-core/pkg/ngerrors"
)

// DefaultMaxDepth bounds the recursive shape traversal (spec section 4.8:
// "up to a bounded depth (default 1)").
const DefaultMaxDepth = 1

// iriPattern detects IRI-shaped string literals (spec section 4.8 rule 5).
var iriPattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9+.\-]{1,12}:`)

// compiler holds the mutable state threaded through one Compile call: the
// schema being traversed, a counter for fresh variable names, and the
// per-shape visit count used to break cycles.
type compiler struct {
	schema   Schema
	varSeq   int
	visited  map[string]int
	maxDepth int
}

// Compile builds a CONSTRUCT query for rootShapeIRI against schema,
// optionally restricted to subjectIRIs. maxDepth <= 0 defaults to
// DefaultMaxDepth.
func Compile(schema Schema, rootShapeIRI string, subjectIRIs []string, maxDepth int) (string, error) {
	root, ok := schema[rootShapeIRI]
	if !ok {
		return "", fmt.Errorf("shape %s: %w", rootShapeIRI, ngerrors.ErrInvalidOrmSchema)
	}
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	c := &compiler{schema: schema, visited: make(map[string]int), maxDepth: maxDepth}

	subjVar := c.freshVar()
	var construct, where strings.Builder
	c.emitShape(&construct, &where, root, subjVar, 0)

	var sb strings.Builder
	sb.WriteString("CONSTRUCT {\n")
	sb.WriteString(construct.String())
	sb.WriteString("} WHERE {\n")
	if len(subjectIRIs) > 0 {
		sb.WriteString(fmt.Sprintf("  VALUES %s { %s }\n", subjVar, joinIRIs(subjectIRIs)))
	}
	sb.WriteString(where.String())
	sb.WriteString("}")
	return sb.String(), nil
}

func (c *compiler) freshVar() string {
	c.varSeq++
	return fmt.Sprintf("?v%d", c.varSeq)
}

// emitShape appends this shape's predicate patterns to construct/where for
// the given subject variable, recursing into shape-typed predicates up to
// c.maxDepth. A shape visited more times than the depth budget at this
// path is skipped entirely, breaking schema cycles (spec section 4.8 rule
// 1: "using a visit-count map to break cycles").
func (c *compiler) emitShape(construct, where *strings.Builder, shape *Shape, subjVar string, depth int) {
	if c.visited[shape.IRI] > c.maxDepth || depth > c.maxDepth {
		return
	}
	c.visited[shape.IRI]++
	defer func() { c.visited[shape.IRI]-- }()

	for _, pred := range shape.Predicates {
		c.emitPredicate(construct, where, pred, subjVar, depth)
	}
}

func (c *compiler) emitPredicate(construct, where *strings.Builder, pred Predicate, subjVar string, depth int) {
	predTerm := formatTerm(pred.PredicateIRI)
	objVar := c.freshVar()
	optional := pred.MinCard == 0

	construct.WriteString(fmt.Sprintf("  %s %s %s .\n", subjVar, predTerm, objVar))

	var body strings.Builder
	body.WriteString(fmt.Sprintf("%s %s %s .", subjVar, predTerm, objVar))

	if shapeCandidates := pred.CandidateShapes(); len(shapeCandidates) > 0 {
		// Object-valued predicate: UNION across candidate child shapes
		// (spec section 4.8 rule 4).
		var union strings.Builder
		for i, shapeIRI := range shapeCandidates {
			childShape, ok := c.schema[shapeIRI]
			if !ok {
				continue
			}
			var childConstruct, childWhere strings.Builder
			c.emitShape(&childConstruct, &childWhere, childShape, objVar, depth+1)
			construct.WriteString(childConstruct.String())
			if i > 0 {
				union.WriteString(" UNION ")
			}
			union.WriteString("{ " + childWhere.String() + " }")
		}
		if union.Len() > 0 {
			body.WriteString("\n  " + union.String())
		}
	} else if lits := pred.RequiredLiterals(); len(lits) > 0 && pred.MinCard >= 1 && !pred.Extra {
		// Literal-valued predicate with a required, closed set (spec
		// section 4.8 rule 3).
		terms := make([]string, len(lits))
		for i, l := range lits {
			terms[i] = formatLiteral(l)
		}
		body.WriteString(fmt.Sprintf("\n  FILTER(%s IN (%s))", objVar, strings.Join(terms, ", ")))
	}

	if optional {
		where.WriteString("  OPTIONAL { " + body.String() + " }\n")
	} else {
		where.WriteString("  " + body.String() + "\n")
	}
}

func joinIRIs(iris []string) string {
	terms := make([]string, len(iris))
	for i, iri := range iris {
		terms[i] = formatTerm(iri)
	}
	return strings.Join(terms, " ")
}

// formatTerm renders a predicate or subject IRI string as a SPARQL IRI
// term.
func formatTerm(iri string) string {
	return "<" + iri + ">"
}

// formatLiteral renders a value as an IRI term if it looks like one (spec
// section 4.8 rule 5), otherwise as an escaped SPARQL string literal.
func formatLiteral(v string) string {
	if iriPattern.MatchString(v) {
		return "<" + v + ">"
	}
	return `"` + escapeSparqlString(v) + `"`
}

// escapeSparqlString escapes the characters SPARQL's quoted string grammar
// requires (spec section 4.8 rule 5: "\, \", \n, \r, \t").
func escapeSparqlString(s string) string {
	r := strings.NewReplacer(
		`\`, `\\`,
		`"`, `\"`,
		"\n", `\n`,
		"\r", `\r`,
		"\t", `\t`,
	)
	return r.Replace(s)
}
