// Package shapequery implements Module H: compiling a SHACL-like shape
// schema into a SPARQL CONSTRUCT query (spec section 4.8), and Module I's
// shared schema types consumed by pkg/orm.
package shapequery

// ValType tags the kind of value a predicate's data type constrains.
type ValType uint8

const (
	ValLiteral ValType = iota
	ValNumber
	ValString
	ValBoolean
	ValIRI
	ValShape
)

// DataType is one alternative a predicate's value may satisfy.
type DataType struct {
	Val      ValType
	Shape    string   // shape IRI, set iff Val == ValShape
	Literals []string // allowed literal values, set iff constrained
}

// Predicate constrains one property of a subject conforming to a Shape.
type Predicate struct {
	PredicateIRI string
	ReadableName string
	MinCard      int
	MaxCard      int // -1 means unbounded
	Extra        bool
	DataTypes    []DataType
}

// Unbounded is the MaxCard sentinel meaning "no upper limit".
const Unbounded = -1

// Shape is a SHACL-like declarative validator for a subject (spec section
// 9 glossary: "A SHACL-like declarative validator constraining predicates
// on a subject").
type Shape struct {
	IRI        string
	Predicates []Predicate
}

// Schema maps shape IRI to its Shape definition.
type Schema map[string]*Shape

// ShapeTypedPredicates returns the subset of s.Predicates that have at
// least one shape-typed DataType alternative.
func (s *Shape) ShapeTypedPredicates() []Predicate {
	var out []Predicate
	for _, p := range s.Predicates {
		for _, dt := range p.DataTypes {
			if dt.Val == ValShape {
				out = append(out, p)
				break
			}
		}
	}
	return out
}

// LiteralTypedPredicates returns the subset of s.Predicates with no
// shape-typed alternative (i.e. every alternative is a literal kind).
func (s *Shape) LiteralTypedPredicates() []Predicate {
	var out []Predicate
	for _, p := range s.Predicates {
		hasShape := false
		for _, dt := range p.DataTypes {
			if dt.Val == ValShape {
				hasShape = true
				break
			}
		}
		if !hasShape {
			out = append(out, p)
		}
	}
	return out
}

// CandidateShapes returns, for a shape-typed predicate, the list of shape
// IRIs it may point to.
func (p Predicate) CandidateShapes() []string {
	var out []string
	for _, dt := range p.DataTypes {
		if dt.Val == ValShape && dt.Shape != "" {
			out = append(out, dt.Shape)
		}
	}
	return out
}

// RequiredLiterals returns the union of literal values required across a
// predicate's literal-kind data type alternatives.
func (p Predicate) RequiredLiterals() []string {
	var out []string
	for _, dt := range p.DataTypes {
		if dt.Val != ValShape {
			out = append(out, dt.Literals...)
		}
	}
	return out
}
