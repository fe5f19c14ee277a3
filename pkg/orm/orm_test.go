package orm

import (
	"reflect"
	"sort"
	"testing"

	"github.com/nextgraph-org/ng-verifier-core/pkg/shapequery"
)

// personAddressSchema builds Person{hasName[1..1]:string,
// hasAddress[0..*]->Address{street[1..1]:string}}, the schema used by the
// end-to-end ORM scenarios.
func personAddressSchema() Schema {
	return Schema{
		"Person": &Shape{
			IRI: "Person",
			Predicates: []Predicate{
				{
					PredicateIRI: "hasName", ReadableName: "hasName",
					MinCard: 1, MaxCard: 1,
					DataTypes: []DataType{{Val: shapequery.ValString}},
				},
				{
					PredicateIRI: "hasAddress", ReadableName: "hasAddress",
					MinCard: 0, MaxCard: shapequery.Unbounded,
					DataTypes: []DataType{{Val: shapequery.ValShape, Shape: "Address"}},
				},
			},
		},
		"Address": &Shape{
			IRI: "Address",
			Predicates: []Predicate{
				{
					PredicateIRI: "street", ReadableName: "street",
					MinCard: 1, MaxCard: 1,
					DataTypes: []DataType{{Val: shapequery.ValString}},
				},
			},
		},
	}
}

func q(graph, subject, predicate, object string, literal bool) Quad {
	return Quad{Graph: graph, Subject: subject, Predicate: predicate, Object: object, ObjectIsLiteral: literal}
}

// startSubscription ingests the given seed quads as an OrmStart-equivalent
// pass, marks every Valid root-shape subject as a root, and returns the
// subscription, so a test can both inspect BuildTree's initial snapshot and
// continue feeding incremental updates through the same subscription.
func startSubscription(t *testing.T, schema Schema, seed []Quad) *Subscription {
	t.Helper()
	sub := NewSubscription("Person", nil, "session-1", schema)
	engine := NewEngine(sub, nil)
	if _, err := engine.Ingest(seed, nil); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	for key, tm := range sub.registry {
		if key.shapeIRI == sub.ShapeType && tm.valid == StateValid {
			tm.isRoot = true
			sub.roots[key] = tm
		}
	}
	return sub
}

// TestOrmInitialScenario mirrors the spec's worked ORM-initial example: a
// person with one valid address produces a fully nested initial tree.
func TestOrmInitialScenario(t *testing.T) {
	schema := personAddressSchema()
	seed := []Quad{
		q("g", "p1", "hasName", "Alice", true),
		q("g", "p1", "hasAddress", "a1", false),
		q("g", "a1", "street", "Main", true),
	}
	sub := startSubscription(t, schema, seed)

	got := BuildTree(sub)
	want := map[string]interface{}{
		"g|p1": map[string]interface{}{
			"@graph":   "g",
			"@id":      "p1",
			"hasName":  "Alice",
			"hasAddress": map[string]interface{}{
				"g|a1": map[string]interface{}{
					"@graph": "g",
					"@id":    "a1",
					"street": "Main",
				},
			},
		},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("BuildTree mismatch:\ngot:  %#v\nwant: %#v", got, want)
	}
}

func patchKey(p Patch) string {
	return string(p.Op) + " " + p.Path
}

// TestOrmIncrementalAddChild mirrors the spec's worked example of adding a
// second address: the new object's creation trail nests under the link
// that introduced it, in the documented add-object/@graph/@id/predicate
// order, with the link-add and the creation's own object-add deduplicated
// to a single patch.
func TestOrmIncrementalAddChild(t *testing.T) {
	schema := personAddressSchema()
	sub := startSubscription(t, schema, []Quad{
		q("g", "p1", "hasName", "Alice", true),
		q("g", "p1", "hasAddress", "a1", false),
		q("g", "a1", "street", "Main", true),
	})

	engine := NewEngine(sub, nil)
	added := []Quad{
		q("g", "p1", "hasAddress", "a2", false),
		q("g", "a2", "street", "Oak", true),
	}
	if _, err := engine.Ingest(added, nil); err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	patches := engine.EmitPatches()
	wantOrder := []string{
		"add /g|p1/hasAddress/g|a2",
		"add /g|p1/hasAddress/g|a2/@graph",
		"add /g|p1/hasAddress/g|a2/@id",
		"add /g|p1/hasAddress/g|a2/street",
	}
	if len(patches) != len(wantOrder) {
		t.Fatalf("got %d patches, want %d: %+v", len(patches), len(wantOrder), patches)
	}
	for i, p := range patches {
		if patchKey(p) != wantOrder[i] {
			t.Fatalf("patch %d = %q, want %q (full: %+v)", i, patchKey(p), wantOrder[i], patches)
		}
	}
	if patches[0].ValType != ValTypeObject {
		t.Fatalf("patches[0].ValType = %v, want object", patches[0].ValType)
	}
	if patches[1].Value != "g" {
		t.Fatalf("@graph value = %v, want g", patches[1].Value)
	}
	if patches[2].Value != "a2" {
		t.Fatalf("@id value = %v, want a2", patches[2].Value)
	}
	if patches[3].Value != "Oak" {
		t.Fatalf("street value = %v, want Oak", patches[3].Value)
	}
}

// TestOrmInvalidateByCardinality mirrors the spec's worked example of
// removing an address's only street literal: the address drops below its
// MinCard and the cascade removes exactly the one link from its parent,
// with the parent itself remaining Valid.
func TestOrmInvalidateByCardinality(t *testing.T) {
	schema := personAddressSchema()
	sub := startSubscription(t, schema, []Quad{
		q("g", "p1", "hasName", "Alice", true),
		q("g", "p1", "hasAddress", "a1", false),
		q("g", "a1", "street", "Main", true),
	})

	engine := NewEngine(sub, nil)
	removed := []Quad{q("g", "a1", "street", "Main", true)}
	if _, err := engine.Ingest(nil, removed); err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	patches := engine.EmitPatches()
	if len(patches) != 1 {
		t.Fatalf("got %d patches, want 1: %+v", len(patches), patches)
	}
	if patches[0].Op != OpRemove || patches[0].Path != "/g|p1/hasAddress/g|a1" || patches[0].ValType != ValTypeObject {
		t.Fatalf("patch = %+v, want remove /g|p1/hasAddress/g|a1 (object)", patches[0])
	}

	for key, tm := range sub.roots {
		if key.gsKey == (gsKey{Graph: "g", Subject: "p1"}) && tm.valid != StateValid {
			t.Fatalf("p1 valid = %v, want Valid", tm.valid)
		}
	}
}

// TestOrmCycleGuardInvalidatesOnSelfReference checks that a subject whose
// own shape-typed predicate points back at itself ends Invalid rather than
// being rescheduled forever: validate does not count or wait on a child
// that is the subject itself.
func TestOrmCycleGuardInvalidatesOnSelfReference(t *testing.T) {
	schema := Schema{
		"Node": &Shape{
			IRI: "Node",
			Predicates: []Predicate{
				{
					PredicateIRI: "next", ReadableName: "next",
					MinCard: 1, MaxCard: 1,
					DataTypes: []DataType{{Val: shapequery.ValShape, Shape: "Node"}},
				},
			},
		},
	}
	sub := NewSubscription("Node", nil, "session-2", schema)
	engine := NewEngine(sub, nil)
	seed := []Quad{q("g", "n1", "next", "n1", false)}
	if _, err := engine.Ingest(seed, nil); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	// Should terminate (no panic) rather than loop; the self-referencing
	// node cannot satisfy "every tracked child Valid" so it ends Invalid.
	for key, tm := range sub.registry {
		if key.shapeIRI == "Node" && key.Subject == "n1" {
			if tm.valid == StateValid {
				t.Fatalf("self-referencing node unexpectedly became Valid")
			}
		}
	}
}

// TestOrmIterationCapPanics checks the bounded-termination proof
// obligation (spec section 4.9.2 step 5): pathologically low
// MaxStackIterations trips the panic guard instead of looping silently.
func TestOrmIterationCapPanics(t *testing.T) {
	schema := personAddressSchema()
	sub := NewSubscription("Person", nil, "session-3", schema)
	engine := NewEngine(sub, nil)
	engine.MaxStackIterations = 1

	defer func() {
		if r := recover(); r == nil {
			t.Fatalf("expected panic from exceeding MaxStackIterations, got none")
		}
	}()
	seed := []Quad{
		q("g", "p1", "hasName", "Alice", true),
		q("g", "p1", "hasAddress", "a1", false),
		q("g", "a1", "street", "Main", true),
	}
	_, _ = engine.Ingest(seed, nil)
}

// TestReconcileLinksPrefersMatchingCandidateGraph exercises the
// deterministic candidate-graph search order: when the same subject IRI
// exists in more than one graph, the child reference resolves into the
// graph the quad itself named rather than an unrelated candidate.
func TestReconcileLinksPrefersMatchingCandidateGraph(t *testing.T) {
	schema := personAddressSchema()
	seed := []Quad{
		q("g1", "p1", "hasName", "Alice", true),
		q("g1", "p1", "hasAddress", "a1", false),
		q("g1", "a1", "street", "Main", true),
		q("g2", "a1", "street", "Elm", true),
	}
	sub := startSubscription(t, schema, seed)

	tree := BuildTree(sub)
	p1, ok := tree["g1|p1"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected root g1|p1 in tree: %#v", tree)
	}
	addresses, ok := p1["hasAddress"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected hasAddress object map: %#v", p1)
	}
	addr, ok := addresses["g1|a1"]
	if !ok {
		t.Fatalf("expected child addressed at g1|a1, got keys %v", mapKeys(addresses))
	}
	addrNode := addr.(map[string]interface{})
	if addrNode["street"] != "Main" {
		t.Fatalf("street = %v, want Main (graph g1's value, not g2's)", addrNode["street"])
	}
}

func mapKeys(m map[string]interface{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
