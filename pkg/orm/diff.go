package orm

import (
	"sort"
	"strings"
)

// PatchOp tags a JSON-Patch-like operation (spec section 4.9.3).
type PatchOp string

const (
	OpAdd    PatchOp = "add"
	OpRemove PatchOp = "remove"
)

// ValType distinguishes a patch's value shape when it matters for the
// client applying it.
type ValType string

const (
	ValTypeNone   ValType = ""
	ValTypeObject ValType = "object"
	ValTypeSet    ValType = "set"
)

// Patch is one emitted operation (spec section 4.9.3).
type Patch struct {
	Op      PatchOp
	Path    string
	ValType ValType
	Value   interface{}
}

// escapeSegment applies JSON Pointer's reserved-character escaping
// (spec section 4.9.3: "~ -> ~0, / -> ~1").
func escapeSegment(s string) string {
	s = strings.ReplaceAll(s, "~", "~0")
	return strings.ReplaceAll(s, "/", "~1")
}

// gsPathSegment renders a (graph, subject) pair as the composite root-level
// path segment "<graph>|<subject>", both halves escaped (spec section
// 4.9.3: "| is reserved as separator").
func gsPathSegment(key gsKey) string {
	return escapeSegment(key.Graph) + "|" + escapeSegment(key.Subject)
}

// computePath resolves the JSON Pointer address of key within the
// subscription's tree (spec section 4.9.3's segment grammar): subscription
// roots address at the top level, and every other tracked subject
// addresses relative to wherever its nearest parent link currently
// points — "object-valued multi-predicates add an intermediate object
// whose keys are again <graph>|<subject>". The parent/predicate pair is
// picked deterministically (lexicographically smallest parent path, then
// predicate name) so output never depends on map iteration order, and
// visiting guards against a cyclic TORMO graph walking back on itself.
func (e *Engine) computePath(key gsKey, visiting map[gsKey]bool) (string, bool) {
	if e.isSubscriptionRoot(key) {
		return "/" + gsPathSegment(key), true
	}
	if visiting[key] {
		return "", false
	}
	visiting[key] = true
	defer delete(visiting, key)

	t, ok := e.lookupTracked(key)
	if !ok {
		return "", false
	}

	type candidate struct {
		path string
		name string
	}
	var best *candidate
	for parent := range t.parents {
		parentPath, ok := e.computePath(parent.key, visiting)
		if !ok {
			continue
		}
		for name, tp := range parent.predicates {
			if _, linked := tp.trackedChildren[key]; !linked {
				continue
			}
			if best == nil || parentPath < best.path || (parentPath == best.path && name < best.name) {
				best = &candidate{path: parentPath, name: name}
			}
		}
	}
	if best == nil {
		return "", false
	}
	return best.path + "/" + escapeSegment(best.name) + "/" + gsPathSegment(key), true
}

func (e *Engine) isSubscriptionRoot(key gsKey) bool {
	for rk := range e.sub.roots {
		if rk.gsKey == key {
			return true
		}
	}
	return false
}

func sortedChangeKeys(changes map[gsKey]*subjectChanges) []gsKey {
	keys := make([]gsKey, 0, len(changes))
	for k := range changes {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Graph != keys[j].Graph {
			return keys[i].Graph < keys[j].Graph
		}
		return keys[i].Subject < keys[j].Subject
	})
	return keys
}

// EmitPatches turns one ingestion pass's subjectChanges into the ordered,
// deduplicated Patch list a subscription sends as OrmUpdate (spec section
// 4.9.3).
func (e *Engine) EmitPatches() []Patch {
	keys := sortedChangeKeys(e.changes)

	// First pass: resolve every created subject's address and record it,
	// so the second pass's dedup rule (object-creation patches win over a
	// parent's duplicate link-add at the same path) doesn't depend on
	// which key happens to be visited first.
	creationPaths := make(map[string]bool)
	paths := make(map[gsKey]string, len(keys))
	for _, key := range keys {
		path, ok := e.computePath(key, make(map[gsKey]bool))
		if !ok {
			continue
		}
		paths[key] = path
		changes := e.changes[key]
		if t, tracked := e.lookupTracked(key); tracked && changes.created && t.valid == StateValid {
			creationPaths[path] = true
		}
	}

	// creationGroup keeps one created object's fixed 3-patch trail (object,
	// @graph, @id) together under the path of the object itself, so the
	// cross-object ordering pass below can reorder whole groups by nesting
	// depth without disturbing the documented order within a group (spec
	// section 4.9.3: "add @graph... then add @id...").
	type creationGroup struct {
		basePath string
		patches  [3]Patch
	}
	var independent, dependent []Patch
	var creationGroups []creationGroup

	for _, key := range keys {
		changes := e.changes[key]
		t, tracked := e.lookupTracked(key)
		path, hasPath := paths[key]

		if tracked && t.valid == StateInvalid && changes.deletedThisPass {
			if hasPath {
				independent = append(independent, Patch{Op: OpRemove, Path: path, ValType: ValTypeObject})
			}
			continue
		}
		if !hasPath {
			continue
		}

		if changes.created && tracked && t.valid == StateValid {
			creationGroups = append(creationGroups, creationGroup{
				basePath: path,
				patches: [3]Patch{
					{Op: OpAdd, Path: path, ValType: ValTypeObject},
					{Op: OpAdd, Path: path + "/@graph", Value: key.Graph},
					{Op: OpAdd, Path: path + "/@id", Value: key.Subject},
				},
			})
		}

		names := make([]string, 0, len(changes.predicates))
		for name := range changes.predicates {
			names = append(names, name)
		}
		sort.Strings(names)

		bucket := &independent
		if changes.created {
			bucket = &dependent
		}

		for _, name := range names {
			pc := changes.predicates[name]
			predPath := path + "/" + escapeSegment(name)

			for _, v := range pc.addedLiterals {
				*bucket = append(*bucket, Patch{Op: OpAdd, Path: predPath, Value: v})
			}
			for _, v := range pc.removedLiterals {
				*bucket = append(*bucket, Patch{Op: OpRemove, Path: predPath, Value: v})
			}
			for _, childKey := range pc.addedChildren {
				childPath := predPath + "/" + gsPathSegment(childKey)
				if creationPaths[childPath] {
					continue
				}
				*bucket = append(*bucket, Patch{Op: OpAdd, Path: childPath, ValType: ValTypeObject})
			}
			for _, childKey := range pc.removedChildren {
				childPath := predPath + "/" + gsPathSegment(childKey)
				*bucket = append(*bucket, Patch{Op: OpRemove, Path: childPath, ValType: ValTypeObject})
			}
		}
	}

	sort.SliceStable(creationGroups, func(i, j int) bool {
		return len(creationGroups[i].basePath) < len(creationGroups[j].basePath)
	})

	var creations []Patch
	for _, g := range creationGroups {
		creations = append(creations, g.patches[:]...)
	}

	out := make([]Patch, 0, len(independent)+len(creations)+len(dependent))
	out = append(out, independent...)
	out = append(out, creations...)
	out = append(out, dependent...)
	return out
}
