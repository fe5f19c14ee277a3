package orm

// BuildTree materializes the full JSON object for a subscription's current
// state, used to answer OrmStart with a complete OrmInitial snapshot
// rather than a patch stream (spec section 4.9.4 step 3: "Run [the
// ingestion algorithm] to produce the initial JSON object").
//
// The addressing rules mirror diff.go's path grammar (spec section 4.9.3):
// root-level keys are "<graph>|<subject>", object-valued multi-predicates
// nest another such keyed object, single-valued predicates write directly
// at the readable name, and literal predicates write a value or a set.
func BuildTree(sub *Subscription) map[string]interface{} {
	out := make(map[string]interface{})
	for key, t := range sub.roots {
		out[gsPathSegment(key.gsKey)] = objectNode(t, make(map[*tormo]bool))
	}
	return out
}

func objectNode(t *tormo, visiting map[*tormo]bool) map[string]interface{} {
	node := map[string]interface{}{
		"@graph": t.key.Graph,
		"@id":    t.key.Subject,
	}
	if visiting[t] {
		return node
	}
	visiting[t] = true
	defer delete(visiting, t)

	for name, tp := range t.predicates {
		if len(tp.trackedChildren) > 0 {
			if tp.def.MaxCard == 1 {
				for _, child := range tp.trackedChildren {
					node[name] = objectNode(child, visiting)
					break
				}
				continue
			}
			children := make(map[string]interface{})
			for childKey, child := range tp.trackedChildren {
				children[gsPathSegment(childKey)] = objectNode(child, visiting)
			}
			node[name] = children
			continue
		}
		if len(tp.currentLiterals) == 0 {
			continue
		}
		if tp.def.MaxCard == 1 {
			for lit := range tp.currentLiterals {
				node[name] = lit
				break
			}
			continue
		}
		values := make([]string, 0, len(tp.currentLiterals))
		for lit := range tp.currentLiterals {
			values = append(values, lit)
		}
		node[name] = values
	}
	return node
}
