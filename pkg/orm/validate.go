package orm

import "github.com/nextgraph-org/ng-verifier-core/pkg/shapequery"

// validationOutcome is the result of validating one TORMO against its shape (spec
// section 4.9.2 step 4).
type validationOutcome uint8

const (
	outcomeValid validationOutcome = iota
	outcomeInvalid
	outcomeNeedsReeval
)

// validationResult carries the outcome plus, for outcomeNeedsReeval, the
// children that still need work and whether any of them require a fresh
// CONSTRUCT fetch.
type validationResult struct {
	outcome       validationOutcome
	needyChildren []ormKey
	needsFetch    bool
}

// validate evaluates the predicate table of spec section 4.9.1 rule 2
// against t's currently tracked predicate state.
func (e *Engine) validate(t *tormo, shape *Shape) validationResult {
	var needy []ormKey
	needsFetch := false

	for _, pred := range shape.Predicates {
		tp, tracked := t.predicates[pred.ReadableName]

		cardinality := 0
		if tracked {
			cardinality = tp.currentCardinality
		}
		if cardinality < pred.MinCard {
			return validationResult{outcome: outcomeInvalid}
		}
		if pred.MaxCard != -1 && cardinality > pred.MaxCard {
			return validationResult{outcome: outcomeInvalid}
		}

		if isLiteralOnly(pred) {
			required := pred.RequiredLiterals()
			if len(required) > 0 && pred.MinCard >= 1 && !pred.Extra && tracked && !hasAllLiterals(tp, required) {
				return validationResult{outcome: outcomeInvalid}
			}
			continue
		}

		// Shape-typed predicate: every tracked child must be Valid, and
		// the number of valid children must meet MinCard.
		if !tracked {
			continue
		}
		validChildren := 0
		for childKey, child := range tp.trackedChildren {
			if child == t {
				// A subject that references itself through a required
				// shape-typed predicate can never progress by waiting:
				// it would have to already be Valid to validate its own
				// child. Treat it as unsatisfiable rather than needy, so
				// a self-referencing cycle bottoms out at Invalid instead
				// of re-pushing itself forever.
				continue
			}
			switch child.valid {
			case StateValid:
				validChildren++
			case StatePending:
				needy = append(needy, ormKey{shapeIRI: child.shape, gsKey: childKey})
				needsFetch = needsFetch || !hasAnyPredicateData(child)
			case StateInvalid, StateToDelete, StateUntracked:
				// does not count toward validChildren.
			}
		}
		if validChildren < pred.MinCard && len(needy) == 0 {
			return validationResult{outcome: outcomeInvalid}
		}
	}

	if len(needy) > 0 {
		return validationResult{outcome: outcomeNeedsReeval, needyChildren: needy, needsFetch: needsFetch}
	}
	t.valid = StateValid
	return validationResult{outcome: outcomeValid}
}

func isLiteralOnly(pred Predicate) bool {
	for _, dt := range pred.DataTypes {
		if dt.Val == shapequery.ValShape {
			return false
		}
	}
	return true
}

func hasAllLiterals(tp *trackedPredicate, required []string) bool {
	for _, lit := range required {
		if tp.currentLiterals[lit] == 0 {
			return false
		}
	}
	return true
}

func hasAnyPredicateData(t *tormo) bool {
	return len(t.predicates) > 0
}
