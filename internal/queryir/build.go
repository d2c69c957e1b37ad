package queryir

// AndOf conjoins predicates, treating nil as "always true".
// Nil inputs are dropped; a single survivor is returned unwrapped and no
// survivors yields nil.
func AndOf(preds ...Predicate) Predicate {
	kept := make([]Predicate, 0, len(preds))
	for _, p := range preds {
		if p != nil {
			kept = append(kept, p)
		}
	}
	switch len(kept) {
	case 0:
		return nil
	case 1:
		return kept[0]
	default:
		return And{Predicates: kept}
	}
}

// OrOf disjoins predicates. Nil operands carry no constraint of their own
// and are dropped, mirroring AndOf; a single survivor is returned unwrapped
// and no survivors yields nil.
func OrOf(preds ...Predicate) Predicate {
	kept := make([]Predicate, 0, len(preds))
	for _, p := range preds {
		if p != nil {
			kept = append(kept, p)
		}
	}
	switch len(kept) {
	case 0:
		return nil
	case 1:
		return kept[0]
	default:
		return Or{Predicates: kept}
	}
}

// Fields returns the distinct field names a predicate references, in first
// occurrence order.
func Fields(p Predicate) []string {
	var out []string
	seen := map[string]bool{}
	add := func(f string) {
		if f != "" && !seen[f] {
			seen[f] = true
			out = append(out, f)
		}
	}
	var walk func(Predicate)
	walk = func(p Predicate) {
		switch pred := p.(type) {
		case Equals:
			add(pred.Field)
		case *Equals:
			add(pred.Field)
		case In:
			add(pred.Field)
		case *In:
			add(pred.Field)
		case Range:
			add(pred.Field)
		case *Range:
			add(pred.Field)
		case And:
			for _, sub := range pred.Predicates {
				walk(sub)
			}
		case *And:
			for _, sub := range pred.Predicates {
				walk(sub)
			}
		case Or:
			for _, sub := range pred.Predicates {
				walk(sub)
			}
		case *Or:
			for _, sub := range pred.Predicates {
				walk(sub)
			}
		case Not:
			walk(pred.Predicate)
		case *Not:
			walk(pred.Predicate)
		}
	}
	walk(p)
	return out
}
