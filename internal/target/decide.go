package target

// Decision tells the wizard what to do with a set of lookup results.
type Decision int

const (
	// DecisionNone: nothing matched; ask again.
	DecisionNone Decision = iota
	// DecisionAccept: a single unambiguous result that needs no confirmation.
	DecisionAccept
	// DecisionConfirm: a single fuzzy match; ask yes/no first.
	DecisionConfirm
	// DecisionChoose: several matches; offer the first few as choices.
	DecisionChoose
)

// DefaultMaxChoices caps the number of candidates offered at once.
const DefaultMaxChoices = 5

// Decide applies the disambiguation rule. fromNameSearch is true when cands
// came from a fuzzy name lookup. The returned slice is the snapshot the
// user will see; it is a copy and never aliases cands.
func Decide(cands []Candidate, fromNameSearch bool, maxChoices int) (Decision, []Candidate) {
	if maxChoices <= 0 {
		maxChoices = DefaultMaxChoices
	}
	switch n := len(cands); {
	case n == 0:
		return DecisionNone, nil
	case n == 1 && fromNameSearch:
		return DecisionConfirm, []Candidate{cands[0]}
	case n == 1:
		return DecisionAccept, []Candidate{cands[0]}
	default:
		k := min(n, maxChoices)
		snap := make([]Candidate, k)
		copy(snap, cands[:k])
		return DecisionChoose, snap
	}
}
