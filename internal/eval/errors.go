package eval

import "fmt"

// EvaluationError reports that running a constraint's logic failed: the
// check is unknown, the logic returned an error, or the evaluation exceeded
// its time budget. It is not a policy violation; the admission gateway maps
// it to deny or allow-with-warning according to its failure policy.
type EvaluationError struct {
	Constraint string
	Check      string
	Err        error
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("constraint %s: check %s: %v", e.Constraint, e.Check, e.Err)
}

func (e *EvaluationError) Unwrap() error {
	return e.Err
}
