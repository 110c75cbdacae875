package store

import "errors"

// Registry contract errors, returned to policy authors at submission time.
var (
	// ErrDuplicateName is returned when registering a template whose name
	// is already taken.
	ErrDuplicateName = errors.New("duplicate name")

	// ErrNotFound is returned by lookups and deletes for absent objects.
	ErrNotFound = errors.New("not found")

	// ErrInUse is returned when deleting a template that constraints
	// still reference.
	ErrInUse = errors.New("template in use")

	// ErrUnknownTemplate is returned when registering a constraint whose
	// referenced template is absent.
	ErrUnknownTemplate = errors.New("unknown template")

	// ErrInvalidParameters is returned when a constraint's parameters do
	// not satisfy the template's declared parameter schema.
	ErrInvalidParameters = errors.New("invalid parameters")
)
