package common

import "fmt"

// ErrKind classifies the errors returned by the slot table, the address
// resolver and the coherence node.
type ErrKind uint32

const (
	// CapacityExceeded is returned when a bounded table is full.
	CapacityExceeded ErrKind = iota
	// InvalidArgument is returned for out-of-range or inconsistent input.
	InvalidArgument
	// OutOfMemory is returned when an allocation budget would be exceeded.
	OutOfMemory
	// NotFound is returned when a page or slot is not tracked.
	NotFound
)

// String ...
func (k ErrKind) String() string {
	switch k {
	case CapacityExceeded:
		return "Capacity Exceeded"
	case InvalidArgument:
		return "Invalid Argument"
	case OutOfMemory:
		return "Out Of Memory"
	case NotFound:
		return "Not Found"
	default:
		return "Unknown"
	}
}

// DSMErr is a typed error carrying the subject it relates to (a slot table,
// a node address...) and a free-form key.
type DSMErr struct {
	subject string
	kind    ErrKind
	key     string
}

// NewDSMErr ...
func NewDSMErr(subject string, kind ErrKind, key string) DSMErr {
	return DSMErr{
		subject: subject,
		kind:    kind,
		key:     key,
	}
}

// Kind ...
func (e DSMErr) Kind() ErrKind {
	return e.kind
}

// Error ...
func (e DSMErr) Error() string {
	return fmt.Sprintf("%s, %s, %s", e.subject, e.key, e.kind)
}

// Is checks that an error is a DSMErr, possibly wrapped, whose kind matches
// the provided one.
func Is(err error, kind ErrKind) bool {
	for err != nil {
		if dsmErr, ok := err.(DSMErr); ok {
			return dsmErr.kind == kind
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
