// Package bpfserr defines the error kinds produced by the storage core and a
// wrapper type that carries the failing operation alongside the cause.
package bpfserr

import "fmt"

// Kind classifies a core error by the subsystem and failure mode that
// produced it, so callers can branch on error category without parsing
// message text.
type Kind int

const (
	// KindDeviceRange indicates a block index outside [0, capacity/BlockSize).
	KindDeviceRange Kind = iota
	// KindDeviceSize indicates a read/write buffer whose length isn't BlockSize.
	KindDeviceSize
	// KindDeviceIO indicates an opaque underlying device failure.
	KindDeviceIO
	// KindNodeParse indicates a block could not be interpreted as a node.
	KindNodeParse
	// KindNoFreeBlocks indicates the allocator has nothing left to hand out.
	KindNoFreeBlocks
	// KindAllocRange indicates Free was called with an invalid block index.
	KindAllocRange
	// KindTreeEmpty indicates PopFirstExtentBlock found no extent.
	KindTreeEmpty
	// KindTreeSplit indicates an internal invariant was violated while splitting.
	KindTreeSplit
)

func (k Kind) String() string {
	switch k {
	case KindDeviceRange:
		return "device: index out of range"
	case KindDeviceSize:
		return "device: mismatched buffer size"
	case KindDeviceIO:
		return "device: io error"
	case KindNodeParse:
		return "node: parse error"
	case KindNoFreeBlocks:
		return "allocator: no free blocks"
	case KindAllocRange:
		return "allocator: index out of range"
	case KindTreeEmpty:
		return "tree: empty"
	case KindTreeSplit:
		return "tree: failed to split"
	default:
		return "unknown error"
	}
}

// Error is the core's error type. It names the operation that failed, an
// optional bit of context (e.g. the block index involved), and the
// underlying cause.
type Error struct {
	Kind   Kind
	Op     string
	Detail string
	Err    error
}

// New constructs an *Error with no wrapped cause.
func New(kind Kind, op, detail string) *Error {
	return &Error{Kind: kind, Op: op, Detail: detail}
}

// Wrap constructs an *Error that wraps an underlying cause.
func Wrap(kind Kind, op, detail string, err error) *Error {
	return &Error{Kind: kind, Op: op, Detail: detail, Err: err}
}

func (e *Error) Error() string {
	if e.Detail == "" {
		if e.Err != nil {
			return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
		}
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%s): %v", e.Op, e.Kind, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s (%s)", e.Op, e.Kind, e.Detail)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether err is an *Error of the given kind, following the Err
// chain through nested *Error values; an error of any other type in the
// chain ends the search.
func Is(err error, kind Kind) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			if e.Kind == kind {
				return true
			}
			err = e.Err
			continue
		}
		break
	}
	return false
}
