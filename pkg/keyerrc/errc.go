// Package keyerrc defines the canonical error taxonomy shared by every
// layer of the daemon, from the DER parser up through the RPC broker.
// A SecurityErrc is the only thing that crosses the IPC boundary in an
// error Result; everything else is an internal Go error wrapped around one.
package keyerrc

import "fmt"

// Errc is the wire-stable error code taxonomy from the daemon's external
// interface. Values are never renumbered; new codes are appended.
type Errc uint64

const (
	RuntimeFault Errc = iota
	RpcUnknownTask
	RpcInsufficientCapacity
	UnsupportedFormat
	UnsupportedNumeric
	UnknownTag
	UnsupportedTag
	InvalidContent
	IncompleteInput
	InvalidInput
	InvalidArgument
	InvalidUsageOrder
	UnreservedResource
	EmptyContainer
	BusyResource
	ContentDuplication
	ContentRestrictions
	BadObjectReference
	AccessViolation
	IncompatibleObject
	Unsupported
	UnknownIdentifier
	ConstraintCheckFail
	ResourceFault
	LogicFault
	InsufficientCapacity
	InsufficientResource
)

var names = map[Errc]string{
	RuntimeFault:            "RuntimeFault",
	RpcUnknownTask:          "RpcUnknownTask",
	RpcInsufficientCapacity: "RpcInsufficientCapacity",
	UnsupportedFormat:       "UnsupportedFormat",
	UnsupportedNumeric:      "UnsupportedNumeric",
	UnknownTag:              "UnknownTag",
	UnsupportedTag:          "UnsupportedTag",
	InvalidContent:          "InvalidContent",
	IncompleteInput:         "IncompleteInput",
	InvalidInput:            "InvalidInput",
	InvalidArgument:         "InvalidArgument",
	InvalidUsageOrder:       "InvalidUsageOrder",
	UnreservedResource:      "UnreservedResource",
	EmptyContainer:          "EmptyContainer",
	BusyResource:            "BusyResource",
	ContentDuplication:      "ContentDuplication",
	ContentRestrictions:     "ContentRestrictions",
	BadObjectReference:      "BadObjectReference",
	AccessViolation:         "AccessViolation",
	IncompatibleObject:      "IncompatibleObject",
	Unsupported:             "Unsupported",
	UnknownIdentifier:       "UnknownIdentifier",
	ConstraintCheckFail:     "ConstraintCheckFail",
	ResourceFault:           "ResourceFault",
	LogicFault:              "LogicFault",
	InsufficientCapacity:    "InsufficientCapacity",
	InsufficientResource:    "InsufficientResource",
}

func (e Errc) String() string {
	if n, ok := names[e]; ok {
		return n
	}
	return fmt.Sprintf("Errc(%d)", uint64(e))
}

// Fault wraps an Errc with a human-readable message and an optional cause,
// the way the daemon's call sites report failures internally before they're
// flattened to a bare Errc on the wire.
type Fault struct {
	Code  Errc
	Msg   string
	Cause error
}

func New(code Errc, msg string) *Fault {
	return &Fault{Code: code, Msg: msg}
}

func Wrap(code Errc, msg string, cause error) *Fault {
	return &Fault{Code: code, Msg: msg, Cause: cause}
}

func (f *Fault) Error() string {
	if f.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", f.Code, f.Msg, f.Cause)
	}
	return fmt.Sprintf("%s: %s", f.Code, f.Msg)
}

func (f *Fault) Unwrap() error {
	return f.Cause
}

// CodeOf extracts the Errc from err, defaulting to RuntimeFault for any
// error that didn't originate as a Fault — the catch-all per the error
// handling design: precise codes are preferred, RuntimeFault is the floor.
func CodeOf(err error) Errc {
	if err == nil {
		return 0
	}
	var f *Fault
	if asFault(err, &f) {
		return f.Code
	}
	return RuntimeFault
}

func asFault(err error, target **Fault) bool {
	for err != nil {
		if f, ok := err.(*Fault); ok {
			*target = f
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
