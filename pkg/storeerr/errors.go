package storeerr

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrIO                  = errors.New("io error")
	ErrCapacityExceeded    = errors.New("capacity exceeded")
	ErrCorruptMetadata     = errors.New("corrupt metadata")
	ErrNotFound            = errors.New("not found")
	ErrCollaboratorFailure = errors.New("collaborator failure")
	ErrInvalidArgument     = errors.New("invalid argument")
)

// Kind is the user-visible outcome of a storage operation.
type Kind string

const (
	KindSuccess             Kind = "success"
	KindNotFound            Kind = "not-found"
	KindCapacityExceeded    Kind = "capacity-exceeded"
	KindCorruptMetadata     Kind = "corrupt-metadata"
	KindIO                  Kind = "io-error"
	KindCollaboratorFailure Kind = "collaborator-failure"
	KindInvalidArgument     Kind = "invalid-argument"
)

var kindSentinels = []struct {
	kind Kind
	err  error
}{
	{KindNotFound, ErrNotFound},
	{KindCapacityExceeded, ErrCapacityExceeded},
	{KindCorruptMetadata, ErrCorruptMetadata},
	{KindCollaboratorFailure, ErrCollaboratorFailure},
	{KindInvalidArgument, ErrInvalidArgument},
	{KindIO, ErrIO},
}

// OpError records the operation, disk and file an error happened on.
type OpError struct {
	Op   string
	Disk string
	File string
	Kind error
	Err  error
}

// E builds an OpError. kind must be one of the package sentinels.
func E(op, disk, file string, kind error, err error) *OpError {
	return &OpError{Op: op, Disk: disk, File: file, Kind: kind, Err: err}
}

// Wrap builds an OpError whose kind is taken from the sentinel err already
// carries, or ErrIO when it carries none.
func Wrap(op, disk, file string, err error) *OpError {
	kind := ErrIO
	for _, s := range kindSentinels {
		if errors.Is(err, s.err) {
			kind = s.err
			break
		}
	}
	return E(op, disk, file, kind, err)
}

func (e *OpError) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	if e.Disk != "" {
		fmt.Fprintf(&b, " disk=%q", e.Disk)
	}
	if e.File != "" {
		fmt.Fprintf(&b, " file=%q", e.File)
	}
	b.WriteString(": ")
	b.WriteString(e.Kind.Error())
	if e.Err != nil && e.Err != e.Kind {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *OpError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// KindOf classifies err. Errors that carry no sentinel are reported as IO.
func KindOf(err error) Kind {
	if err == nil {
		return KindSuccess
	}
	var opErr *OpError
	if errors.As(err, &opErr) {
		for _, s := range kindSentinels {
			if opErr.Kind == s.err {
				return s.kind
			}
		}
	}
	for _, s := range kindSentinels {
		if errors.Is(err, s.err) {
			return s.kind
		}
	}
	return KindIO
}
