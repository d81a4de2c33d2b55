// Package xerrors provides thin error wrappers that record the caller's
// program counter so logs can point at the origin of a failure without
// the cost of a full stack capture on every wrap.
package xerrors

import (
	"errors"
	"fmt"
	"runtime"
)

type wrapped struct {
	err error
	msg string
	pc  uintptr
}

func (w *wrapped) Error() string { return w.msg + ": " + w.err.Error() }
func (w *wrapped) Unwrap() error { return w.err }
func (w *wrapped) PC() uintptr   { return w.pc }

type rooted struct {
	err error
	pc  uintptr
}

func (r *rooted) Error() string { return r.err.Error() }
func (r *rooted) Unwrap() error { return r.err }
func (r *rooted) PC() uintptr   { return r.pc }

func callerPC(skip int) uintptr {
	var pcs [1]uintptr
	// 2 skips runtime.Callers + callerPC itself
	if n := runtime.Callers(2+skip, pcs[:]); n == 0 {
		return 0
	}
	return pcs[0]
}

// New returns an error annotated with the caller's position.
func New(msg string) error {
	return &rooted{err: errors.New(msg), pc: callerPC(1)}
}

// Newf formats an error annotated with the caller's position.
func Newf(format string, args ...any) error {
	return &rooted{err: fmt.Errorf(format, args...), pc: callerPC(1)}
}

// Wrap annotates err with msg and the caller's position. Returns nil for nil err.
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return &wrapped{err: err, msg: msg, pc: callerPC(1)}
}

// Wrapf annotates err with a formatted message and the caller's position.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &wrapped{err: err, msg: fmt.Sprintf(format, args...), pc: callerPC(1)}
}

// Frame resolves the recorded caller position of an error created by this
// package, walking the chain until one is found.
func Frame(err error) (fn, file string, line int, ok bool) {
	type hasPC interface{ PC() uintptr }
	for e := err; e != nil; e = errors.Unwrap(e) {
		if hp, okk := e.(hasPC); okk && hp.PC() != 0 {
			fr, _ := runtime.CallersFrames([]uintptr{hp.PC()}).Next()
			return fr.Function, fr.File, fr.Line, true
		}
	}
	return "", "", 0, false
}
