package fdtables

import "fmt"

// Kind is a POSIX-style error classification. Every fallible operation in
// this package returns an *Error carrying one of these; the caller mirrors
// Kind to userspace (as an errno) rather than inspecting Go error strings.
type Kind int

const (
	// EBADF: the virt-fd given does not identify a live entry, or is out
	// of the [0, FDPerProcessMax) range.
	EBADF Kind = iota + 1
	// EINVAL: a structurally invalid argument (e.g. nfds too large, or an
	// epoll_ctl target equal to the epoll instance itself).
	EINVAL
	// EEXIST: EPOLL_CTL_ADD on a target already registered.
	EEXIST
	// ENOENT: EPOLL_CTL_MOD/DEL on a target not registered.
	ENOENT
	// ELOOP: an epoll_ctl ADD would create a cycle, or push nesting depth
	// past the bound.
	ELOOP
	// EMFILE: no virt-fd slot is free in [0, FDPerProcessMax).
	EMFILE
	// ELIND: GetSpecificVirtualFd collided with an already-occupied
	// virt-fd.
	ELIND
)

// String returns the conventional errno-style name, e.g. "EBADF".
func (k Kind) String() string {
	switch k {
	case EBADF:
		return "EBADF"
	case EINVAL:
		return "EINVAL"
	case EEXIST:
		return "EEXIST"
	case ENOENT:
		return "ENOENT"
	case ELOOP:
		return "ELOOP"
	case EMFILE:
		return "EMFILE"
	case ELIND:
		return "ELIND"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Error is the structured error type returned by every fallible operation.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return fmt.Sprintf("fdtables: %s: %s", e.Op, e.Kind)
	}

	return fmt.Sprintf("fdtables: %s: %s: %s", e.Op, e.Kind, e.Msg)
}

// Is reports whether target is an *Error of the same Kind, so callers can
// write errors.Is(err, &fdtables.Error{Kind: fdtables.EBADF}) style checks
// if they prefer, in addition to the errors.As(&fdErr) + fdErr.Kind form.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}

	return e.Kind == t.Kind
}

func newErr(kind Kind, op string, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}
