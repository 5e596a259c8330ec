package fdtables

import "golang.org/x/sys/unix"

// CageID identifies a cage (an isolation domain with its own virt-fd
// namespace and fd-table) in the process-wide cage registry.
type CageID int64

// VirtFD is a fd number local to a single cage, visible to the sandboxed
// program the cage isolates.
type VirtFD int64

// RealFD is an opaque identifier corresponding to a host kernel fd that the
// caller, not this package, owns and operates on.
type RealFD int64

// OptionalInfo is a caller-defined tag stored per fd-entry, used to index
// external state such as a ring-buffer slot for an emulated pipe.
type OptionalInfo uint64

// NoRealFD is the sentinel realfd value for an "unreal" fd-entry: one
// backed purely by library/user state rather than a host kernel fd.
const NoRealFD RealFD = -1

// InvalidFD is returned in translation outputs for a virt-fd position that
// did not correspond to any live entry.
const InvalidFD RealFD = -2

// EpollFD is the sentinel realfd value an epoll instance carries when it is
// purely unreal (its readiness is synthesized entirely from unreal
// registrations, with no underlying host epoll instance backing it).
const EpollFD RealFD = -3

// FDPerProcessMax bounds the virt-fd namespace of a single cage: virt-fds
// satisfy 0 <= virt-fd < FDPerProcessMax.
const FDPerProcessMax VirtFD = 1024

// maxEpollNestingDepth is the deepest an epoll-in-epoll registration chain
// may go before TryEpollCtl refuses it with ELOOP.
const maxEpollNestingDepth = 5

// CloseHandler is the callback signature invoked at a closure event. It
// receives either the real-fd (intermediate/last-reference close) or the
// entry's optionalinfo (unreal close), per RegisterCloseHandlers.
type CloseHandler func(arg uint64)

// NullFunc is the null callback sentinel: registering it in a handler slot
// means no call occurs for that slot's closure event.
var NullFunc CloseHandler

// Standard epoll event bits, re-exported from golang.org/x/sys/unix so
// callers don't need a parallel import of the kernel-facing constants to
// build an Event for TryEpollCtl.
const (
	EPOLLIN      = unix.EPOLLIN
	EPOLLOUT     = unix.EPOLLOUT
	EPOLLRDHUP   = unix.EPOLLRDHUP
	EPOLLPRI     = unix.EPOLLPRI
	EPOLLERR     = unix.EPOLLERR
	EPOLLHUP     = unix.EPOLLHUP
	EPOLLET      = unix.EPOLLET
	EPOLLONESHOT = unix.EPOLLONESHOT
)

// Epoll ctl operations, mirroring EPOLL_CTL_ADD/MOD/DEL.
type EpollOp int

const (
	EpollCtlAdd EpollOp = iota + 1
	EpollCtlMod
	EpollCtlDel
)

// Event is the epoll event record associated with a registered fd, matching
// the shape the kernel's epoll_event carries.
type Event struct {
	Events uint32
	Data   uint64
}
