// Package fdtables implements a per-process virtual file-descriptor table
// for a multi-process sandboxed runtime ("cages").
//
// Each cage observes its own flat integer fd namespace, decoupled from the
// host OS fd namespace. A virtual fd (virt-fd) either maps to a host-kernel
// real fd that the caller forwards kernel calls to, or carries a purely
// library-internal identity (NoRealFD) used for emulated objects such as
// pipes or epoll instances backed only by unreal fds.
//
// The package never opens, closes, or otherwise touches a host kernel fd
// itself; it only tracks the bookkeeping a syscall dispatcher needs before
// and after issuing a real kernel call, and reports real-fds back to the
// caller for it to act on.
package fdtables
