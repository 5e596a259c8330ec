package fdtables

import (
	"fmt"
	"sync"

	"github.com/JustinCappos/fdtables/internal/fdlog"
	"github.com/JustinCappos/fdtables/internal/reverter"
)

// entry is one fd-table row: the realfd it maps to (or NoRealFD), whether
// it is dropped on exec, and the caller-defined optionalinfo tag.
type entry struct {
	realfd        RealFD
	shouldCloexec bool
	optionalinfo  OptionalInfo
}

// fdTable is one cage's virt-fd -> entry mapping.
type fdTable struct {
	mu      sync.RWMutex
	entries map[VirtFD]entry
	// allocHint is the next virt-fd GetUnusedVirtualFd starts scanning
	// from. Selection policy is unspecified by contract; this package
	// scans forward from allocHint and wraps, which spreads allocations
	// out instead of always handing back the lowest free slot (tests must
	// not assume lowest-free, per spec).
	allocHint VirtFD
}

func newFdTable() *fdTable {
	return &fdTable{entries: map[VirtFD]entry{}}
}

// epollSubTable is one cage's epoll bookkeeping: for every virt-fd that is
// an epoll instance, the set of registered unreal virt-fds and their event
// records.
type epollSubTable struct {
	mu sync.RWMutex
	// registrations maps an epoll virt-fd to the set of unreal virt-fds
	// registered inside it.
	registrations map[VirtFD]map[VirtFD]Event
}

func newEpollSubTable() *epollSubTable {
	return &epollSubTable{registrations: map[VirtFD]map[VirtFD]Event{}}
}

// cage is one isolation domain's complete fd state.
type cage struct {
	id    CageID
	table *fdTable
	epoll *epollSubTable
}

var registryMu sync.RWMutex
var cages = map[CageID]*cage{}

// InitEmptyCage installs an empty fd-table and empty epoll sub-table for
// cageID. It panics if cageID already exists: the caller owns cage
// lifetimes, so creating a cage that is already live is a contract
// violation, not a runtime error.
func InitEmptyCage(cageID CageID) {
	registryMu.Lock()
	defer registryMu.Unlock()

	if _, exists := cages[cageID]; exists {
		panic(fmt.Sprintf("fdtables: InitEmptyCage: cage %d already exists", cageID))
	}

	cages[cageID] = &cage{
		id:    cageID,
		table: newFdTable(),
		epoll: newEpollSubTable(),
	}

	fdlog.Debug("cage created", map[string]any{"cage_id": int64(cageID)})
}

// CopyFdtableForCage clones every entry from src into a freshly created
// dst, incrementing the refcount for each non-NoRealFD realfd copied, and
// copies the epoll sub-table verbatim. Panics if src does not exist; panics
// if dst already exists (both are contract violations on the caller's
// part, exactly like InitEmptyCage).
func CopyFdtableForCage(src, dst CageID) {
	registryMu.Lock()
	defer registryMu.Unlock()

	srcCage, ok := cages[src]
	if !ok {
		panic(fmt.Sprintf("fdtables: CopyFdtableForCage: source cage %d does not exist", src))
	}

	if _, exists := cages[dst]; exists {
		panic(fmt.Sprintf("fdtables: CopyFdtableForCage: destination cage %d already exists", dst))
	}

	srcCage.table.mu.RLock()
	srcCage.epoll.mu.RLock()

	newTable := newFdTable()
	newTable.allocHint = srcCage.table.allocHint
	for vfd, e := range srcCage.table.entries {
		newTable.entries[vfd] = e
		if e.realfd != NoRealFD {
			globalRefcount.incref(e.realfd)
		}
	}

	newEpoll := newEpollSubTable()
	for epollVfd, regs := range srcCage.epoll.registrations {
		copied := make(map[VirtFD]Event, len(regs))
		for target, ev := range regs {
			copied[target] = ev
		}

		newEpoll.registrations[epollVfd] = copied
	}

	srcCage.epoll.mu.RUnlock()
	srcCage.table.mu.RUnlock()

	cages[dst] = &cage{id: dst, table: newTable, epoll: newEpoll}

	fdlog.Debug("cage cloned", map[string]any{"src_cage_id": int64(src), "dst_cage_id": int64(dst), "entries": len(newTable.entries)})
}

// RemoveCageFromFdtable atomically erases cageID from the registry,
// decrements refcounts for every non-NoRealFD entry it held, and fires
// close callbacks per the same two-tier protocol as CloseVirtualFd for
// every removed entry. It returns the cage's complete former fd-table so
// the caller can issue real-fd closes for the entries that need one.
// Panics on an unknown cageID.
func RemoveCageFromFdtable(cageID CageID) map[VirtFD]Entry {
	registryMu.Lock()
	c, ok := cages[cageID]
	if !ok {
		registryMu.Unlock()
		panic(fmt.Sprintf("fdtables: RemoveCageFromFdtable: cage %d does not exist", cageID))
	}

	delete(cages, cageID)
	registryMu.Unlock()

	c.table.mu.Lock()

	removed := make(map[VirtFD]Entry, len(c.table.entries))
	var dispatch reverter.Queue
	h := snapshotHandlers()

	for vfd, e := range c.table.entries {
		removed[vfd] = Entry{RealFD: e.realfd, ShouldCloexec: e.shouldCloexec, OptionalInfo: e.optionalinfo}
		queueCloseDispatch(&dispatch, h, e)
	}

	c.table.entries = map[VirtFD]entry{}
	c.table.mu.Unlock()

	dispatch.Run()

	fdlog.Debug("cage removed", map[string]any{"cage_id": int64(cageID), "entries": len(removed)})

	return removed
}

// getCage looks up a live cage, panicking on an unknown cageID (every
// public operation that takes a cageID shares this contract).
func getCage(cageID CageID, op string) *cage {
	registryMu.RLock()
	defer registryMu.RUnlock()

	c, ok := cages[cageID]
	if !ok {
		panic(fmt.Sprintf("fdtables: %s: cage %d does not exist", op, cageID))
	}

	return c
}

// queueCloseDispatch appends the correct callback invocation for a removed
// entry e (already unlinked from its table) onto dispatch, decrementing the
// global refcount for real entries as it goes. Caller must hold no lock
// that the dispatched handler could deadlock against; Run the queue after
// releasing the cage-table lock.
func queueCloseDispatch(dispatch *reverter.Queue, h handlerSet, e entry) {
	if e.realfd == NoRealFD {
		dispatch.Add(func() { h.dispatchUnreal(e.optionalinfo) })
		return
	}

	remaining := globalRefcount.decref(e.realfd)
	realfd := e.realfd
	if remaining == 0 {
		dispatch.Add(func() { h.dispatchLast(realfd) })
	} else {
		dispatch.Add(func() { h.dispatchIntermediate(realfd) })
	}
}
