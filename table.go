package fdtables

import (
	"github.com/JustinCappos/fdtables/internal/fdlog"
	"github.com/JustinCappos/fdtables/internal/reverter"
)

// Entry is the caller-visible shape of one fd-table row, returned from
// bulk operations (RemoveCageFromFdtable, EmptyFdsForExec, Snapshot).
type Entry struct {
	RealFD        RealFD
	ShouldCloexec bool
	OptionalInfo  OptionalInfo
}

// GetUnusedVirtualFd allocates an unused virt-fd in cageID, inserts an
// entry for it, and bumps the real-fd refcount if realfd != NoRealFD. The
// selection policy among currently-unused virt-fds is unspecified by
// contract (see fdTable.allocHint); callers must not assume lowest-free.
// Panics on an unknown cageID; returns an EMFILE *Error if the cage's
// namespace is exhausted.
func GetUnusedVirtualFd(cageID CageID, realfd RealFD, cloexec bool, optinfo OptionalInfo) (VirtFD, error) {
	c := getCage(cageID, "GetUnusedVirtualFd")

	c.table.mu.Lock()

	vfd, ok := c.table.findUnusedLocked()
	if !ok {
		c.table.mu.Unlock()
		fdlog.Warn("no free virt-fd slot", map[string]any{"cage_id": int64(cageID)})
		return 0, newErr(EMFILE, "GetUnusedVirtualFd", "no free virt-fd in cage %d", cageID)
	}

	c.table.entries[vfd] = entry{realfd: realfd, shouldCloexec: cloexec, optionalinfo: optinfo}
	c.table.allocHint = (vfd + 1) % FDPerProcessMax

	// incref must happen before the table lock is released: otherwise a
	// concurrent CloseVirtualFd on another entry aliasing realfd could
	// decref it to 0 and fire the last-reference handler while this new
	// entry is already live in the table pointing at the same realfd (see
	// DESIGN.md's lock-ordering note — table lock held, then refcount, as
	// one critical section).
	if realfd != NoRealFD {
		globalRefcount.incref(realfd)
	}

	c.table.mu.Unlock()

	fdlog.Debug("virt-fd allocated", map[string]any{"cage_id": int64(cageID), "virt_fd": int64(vfd), "real_fd": int64(realfd)})

	return vfd, nil
}

// findUnusedLocked scans forward from allocHint for a free virt-fd, wrapping
// once. Caller must hold table.mu for writing.
func (t *fdTable) findUnusedLocked() (VirtFD, bool) {
	if VirtFD(len(t.entries)) >= FDPerProcessMax {
		return 0, false
	}

	for i := VirtFD(0); i < FDPerProcessMax; i++ {
		candidate := (t.allocHint + i) % FDPerProcessMax
		if _, taken := t.entries[candidate]; !taken {
			return candidate, true
		}
	}

	return 0, false
}

// GetSpecificVirtualFd inserts an entry at the caller-chosen virt virt-fd.
// Returns EBADF if virt is out of [0, FDPerProcessMax); ELIND if virt is
// already occupied. On success, increments the refcount if realfd !=
// NoRealFD. Panics on an unknown cageID.
func GetSpecificVirtualFd(cageID CageID, virt VirtFD, realfd RealFD, cloexec bool, optinfo OptionalInfo) error {
	c := getCage(cageID, "GetSpecificVirtualFd")

	if virt < 0 || virt >= FDPerProcessMax {
		return newErr(EBADF, "GetSpecificVirtualFd", "virt-fd %d out of range", virt)
	}

	c.table.mu.Lock()
	if _, taken := c.table.entries[virt]; taken {
		c.table.mu.Unlock()
		return newErr(ELIND, "GetSpecificVirtualFd", "virt-fd %d already in use in cage %d", virt, cageID)
	}

	c.table.entries[virt] = entry{realfd: realfd, shouldCloexec: cloexec, optionalinfo: optinfo}

	// incref must happen before the table lock is released: see the same
	// note in GetUnusedVirtualFd. Without this, a concurrent CloseVirtualFd
	// on the original entry sharing this realfd could observe a refcount
	// of 0 and fire the last-reference handler while this dup is already
	// live in the table.
	if realfd != NoRealFD {
		globalRefcount.incref(realfd)
	}

	c.table.mu.Unlock()

	fdlog.Debug("virt-fd inserted", map[string]any{"cage_id": int64(cageID), "virt_fd": int64(virt), "real_fd": int64(realfd)})

	return nil
}

// TranslateVirtualFd returns the realfd a virt-fd maps to, or EBADF if
// no live entry exists for it. Panics on an unknown cageID.
func TranslateVirtualFd(cageID CageID, virt VirtFD) (RealFD, error) {
	c := getCage(cageID, "TranslateVirtualFd")

	c.table.mu.RLock()
	defer c.table.mu.RUnlock()

	e, ok := c.table.entries[virt]
	if !ok {
		return 0, newErr(EBADF, "TranslateVirtualFd", "virt-fd %d not found in cage %d", virt, cageID)
	}

	return e.realfd, nil
}

// GetOptionalInfo returns a virt-fd's optionalinfo tag, or EBADF if absent.
// Panics on an unknown cageID.
func GetOptionalInfo(cageID CageID, virt VirtFD) (OptionalInfo, error) {
	c := getCage(cageID, "GetOptionalInfo")

	c.table.mu.RLock()
	defer c.table.mu.RUnlock()

	e, ok := c.table.entries[virt]
	if !ok {
		return 0, newErr(EBADF, "GetOptionalInfo", "virt-fd %d not found in cage %d", virt, cageID)
	}

	return e.optionalinfo, nil
}

// SetOptionalInfo replaces a virt-fd's optionalinfo tag, returning EBADF if
// absent. Panics on an unknown cageID.
func SetOptionalInfo(cageID CageID, virt VirtFD, value OptionalInfo) error {
	c := getCage(cageID, "SetOptionalInfo")

	c.table.mu.Lock()
	defer c.table.mu.Unlock()

	e, ok := c.table.entries[virt]
	if !ok {
		return newErr(EBADF, "SetOptionalInfo", "virt-fd %d not found in cage %d", virt, cageID)
	}

	e.optionalinfo = value
	c.table.entries[virt] = e

	return nil
}

// SetCloexec sets a virt-fd's cloexec flag, returning EBADF if absent.
// Panics on an unknown cageID.
func SetCloexec(cageID CageID, virt VirtFD, cloexec bool) error {
	c := getCage(cageID, "SetCloexec")

	c.table.mu.Lock()
	defer c.table.mu.Unlock()

	e, ok := c.table.entries[virt]
	if !ok {
		return newErr(EBADF, "SetCloexec", "virt-fd %d not found in cage %d", virt, cageID)
	}

	e.shouldCloexec = cloexec
	c.table.entries[virt] = e

	return nil
}

// CloseVirtualFd removes virt's entry, decrements the real-fd refcount, and
// fires the appropriate close callback. For an unreal entry it always
// returns (NoRealFD, 0) and fires the unreal handler with the entry's
// optionalinfo, regardless of how many other unreal entries exist.
// Otherwise the returned count is the refcount AFTER the decrement: 0 fires
// the last-reference handler, nonzero fires the intermediate handler.
// Returns EBADF if virt has no live entry. Panics on an unknown cageID.
func CloseVirtualFd(cageID CageID, virt VirtFD) (RealFD, uint64, error) {
	c := getCage(cageID, "CloseVirtualFd")

	c.table.mu.Lock()
	e, ok := c.table.entries[virt]
	if !ok {
		c.table.mu.Unlock()
		return 0, 0, newErr(EBADF, "CloseVirtualFd", "virt-fd %d not found in cage %d", virt, cageID)
	}

	delete(c.table.entries, virt)

	var remaining uint64
	h := snapshotHandlers()

	if e.realfd != NoRealFD {
		remaining = globalRefcount.decref(e.realfd)
	}

	c.table.mu.Unlock()

	var dispatch reverter.Queue
	if e.realfd == NoRealFD {
		dispatch.Add(func() { h.dispatchUnreal(e.optionalinfo) })
	} else if remaining == 0 {
		realfd := e.realfd
		dispatch.Add(func() { h.dispatchLast(realfd) })
	} else {
		realfd := e.realfd
		dispatch.Add(func() { h.dispatchIntermediate(realfd) })
	}

	dispatch.Run()

	fdlog.Debug("virt-fd closed", map[string]any{"cage_id": int64(cageID), "virt_fd": int64(virt), "real_fd": int64(e.realfd), "remaining": remaining})

	if e.realfd == NoRealFD {
		return NoRealFD, 0, nil
	}

	return e.realfd, remaining, nil
}

// EmptyFdsForExec atomically removes every entry in cageID whose
// ShouldCloexec is true, following the same refcount/callback protocol as
// CloseVirtualFd for each removed real entry, and returns the removed
// entries so the caller can close their kernel real-fds. Panics on an
// unknown cageID.
func EmptyFdsForExec(cageID CageID) map[VirtFD]Entry {
	c := getCage(cageID, "EmptyFdsForExec")

	c.table.mu.Lock()

	removed := map[VirtFD]Entry{}
	h := snapshotHandlers()
	var dispatch reverter.Queue

	for vfd, e := range c.table.entries {
		if !e.shouldCloexec {
			continue
		}

		delete(c.table.entries, vfd)
		removed[vfd] = Entry{RealFD: e.realfd, ShouldCloexec: e.shouldCloexec, OptionalInfo: e.optionalinfo}
		queueCloseDispatch(&dispatch, h, e)
	}

	c.table.mu.Unlock()

	dispatch.Run()

	fdlog.Debug("exec filter applied", map[string]any{"cage_id": int64(cageID), "removed": len(removed)})

	return removed
}

// Snapshot returns a read-only copy of every live entry in cageID. It is
// not part of the distilled contract but is a pure composition of data
// already exposed per-fd (see SPEC_FULL.md); it never mutates state or
// fires callbacks. Panics on an unknown cageID.
func Snapshot(cageID CageID) map[VirtFD]Entry {
	c := getCage(cageID, "Snapshot")

	c.table.mu.RLock()
	defer c.table.mu.RUnlock()

	out := make(map[VirtFD]Entry, len(c.table.entries))
	for vfd, e := range c.table.entries {
		out[vfd] = Entry{RealFD: e.realfd, ShouldCloexec: e.shouldCloexec, OptionalInfo: e.optionalinfo}
	}

	return out
}

// TableStats summarizes a cage's fd-table for diagnostics.
type TableStats struct {
	RealCount   int
	UnrealCount int
	HighestVirt VirtFD
}

// Stats returns a derived summary of cageID's fd-table. Panics on an
// unknown cageID.
func Stats(cageID CageID) TableStats {
	c := getCage(cageID, "Stats")

	c.table.mu.RLock()
	defer c.table.mu.RUnlock()

	var s TableStats
	s.HighestVirt = -1
	for vfd, e := range c.table.entries {
		if e.realfd == NoRealFD {
			s.UnrealCount++
		} else {
			s.RealCount++
		}

		if vfd > s.HighestVirt {
			s.HighestVirt = vfd
		}
	}

	return s
}
