package fdtables

import "github.com/JustinCappos/fdtables/internal/fdlog"

// EpollCreateHelper creates a new epoll instance as virt-fd in cageID. The
// virt-fd's realfd field stores underlyingRealEpollFd (EpollFD when the
// instance is purely unreal). An empty registration map is allocated for
// it. Returns EMFILE if cageID's virt-fd namespace is exhausted. Panics on
// an unknown cageID.
func EpollCreateHelper(cageID CageID, underlyingRealEpollFd RealFD, cloexec bool) (VirtFD, error) {
	vfd, err := GetUnusedVirtualFd(cageID, underlyingRealEpollFd, cloexec, 0)
	if err != nil {
		return 0, err
	}

	c := getCage(cageID, "EpollCreateHelper")
	c.epoll.mu.Lock()
	c.epoll.registrations[vfd] = map[VirtFD]Event{}
	c.epoll.mu.Unlock()

	fdlog.Debug("epoll instance created", map[string]any{"cage_id": int64(cageID), "epoll_virt_fd": int64(vfd)})

	return vfd, nil
}

// TryEpollCtl implements EPOLL_CTL_ADD/MOD/DEL against epollVirt's
// registration set.
//
// If targetVirt's realfd is neither NoRealFD nor EpollFD, the sub-table is
// left untouched and (underlying, targetRealfd) is returned so the caller
// forwards the real epoll_ctl to the kernel. Otherwise targetVirt is unreal
// (an unreal fd or a purely unreal epoll instance) and the registration set
// is mutated in-library, returning (underlying, NoRealFD) to signal there is
// no kernel call to make.
func TryEpollCtl(cageID CageID, epollVirt VirtFD, op EpollOp, targetVirt VirtFD, event Event) (RealFD, RealFD, error) {
	c := getCage(cageID, "TryEpollCtl")

	// Resolve both virt-fds against the table first, and release it before
	// taking the epoll lock: table.mu and epoll.mu are never held nested,
	// only sequentially, so there is no lock-order pair to violate.
	c.table.mu.RLock()
	epollEntry, epollOK := c.table.entries[epollVirt]
	targetEntry, targetOK := c.table.entries[targetVirt]
	c.table.mu.RUnlock()

	if !epollOK {
		return 0, 0, newErr(EBADF, "TryEpollCtl", "epoll virt-fd %d not found in cage %d", epollVirt, cageID)
	}

	underlying := epollEntry.realfd

	c.epoll.mu.Lock()
	defer c.epoll.mu.Unlock()

	regs, isEpoll := c.epoll.registrations[epollVirt]
	if !isEpoll {
		return 0, 0, newErr(EINVAL, "TryEpollCtl", "virt-fd %d is not an epoll instance in cage %d", epollVirt, cageID)
	}

	if targetVirt == epollVirt {
		return 0, 0, newErr(EINVAL, "TryEpollCtl", "target virt-fd %d equals epoll virt-fd", targetVirt)
	}

	if !targetOK {
		return 0, 0, newErr(EBADF, "TryEpollCtl", "target virt-fd %d not found in cage %d", targetVirt, cageID)
	}

	targetRealfd := targetEntry.realfd
	if targetRealfd != NoRealFD && targetRealfd != EpollFD {
		return underlying, targetRealfd, nil
	}

	switch op {
	case EpollCtlAdd:
		if _, exists := regs[targetVirt]; exists {
			return 0, 0, newErr(EEXIST, "TryEpollCtl", "virt-fd %d already registered on epoll %d", targetVirt, epollVirt)
		}

		if _, targetIsEpoll := c.epoll.registrations[targetVirt]; targetIsEpoll {
			depth := c.epollDepthLocked(targetVirt, map[VirtFD]bool{epollVirt: true})
			if depth >= maxEpollNestingDepth {
				return 0, 0, newErr(ELOOP, "TryEpollCtl", "adding epoll %d to epoll %d would exceed nesting depth %d", targetVirt, epollVirt, maxEpollNestingDepth)
			}
		}

		regs[targetVirt] = event
	case EpollCtlMod:
		if _, exists := regs[targetVirt]; !exists {
			return 0, 0, newErr(ENOENT, "TryEpollCtl", "virt-fd %d not registered on epoll %d", targetVirt, epollVirt)
		}

		regs[targetVirt] = event
	case EpollCtlDel:
		if _, exists := regs[targetVirt]; !exists {
			return 0, 0, newErr(ENOENT, "TryEpollCtl", "virt-fd %d not registered on epoll %d", targetVirt, epollVirt)
		}

		delete(regs, targetVirt)
	default:
		return 0, 0, newErr(EINVAL, "TryEpollCtl", "unknown epoll_ctl op %d", op)
	}

	fdlog.Debug("epoll_ctl applied", map[string]any{"cage_id": int64(cageID), "epoll_virt_fd": int64(epollVirt), "target_virt_fd": int64(targetVirt), "op": op})

	return underlying, NoRealFD, nil
}

// epollDepthLocked returns the length of the longest chain of nested unreal
// epoll instances reachable from start, counting start itself as depth 1.
// visited tracks ancestors already on the path (the epoll instances that
// would contain start after the pending ADD) so a cycle is detected instead
// of infinite-looping; seeding it with the instance being added to makes a
// path back through the pending link count as a cycle. The returned depth
// does not include that instance: TryEpollCtl's >= comparison accounts for
// the extra level. Caller must hold c.epoll.mu.
func (c *cage) epollDepthLocked(start VirtFD, visited map[VirtFD]bool) int {
	if visited[start] {
		// A cycle: report a depth that will trip the >= bound.
		return maxEpollNestingDepth + 1
	}

	visited[start] = true
	defer delete(visited, start)

	best := 1
	for target := range c.epoll.registrations[start] {
		if _, targetIsEpoll := c.epoll.registrations[target]; targetIsEpoll {
			d := 1 + c.epollDepthLocked(target, visited)
			if d > best {
				best = d
			}
		}
	}

	return best
}

// GetEpollWaitData returns a snapshot of the unreal entries registered on
// epollVirt, so the caller can union their ready-state with the results of
// a kernel epoll_wait on the returned underlying real-fd. Returns EBADF if
// epollVirt has no live entry, EINVAL if it is not an epoll instance.
// Panics on an unknown cageID.
func GetEpollWaitData(cageID CageID, epollVirt VirtFD) (RealFD, map[VirtFD]Event, error) {
	c := getCage(cageID, "GetEpollWaitData")

	underlying, err := TranslateVirtualFd(cageID, epollVirt)
	if err != nil {
		return 0, nil, newErr(EBADF, "GetEpollWaitData", "epoll virt-fd %d not found in cage %d", epollVirt, cageID)
	}

	c.epoll.mu.RLock()
	defer c.epoll.mu.RUnlock()

	regs, isEpoll := c.epoll.registrations[epollVirt]
	if !isEpoll {
		return 0, nil, newErr(EINVAL, "GetEpollWaitData", "virt-fd %d is not an epoll instance in cage %d", epollVirt, cageID)
	}

	out := make(map[VirtFD]Event, len(regs))
	for vfd, ev := range regs {
		out[vfd] = ev
	}

	return underlying, out, nil
}

// DumpEpollGraph returns the registration graph reachable from epollVirt:
// for every (unreal) epoll instance reachable by following nested
// registrations, its direct registration set. This is the same traversal
// TryEpollCtl runs for loop detection, exposed read-only for diagnostics
// (see SPEC_FULL.md). Panics on an unknown cageID; returns EINVAL if
// epollVirt is not itself an epoll instance.
func DumpEpollGraph(cageID CageID, epollVirt VirtFD) (map[VirtFD]map[VirtFD]Event, error) {
	c := getCage(cageID, "DumpEpollGraph")

	c.epoll.mu.RLock()
	defer c.epoll.mu.RUnlock()

	if _, isEpoll := c.epoll.registrations[epollVirt]; !isEpoll {
		return nil, newErr(EINVAL, "DumpEpollGraph", "virt-fd %d is not an epoll instance in cage %d", epollVirt, cageID)
	}

	out := map[VirtFD]map[VirtFD]Event{}
	var visit func(VirtFD)
	visit = func(vfd VirtFD) {
		if _, done := out[vfd]; done {
			return
		}

		regs := c.epoll.registrations[vfd]
		copied := make(map[VirtFD]Event, len(regs))
		for target, ev := range regs {
			copied[target] = ev
		}

		out[vfd] = copied

		for target := range regs {
			if _, targetIsEpoll := c.epoll.registrations[target]; targetIsEpoll {
				visit(target)
			}
		}
	}

	visit(epollVirt)

	return out, nil
}
