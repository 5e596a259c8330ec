package fdtables

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEpollCreateAndWaitData(t *testing.T) {
	cageID := freshCageID()
	InitEmptyCage(cageID)
	defer RemoveCageFromFdtable(cageID)

	epollVirt, err := EpollCreateHelper(cageID, 9, false)
	require.NoError(t, err)

	underlying, data, err := GetEpollWaitData(cageID, epollVirt)
	require.NoError(t, err)
	require.Equal(t, RealFD(9), underlying)
	require.Empty(t, data)
}

func TestGetEpollWaitDataRejectsNonEpoll(t *testing.T) {
	cageID := freshCageID()
	InitEmptyCage(cageID)
	defer RemoveCageFromFdtable(cageID)

	vfd, err := GetUnusedVirtualFd(cageID, 1, false, 0)
	require.NoError(t, err)

	_, _, err = GetEpollWaitData(cageID, vfd)
	requireFdErr(t, err, EINVAL)

	_, _, err = GetEpollWaitData(cageID, 999)
	requireFdErr(t, err, EBADF)
}

func TestTryEpollCtlRealTargetPassesThrough(t *testing.T) {
	cageID := freshCageID()
	InitEmptyCage(cageID)
	defer RemoveCageFromFdtable(cageID)

	epollVirt, err := EpollCreateHelper(cageID, 9, false)
	require.NoError(t, err)

	target, err := GetUnusedVirtualFd(cageID, 20, false, 0)
	require.NoError(t, err)

	underlying, targetRealfd, err := TryEpollCtl(cageID, epollVirt, EpollCtlAdd, target, Event{Events: EPOLLIN})
	require.NoError(t, err)
	require.Equal(t, RealFD(9), underlying)
	require.Equal(t, RealFD(20), targetRealfd)

	_, data, err := GetEpollWaitData(cageID, epollVirt)
	require.NoError(t, err)
	require.Empty(t, data, "real targets are not registered in the unreal sub-table")
}

func TestTryEpollCtlUnrealTargetLifecycle(t *testing.T) {
	cageID := freshCageID()
	InitEmptyCage(cageID)
	defer RemoveCageFromFdtable(cageID)

	epollVirt, err := EpollCreateHelper(cageID, EpollFD, false)
	require.NoError(t, err)

	target, err := GetUnusedVirtualFd(cageID, NoRealFD, false, 7)
	require.NoError(t, err)

	_, real, err := TryEpollCtl(cageID, epollVirt, EpollCtlAdd, target, Event{Events: EPOLLIN})
	require.NoError(t, err)
	require.Equal(t, NoRealFD, real)

	_, _, err = TryEpollCtl(cageID, epollVirt, EpollCtlAdd, target, Event{Events: EPOLLIN})
	requireFdErr(t, err, EEXIST)

	_, data, err := GetEpollWaitData(cageID, epollVirt)
	require.NoError(t, err)
	require.Contains(t, data, target)

	_, _, err = TryEpollCtl(cageID, epollVirt, EpollCtlMod, target, Event{Events: EPOLLOUT})
	require.NoError(t, err)

	_, data, err = GetEpollWaitData(cageID, epollVirt)
	require.NoError(t, err)
	require.Equal(t, uint32(EPOLLOUT), data[target].Events)

	_, _, err = TryEpollCtl(cageID, epollVirt, EpollCtlDel, target, Event{})
	require.NoError(t, err)

	_, data, err = GetEpollWaitData(cageID, epollVirt)
	require.NoError(t, err)
	require.NotContains(t, data, target)

	_, _, err = TryEpollCtl(cageID, epollVirt, EpollCtlMod, target, Event{})
	requireFdErr(t, err, ENOENT)

	_, _, err = TryEpollCtl(cageID, epollVirt, EpollCtlDel, target, Event{})
	requireFdErr(t, err, ENOENT)
}

func TestTryEpollCtlRejectsSelfAndUnknown(t *testing.T) {
	cageID := freshCageID()
	InitEmptyCage(cageID)
	defer RemoveCageFromFdtable(cageID)

	epollVirt, err := EpollCreateHelper(cageID, EpollFD, false)
	require.NoError(t, err)

	_, _, err = TryEpollCtl(cageID, epollVirt, EpollCtlAdd, epollVirt, Event{})
	requireFdErr(t, err, EINVAL)

	_, _, err = TryEpollCtl(cageID, epollVirt, EpollCtlAdd, 999, Event{})
	requireFdErr(t, err, EBADF)

	_, _, err = TryEpollCtl(cageID, 999, EpollCtlAdd, epollVirt, Event{})
	requireFdErr(t, err, EBADF)
}

// Epoll loop detection scenario from spec.md §8: two unreal epoll instances,
// E1 registering E2 succeeds, E2 registering E1 back would form a cycle.
func TestEpollLoopDetection(t *testing.T) {
	cageID := freshCageID()
	InitEmptyCage(cageID)
	defer RemoveCageFromFdtable(cageID)

	e1, err := EpollCreateHelper(cageID, EpollFD, false)
	require.NoError(t, err)

	e2, err := EpollCreateHelper(cageID, EpollFD, false)
	require.NoError(t, err)

	_, _, err = TryEpollCtl(cageID, e1, EpollCtlAdd, e2, Event{Events: EPOLLIN})
	require.NoError(t, err)

	_, _, err = TryEpollCtl(cageID, e2, EpollCtlAdd, e1, Event{Events: EPOLLIN})
	requireFdErr(t, err, ELOOP)
}

func TestDumpEpollGraph(t *testing.T) {
	cageID := freshCageID()
	InitEmptyCage(cageID)
	defer RemoveCageFromFdtable(cageID)

	outer, err := EpollCreateHelper(cageID, EpollFD, false)
	require.NoError(t, err)

	inner, err := EpollCreateHelper(cageID, EpollFD, false)
	require.NoError(t, err)

	leaf, err := GetUnusedVirtualFd(cageID, NoRealFD, false, 3)
	require.NoError(t, err)

	_, _, err = TryEpollCtl(cageID, outer, EpollCtlAdd, inner, Event{Events: EPOLLIN})
	require.NoError(t, err)

	_, _, err = TryEpollCtl(cageID, inner, EpollCtlAdd, leaf, Event{Events: EPOLLIN})
	require.NoError(t, err)

	graph, err := DumpEpollGraph(cageID, outer)
	require.NoError(t, err)
	require.Contains(t, graph, outer)
	require.Contains(t, graph, inner)
	require.Contains(t, graph[outer], inner)
	require.Contains(t, graph[inner], leaf)

	_, err = DumpEpollGraph(cageID, leaf)
	requireFdErr(t, err, EINVAL)
}
