package fdtables

import (
	"sync"

	"github.com/JustinCappos/fdtables/internal/fdlog"
)

// handlerSet is the process-wide triple of close callbacks. It is replaced
// atomically by RegisterCloseHandlers and read (by reference) whenever a
// closure event needs to dispatch.
type handlerSet struct {
	intermediateRealfdClose CloseHandler
	lastRealfdClose         CloseHandler
	unrealClose             CloseHandler
}

var handlersMu sync.RWMutex
var handlers = handlerSet{}

// RegisterCloseHandlers replaces the process-wide close-callback triple.
// Any handler left as NullFunc (the zero CloseHandler) means no call occurs
// for that slot's closure event. The operation is total: it never fails.
//
// intermediateRealfdClose fires when a virt-fd referencing a real-fd is
// closed and the real-fd still has other live references.
// lastRealfdClose fires when closing a virt-fd drops a real-fd's reference
// count to zero.
// unrealClose fires when an unreal virt-fd (realfd == NoRealFD) is closed,
// called with the entry's optionalinfo rather than a realfd.
func RegisterCloseHandlers(intermediateRealfdClose, lastRealfdClose, unrealClose CloseHandler) {
	handlersMu.Lock()
	defer handlersMu.Unlock()

	handlers = handlerSet{
		intermediateRealfdClose: intermediateRealfdClose,
		lastRealfdClose:         lastRealfdClose,
		unrealClose:             unrealClose,
	}

	fdlog.Debug("close handlers registered", nil)
}

// snapshotHandlers returns the current handler triple under the read lock,
// so callers queueing dispatch closures don't race a concurrent
// RegisterCloseHandlers call.
func snapshotHandlers() handlerSet {
	handlersMu.RLock()
	defer handlersMu.RUnlock()

	return handlers
}

// dispatchIntermediate invokes the intermediate-close handler, if any, with
// realfd. Must be called outside any internal lock.
func (h handlerSet) dispatchIntermediate(realfd RealFD) {
	if h.intermediateRealfdClose != nil {
		h.intermediateRealfdClose(uint64(realfd))
	}
}

// dispatchLast invokes the last-reference-close handler, if any, with
// realfd. Must be called outside any internal lock.
func (h handlerSet) dispatchLast(realfd RealFD) {
	if h.lastRealfdClose != nil {
		h.lastRealfdClose(uint64(realfd))
	}
}

// dispatchUnreal invokes the unreal-close handler, if any, with the
// closed entry's optionalinfo. Must be called outside any internal lock.
func (h handlerSet) dispatchUnreal(info OptionalInfo) {
	if h.unrealClose != nil {
		h.unrealClose(uint64(info))
	}
}
