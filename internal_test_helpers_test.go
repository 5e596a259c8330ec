package fdtables

import "sync/atomic"

// cageIDCounter hands out distinct cage IDs to tests so they don't collide
// on the process-wide registry, which this package intentionally doesn't
// reset between tests (there is no reset operation in the contract).
var cageIDCounter int64

func freshCageID() CageID {
	return CageID(atomic.AddInt64(&cageIDCounter, 1) + 1_000_000)
}
