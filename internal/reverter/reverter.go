// Package reverter collects zero-argument closures queued while a lock is
// held and runs them after the lock is released.
//
// This is the same "push closures, run them later" shape as lxd/revert's
// Reverter (Add/Fail/Success, running undo steps in reverse order on
// failure), adapted to a different purpose: fdtables never undoes a
// committed state transition, but it must never invoke a user-registered
// close callback while holding an internal lock, since the callback may
// reenter the package. A Queue is the deferred-dispatch mechanism for that:
// a mutating operation appends the callback invocations its state
// transition requires while the lock is held, then Run is called once the
// lock is released.
package reverter

// Queue accumulates deferred calls and runs them, in the order added, on
// Run. A zero Queue is ready to use.
type Queue struct {
	fns []func()
}

// Add appends a deferred call.
func (q *Queue) Add(fn func()) {
	q.fns = append(q.fns, fn)
}

// Len reports how many calls are queued.
func (q *Queue) Len() int {
	return len(q.fns)
}

// Run invokes every queued call in the order it was added, then empties the
// queue. The caller must not hold any lock the queued calls might
// transitively reacquire.
func (q *Queue) Run() {
	fns := q.fns
	q.fns = nil

	for _, fn := range fns {
		fn()
	}
}
