package service

import "sync"

// MaxPINFailures is how many wrong PINs one reservation tolerates before
// VerifyPIN refuses every further attempt, the right PIN included.  A new
// reservation of the device starts a fresh budget.
const MaxPINFailures = 5

// pinGuard counts wrong PINs per device, scoped to the reservation that was
// current when they were tried.  One entry per device keeps it bounded by
// the catalog size.
type pinGuard struct {
	mu       sync.Mutex
	max      int
	byDevice map[string]pinAttempts
}

type pinAttempts struct {
	reservation uint64
	misses      int
}

func newPINGuard(max int) *pinGuard {
	return &pinGuard{max: max, byDevice: map[string]pinAttempts{}}
}

// acquire charges one attempt against reservation id of device before the
// bcrypt compare runs, so concurrent guesses cannot overrun the budget.
// It reports false once the budget is spent.
func (g *pinGuard) acquire(device string, id uint64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	a := g.byDevice[device]
	if a.reservation != id {
		a = pinAttempts{reservation: id}
	}
	if a.misses >= g.max {
		g.byDevice[device] = a
		return false
	}
	a.misses++
	g.byDevice[device] = a
	return true
}

// refund returns the attempt charged by acquire after a correct PIN.
func (g *pinGuard) refund(device string, id uint64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if a := g.byDevice[device]; a.reservation == id && a.misses > 0 {
		a.misses--
		g.byDevice[device] = a
	}
}
