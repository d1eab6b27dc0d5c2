package execx

import (
	"errors"
	"sync"
	"time"
)

// ProcManager tracks detached processes so they can be stopped together.
type ProcManager struct {
	mu    sync.Mutex
	procs []*Process
}

// NewProcManager returns an empty tracker.
func NewProcManager() *ProcManager { return &ProcManager{} }

// Add registers a process. Nil processes are ignored.
func (pm *ProcManager) Add(p *Process) {
	if p == nil {
		return
	}
	pm.mu.Lock()
	pm.procs = append(pm.procs, p)
	pm.mu.Unlock()
}

// Running returns the tracked processes that have not exited yet.
func (pm *ProcManager) Running() []*Process {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	var out []*Process
	for _, p := range pm.procs {
		if !p.Exited() {
			out = append(out, p)
		}
	}
	return out
}

// StopAll stops every tracked process and forgets them. It proceeds
// best-effort and returns the joined stop errors.
func (pm *ProcManager) StopAll(grace time.Duration) error {
	pm.mu.Lock()
	procs := pm.procs
	pm.procs = nil
	pm.mu.Unlock()

	var errs []error
	for _, p := range procs {
		if err := p.Stop(grace); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
