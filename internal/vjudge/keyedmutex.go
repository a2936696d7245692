package vjudge

import "sync"

// keyedMutex is a process-wide map of per-key mutexes, grounded on the
// teacher's tokenLastUsedMu pattern (sync.Map of *sync.Mutex,
// LoadOrStore'd lazily) — here keyed by remote_problem_id instead of
// token ID, ensuring at most one concurrent update_batch upsert runs per
// remote problem (spec.md section 5, "Per-remote-problem serialization").
type keyedMutex struct {
	locks sync.Map // map[string]*sync.Mutex
}

// Lock blocks until key's mutex is held.
func (k *keyedMutex) Lock(key string) {
	v, _ := k.locks.LoadOrStore(key, &sync.Mutex{})
	v.(*sync.Mutex).Lock()
}

// Unlock releases key's mutex.
func (k *keyedMutex) Unlock(key string) {
	v, ok := k.locks.Load(key)
	if !ok {
		return
	}
	v.(*sync.Mutex).Unlock()
}
