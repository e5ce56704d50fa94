package memory

import "sync"

// Pool is a typed wrapper over sync.Pool. Objects are reset before they
// are handed out again, and Put drops objects the keep func rejects so
// one oversized value is not retained forever.
type Pool[T any] struct {
	p     sync.Pool
	reset func(*T)
	keep  func(*T) bool
}

// NewPool builds a pool. reset and keep may be nil.
func NewPool[T any](ctor func() *T, reset func(*T), keep func(*T) bool) *Pool[T] {
	pool := &Pool[T]{reset: reset, keep: keep}
	pool.p.New = func() any { return ctor() }
	return pool
}

func (p *Pool[T]) Get() *T {
	v := p.p.Get().(*T)
	if p.reset != nil {
		p.reset(v)
	}
	return v
}

func (p *Pool[T]) Put(v *T) {
	if v == nil {
		return
	}
	if p.keep != nil && !p.keep(v) {
		return
	}
	p.p.Put(v)
}
