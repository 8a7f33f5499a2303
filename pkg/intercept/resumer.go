package intercept

import (
	"fmt"
	"sync/atomic"
)

// Resumer is a one-shot continuation of a parked proxy pipeline.
type Resumer struct {
	name string
	fn   func()
	used atomic.Bool
}

func NewResumer(name string, fn func()) *Resumer {
	return &Resumer{name: name, fn: fn}
}

// Resume runs the continuation. A second call panics.
func (r *Resumer) Resume() {
	if !r.used.CompareAndSwap(false, true) {
		panic(fmt.Sprintf("intercept: %s continuation resumed twice", r.name))
	}
	if r.fn != nil {
		r.fn()
	}
}

func (r *Resumer) Used() bool {
	return r.used.Load()
}
