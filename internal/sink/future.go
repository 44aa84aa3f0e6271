package sink

import "sync"

// Future is a single-assignment handle on the outcome of one network call.
type Future struct {
	done chan struct{}
	once sync.Once
	env  ResponseEnvelope
	err  error
}

// NewFuture returns a pending future and the function that resolves it.
// Only the first resolution takes effect.
func NewFuture() (*Future, func(ResponseEnvelope, error)) {
	f := &Future{done: make(chan struct{})}
	return f, f.resolve
}

func (f *Future) resolve(env ResponseEnvelope, err error) {
	f.once.Do(func() {
		f.env = env
		f.err = err
		close(f.done)
	})
}

// Done is closed once the future resolves.
func (f *Future) Done() <-chan struct{} { return f.done }

// Wait blocks until the future resolves.
func (f *Future) Wait() (ResponseEnvelope, error) {
	<-f.done
	return f.env, f.err
}

// WaitAll blocks until every future resolves and returns the envelopes in
// the order of futures. The first error encountered, in order, is returned
// after all futures have resolved.
func WaitAll(futures []*Future) ([]ResponseEnvelope, error) {
	envs := make([]ResponseEnvelope, len(futures))
	var firstErr error
	for i, f := range futures {
		env, err := f.Wait()
		if err != nil && firstErr == nil {
			firstErr = err
		}
		envs[i] = env
	}
	return envs, firstErr
}
