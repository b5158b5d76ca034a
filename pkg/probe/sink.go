package probe

import (
	"sync"

	"github.com/stretchr/testify/assert"
)

// Sink receives failure messages.
type Sink interface {
	Fail(message string)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(message string)

func (f SinkFunc) Fail(message string) { f(message) }

// failureRecorder is implemented by sinks that keep the whole Failure.
type failureRecorder interface {
	Record(f *Failure)
}

// TestSink reports failures to a test without stopping it.
func TestSink(t assert.TestingT) Sink {
	return SinkFunc(func(message string) {
		if h, ok := t.(interface{ Helper() }); ok {
			h.Helper()
		}
		assert.Fail(t, message)
	})
}

// Recorder is a Sink that keeps every failure in memory.
type Recorder struct {
	mu       sync.Mutex
	failures []*Failure
}

func (r *Recorder) Fail(message string) {
	r.Record(&Failure{Kind: KindInternal, Message: message})
}

// Record stores f as is.
func (r *Recorder) Record(f *Failure) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures = append(r.failures, f)
}

// Failed reports whether any failure was recorded.
func (r *Recorder) Failed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.failures) > 0
}

// Failures returns the recorded failures in order.
func (r *Recorder) Failures() []*Failure {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*Failure(nil), r.failures...)
}

// Messages returns the recorded messages in order.
func (r *Recorder) Messages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	msgs := make([]string, len(r.failures))
	for i, f := range r.failures {
		msgs[i] = f.Message
	}
	return msgs
}

// Reset drops all recorded failures.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures = nil
}

// Checker runs probe operations and reports each failure to a sink
// instead of returning it. A failed operation returns nil, which callers
// must not use further.
type Checker struct {
	p    *Probe
	sink Sink
}

// Report returns a Checker that reports failures of p to sink.
func (p *Probe) Report(sink Sink) *Checker {
	return &Checker{p: p, sink: sink}
}

func (c *Checker) report(err error) {
	f, ok := AsFailure(err)
	if !ok {
		f = &Failure{Kind: KindInternal, Message: err.Error(), Err: err}
	}
	if r, ok := c.sink.(failureRecorder); ok {
		r.Record(f)
		return
	}
	c.sink.Fail(f.Message)
}

// ResolveType is Probe.ResolveType reporting to the sink.
func (c *Checker) ResolveType(name string) Type {
	t, err := c.p.ResolveType(name)
	if err != nil {
		c.report(err)
		return nil
	}
	return t
}

// Instantiate is Probe.Instantiate reporting to the sink.
func (c *Checker) Instantiate(name string, args ...any) any {
	obj, err := c.p.Instantiate(name, args...)
	if err != nil {
		c.report(err)
		return nil
	}
	return obj
}

// ReadField is Probe.ReadField reporting to the sink.
func (c *Checker) ReadField(obj any, name string) any {
	v, err := c.p.ReadField(obj, name)
	if err != nil {
		c.report(err)
		return nil
	}
	return v
}

// FindMethod is Probe.FindMethod reporting to the sink.
func (c *Checker) FindMethod(t Type, name string, params ...Type) Method {
	m, err := c.p.FindMethod(t, name, params...)
	if err != nil {
		c.report(err)
		return nil
	}
	return m
}

// FindMethodOf is Probe.FindMethodOf reporting to the sink.
func (c *Checker) FindMethodOf(obj any, name string, params ...Type) Method {
	m, err := c.p.FindMethodOf(obj, name, params...)
	if err != nil {
		c.report(err)
		return nil
	}
	return m
}

// Invoke is Probe.Invoke reporting to the sink.
func (c *Checker) Invoke(obj any, m Method, args ...any) any {
	v, err := c.p.Invoke(obj, m, args...)
	if err != nil {
		c.report(err)
		return nil
	}
	return v
}

// InvokeByName is Probe.InvokeByName reporting to the sink.
func (c *Checker) InvokeByName(obj any, name string, args ...any) any {
	v, err := c.p.InvokeByName(obj, name, args...)
	if err != nil {
		c.report(err)
		return nil
	}
	return v
}
