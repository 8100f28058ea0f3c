package core

// Invoker launches a function on its own goroutine. The node glue never
// calls "go" directly so tests can swap in an invoker that tracks
// outstanding goroutines (see the test package's WaitGroup-backed
// invoker, paired with goleak in the fuzzy suite).
type Invoker interface {
	Spawn(f func())
}

type defaultInvoker struct{}

func (defaultInvoker) Spawn(f func()) { go f() }

var defaultInvokerInstance Invoker = defaultInvoker{}

// InvokerInstance returns the default, untracked invoker.
func InvokerInstance() Invoker {
	return defaultInvokerInstance
}
