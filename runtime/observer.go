package runtime

// Observer is notified after every change to the active run's state.
//
// OnState runs on the run's goroutine and receives a snapshot the observer
// may keep. The next event is not folded until OnState returns, so slow
// observers slow the stream. OnState must not call Consumer.Run.
type Observer interface {
	OnState(state *RunState)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(state *RunState)

// OnState implements Observer.
func (f ObserverFunc) OnState(state *RunState) { f(state) }
