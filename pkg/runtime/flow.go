package runtime

import "sync/atomic"

// FlowStatus records whether execution must unwind, and why.
type FlowStatus int32

const (
	Normal FlowStatus = iota
	Break
	Return
	Continue
	Die
	Dispose
)

// String returns the status name.
func (f FlowStatus) String() string {
	switch f {
	case Normal:
		return "normal"
	case Break:
		return "break"
	case Return:
		return "return"
	case Continue:
		return "continue"
	case Die:
		return "die"
	case Dispose:
		return "dispose"
	}
	return "unknown"
}

// Flow holds the single pending status of a scope. Each status has one owner:
// the construct that sets it is the one expected to consume it with TakeIf.
// Dispose is terminal.
type Flow struct {
	status atomic.Int32
}

// Status returns the pending status.
func (f *Flow) Status() FlowStatus {
	return FlowStatus(f.status.Load())
}

// Set overwrites the pending status. It has no effect once Dispose is set.
func (f *Flow) Set(status FlowStatus) {
	for {
		current := f.status.Load()
		if FlowStatus(current) == Dispose {
			return
		}
		if f.status.CompareAndSwap(current, int32(status)) {
			return
		}
	}
}

// TakeIf returns the pending status and resets it to Normal only when it
// equals expected. A different pending status is left for its owner.
func (f *Flow) TakeIf(expected FlowStatus) FlowStatus {
	current := FlowStatus(f.status.Load())
	if current == expected && expected != Dispose {
		if !f.status.CompareAndSwap(int32(current), int32(Normal)) {
			return FlowStatus(f.status.Load())
		}
	}
	return current
}

// Interrupted reports whether any status other than Normal is pending.
func (f *Flow) Interrupted() bool {
	return f.Status() != Normal
}

// Disposed reports whether the terminal status is set.
func (f *Flow) Disposed() bool {
	return f.Status() == Dispose
}
