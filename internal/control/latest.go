package control

// Slot is a single-value channel with overwrite-on-send semantics: a
// producer never blocks, the newest value always wins, and the consumer
// re-reads the most recent value on every tick. It replaces a mutex-guarded
// shared variable with explicit message passing.
//
// One producer and one consumer. Get re-stores the value it reads, so a
// second concurrent consumer would race on the re-store.
type Slot[T any] struct {
	ch chan T
}

// NewSlot creates an empty Slot.
func NewSlot[T any]() *Slot[T] {
	return &Slot[T]{ch: make(chan T, 1)}
}

// Put stores v, discarding any value not yet consumed.
func (s *Slot[T]) Put(v T) {
	for {
		select {
		case s.ch <- v:
			return
		default:
			// Slot full: drop the stale value and retry.
			select {
			case <-s.ch:
			default:
			}
		}
	}
}

// Get returns the most recent value, or ok=false if nothing has ever been
// stored. The value remains available for subsequent Gets until overwritten.
func (s *Slot[T]) Get() (v T, ok bool) {
	select {
	case v = <-s.ch:
		// Re-store so the next tick still sees the latest value. If the
		// producer raced a Put in between, keep the newer value instead.
		select {
		case s.ch <- v:
		default:
		}
		return v, true
	default:
		var zero T
		return zero, false
	}
}
