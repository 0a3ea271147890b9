package logging

// Unwrapper extends 16-bit RTP sequence numbers to a monotonic 64-bit
// counter. Packets may be reordered by less than half the sequence space.
type Unwrapper struct {
	started bool
	highest int64
}

func (u *Unwrapper) Unwrap(seq uint16) int64 {
	if !u.started {
		u.started = true
		u.highest = int64(seq)
		return u.highest
	}
	diff := int64(int16(seq - uint16(u.highest)))
	v := u.highest + diff
	if v > u.highest {
		u.highest = v
	}
	return v
}
