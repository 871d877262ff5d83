package protocol

// SequenceStart returns the first counter value to use after boot given the
// persisted high-water mark and one RNG word. A missing, erased or
// near-wraparound mark is replaced by a random value with the top bit
// cleared plus the reservation, so counters stay far from zero and from
// overflow while each unit starts in its own range.
func SequenceStart(stored, random uint32) uint32 {
	if stored == 0 || stored >= SequenceLimit {
		return random>>1 + SequenceReserve
	}
	return stored
}
