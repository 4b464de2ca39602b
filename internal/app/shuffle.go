package app

// Per-player option shuffling. Every player sees the options of each
// question in a different, stable order derived from
// (roomID, playerID, questionID), so "the answer is always the second
// option" collusion does not work across players. The permutation is
// recomputed on demand; nothing about it is stored.

// OptionSeed derives a 32-bit seed from the identifying triple using the
// classic 31-multiplier string hash.
func OptionSeed(roomID, playerID, questionID string) uint32 {
	s := roomID + playerID + questionID
	var h int32
	for i := 0; i < len(s); i++ {
		h = (h << 5) - h + int32(s[i])
	}
	if h < 0 {
		h = -h
	}
	return uint32(h)
}

// lcg is a small linear-congruential generator; the modulus keeps state
// well inside 32 bits so the sequence is identical on every platform.
type lcg struct {
	state uint32
}

func (g *lcg) next() float64 {
	g.state = (g.state*9301 + 49297) % 233280
	return float64(g.state) / 233280
}

// OptionPermutation returns the order in which a player sees the options:
// slot i of the player's view shows original option perm[i]. The result is
// always a bijection over [0, optionCount).
func OptionPermutation(optionCount int, seed uint32) []int {
	perm := make([]int, optionCount)
	for i := range perm {
		perm[i] = i
	}
	g := lcg{state: seed}
	for i := optionCount - 1; i > 0; i-- {
		j := int(g.next() * float64(i+1))
		perm[i], perm[j] = perm[j], perm[i]
	}
	return perm
}

// displayedIndex returns the player-view slot holding the given canonical
// option index, or -1 if the permutation does not contain it.
func displayedIndex(perm []int, canonical int) int {
	for i, v := range perm {
		if v == canonical {
			return i
		}
	}
	return -1
}
