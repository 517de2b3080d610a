package filter

// runeBuffer holds working text as runes alongside a parallel slice that
// tracks, for each surviving rune, its index in the pre-transform text.
// Because transforms only ever delete or substitute spans (never reorder),
// origin stays monotonically non-decreasing, which lets Reindex binary
// search its way from an old entity offset to the surviving offset.
type runeBuffer struct {
	runes  []rune
	origin []int
}

func newRuneBuffer(text string) *runeBuffer {
	runes := []rune(text)
	origin := make([]int, len(runes))
	for i := range runes {
		origin[i] = i
	}
	return &runeBuffer{runes: runes, origin: origin}
}

func (b *runeBuffer) String() string { return string(b.runes) }

func (b *runeBuffer) Len() int { return len(b.runes) }

// Delete removes the half-open rune range [start, end).
func (b *runeBuffer) Delete(start, end int) {
	b.runes = append(b.runes[:start], b.runes[end:]...)
	b.origin = append(b.origin[:start], b.origin[end:]...)
}

// Replace substitutes the half-open rune range [start, end) with repl.
// Replacement runes inherit the origin of the first removed rune (or, if
// start is at the end of the buffer, one past the last surviving rune's
// origin, and 0 for an empty buffer) so later re-indexing still has a sane
// anchor.
func (b *runeBuffer) Replace(start, end int, repl string) {
	anchor := len(b.String())
	if start < len(b.origin) {
		anchor = b.origin[start]
	} else if len(b.origin) > 0 {
		anchor = b.origin[len(b.origin)-1] + 1
	}

	replRunes := []rune(repl)
	replOrigin := make([]int, len(replRunes))
	for i := range replOrigin {
		replOrigin[i] = anchor
	}

	tailRunes := append([]rune{}, b.runes[end:]...)
	tailOrigin := append([]int{}, b.origin[end:]...)

	b.runes = append(b.runes[:start:start], replRunes...)
	b.runes = append(b.runes, tailRunes...)
	b.origin = append(b.origin[:start:start], replOrigin...)
	b.origin = append(b.origin, tailOrigin...)
}

// mapIndex finds the leftmost surviving position whose origin is >= target,
// i.e. where an original-text offset of `target` now lives. If every
// surviving rune originated before target, the mapping is the end of the
// buffer (the entity's tail was entirely removed).
func mapIndex(origin []int, target int) int {
	lo, hi := 0, len(origin)
	for lo < hi {
		mid := (lo + hi) / 2
		if origin[mid] >= target {
			hi = mid
		} else {
			lo = mid + 1
		}
	}
	return lo
}
