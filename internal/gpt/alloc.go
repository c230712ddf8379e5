package gpt

import "sort"

// region is an inclusive LBA range.
type region struct {
	first, last uint64
}

// FindFreeRegion returns the largest contiguous free region within
// [FirstUsableLBA, LastUsableLBA], sweeping the sorted present entries
// and also considering the gap before the first entry and after the
// last one (spec §4.2 "Find free region"). ok is false if every LBA in
// the usable area is occupied.
func (t *Table) FindFreeRegion() (start, end uint64, ok bool) {
	var occupied []region
	t.IteratePresent(func(_ int, e *PartitionEntry) bool {
		occupied = append(occupied, region{e.StartingLBA, e.EndingLBA})
		return true
	})
	sort.Slice(occupied, func(i, j int) bool { return occupied[i].first < occupied[j].first })

	cursor := t.Header.FirstUsableLBA
	var bestStart, bestEnd uint64
	var bestLen uint64

	consider := func(gapStart, gapEnd uint64) {
		if gapEnd < gapStart {
			return
		}
		length := gapEnd - gapStart + 1
		if length > bestLen {
			bestLen = length
			bestStart = gapStart
			bestEnd = gapEnd
		}
	}

	for _, r := range occupied {
		if r.first > cursor {
			consider(cursor, r.first-1)
		}
		if r.last+1 > cursor {
			cursor = r.last + 1
		}
	}
	if cursor <= t.Header.LastUsableLBA {
		consider(cursor, t.Header.LastUsableLBA)
	}

	if bestLen == 0 {
		return 0, 0, false
	}
	return bestStart, bestEnd, true
}
