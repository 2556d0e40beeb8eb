package block

import (
	"fmt"
	"strconv"
	"strings"

	memerrors "mem-os/pkg/errors"
	"mem-os/pkg/types"
)

// NextID allocates the next BlockID for kind on date (YYYY-MM-DD, or ""
// for kinds whose IDs never carry a date), per the Prefix[-YYYYMMDD]-NNN
// grammar of spec §3.1. It scans existing for the highest counter
// already used by that (kind, date) pair and returns counter+1,
// zero-padded to three digits.
//
// Counters are scoped per day (spec §8: "ID counter rolls over at 999:
// next ID uses next day or raises CounterExhausted within a single
// day"). NextID itself never advances the date — a caller that hits the
// 999 ceiling must retry with tomorrow's date; within a single date it
// reports exhaustion as a ValidationError rather than inventing a
// CounterExhausted error kind outside spec §7's closed taxonomy.
func NextID(existing []*types.Block, kind types.BlockKind, date string) (string, error) {
	compact := strings.ReplaceAll(date, "-", "")

	max := 0
	for _, b := range existing {
		if b.Kind != kind {
			continue
		}
		parsed, ok := types.ParseBlockID(b.ID)
		if !ok || parsed.Date != compact {
			continue
		}
		n, err := strconv.Atoi(parsed.Counter)
		if err != nil {
			continue
		}
		if n > max {
			max = n
		}
	}
	if max >= 999 {
		return "", memerrors.Validation("block", "next_id",
			fmt.Sprintf("counter exhausted for kind %s on %s (CounterExhausted)", kind, date))
	}
	if compact == "" {
		return fmt.Sprintf("%s-%03d", kind, max+1), nil
	}
	return fmt.Sprintf("%s-%s-%03d", kind, compact, max+1), nil
}
