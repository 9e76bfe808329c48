package events

import (
	"sort"

	"github.com/mioxtw/sol-wallet-monitor/internal/domain"
	"github.com/shopspring/decimal"
)

// DefaultEpsilon smallest amount difference reported to live clients.
var DefaultEpsilon = decimal.New(1, -12)

// Differ turns consecutive full captures into minimal batches. Not safe for concurrent use;
// every live client owns one.
type Differ struct {
	epsilon  decimal.Decimal
	previous map[string]domain.Summary
}

// NewDiffer creates a Differ with no previous capture, so the first Diff reports everything.
func NewDiffer(epsilon decimal.Decimal) *Differ {
	if epsilon.IsNegative() {
		epsilon = DefaultEpsilon
	}
	return &Differ{epsilon: epsilon}
}

// Diff compares the capture with the previous one and remembers it.
// ok is false when nothing changed.
func (d *Differ) Diff(current []domain.LiveEntry) (batch BatchUpdate, ok bool) {
	next := make(map[string]domain.Summary, len(current))
	var updates []UpdateEntry

	for _, e := range current {
		next[e.Summary.Address] = e.Summary
		if d.previous != nil {
			if prev, seen := d.previous[e.Summary.Address]; seen && !d.changed(prev, e.Summary) {
				continue
			}
		}
		updates = append(updates, UpdateEntry{Type: TypeUpdate, Wallet: newWalletPayload(e)})
	}

	removed := make([]string, 0)
	for address := range d.previous {
		if _, ok := next[address]; !ok {
			removed = append(removed, address)
		}
	}
	sort.Strings(removed)
	for _, address := range removed {
		updates = append(updates, UpdateEntry{Type: TypeDelete, Address: address})
	}

	d.previous = next
	if len(updates) == 0 {
		return BatchUpdate{}, false
	}
	return BatchUpdate{Type: TypeBatchUpdate, Updates: updates}, true
}

func (d *Differ) changed(prev, cur domain.Summary) bool {
	return d.differs(prev.SOL, cur.SOL) ||
		d.differs(prev.WSOL, cur.WSOL) ||
		d.differs(prev.Total, cur.Total) ||
		!prev.LastUpdate.Equal(cur.LastUpdate)
}

func (d *Differ) differs(a, b decimal.Decimal) bool {
	return a.Sub(b).Abs().GreaterThan(d.epsilon)
}
