// Package aggregate holds the pure aggregation logic: aggregate key
// construction and folding of extracted rows into per-key deltas. The
// atomic application of deltas is the repository's job, so two concurrent
// uploads touching the same key can never lose a contribution.
package aggregate

import (
	"sort"
	"strings"

	"github.com/stocktally/stocktally/internal/domain/ingest/normalizer"
)

// Key identifies one logical inventory item across all files:
// (normalized item id | empty, normalized name, normalized unit).
type Key string

const keySeparator = "\x1f"

// ComputeKey builds the aggregate key from raw cell values. Normalization
// guarantees that "Kg", " kg " and "KG" land on the same key.
func ComputeKey(itemID, name, unit string) Key {
	return Key(strings.Join([]string{
		normalizer.Key(itemID),
		normalizer.Key(name),
		normalizer.Key(unit),
	}, keySeparator))
}

// Contribution is one row's worth of quantity for a key.
type Contribution struct {
	ItemID   string
	Name     string
	Unit     string
	Quantity float64
}

// Delta is the per-key net change a set of contributions produces.
// Count tracks the number of contributing rows, not distinct files.
type Delta struct {
	Key      Key
	ItemID   string
	Name     string
	Unit     string
	Quantity float64
	Count    int
}

// Fold merges contributions into one delta per key, in a stable key order.
// The first contribution seen for a key supplies the display fields; later
// rows only add quantity, so cosmetic differences ("Flour" vs "flour") never
// split a logical item.
func Fold(contribs []Contribution) []Delta {
	byKey := make(map[Key]*Delta, len(contribs))
	for _, c := range contribs {
		key := ComputeKey(c.ItemID, c.Name, c.Unit)
		d, ok := byKey[key]
		if !ok {
			d = &Delta{
				Key:    key,
				ItemID: normalizer.CleanText(c.ItemID),
				Name:   normalizer.CleanText(c.Name),
				Unit:   normalizer.CleanText(c.Unit),
			}
			byKey[key] = d
		}
		d.Quantity += c.Quantity
		d.Count++
	}

	deltas := make([]Delta, 0, len(byKey))
	for _, d := range byKey {
		deltas = append(deltas, *d)
	}
	sort.Slice(deltas, func(i, j int) bool { return deltas[i].Key < deltas[j].Key })
	return deltas
}
