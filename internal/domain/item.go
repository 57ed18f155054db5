package domain

import (
	"sort"
	"strconv"
	"strings"
)

// Region locates a tooth in the mouth.
type Region string

const (
	RegionUpperAnterior  Region = "anterior-superior"
	RegionUpperPosterior Region = "posterior-superior"
	RegionLowerAnterior  Region = "anterior-inferior"
	RegionLowerPosterior Region = "posterior-inferior"
	RegionWholeArch      Region = "arcada"
)

// Priority ranks how urgently an item should be treated.
type Priority string

const (
	PriorityHigh   Priority = "alta"
	PriorityMedium Priority = "média"
	PriorityLow    Priority = "baixa"
)

// SoftTissueItemID is the virtual item standing for a whole-mouth
// soft-tissue procedure. It is never backed by a detected tooth.
const SoftTissueItemID = "GENGIVO"

// DetectedItem is one tooth (or virtual unit) found by analysis or added by
// design integration. Items are replaced as a whole list, never patched.
type DetectedItem struct {
	ItemID              string        `json:"item_id"`
	Region              Region        `json:"region"`
	CavityClass         string        `json:"cavity_class,omitempty"`
	RestorationSize     string        `json:"restoration_size,omitempty"`
	Substrate           string        `json:"substrate,omitempty"`
	SubstrateCondition  string        `json:"substrate_condition,omitempty"`
	EnamelCondition     string        `json:"enamel_condition,omitempty"`
	Depth               string        `json:"depth,omitempty"`
	Priority            Priority      `json:"priority"`
	TreatmentIndication TreatmentType `json:"treatment_indication,omitempty"`
	IndicationReason    string        `json:"indication_reason,omitempty"`
	Primary             bool          `json:"primary,omitempty"`
}

// IsVirtualItem reports whether id names a virtual unit instead of a tooth.
func IsVirtualItem(id string) bool {
	_, ok := ToothNumber(id)
	return !ok
}

// ToothNumber parses a two-digit FDI tooth identifier.
func ToothNumber(id string) (int, bool) {
	n, err := strconv.Atoi(strings.TrimSpace(id))
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

// CanonicalItemID trims id and drops leading zeros from tooth numbers so
// "011" and "11" name the same item. Virtual ids are only trimmed.
func CanonicalItemID(id string) string {
	id = strings.TrimSpace(id)
	if n, ok := ToothNumber(id); ok {
		return strconv.Itoa(n)
	}
	return id
}

// RegionForTooth derives the region from an FDI id: quadrants 1-2 (and the
// deciduous 5-6) are upper, 3-4 (7-8) lower; positions 1-3 are anterior.
func RegionForTooth(id string) Region {
	n, ok := ToothNumber(id)
	if !ok {
		return RegionWholeArch
	}
	quadrant, position := n/10, n%10
	upper := quadrant == 1 || quadrant == 2 || quadrant == 5 || quadrant == 6
	anterior := position >= 1 && position <= 3
	switch {
	case upper && anterior:
		return RegionUpperAnterior
	case upper:
		return RegionUpperPosterior
	case anterior:
		return RegionLowerAnterior
	default:
		return RegionLowerPosterior
	}
}

// SortItems orders items by numeric tooth id ascending; virtual items sort
// after every tooth, by id.
func SortItems(items []DetectedItem) {
	sort.SliceStable(items, func(i, j int) bool {
		return LessItemID(items[i].ItemID, items[j].ItemID)
	})
}

// SortItemIDs orders ids with the same rule as SortItems.
func SortItemIDs(ids []string) {
	sort.SliceStable(ids, func(i, j int) bool { return LessItemID(ids[i], ids[j]) })
}

// LessItemID orders tooth ids numerically, virtual ids last.
func LessItemID(a, b string) bool {
	na, okA := ToothNumber(a)
	nb, okB := ToothNumber(b)
	switch {
	case okA && okB:
		return na < nb
	case okA:
		return true
	case okB:
		return false
	default:
		return a < b
	}
}

// FindItem returns the item with id.
func FindItem(items []DetectedItem, id string) (DetectedItem, bool) {
	for _, item := range items {
		if item.ItemID == id {
			return item, true
		}
	}
	return DetectedItem{}, false
}

// PrimaryItem returns the item flagged primary, else the item matching
// primaryID, else the first item.
func PrimaryItem(items []DetectedItem, primaryID string) (DetectedItem, bool) {
	if len(items) == 0 {
		return DetectedItem{}, false
	}
	for _, item := range items {
		if item.Primary {
			return item, true
		}
	}
	if primaryID != "" {
		if item, ok := FindItem(items, primaryID); ok {
			return item, true
		}
	}
	return items[0], true
}

func cloneItems(in []DetectedItem) []DetectedItem {
	if in == nil {
		return nil
	}
	out := make([]DetectedItem, len(in))
	copy(out, in)
	return out
}
