package book

import (
	"sort"
	"strconv"
)

// Labels is an immutable page order with constant time lookup.
type Labels struct {
	order []string
	index map[string]int
}

// NewLabels builds the lookup table. Repeated labels keep their first position.
func NewLabels(order []string) *Labels {
	l := &Labels{index: make(map[string]int, len(order))}
	for _, s := range order {
		if _, dup := l.index[s]; dup {
			continue
		}
		l.index[s] = len(l.order)
		l.order = append(l.order, s)
	}
	return l
}

// Index returns the position of label or -1.
func (l *Labels) Index(label string) int {
	if l == nil {
		return -1
	}
	if i, ok := l.index[label]; ok {
		return i
	}
	return -1
}

// At returns the label at i or "" when i is out of range.
func (l *Labels) At(i int) string {
	if l == nil || i < 0 || i >= len(l.order) {
		return ""
	}
	return l.order[i]
}

// Len returns the number of pages.
func (l *Labels) Len() int {
	if l == nil {
		return 0
	}
	return len(l.order)
}

// Contains reports whether label is part of the order.
func (l *Labels) Contains(label string) bool {
	return l.Index(label) >= 0
}

// SortLabels returns authoritative when it is not empty. Otherwise keys are
// sorted numerically when both sides parse as integers and lexicographically
// when they do not.
func SortLabels(authoritative, keys []string) []string {
	if len(authoritative) > 0 {
		return authoritative
	}
	out := append([]string(nil), keys...)
	sort.SliceStable(out, func(i, j int) bool {
		a, aok := Numeric(out[i])
		b, bok := Numeric(out[j])
		if aok && bok {
			return a < b
		}
		return out[i] < out[j]
	})
	return out
}

// Numeric parses a page label as an integer.
func Numeric(label string) (int, bool) {
	n, err := strconv.Atoi(label)
	if err != nil {
		return 0, false
	}
	return n, true
}
