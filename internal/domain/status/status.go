// Package status defines the order and shipment lifecycle vocabulary.
package status

import (
	"strings"

	"github.com/go-faster/errors"
)

// Status is a step in the order lifecycle. The string value is the
// display name used by collaborators.
type Status string

const (
	Pending        Status = "Pending"
	Processing     Status = "Processing"
	Confirmed      Status = "Confirmed"
	Shipped        Status = "Shipped"
	InTransit      Status = "In Transit"
	OutForDelivery Status = "Out for Delivery"
	Delivered      Status = "Delivered"
	Cancelled      Status = "Cancelled"
)

// ErrUnknown is returned by Parse for values outside the vocabulary.
var ErrUnknown = errors.New("unknown status")

// ordered lists the forward lifecycle. Cancelled sits outside it.
var ordered = []Status{
	Pending,
	Processing,
	Confirmed,
	Shipped,
	InTransit,
	OutForDelivery,
	Delivered,
}

// All returns every status, forward lifecycle first, then Cancelled.
func All() []Status {
	out := make([]Status, 0, len(ordered)+1)
	out = append(out, ordered...)
	return append(out, Cancelled)
}

// Parse resolves a status name case-insensitively.
func Parse(s string) (Status, error) {
	s = strings.TrimSpace(s)
	for _, st := range All() {
		if strings.EqualFold(string(st), s) {
			return st, nil
		}
	}
	return "", errors.Wrapf(ErrUnknown, "%q", s)
}

// Valid reports whether s is part of the vocabulary.
func (s Status) Valid() bool {
	return s.rank() >= 0 || s == Cancelled
}

// Terminal reports whether no further transitions are expected.
func (s Status) Terminal() bool {
	return s == Delivered || s == Cancelled
}

func (s Status) String() string { return string(s) }

func (s Status) rank() int {
	for i, st := range ordered {
		if st == s {
			return i
		}
	}
	return -1
}

// CanTransition reports whether moving from one status to another follows
// the forward-only graph: a status may repeat itself or advance along the
// lifecycle (skipping is allowed), Cancelled is reachable from any
// non-terminal status, and terminal statuses accept nothing but themselves.
func CanTransition(from, to Status) bool {
	if !from.Valid() || !to.Valid() {
		return false
	}
	if from == to {
		return true
	}
	if from.Terminal() {
		return false
	}
	if to == Cancelled {
		return true
	}
	return to.rank() > from.rank()
}
