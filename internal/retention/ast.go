// Package retention implements the retention expression language: parsing,
// canonicalisation, and evaluation of the age-tiered keep/drop policy
// applied to a snapshot set on both the source and destination side of a
// job.
package retention

import (
	"fmt"
	"time"
)

// Unit is a calendar interval used by a PerInterval keep spec.
type Unit int

const (
	Hour Unit = iota
	Day
	Week
	Month
	Year
)

func (u Unit) String() string {
	switch u {
	case Hour:
		return "h"
	case Day:
		return "d"
	case Week:
		return "w"
	case Month:
		return "m"
	case Year:
		return "y"
	default:
		return "?"
	}
}

// Mode distinguishes the three shapes a Keep value can take.
type Mode int

const (
	// All keeps every snapshot assigned to the tier.
	All Mode = iota
	// None keeps no snapshot assigned to the tier.
	None
	// Interval keeps N snapshots per calendar bucket of Unit, where buckets
	// are themselves grouped into runs of Multiplier (e.g. 1/4m keeps one
	// snapshot per run of 4 calendar months).
	Interval
	// Recent keeps the N most recent snapshots assigned to the tier and
	// drops the rest, independent of any calendar bucketing. This is the
	// desugaring target of the lone-integer shorthand ("keep N most
	// recent, drop rest").
	Recent
)

// Keep is the tagged-sum retention action for a single age tier.
type Keep struct {
	Mode       Mode
	N          uint32 // valid when Mode == Interval or Recent
	Unit       Unit   // valid when Mode == Interval
	Multiplier uint32 // valid when Mode == Interval, always >= 1
}

func (k Keep) String() string {
	switch k.Mode {
	case All:
		return "all"
	case None:
		return "none"
	case Interval:
		if k.Multiplier > 1 {
			return fmt.Sprintf("%d/%d%s", k.N, k.Multiplier, k.Unit)
		}
		return fmt.Sprintf("%d/%s", k.N, k.Unit)
	case Recent:
		return fmt.Sprintf("%d", k.N)
	default:
		return "?"
	}
}

// Rule binds an age threshold to a Keep action. A snapshot whose age is
// greater than or equal to Age, and less than the next rule's Age, is
// assigned to this tier.
type Rule struct {
	Age  time.Duration
	Keep Keep
}

// Expression is a canonicalised retention policy: rules sorted ascending by
// Age, always terminated by an implicit or explicit +Inf:none tier.
type Expression struct {
	Rules []Rule
}

// String renders the expression back in source grammar form, rules joined
// by commas in the canonical age-ascending order. The trailing implicit
// +Inf:none tier is omitted since it cannot be written back as a duration.
// A lone-integer expression renders as the bare integer.
func (e Expression) String() string {
	if len(e.Rules) > 0 && e.Rules[0].Keep.Mode == Recent {
		return e.Rules[0].Keep.String()
	}
	s := ""
	for i, r := range e.Rules {
		if r.Age == infiniteAge {
			continue
		}
		if i > 0 {
			s += ", "
		}
		s += fmt.Sprintf("%s:%s", formatDuration(r.Age), r.Keep)
	}
	return s
}
