package coin

import (
	"fmt"
	"sort"

	"github.com/juju/errors"
)

// Resolver maps pulse count of a finished group to credits.
// ok=false means the count is not a known coin and no credit is granted.
type Resolver interface {
	Resolve(pulses int) (credits int, ok bool)
	String() string
}

const (
	PolicyExact     = "exact"
	PolicyTolerance = "tolerance"
)

// Nominal is one accepted coin: acceptor emits Pulses for it and it is worth Credits.
type Nominal struct {
	Pulses  int
	Credits int
}

// ExactTable resolves only pulse counts listed verbatim.
type ExactTable map[int]int

func (self ExactTable) Resolve(pulses int) (int, bool) {
	credits, ok := self[pulses]
	return credits, ok
}

func (self ExactTable) String() string { return fmt.Sprintf("exact%v", map[int]int(self)) }

// ToleranceTable resolves to the nominal closest to pulse count,
// if distance is within Tolerance. Ties go to smaller nominal count.
type ToleranceTable struct {
	Nominals  []Nominal // sorted by Pulses
	Tolerance int
}

func (self *ToleranceTable) Resolve(pulses int) (int, bool) {
	best, bestDist := -1, self.Tolerance+1
	for i, n := range self.Nominals {
		dist := pulses - n.Pulses
		if dist < 0 {
			dist = -dist
		}
		// strict less keeps first, i.e. smaller nominal, on tie
		if dist < bestDist {
			best, bestDist = i, dist
		}
	}
	if best < 0 {
		return 0, false
	}
	return self.Nominals[best].Credits, true
}

func (self *ToleranceTable) String() string {
	return fmt.Sprintf("tolerance(%d)%v", self.Tolerance, self.Nominals)
}

// NewResolver validates nominals and builds resolver for policy.
func NewResolver(policy string, nominals []Nominal, tolerance int) (Resolver, error) {
	if len(nominals) == 0 {
		return nil, errors.NotValidf("coin values empty")
	}
	seen := make(map[int]struct{}, len(nominals))
	for _, n := range nominals {
		if n.Pulses <= 0 || n.Credits <= 0 {
			return nil, errors.NotValidf("coin value pulses=%d credits=%d", n.Pulses, n.Credits)
		}
		if _, dup := seen[n.Pulses]; dup {
			return nil, errors.NotValidf("coin value duplicate pulses=%d", n.Pulses)
		}
		seen[n.Pulses] = struct{}{}
	}

	switch policy {
	case PolicyExact, "":
		t := make(ExactTable, len(nominals))
		for _, n := range nominals {
			t[n.Pulses] = n.Credits
		}
		return t, nil

	case PolicyTolerance:
		if tolerance < 0 {
			return nil, errors.NotValidf("coin tolerance=%d", tolerance)
		}
		sorted := make([]Nominal, len(nominals))
		copy(sorted, nominals)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i].Pulses < sorted[j].Pulses })
		return &ToleranceTable{Nominals: sorted, Tolerance: tolerance}, nil
	}
	return nil, errors.NotSupportedf("coin resolve policy=%s", policy)
}
