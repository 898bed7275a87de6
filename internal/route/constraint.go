package route

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
)

// Policy selects how zone-crossing edges are treated.
type Policy int

const (
	// Exclude makes zone-crossing edges inadmissible.
	Exclude Policy = iota + 1
	// Penalize multiplies the length of zone-crossing edges.
	Penalize
)

// String returns the policy name.
func (p Policy) String() string {
	switch p {
	case Exclude:
		return "exclude"
	case Penalize:
		return "penalize"
	default:
		return "unknown"
	}
}

// ParsePolicy converts a name into a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "exclude":
		return Exclude, nil
	case "penalize", "penalise":
		return Penalize, nil
	default:
		return 0, eris.Errorf("route: unknown policy %q (valid: exclude, penalize)", s)
	}
}

// Constraint is the routing rule applied to edges that meet an exclusion zone.
type Constraint struct {
	Policy     Policy
	Multiplier float64 // Penalize only; must be >= 1
}

// ExcludeZones returns the exclude constraint.
func ExcludeZones() Constraint {
	return Constraint{Policy: Exclude}
}

// PenalizeZones returns a penalize constraint with the given multiplier.
func PenalizeZones(multiplier float64) Constraint {
	return Constraint{Policy: Penalize, Multiplier: multiplier}
}

// Validate checks the constraint is well-formed.
func (c Constraint) Validate() error {
	switch c.Policy {
	case Exclude:
		return nil
	case Penalize:
		if !(c.Multiplier >= 1) {
			return eris.Errorf("route: penalize multiplier %v must be >= 1", c.Multiplier)
		}
		return nil
	default:
		return eris.Errorf("route: unknown policy %d", c.Policy)
	}
}

// String renders the constraint for logs and run records.
func (c Constraint) String() string {
	if c.Policy == Penalize {
		return fmt.Sprintf("penalize x%g", c.Multiplier)
	}
	return c.Policy.String()
}
