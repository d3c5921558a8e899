/*
Package ratecard provides JSON to Go work unit conversion.

PURPOSE:
  Converts JSON rate cards into payroll.WorkUnit values. Rates are set by a
  pricing authority outside the engine; this package only parses, validates
  and looks them up. A WorkRecord copies its unit's rates at creation, so
  changing the card never reprices recorded work.

JSON SCHEMA:
  {
    "name": "Plastering 2025",
    "units": [
      {"id": "walls",   "task_type": "Wall plastering",   "rate_per_m2": 18},
      {"id": "corners", "task_type": "Corner beads",      "rate_per_ml": 15}
    ]
  }

  Rates may be JSON numbers or strings ("18.50"). Either rate may be zero,
  but not both.

USAGE:
  card, err := ratecard.Parse(jsonString)
  unit, err := card.Lookup("walls")

  // Built-in plastering card
  card := ratecard.Standard()

SEE ALSO:
  - payroll/types.go: WorkUnit
  - store/sqlite/sqlite.go: work_units table
*/
package ratecard

import (
	"encoding/json"
	"strings"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/warp/piecework-payroll/payroll"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// CardJSON is the JSON representation of a rate card.
type CardJSON struct {
	Name  string     `json:"name"`
	Units []UnitJSON `json:"units"`
}

// UnitJSON is one priced task type.
type UnitJSON struct {
	ID        string           `json:"id"`
	TaskType  string           `json:"task_type"`
	RatePerM2 *decimal.Decimal `json:"rate_per_m2,omitempty"`
	RatePerML *decimal.Decimal `json:"rate_per_ml,omitempty"`
}

// =============================================================================
// CARD
// =============================================================================

// Card is a validated set of work units, kept in input order.
type Card struct {
	Name  string
	Units []payroll.WorkUnit
	index map[payroll.WorkUnitID]int
}

// Parse parses and validates a JSON rate card.
func Parse(jsonStr string) (*Card, error) {
	var cj CardJSON
	if err := json.Unmarshal([]byte(jsonStr), &cj); err != nil {
		return nil, errors.Wrap(err, "failed to parse rate card JSON")
	}
	return FromJSON(cj)
}

// FromJSON validates cj and converts it to a Card.
func FromJSON(cj CardJSON) (*Card, error) {
	units := make([]payroll.WorkUnit, 0, len(cj.Units))
	for i, uj := range cj.Units {
		u, err := ParseUnit(uj)
		if err != nil {
			return nil, errors.Wrapf(err, "unit %d", i)
		}
		units = append(units, u)
	}
	return New(cj.Name, units...)
}

// ParseUnit validates a single unit.
func ParseUnit(uj UnitJSON) (payroll.WorkUnit, error) {
	id := strings.TrimSpace(uj.ID)
	if id == "" {
		return payroll.WorkUnit{}, errors.New("work unit id is required")
	}

	u := payroll.WorkUnit{
		ID:                 payroll.WorkUnitID(id),
		TaskType:           strings.TrimSpace(uj.TaskType),
		RatePerSquareMeter: decimal.Zero,
		RatePerLinearMeter: decimal.Zero,
	}
	if u.TaskType == "" {
		u.TaskType = id
	}
	if uj.RatePerM2 != nil {
		u.RatePerSquareMeter = *uj.RatePerM2
	}
	if uj.RatePerML != nil {
		u.RatePerLinearMeter = *uj.RatePerML
	}
	if err := Validate(u); err != nil {
		return payroll.WorkUnit{}, err
	}
	return u, nil
}

// Validate checks that both rates are non-negative and at least one is set.
func Validate(u payroll.WorkUnit) error {
	switch {
	case u.ID == "":
		return errors.New("work unit id is required")
	case u.RatePerSquareMeter.IsNegative(), u.RatePerLinearMeter.IsNegative():
		return errors.Errorf("work unit %q: rates must not be negative", u.ID)
	case u.RatePerSquareMeter.IsZero() && u.RatePerLinearMeter.IsZero():
		return errors.Errorf("work unit %q: at least one rate must be set", u.ID)
	}
	return nil
}

// New builds a Card from already-constructed units. Duplicate ids fail.
func New(name string, units ...payroll.WorkUnit) (*Card, error) {
	c := &Card{Name: name, index: make(map[payroll.WorkUnitID]int, len(units))}
	for _, u := range units {
		if err := Validate(u); err != nil {
			return nil, err
		}
		if _, dup := c.index[u.ID]; dup {
			return nil, errors.Errorf("duplicate work unit %q", u.ID)
		}
		c.index[u.ID] = len(c.Units)
		c.Units = append(c.Units, u)
	}
	return c, nil
}

// Lookup returns payroll.ErrUnknownWorkUnit for ids not on the card.
func (c *Card) Lookup(id payroll.WorkUnitID) (payroll.WorkUnit, error) {
	i, ok := c.index[id]
	if !ok {
		return payroll.WorkUnit{}, errors.Wrapf(payroll.ErrUnknownWorkUnit, "work unit %q", id)
	}
	return c.Units[i], nil
}

// =============================================================================
// STANDARD CARD
// =============================================================================

const (
	UnitWalls         payroll.WorkUnitID = "walls"
	UnitCeilings      payroll.WorkUnitID = "ceilings"
	UnitCorners       payroll.WorkUnitID = "corners"
	UnitWindowReveals payroll.WorkUnitID = "window-reveals"

	// UnitWallsWithCorners prices a room by area plus corner beads.
	UnitWallsWithCorners payroll.WorkUnitID = "walls-corners"
)

// StandardJSON is the built-in plastering rate card.
const StandardJSON = `{
  "name": "Standard plastering",
  "units": [
    {"id": "walls",          "task_type": "Wall plastering",          "rate_per_m2": 18},
    {"id": "ceilings",       "task_type": "Ceiling plastering",       "rate_per_m2": 22},
    {"id": "corners",        "task_type": "Corner beads",             "rate_per_ml": 15},
    {"id": "window-reveals", "task_type": "Window reveals",           "rate_per_ml": 15},
    {"id": "walls-corners",  "task_type": "Walls with corner beads",  "rate_per_m2": 18, "rate_per_ml": 15}
  ]
}`

// Standard returns the built-in card. It panics only if StandardJSON is
// malformed.
func Standard() *Card {
	c, err := Parse(StandardJSON)
	if err != nil {
		panic(err)
	}
	return c
}
