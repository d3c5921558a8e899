/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the database with realistic
	data for testing and demos. Each scenario seeds the standard rate card
	and a crew of plasterers, then records work and reviews through the
	payroll service exactly as the API would.

AVAILABLE SCENARIOS (all in period 2025-03):

	full-approval:    85.5 m2 walls approved at 100%          → 1539.00
	partial-approval: Walls + corner beads approved at 80%    → 1618.80 / 404.70
	bonus-deduction:  Both of the above, +300 bonus, -1000    → gross 2457.80
	rejection:        One approved item, one rejected at 0%   → processing
	re-review:        Approved item re-reviewed at 90%        → history kept

HOW SCENARIOS WORK:
 1. Reset database (clear all data) and the record cache
 2. Seed the standard rate card and employees
 3. Record work through payroll.Service
 4. Submit reviews, bonuses and deductions through payroll.Service

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "bonus-deduction"}

ADDING NEW SCENARIOS:
 1. Add to 'scenarios' slice with ID, name, description
 2. Create loader function: loadXxxScenario(ctx, h)
 3. Add case to loadScenario

NOTE:

	Scenarios reset the database. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: Handler
  - ratecard/ratecard.go: Standard rate card
*/
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/piecework-payroll/payroll"
	"github.com/warp/piecework-payroll/ratecard"
	"github.com/warp/piecework-payroll/store/sqlite"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

// ScenarioPeriod is the pay period every scenario records work in.
var ScenarioPeriod = payroll.Period{Year: 2025, Month: time.March}

var scenarios = []ScenarioDTO{
	{
		ID:          "full-approval",
		Name:        "Full Approval",
		Description: "85.5 m2 of wall plastering approved at 100%",
		Category:    "review",
	},
	{
		ID:          "partial-approval",
		Name:        "Partial Approval",
		Description: "Walls and corner beads approved at 80%, corrections pending",
		Category:    "review",
	},
	{
		ID:          "bonus-deduction",
		Name:        "Bonus & Deduction",
		Description: "Two reviewed records, a quality bonus and an advance deduction",
		Category:    "payroll",
	},
	{
		ID:          "rejection",
		Name:        "Rejected Work",
		Description: "One approved record and one rejected record awaiting rework",
		Category:    "review",
	},
	{
		ID:          "re-review",
		Name:        "Re-Review",
		Description: "An approved record re-reviewed at a lower percent, history kept",
		Category:    "review",
	},
}

var scenarioEmployees = []sqlite.Employee{
	{ID: "emp-001", Name: "Marco Rossi", Email: "marco.rossi@example.com", HireDate: time.Date(2021, 4, 12, 0, 0, 0, 0, time.UTC)},
	{ID: "emp-002", Name: "Ana Silva", Email: "ana.silva@example.com", HireDate: time.Date(2023, 9, 1, 0, 0, 0, 0, time.UTC)},
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	if h.currentScenario == "" {
		writeJSON(w, http.StatusOK, nil)
		return
	}

	for _, s := range scenarios {
		if s.ID == h.currentScenario {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}

	writeJSON(w, http.StatusOK, ScenarioDTO{
		ID:          h.currentScenario,
		Name:        h.currentScenario,
		Description: "Currently loaded scenario",
	})
}

// LoadScenario loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if !knownScenario(req.ScenarioID) {
		writeError(w, http.StatusBadRequest, "Unknown scenario", fmt.Errorf("scenario %q not found", req.ScenarioID))
		return
	}

	if err := h.loadScenario(r.Context(), req.ScenarioID); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load scenario", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":   "ok",
		"scenario": req.ScenarioID,
		"period":   ScenarioPeriod.String(),
	})
}

// ResetDatabase clears all data.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if err := h.reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func knownScenario(id string) bool {
	for _, s := range scenarios {
		if s.ID == id {
			return true
		}
	}
	return false
}

func (h *Handler) reset(ctx context.Context) error {
	if err := h.Store.Reset(ctx); err != nil {
		return err
	}
	h.Service.Cache.Reset()
	h.currentScenario = ""
	return nil
}

func (h *Handler) loadScenario(ctx context.Context, id string) error {
	if err := h.reset(ctx); err != nil {
		return err
	}
	if err := h.seed(ctx); err != nil {
		return err
	}

	var err error
	switch id {
	case "full-approval":
		err = loadFullApprovalScenario(ctx, h)
	case "partial-approval":
		err = loadPartialApprovalScenario(ctx, h)
	case "bonus-deduction":
		err = loadBonusDeductionScenario(ctx, h)
	case "rejection":
		err = loadRejectionScenario(ctx, h)
	case "re-review":
		err = loadReReviewScenario(ctx, h)
	default:
		err = fmt.Errorf("scenario %q not found", id)
	}
	if err != nil {
		return fmt.Errorf("scenario %s: %w", id, err)
	}

	h.currentScenario = id
	h.Log.WithField("scenario", id).Info("scenario loaded")
	return nil
}

// seed loads the standard rate card and the scenario crew.
func (h *Handler) seed(ctx context.Context) error {
	for _, u := range ratecard.Standard().Units {
		if err := h.Store.SaveWorkUnit(ctx, u); err != nil {
			return err
		}
	}
	for _, emp := range scenarioEmployees {
		if err := h.Store.SaveEmployee(ctx, emp); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

// loadFullApprovalScenario: 85.5 m2 × 18 = 1539.00, approved at 100%.
func loadFullApprovalScenario(ctx context.Context, h *Handler) error {
	rec, err := h.recordWork(ctx, "emp-001", "A-12 living room", ratecard.UnitWalls, "85.5", "0")
	if err != nil {
		return err
	}
	_, err = h.approve(ctx, rec.ID, "", "100")
	return err
}

// loadPartialApprovalScenario: 92 m2 × 18 + 24.5 ml × 15 = 2023.50, 80%.
func loadPartialApprovalScenario(ctx context.Context, h *Handler) error {
	rec, err := h.recordWork(ctx, "emp-001", "A-14 bedrooms", ratecard.UnitWallsWithCorners, "92.0", "24.5")
	if err != nil {
		return err
	}
	_, err = h.partial(ctx, rec.ID, "", "80", "Corner beads uneven in bedroom 2")
	return err
}

// loadBonusDeductionScenario: 1539.00 + 1618.80 + 300 - 1000 = 2457.80.
func loadBonusDeductionScenario(ctx context.Context, h *Handler) error {
	if err := loadFullApprovalScenario(ctx, h); err != nil {
		return err
	}
	if err := loadPartialApprovalScenario(ctx, h); err != nil {
		return err
	}

	if _, err := h.Service.AddBonus(ctx, payroll.BonusEntry{
		EmployeeID:  "emp-001",
		Period:      ScenarioPeriod,
		Type:        payroll.BonusQuality,
		Amount:      payroll.MustDecimal("300"),
		Description: "Finish quality above target",
	}); err != nil {
		return err
	}
	_, err := h.Service.AddDeduction(ctx, payroll.DeductionEntry{
		EmployeeID:  "emp-001",
		Period:      ScenarioPeriod,
		Type:        payroll.DeductionAdvance,
		Amount:      payroll.MustDecimal("1000"),
		Description: "Salary advance",
	})
	return err
}

// loadRejectionScenario: one approved record, one rejected awaiting rework.
func loadRejectionScenario(ctx context.Context, h *Handler) error {
	if err := loadFullApprovalScenario(ctx, h); err != nil {
		return err
	}

	rec, err := h.recordWork(ctx, "emp-001", "A-12 ceiling", ratecard.UnitCeilings, "30", "0")
	if err != nil {
		return err
	}
	deadline := time.Now().UTC().AddDate(0, 0, 14)
	_, err = h.Service.SubmitReview(ctx, rec.ID, payroll.ReviewInput{
		ReviewerID:        "coord-01",
		ApprovalPercent:   decimal.Zero,
		Feedback:          "Visible trowel marks across the whole ceiling",
		CorrectionsNeeded: "Skim coat and sand the ceiling",
		RevisionDeadline:  &deadline,
	})
	return err
}

// loadReReviewScenario: approved at 100%, then re-reviewed at 90%.
func loadReReviewScenario(ctx context.Context, h *Handler) error {
	rec, err := h.recordWork(ctx, "emp-002", "B-03 hallway", ratecard.UnitWalls, "85.5", "0")
	if err != nil {
		return err
	}
	first, err := h.approve(ctx, rec.ID, "", "100")
	if err != nil {
		return err
	}
	_, err = h.partial(ctx, rec.ID, first.ID, "90", "Hairline cracks found near the door frame")
	return err
}

// =============================================================================
// HELPERS
// =============================================================================

func (h *Handler) recordWork(ctx context.Context, emp payroll.EmployeeID, location string, unitID payroll.WorkUnitID, m2, ml string) (payroll.WorkRecord, error) {
	unit, err := h.Store.GetWorkUnit(ctx, unitID)
	if err != nil {
		return payroll.WorkRecord{}, err
	}
	return h.Service.RecordWork(ctx, payroll.WorkInput{
		EmployeeID:   emp,
		Period:       ScenarioPeriod,
		LocationRef:  location,
		WorkUnit:     unit,
		MetersSquare: payroll.MustDecimal(m2),
		MetersLinear: payroll.MustDecimal(ml),
	})
}

func (h *Handler) approve(ctx context.Context, id payroll.WorkRecordID, prior payroll.ReviewID, pct string) (payroll.QualityReview, error) {
	return h.Service.SubmitReview(ctx, id, payroll.ReviewInput{
		ReviewerID:      "coord-01",
		ApprovalPercent: payroll.MustDecimal(pct),
		Feedback:        "Clean finish",
		ExpectedPrior:   prior,
	})
}

func (h *Handler) partial(ctx context.Context, id payroll.WorkRecordID, prior payroll.ReviewID, pct, corrections string) (payroll.QualityReview, error) {
	deadline := time.Now().UTC().AddDate(0, 0, 7)
	return h.Service.SubmitReview(ctx, id, payroll.ReviewInput{
		ReviewerID:        "coord-01",
		ApprovalPercent:   payroll.MustDecimal(pct),
		CorrectionsNeeded: corrections,
		RevisionDeadline:  &deadline,
		ExpectedPrior:     prior,
	})
}
