/*
batch.go - Batch payroll run

PURPOSE:
  Rebuilds the PayrollRecords of many employees for one period. Builds run
  concurrently (bounded) since records of different employees share no
  mutable state.

FAILURE POLICY:
  A failure for one employee never aborts the others. Each failure is
  reported in BatchResult.Failures and the run continues. Only context
  cancellation stops the run early.
*/
package payroll

import (
	"context"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

type BatchFailure struct {
	EmployeeID EmployeeID `json:"employee_id"`
	Err        error      `json:"-"`
	Message    string     `json:"error"`
}

type BatchResult struct {
	Period   Period                 `json:"period"`
	Records  []PayrollRecord        `json:"records"`
	Failures []BatchFailure         `json:"failures"`
	Warnings []NegativeGrossWarning `json:"warnings"`
}

// RunBatch rebuilds and persists every employee's record for period.
// concurrency <= 0 means one build at a time. Records and Failures keep
// the order of employees.
func (s *Service) RunBatch(ctx context.Context, period Period, employees []EmployeeID, concurrency int) (BatchResult, error) {
	if concurrency <= 0 {
		concurrency = 1
	}

	type outcome struct {
		rec PayrollRecord
		err error
	}
	outcomes := make([]outcome, len(employees))

	var g errgroup.Group
	g.SetLimit(concurrency)
	for i, employeeID := range employees {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				outcomes[i].err = err
				return nil
			}
			rec, err := s.Rebuild(ctx, employeeID, period)
			outcomes[i] = outcome{rec: rec, err: err}
			return nil
		})
	}
	_ = g.Wait()

	result := BatchResult{
		Period:   period,
		Records:  []PayrollRecord{},
		Failures: []BatchFailure{},
		Warnings: []NegativeGrossWarning{},
	}
	for i, o := range outcomes {
		if o.err != nil {
			s.Log.WithError(o.err).WithFields(logrus.Fields{
				"employee_id": employees[i],
				"period":      period.String(),
			}).Error("payroll rebuild failed")
			result.Failures = append(result.Failures, BatchFailure{
				EmployeeID: employees[i],
				Err:        o.err,
				Message:    o.err.Error(),
			})
			continue
		}
		result.Records = append(result.Records, o.rec)
		if o.rec.NegativeGross != nil {
			result.Warnings = append(result.Warnings, *o.rec.NegativeGross)
		}
	}

	return result, ctx.Err()
}
