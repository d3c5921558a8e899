package main

import (
	"encoding/json"
	"os"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/warp/piecework-payroll/payroll"
)

// rebuildCmd runs a batch payroll rebuild and prints the result as JSON.
// Per-employee failures are reported in the output; the command only fails
// when the run itself cannot start or is interrupted.
var rebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Rebuild payroll records for a period",
	Long: `Rebuild and persist the PayrollRecord of every employee (or the ones
given with --employee) for one period. Failures for one employee never stop
the others.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		periodFlag, _ := cmd.Flags().GetString("period")
		period, err := payroll.ParsePeriod(periodFlag)
		if err != nil {
			return err
		}
		ids, _ := cmd.Flags().GetStringSlice("employee")

		a, err := bootstrap(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		ctx := cmd.Context()
		var employees []payroll.EmployeeID
		for _, id := range ids {
			employees = append(employees, payroll.EmployeeID(id))
		}
		if len(employees) == 0 {
			employees, err = a.Store.ListEmployeeIDs(ctx)
			if err != nil {
				return err
			}
		}

		result, err := a.Service.RunBatch(ctx, period, employees, a.Config.Payroll.BatchConcurrency)
		if err != nil {
			return errors.Wrap(err, "payroll run interrupted")
		}

		a.Log.WithFields(logrus.Fields{
			"period":   period.String(),
			"records":  len(result.Records),
			"failures": len(result.Failures),
			"warnings": len(result.Warnings),
		}).Info("payroll run finished")

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	},
}

func init() {
	rootCmd.AddCommand(rebuildCmd)

	rebuildCmd.Flags().String("period", "", "Pay period (YYYY-MM)")
	rebuildCmd.Flags().StringSlice("employee", nil, "Employee id to rebuild (repeatable, default: all)")
	_ = rebuildCmd.MarkFlagRequired("period")
}
