/*
main.go - Application entry point

PURPOSE:
  Command line for the piecework payroll service. Loads configuration,
  wires the SQLite store into the payroll service and runs a subcommand.

COMMANDS:
  serve     Start the HTTP API and the background rebuilder
  rebuild   Rebuild and persist PayrollRecords for one period

GLOBAL FLAGS:
  --config  Config file (default: config.yml, skipped when missing)

ENVIRONMENT:
  Every setting can be overridden by environment variables, see
  config/config.go (PAYROLL_PORT, PAYROLL_DB, PAYROLL_LOG_LEVEL, ...).

EXAMPLES:
  # Run with file database
  PAYROLL_DB=./data/payroll.db payroll serve

  # Run with in-memory database
  PAYROLL_DB=":memory:" payroll serve

  # Rebuild March for two employees
  payroll rebuild --period 2025-03 --employee emp-001 --employee emp-002

SEE ALSO:
  - serve.go, rebuild.go: Subcommands
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"os"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/warp/piecework-payroll/config"
	"github.com/warp/piecework-payroll/logging"
	"github.com/warp/piecework-payroll/payroll"
	"github.com/warp/piecework-payroll/store/sqlite"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "payroll",
	Short: "Piecework payroll service",
	Long: `Payroll computes measurement-based pay for plastering crews.
Work is paid per square or linear meter and released only for the
fraction a quality coordinator approves.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "Config file path (default: config.yml)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// app is the wired service shared by every subcommand.
type app struct {
	Config  *config.Configuration
	Log     *logrus.Logger
	Store   *sqlite.Store
	Service *payroll.Service
}

func bootstrap(cmd *cobra.Command) (*app, error) {
	var files []string
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		files = append(files, path)
	}
	conf, err := config.Load(files...)
	if err != nil {
		return nil, err
	}

	log := logging.New(conf.Log.Level, conf.Log.Format)

	tolerance, err := conf.DisputeTolerance()
	if err != nil {
		return nil, err
	}

	store, err := sqlite.New(conf.Database.Path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to initialize database")
	}

	svc := payroll.NewService(store, payroll.Options{
		DisputeTolerance: tolerance,
		Records:          store,
		Log:              log,
	})

	return &app{Config: conf, Log: log, Store: store, Service: svc}, nil
}

func (a *app) Close() {
	if err := a.Store.Close(); err != nil {
		a.Log.WithError(err).Warn("failed to close database")
	}
}
