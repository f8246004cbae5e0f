// riskcli is a batch caller of the estimation pipeline: it reads a
// timestamp,log-return CSV, runs the volatility filter, tail fit, risk
// metrics, and backtest, and prints the result as JSON. All numerical work
// happens in the core services; this binary is I/O glue.
package main

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tailrisk-engine/internal/config"
	"github.com/tailrisk-engine/internal/core/domain"
	"github.com/tailrisk-engine/internal/core/services/pipeline"
	"github.com/tailrisk-engine/internal/logging"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfgPath string

	root := &cobra.Command{
		Use:           "riskcli",
		Short:         "GARCH-EVT tail risk estimation",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", "", "path to YAML config")

	root.AddCommand(newFitCmd(&cfgPath))
	root.AddCommand(newBacktestCmd(&cfgPath))
	return root
}

func newFitCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "fit [returns.csv]",
		Short: "Fit the volatility and tail models and print the 1-day-ahead VaR/ES forecast",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			report, cfg, err := runPipeline(cmd, *cfgPath, args)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), fitOutput(report, cfg))
		},
	}
}

func newBacktestCmd(cfgPath *string) *cobra.Command {
	var withRecords bool

	cmd := &cobra.Command{
		Use:   "backtest [returns.csv]",
		Short: "Evaluate the time-varying VaR series against realized returns",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			report, _, err := runPipeline(cmd, *cfgPath, args)
			if err != nil {
				return err
			}
			out := map[string]interface{}{
				"summary": report.Backtest.Summary,
			}
			if withRecords {
				out["records"] = report.Backtest.Records
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
	cmd.Flags().BoolVar(&withRecords, "records", false, "include per-timestamp breach records")
	return cmd
}

func runPipeline(cmd *cobra.Command, cfgPath string, args []string) (*pipeline.Report, *config.Config, error) {
	cfg := config.Default()
	if cfgPath != "" {
		loaded, err := config.Load(cfgPath)
		if err != nil {
			return nil, nil, err
		}
		cfg = loaded
	}

	csvPath := cfg.Input.CSV
	if len(args) == 1 {
		csvPath = args[0]
	}
	if csvPath == "" {
		return nil, nil, fmt.Errorf("no returns CSV given: pass a path or set input.csv in the config")
	}

	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Development)
	if err != nil {
		return nil, nil, err
	}
	defer logger.Sync() //nolint:errcheck

	series, err := readReturnsCSV(csvPath)
	if err != nil {
		return nil, nil, err
	}

	params := pipeline.DefaultParams()
	params.ThresholdQuantile = cfg.Model.ThresholdQuantile
	params.Confidence = cfg.Model.Confidence
	params.Volatility.MinObservations = cfg.Model.MinObservations
	params.Volatility.MaxIterations = cfg.Model.MaxIterations
	params.Tail.MaxIterations = cfg.Model.MaxIterations

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	report, err := pipeline.New(logger).Run(ctx, series, params)
	if err != nil {
		return nil, nil, err
	}
	return report, cfg, nil
}

func fitOutput(report *pipeline.Report, cfg *config.Config) map[string]interface{} {
	return map[string]interface{}{
		"volatility": map[string]interface{}{
			"mu":          report.Volatility.Mu,
			"omega":       report.Volatility.Omega,
			"alpha":       report.Volatility.Alpha,
			"beta":        report.Volatility.Beta,
			"persistence": report.Volatility.Persistence(),
			"forecast":    report.Volatility.ForecastVolatility,
		},
		"tail": map[string]interface{}{
			"threshold":          report.Tail.Threshold,
			"xi":                 report.Tail.Xi,
			"beta":               report.Tail.Beta,
			"num_exceedances":    report.Tail.NumExceedances,
			"std_err_xi":         report.Tail.StdErrXi,
			"std_err_beta":       report.Tail.StdErrBeta,
			"std_err_valid":      report.Tail.StdErrValid,
			"low_sample_warning": report.Tail.LowSampleWarning,
		},
		"forecast": map[string]interface{}{
			"confidence":  cfg.Model.Confidence,
			"evt_var":     report.Forecast.VaR,
			"evt_es":      report.Forecast.ES,
			"normal_var":  report.NormalForecast.VaR,
			"normal_es":   report.NormalForecast.ES,
			"volatility":  report.Forecast.Volatility,
		},
	}
}

// readReturnsCSV parses a two-column timestamp,log-return file. Timestamps
// accept RFC 3339 or plain dates; a header row is skipped automatically.
func readReturnsCSV(path string) (domain.ReturnSeries, error) {
	f, err := os.Open(path)
	if err != nil {
		return domain.ReturnSeries{}, fmt.Errorf("open returns csv: %w", err)
	}
	defer f.Close()

	points, err := parseReturns(f)
	if err != nil {
		return domain.ReturnSeries{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return domain.NewReturnSeries(points)
}

func parseReturns(r io.Reader) ([]domain.ReturnPoint, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = 2

	var points []domain.ReturnPoint
	line := 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		line++

		ts, err := parseTimestamp(record[0])
		if err != nil {
			if line == 1 {
				// Header row.
				continue
			}
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		v, err := strconv.ParseFloat(record[1], 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: bad return value %q", line, record[1])
		}
		points = append(points, domain.ReturnPoint{Timestamp: ts, Value: v})
	}
	return points, nil
}

func parseTimestamp(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02", "2006-01-02 15:04:05"} {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
