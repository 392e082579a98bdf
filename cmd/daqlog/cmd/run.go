package cmd

import (
	"fmt"
	"io"
	"os"

	"codeberg.org/mutker/daqlog/internal/config"
	"codeberg.org/mutker/daqlog/internal/logger"
	"codeberg.org/mutker/daqlog/internal/pid"
	"codeberg.org/mutker/daqlog/internal/session"
	"github.com/spf13/cobra"
)

// Acquire one run and write it to disk.
func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Acquire samples until the run is stopped, then save them.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cmd.Flags())
			if err != nil {
				return err
			}

			if err := initLogger(cfg); err != nil {
				return err
			}

			if cfg.PIDFile {
				if err := pid.Write(); err != nil {
					logger.Error().Err(err).Str("path", pid.Path()).Msg("Refusing to start")
					return err
				}
				defer func() {
					if err := pid.Remove(); err != nil {
						logger.Warn().Err(err).Msg("Failed to remove PID file")
					}
				}()
			}

			deps := session.Deps{}
			if cfg.Input && !logger.IsService() {
				deps.Stdin = os.Stdin
				deps.Prompt = cmd.OutOrStdout()
			}

			res, err := session.New(cfg, deps).Run(cmd.Context())
			if err != nil {
				logger.Error().Err(err).Str("run_id", res.RunID).Msg("Run failed")
				return err
			}

			return printSummary(cmd.OutOrStdout(), res)
		},
	}

	config.RegisterFlags(cmd.Flags())

	return cmd
}

func initLogger(cfg *config.Config) error {
	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}

	logger.Init(logger.Options{
		Level:     level,
		IsService: logger.IsService(),
		File:      cfg.LogFile,
	})
	logger.Debug().Msg("Config loaded")

	return nil
}

func printSummary(w io.Writer, res session.Result) error {
	st := res.Stats
	_, err := fmt.Fprintf(w,
		"run %s stopped (%s)\n"+
			"  samples  %d of %d ticks, %d errors, %d overruns\n"+
			"  rate     %.3f Hz (target %.3f Hz), mean read %s\n"+
			"  value    mean %g, stddev %g\n"+
			"  saved    %s\n",
		res.RunID, res.Reason,
		st.Samples, st.Ticks, st.Errors, st.Overruns,
		st.ActualHz, st.TargetHz, st.MeanTickTime,
		st.ValueMean, st.ValueStdDev,
		res.Path,
	)
	return err
}
