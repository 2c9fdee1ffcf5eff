// power runs the nightlight jobs against a configured Grid Store.
//
//	power produce --config /etc/nightlights --namespace sumatra --date 2020-06-01
//	power calibrate --config config.yaml
//	power diagnostics
//
// Every flag can also be set from an NL_ prefixed environment variable,
// e.g. NL_CONFIG or NL_METRICS_ADDR.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/nci/nightlights/task"
	"github.com/nci/nightlights/utils"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const envPrefix = "NL"

func newRootCmd() *cobra.Command {
	v := viper.New()

	rootCmd := &cobra.Command{
		Use:           "power",
		Short:         "Produce the power driver layer from harmonized nighttime lights.",
		SilenceErrors: true,
		SilenceUsage:  true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			job, err := task.ParseJob(v.GetString("job"))
			if err != nil {
				return err
			}
			return runJob(cmd, v, job)
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.String("config", utils.ConfigFileName, "Path to a config.yaml or a directory of namespaced configs")
	flags.String("namespace", "", "Config namespace when --config is a directory")
	flags.String("date", "", "Task date (YYYY-MM-DD); defaults to today (UTC)")
	flags.Bool("overwrite", false, "Replace an existing output")
	flags.String("metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9100")
	flags.String("log-level", "", "Override service.log_level")
	flags.String("store-root", "", "Override service.store_root")
	rootCmd.Flags().String("job", string(task.JobProduce), "Job to run: produce, calibrate or diagnostics")

	for _, job := range []task.Job{task.JobProduce, task.JobCalibrate, task.JobDiagnostics} {
		rootCmd.AddCommand(&cobra.Command{
			Use:   string(job),
			Short: jobDescriptions[job],
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runJob(cmd, v, job)
			},
		})
	}

	cobra.CheckErr(v.BindPFlags(flags))
	cobra.CheckErr(v.BindPFlags(rootCmd.Flags()))
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	return rootCmd
}

var jobDescriptions = map[task.Job]string{
	task.JobProduce:     "Classify the resolved harmonized year into the power driver layer.",
	task.JobCalibrate:   "Recompute the sensor calibration coefficients.",
	task.JobDiagnostics: "Report percentiles and bin occupancy of the resolved harmonized year.",
}

// jobOptions turns flag values into task options.
func jobOptions(v *viper.Viper, job task.Job) (task.Options, error) {
	opts := task.Options{Job: job, Overwrite: v.GetBool("overwrite")}
	if s := v.GetString("date"); s != "" {
		date, err := utils.ParseDate(s)
		if err != nil {
			return opts, err
		}
		opts.Date = time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC)
	}
	return opts, nil
}

func runJob(cmd *cobra.Command, v *viper.Viper, job task.Job) error {
	opts, err := jobOptions(v, job)
	if err != nil {
		return err
	}

	config, err := utils.LoadNamespace(v.GetString("config"), v.GetString("namespace"))
	if err != nil {
		return err
	}
	if s := v.GetString("log-level"); s != "" {
		config.Service.LogLevel = s
	}
	if s := v.GetString("store-root"); s != "" {
		config.Service.StoreRoot = s
	}
	if s := v.GetString("metrics-addr"); s != "" {
		config.Service.MetricsAddr = s
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	env, err := newEnvironment(config, cmd.OutOrStdout())
	if err != nil {
		return err
	}
	defer env.Close()

	_, err = env.runner.Run(ctx, opts)
	return err
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "power:", err)
		os.Exit(1)
	}
}
