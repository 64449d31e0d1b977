package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"SalesInsight/src/config"
	"SalesInsight/src/datasource/file"
	"SalesInsight/src/processor"
	"SalesInsight/src/session"

	"github.com/spf13/cobra"
)

const (
	jsonFile     = "config.json"
	dataJsonFile = "dataconfig.json"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "错误:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var jsonFolder string

	root := &cobra.Command{
		Use:           "salesinsight",
		Short:         "Sales dataset analysis service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&jsonFolder, "config", "./config", "配置目录 (config.json, dataconfig.json)")

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, dcfg, err := config.LoadConfig(jsonFolder, jsonFile, dataJsonFile)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(cfg, dcfg)
			if err != nil {
				return err
			}
			defer a.close()
			return a.run(ctx)
		},
	}

	var column string
	inspect := &cobra.Command{
		Use:   "inspect <file>",
		Short: "Load a dataset once and print status, summary and distribution as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, dcfg, err := config.Load(jsonFolder, jsonFile, dataJsonFile)
			if err != nil {
				return err
			}
			if column == "" {
				column = dcfg.ValueColumn
			}
			return inspectFile(cmd, args[0], column, dcfg)
		},
	}
	inspect.Flags().StringVar(&column, "column", "", "数值列 (默认使用 value_column)")

	root.AddCommand(serve, inspect)
	return root
}

// inspectReport inspect 命令的输出
type inspectReport struct {
	Status       session.Status                `json:"status"`
	Summary      processor.SummaryResult       `json:"summary"`
	Distribution processor.DistributionSummary `json:"distribution"`
}

func inspectFile(cmd *cobra.Command, path, column string, dcfg *config.DataConfig) error {
	sess := session.New(file.OptionsFrom(dcfg), column)
	if err := sess.LoadFile(path); err != nil {
		return err
	}
	t, err := sess.Current()
	if err != nil {
		return err
	}

	report := inspectReport{Status: sess.Status()}
	if report.Summary, err = processor.Summary(t, column); err != nil {
		return err
	}
	if report.Distribution, err = processor.Distribution(t, column); err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}
