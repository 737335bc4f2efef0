// Copyright © 2019 Andrei Gubarev <agubarev@protonmail.com>

package cmd

import (
	"fmt"
	"os"

	"github.com/agubarev/ztcp/pkg/config"
	"github.com/agubarev/ztcp/pkg/util"
	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// annotationStdout marks a command whose stdout carries a report
const annotationStdout = "stdout"

var (
	cfgFile string
	cfg     config.Config
	logger  *zap.Logger
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "ztcp",
	Short: "Zero-trust control plane for device fleets.",
	Long: `ztcp runs device fleets through the zero-trust control plane:
identity onboarding, trust sessions, network segmentation, isolation
and a tamper-evident audit log.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) (err error) {
		path := cfgFile
		if path == "" {
			path = defaultConfigFile()
		}

		if cfg, err = config.Load(path); err != nil {
			return err
		}

		// commands printing machine-readable output keep stdout to themselves
		if cmd.Annotations[annotationStdout] == "report" {
			logger, err = util.ConsoleLogger(cfg.Log.Debug, cfg.Log.Dir, os.Stderr, os.Stderr)
		} else {
			logger, err = util.DefaultLogger(cfg.Log.Debug, cfg.Log.Dir)
		}

		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			logger.Sync()
		}
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.ztcp.yaml)")
}

// defaultConfigFile returns $HOME/.ztcp.yaml if it exists
func defaultConfigFile() string {
	path, err := homedir.Expand("~/.ztcp.yaml")
	if err != nil || !util.Exists(path) {
		return ""
	}

	return path
}
