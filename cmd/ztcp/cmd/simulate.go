// Copyright © 2019 Andrei Gubarev <agubarev@protonmail.com>

package cmd

import (
	"context"

	"github.com/agubarev/ztcp/pkg/core"
	"github.com/agubarev/ztcp/pkg/fleet"
	"github.com/agubarev/ztcp/pkg/util"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var colorOutput bool

// simulateCmd represents the simulate command
var simulateCmd = &cobra.Command{
	Use:   "simulate <manifest>",
	Short: "Run a fleet manifest through the control plane.",
	Long: `Onboards and authenticates every device of the manifest, then applies
its policies, activity, rotations, communications and isolations in that
order, printing the resulting report.`,
	Args:        cobra.ExactArgs(1),
	Annotations: map[string]string{annotationStdout: "report"},
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		m, err := fleet.LoadManifest(args[0])
		if err != nil {
			return err
		}

		c, err := core.New(ctx, cfg)
		if err != nil {
			return err
		}

		defer c.Close()

		c.SetLogger(logger)

		report, err := fleet.Run(ctx, c, m)
		if err != nil {
			return errors.Wrap(err, "simulation failed")
		}

		data, err := util.PrettyJSON(report, colorOutput)
		if err != nil {
			return errors.Wrap(err, "failed to encode report")
		}

		_, err = cmd.OutOrStdout().Write(data)

		return err
	},
}

func init() {
	rootCmd.AddCommand(simulateCmd)

	simulateCmd.Flags().BoolVar(&colorOutput, "color", false, "colorize the report")
}
