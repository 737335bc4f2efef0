// Copyright © 2019 Andrei Gubarev <agubarev@protonmail.com>

package cmd

import (
	"context"
	"fmt"

	"github.com/agubarev/ztcp/pkg/audit"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	auditBackend string
	auditPath    string
)

// auditCmd groups audit log commands
var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Inspect the audit log.",
}

// auditVerifyCmd represents the audit verify command
var auditVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Recompute the audit hash chain.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		backend, path := cfg.Audit.Backend, cfg.Audit.Path
		if auditBackend != "" {
			backend = auditBackend
		}

		if auditPath != "" {
			path = auditPath
		}

		store, err := audit.Open(backend, path, logger)
		if err != nil {
			return err
		}

		defer store.Close()

		l, err := audit.NewLog(ctx, store)
		if err != nil {
			return err
		}

		l.SetLogger(logger)

		if err = l.Verify(ctx); err != nil {
			return errors.Wrap(err, "audit log is not intact")
		}

		logger.Info("audit log verified", zap.String("backend", backend), zap.Uint64("entries", l.Len()))
		fmt.Printf("audit log intact: %d entries\n", l.Len())

		return nil
	},
}

func init() {
	rootCmd.AddCommand(auditCmd)
	auditCmd.AddCommand(auditVerifyCmd)

	auditVerifyCmd.Flags().StringVar(&auditBackend, "backend", "", "audit backend: memory, badger, sqlite or postgres (default from config)")
	auditVerifyCmd.Flags().StringVar(&auditPath, "path", "", "audit store path (default from config)")
}
