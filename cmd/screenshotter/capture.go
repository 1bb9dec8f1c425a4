package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newCaptureCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "capture <project_id>",
		Short: "Captures one project synchronously and prints the result",
		Long: `capture runs the full pipeline for a single project without the HTTP API or queue.
The completion event is written to stdout as JSON; a failed capture exits non-zero.`,
		Args: cobra.ExactArgs(1),
		RunE: runCapture(opts),
	}
}

func runCapture(opts *options) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) (err error) {
		cfg, err := loadConfig(opts)
		if err != nil {
			return err
		}
		app, err := newCapturer(cmd.Context(), cfg)
		if err != nil {
			return fmt.Errorf("build app: %w", err)
		}
		defer func() {
			closeCtx, cancel := context.WithTimeout(context.WithoutCancel(cmd.Context()), 5*time.Second)
			defer cancel()
			err = errors.Join(err, app.Close(closeCtx))
		}()

		out, captureErr := app.Capture(cmd.Context(), args[0])
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if encErr := enc.Encode(out.Event()); encErr != nil {
			return errors.Join(captureErr, fmt.Errorf("write result: %w", encErr))
		}
		if captureErr != nil {
			return fmt.Errorf("capture %s: %w", args[0], captureErr)
		}
		return nil
	}
}
