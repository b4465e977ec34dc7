package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vetlab/bloodwork-analyzer/internal/domain"
	"github.com/vetlab/bloodwork-analyzer/internal/pdf"
)

func newAnalyzeCmd() *cobra.Command {
	var (
		owner        string
		operator     string
		outputPath   string
		pollInterval time.Duration
	)

	cmd := &cobra.Command{
		Use:   "analyze <pdf-file>",
		Short: "Analyze one blood test report and print the result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			pdfPath := args[0]
			data, err := os.ReadFile(pdfPath)
			if err != nil {
				return fmt.Errorf("read pdf: %w", err)
			}

			if operator == "" {
				operator = os.Getenv("USER")
				if operator == "" {
					operator = "cli"
				}
			}

			a, err := newApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()
			defer shutdownService(a)

			res, err := a.service.Submit(ctx, domain.Upload{
				Filename:    filepath.Base(pdfPath),
				ContentType: pdf.ContentType,
				Data:        data,
			}, owner, domain.System{Name: operator})
			if err != nil {
				failure("Submission rejected: %v", err)
				return err
			}
			info("Queued %s for %s", res.ID, owner)

			spin := NewSpinner("Analyzing " + filepath.Base(pdfPath))
			spin.Start()
			rec, err := waitForResult(ctx, a, res.ID, pollInterval, spin)
			spin.Stop()
			if err != nil {
				failure("Analysis interrupted: %v", err)
				return err
			}

			if rec.Status == domain.StatusFailed {
				failure("%s failed: %s", rec.ID, rec.ProcessingInfo.Error)
				return errors.New(rec.ProcessingInfo.Error)
			}

			out, err := json.MarshalIndent(rec, "", "  ")
			if err != nil {
				return fmt.Errorf("encode result: %w", err)
			}

			if outputPath != "" {
				if err := os.WriteFile(outputPath, out, 0o644); err != nil {
					return fmt.Errorf("write output: %w", err)
				}
				success("%s completed in %dms, written to %s", rec.ID, rec.ProcessingInfo.ProcessingTimeMs, outputPath)
				return nil
			}

			fmt.Println(string(out))
			success("%s completed in %dms (%d pages)", rec.ID, rec.ProcessingInfo.ProcessingTimeMs, rec.ProcessingInfo.PageCount)
			return nil
		},
	}

	cmd.Flags().StringVar(&owner, "owner", "", "patient reference the report belongs to (required)")
	cmd.Flags().StringVar(&operator, "operator", "", "operator recorded as creator (default: $USER)")
	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "write the result JSON to this file")
	cmd.Flags().DurationVar(&pollInterval, "poll-interval", time.Second, "how often to check for the result")
	_ = cmd.MarkFlagRequired("owner")

	return cmd
}

// waitForResult polls until the record reaches a terminal state.
func waitForResult(ctx context.Context, a *app, id string, every time.Duration, spin *Spinner) (*domain.DiagnosticRecord, error) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		view, err := a.service.GetResult(ctx, id)
		if err != nil {
			return nil, err
		}
		if view.Ready {
			return view.Record, nil
		}
		spin.Update(fmt.Sprintf("Analyzing %s (%s)", id, view.Record.Status))

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
