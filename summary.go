package main // import "github.com/tcolgate/catcam"

import (
	"os"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func newSummaryCmd(cfg *Config) *cobra.Command {
	var out string

	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Render the summary page for the current time",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return writeSummary(cfg.SummaryTemplate, out, time.Now())
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "file to write, stdout if empty")
	return cmd
}

func writeSummary(tmpl, out string, now time.Time) error {
	page, err := summaryPage(tmpl, now)
	if err != nil {
		log.WithError(err).Error("Failed to render summary")
		return err
	}

	if out == "" {
		_, err := os.Stdout.Write(page)
		return err
	}
	if err := os.WriteFile(out, page, 0o644); err != nil {
		return errors.Wrap(err, "writing summary")
	}
	log.WithField("file", out).Info("Wrote summary")
	return nil
}
