package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func newGCCmd(configFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "gc",
		Short: "Run one collection sweep and exit",
		Long: "Reclaims every expired transfer once and prints the sweep report. " +
			"Exits non-zero when any transfer could not be reclaimed.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig(*configFile)
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer a.close()

			rep, err := a.collector.Sweep(cmd.Context())
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(rep); err != nil {
				return err
			}
			if rep.Failed > 0 {
				return fmt.Errorf("%d transfer(s) could not be reclaimed", rep.Failed)
			}
			return nil
		},
	}
}
