package main

import (
	"github.com/spf13/cobra"

	"github.com/jeongkyun-oh/arbitrum-load-test/internal/report"
)

func (a *app) probeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "probe",
		Short: "Check that the node is reachable and the sender is funded",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			h, _, err := a.connect(cmd.Context())
			if err != nil {
				return err
			}

			res, err := h.Probe(cmd.Context())
			if err != nil {
				return err
			}
			report.PrintProbe(cmd.OutOrStdout(), res)
			return nil
		},
	}
}
