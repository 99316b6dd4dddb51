package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func reconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Republish stored artifacts that lack a publish marker",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			rep, err := a.reconciler().Run(cmd.Context())
			if err != nil {
				return fmt.Errorf("reconcile: %w", err)
			}
			out, _ := json.Marshal(rep)
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}
}

func reclaimCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reclaim",
		Short: "Mark reservations older than RESERVATION_TTL as failed",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			n, err := a.ledger.ReclaimStale(cmd.Context())
			if err != nil {
				return fmt.Errorf("reclaim: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "reclaimed %d stale reservations\n", n)
			return nil
		},
	}
}
