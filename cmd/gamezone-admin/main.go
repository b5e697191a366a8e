// gamezone-admin is the maintenance tool for the shared progress store:
// it can create or upgrade the store file, retroactively rescan achievement
// unlocks, and seed demo data for manual testing. Browsing the data is left
// to any standard SQLite client.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"gamezone/internal/config"
	"gamezone/internal/progress"
)

var (
	configPath string
	dbPath     string
)

func main() {
	root := &cobra.Command{
		Use:           "gamezone-admin",
		Short:         "Maintain the shared game progress store",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "gamezone.yaml", "path to the YAML config file")
	root.PersistentFlags().StringVar(&dbPath, "db", "", "override the store file path")

	root.AddCommand(migrateCmd(), rescanCmd(), seedCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func openStore(ctx context.Context) (*progress.Store, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if dbPath != "" {
		cfg.Store.Path = dbPath
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	return progress.Open(ctx, cfg, logger)
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the store file and bring its schema up to date",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()
			fmt.Println("store is up to date")
			return nil
		},
	}
}

func rescanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rescan",
		Short: "Retroactively evaluate achievement rules for all users",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()
			n, err := s.Rescan(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("recorded %d new unlocks\n", n)
			return nil
		},
	}
}

func seedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Insert demo users and scores for manual testing",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			demo := []struct {
				handle string
				game   string
				values []float64
			}{
				{"ash", "dino", []float64{120, 80, 150}},
				{"misty", "dino", []float64{95, 140}},
				{"brock", "snake", []float64{60, 75, 130}},
			}
			for _, d := range demo {
				u, err := s.ResolveUser(ctx, d.handle)
				if err != nil {
					return err
				}
				for _, v := range d.values {
					if _, _, err := s.RecordResult(ctx, u.ID, d.game, v); err != nil {
						return err
					}
				}
			}
			fmt.Println("seeded demo data")
			return nil
		},
	}
}
