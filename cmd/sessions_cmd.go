package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/walink/internal/config"
	"github.com/nextlevelbuilder/walink/internal/session"
	"github.com/nextlevelbuilder/walink/internal/transport/whatsapp"
)

func sessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "View and manage stored sessions",
	}
	cmd.AddCommand(sessionsListCmd())
	cmd.AddCommand(sessionsClearCmd())
	return cmd
}

type storedSession struct {
	Identity  string    `json:"identity"`
	Revision  uint64    `json:"revision"`
	UpdatedAt time.Time `json:"updated_at"`
	Device    bool      `json:"device"`
}

func sessionsListCmd() *cobra.Command {
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List identities with stored credentials",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			cfg, store, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			ids, err := store.List(ctx)
			if err != nil {
				return err
			}
			tr := whatsapp.New(whatsapp.Options{DeviceDir: cfg.Transport.DeviceDir})
			out := make([]storedSession, 0, len(ids))
			for _, id := range ids {
				c, err := store.Load(ctx, id)
				if err != nil {
					continue
				}
				_, statErr := os.Stat(tr.DevicePath(id))
				out = append(out, storedSession{
					Identity:  id,
					Revision:  c.Revision,
					UpdatedAt: c.UpdatedAt,
					Device:    statErr == nil,
				})
			}
			printSessions(out, jsonOutput)
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	return cmd
}

func sessionsClearCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "clear <number>",
		Short: "Forget a linked number so it has to pair again",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := session.NormalizeIdentity(args[0])
			if err != nil {
				return fmt.Errorf("%q: %w", args[0], err)
			}
			if !yes {
				ok, err := promptConfirm(fmt.Sprintf("Clear stored session for %s?", id), false)
				if err != nil {
					return err
				}
				if !ok {
					fmt.Println("Cancelled.")
					return nil
				}
			}

			ctx := context.Background()
			cfg, store, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.Clear(ctx, id); err != nil {
				return err
			}
			tr := whatsapp.New(whatsapp.Options{DeviceDir: cfg.Transport.DeviceDir})
			if err := os.RemoveAll(filepath.Dir(tr.DevicePath(id))); err != nil {
				return fmt.Errorf("remove device data: %w", err)
			}
			fmt.Printf("Cleared session: %s\n", id)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip confirmation")
	return cmd
}

func openStore(ctx context.Context) (*config.Config, session.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	store, err := session.Open(ctx, cfg.SessionOptions())
	if err != nil {
		return nil, nil, fmt.Errorf("open session store: %w", err)
	}
	return cfg, store, nil
}

func printSessions(list []storedSession, jsonOutput bool) {
	if jsonOutput {
		data, _ := json.MarshalIndent(list, "", "  ")
		fmt.Println(string(data))
		return
	}

	if len(list) == 0 {
		fmt.Println("No sessions found.")
		return
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "NUMBER\tREVISION\tUPDATED\tDEVICE\n")
	for _, s := range list {
		device := "missing"
		if s.Device {
			device = "ok"
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n",
			s.Identity,
			s.Revision,
			s.UpdatedAt.Local().Format(time.DateTime),
			device,
		)
	}
	tw.Flush()
}
