package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/walink/internal/pairing"
	"github.com/nextlevelbuilder/walink/internal/session"
)

func pairCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pair [number]",
		Short: "Link a number from the terminal and keep its bot running",
		Long: "Requests a pairing code for the number (prompting for it when omitted), prints it,\n" +
			"and keeps the session online until interrupted.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var number string
			if len(args) == 1 {
				number = args[0]
			} else {
				var err error
				number, err = promptNumber()
				if err != nil {
					return err
				}
			}
			return runPair(cmd.Context(), number)
		},
	}
}

func runPair(parent context.Context, number string) error {
	identity, err := session.NormalizeIdentity(number)
	if err != nil {
		return fmt.Errorf("%q: %w", number, err)
	}
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	a.watchConfig(resolveConfigPath())

	waitCtx, cancel := context.WithTimeout(ctx, cfg.PairTimeout())
	res, err := a.manager.Pair(waitCtx, identity)
	cancel()
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}

	switch res.Outcome {
	case pairing.OutcomeCode:
		fmt.Printf("Pairing code for %s: %s\n", identity, res.Code)
		fmt.Println("On your phone: Linked devices > Link a device > Link with phone number instead.")
	case pairing.OutcomeAlreadyLinked:
		fmt.Printf("%s is already paired.\n", identity)
	}
	fmt.Println("Session running. Press Ctrl+C to stop.")

	<-ctx.Done()
	return nil
}
