package commands

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/layer-3/pairgate"
	"github.com/spf13/cobra"
)

func sessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Manage the sessions of a running server",
	}
	addClientFlags(cmd)

	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List every known identity",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				ctx, cancel := requestContext(cmd)
				defer cancel()

				sessions, err := newClient().List(ctx)
				if err != nil {
					return err
				}
				return printSessions(cmd.OutOrStdout(), sessions...)
			},
		},
		&cobra.Command{
			Use:   "info <number>",
			Short: "Show the stored state of one identity",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				ctx, cancel := requestContext(cmd)
				defer cancel()

				s, err := newClient().Info(ctx, args[0])
				if err != nil {
					return err
				}
				return printSessions(cmd.OutOrStdout(), s)
			},
		},
		&cobra.Command{
			Use:   "connect <number>",
			Short: "Start or resume a session and print its pairing code, QR payload or status",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				ctx, cancel := requestContext(cmd)
				defer cancel()

				res, err := newClient().Connect(ctx, args[0])
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				switch {
				case res.PairingCode != "":
					fmt.Fprintf(out, "pairing code for %s: %s\n", res.Number, res.PairingCode)
				case res.QRCode != "":
					fmt.Fprintf(out, "QR payload for %s:\n%s\n", res.Number, res.QRCode)
				default:
					fmt.Fprintln(out, res.Message)
				}
				return nil
			},
		},
		&cobra.Command{
			Use:   "delete <number>",
			Short: "Stop a session and delete all of its state",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				ctx, cancel := requestContext(cmd)
				defer cancel()

				if err := newClient().Delete(ctx, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "session for %s deleted\n", args[0])
				return nil
			},
		},
	)
	return cmd
}

func statsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show how many identities are known and connected",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := requestContext(cmd)
			defer cancel()

			stats, err := newClient().Stats(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "total: %d  active: %d  inactive: %d\n", stats.Total, stats.Active, stats.Inactive)
			return nil
		},
	}
	addClientFlags(cmd)
	return cmd
}

func requestContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), timeout)
}

func printSessions(w io.Writer, sessions ...pairgate.Session) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NUMBER\tEXISTS\tCONNECTED\tEXPIRES\tPHASE")
	for _, s := range sessions {
		phase := s.Phase
		if phase == "" {
			phase = "-"
		}
		fmt.Fprintf(tw, "%s\t%t\t%t\t%s\t%s\n", s.Number, s.Exists, s.Connected, s.ExpiresIn, phase)
	}
	return tw.Flush()
}
