package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dharsanguruparan/VKYCVault/internal/config"
	"github.com/dharsanguruparan/VKYCVault/internal/database"
)

var (
	serverURL   string
	requestedBy string
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rootCmd := newRootCommand()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "vkycctl: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vkycctl",
		Short: "VKYC bulk request CLI",
		Long: `vkycctl submits bulk VKYC recording requests, follows their progress and
downloads the resulting archives. It can also apply database migrations.`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVarP(&serverURL, "server", "s", envOr("VKYC_SERVER", "http://localhost:8080"), "API base URL")
	cmd.PersistentFlags().StringVar(&requestedBy, "as", envOr("VKYC_REQUESTED_BY", os.Getenv("USER")), "Submitter identity sent as X-Requested-By")
	cmd.AddCommand(
		newSubmitCmd(),
		newStatusCmd(),
		newDispatchCmd(),
		newWaitCmd(),
		newFetchCmd(),
		newSignedURLCmd(),
		newMigrateCmd(),
	)
	return cmd
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func api() *client {
	return newClient(serverURL, requestedBy)
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newSubmitCmd() *cobra.Command {
	var download bool
	cmd := &cobra.Command{
		Use:   "submit IDENTIFIER...",
		Short: "Submit a bulk request and print its id",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := api().submit(cmd.Context(), args, download)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&download, "download", "d", false, "Assemble a zip archive of the recordings found")
	return cmd
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status REQUEST_ID",
		Short: "Print the current snapshot of a request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			snap, err := api().status(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, snap)
		},
	}
}

func newDispatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dispatch REQUEST_ID",
		Short: "Queue a PENDING request again after a failed dispatch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := api().dispatch(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "dispatched %s\n", args[0])
			return nil
		},
	}
}

func newWaitCmd() *cobra.Command {
	var (
		interval time.Duration
		timeout  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "wait REQUEST_ID",
		Short: "Poll until a request finishes and print its final snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			snap, err := api().wait(ctx, args[0], interval)
			if err != nil {
				return err
			}
			return printJSON(cmd, snap)
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", time.Second, "Polling interval")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Minute, "Give up after this long")
	return cmd
}

func newFetchCmd() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "fetch REQUEST_ID",
		Short: "Download the archive of a finished download request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := output
			if path == "" {
				path = "vkyc_" + args[0] + ".zip"
			}
			f, err := os.Create(path)
			if err != nil {
				return err
			}
			n, err := api().fetch(cmd.Context(), args[0], f)
			if cerr := f.Close(); err == nil {
				err = cerr
			}
			if err != nil {
				os.Remove(path)
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%d bytes)\n", path, n)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file (default vkyc_<id>.zip)")
	return cmd
}

func newSignedURLCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "signed-url REQUEST_ID",
		Short: "Print a short-lived download link for a request archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			link, err := api().signedURL(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, link)
		},
	}
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations to VKYC_DATABASE_URL",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := database.Migrate(cfg.DatabaseURL); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	}
}
