package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/spf13/cobra"

	app "github.com/dmitrymomot/wsgate/app/gateway"
	"github.com/dmitrymomot/wsgate/core/config"
	"github.com/dmitrymomot/wsgate/core/logger"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "wsgate",
		Short: "Real-time presence and private messaging over websockets",
		Long: `wsgate keeps track of which users are online and relays private
messages between them. Instances share presence and fan-out through
Redis or NATS, so clients may connect to any of them.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		serveCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	var envFiles []string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway server",
		Long: `Run the gateway server until SIGINT or SIGTERM.

Configuration is read from the environment. Files given with --env-file
are loaded first and never override variables that are already set.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.LoadFile(envFiles...); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := app.NewApp(ctx)
			if err != nil {
				return err
			}

			log := a.Logger()
			log.InfoContext(ctx, "starting wsgate", logger.Version(version))
			if err := a.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			log.Info("wsgate stopped")
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&envFiles, "env-file", nil, "Load environment variables from file (repeatable)")

	return cmd
}

func versionCmd() *cobra.Command {
	var short bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			if short {
				fmt.Println(version)
				return
			}
			fmt.Printf("wsgate %s\n", version)
			fmt.Printf("  Commit:     %s\n", commit)
			fmt.Printf("  Built:      %s\n", date)
			fmt.Printf("  Go version: %s\n", runtime.Version())
			fmt.Printf("  OS/Arch:    %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	}

	cmd.Flags().BoolVarP(&short, "short", "s", false, "Print only version number")

	return cmd
}
