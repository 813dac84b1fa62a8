package cli

import (
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// NewStatusCommand creates the status command.
func NewStatusCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show terminal state, connectivity and queue size",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.call(cmd, func(ctx context.Context, c Client, p *printer) error {
				s, err := c.Status(ctx)
				if err != nil {
					return rpcError(err)
				}
				return p.emit(s, func(w io.Writer) { renderStatus(w, s) })
			})
		},
	}
}

// NewCheckCommand creates the check command.
func NewCheckCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Probe the POS server now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.call(cmd, func(ctx context.Context, c Client, p *printer) error {
				r, err := c.CheckConnectivity(ctx)
				if err != nil {
					return rpcError(err)
				}
				return p.emit(r, func(w io.Writer) { renderCheck(w, r) })
			})
		},
	}
}

// NewSyncCommand creates the sync command. It exits with ExitFailure when
// some orders could not be delivered.
func NewSyncCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Deliver queued orders to the POS server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.call(cmd, func(ctx context.Context, c Client, p *printer) error {
				r, err := c.SyncNow(ctx)
				if err != nil {
					return rpcError(err)
				}
				if err := p.emit(r, func(w io.Writer) { renderSyncResult(w, r) }); err != nil {
					return err
				}
				if r.Failed > 0 {
					return NewExitError(ExitFailure, "some orders failed to sync")
				}
				return nil
			})
		},
	}
}

// NewLoginCommand creates the login command.
func NewLoginCommand(opts *RootOptions) *cobra.Command {
	var token string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Store a POS server token",
		Long:  "Store a POS server token. With no --token the token is read from stdin.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if token == "" {
				b, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return WrapExitError(ExitCommandError, "read token", err)
				}
				token = strings.TrimSpace(string(b))
			}
			if token == "" {
				return NewExitError(ExitCommandError, "no token given")
			}
			return opts.call(cmd, func(ctx context.Context, c Client, p *printer) error {
				if err := c.Login(ctx, token); err != nil {
					return rpcError(err)
				}
				return p.emit(map[string]bool{"authenticated": true}, func(w io.Writer) {
					_, _ = io.WriteString(w, "Signed in.\n")
				})
			})
		},
	}
	cmd.Flags().StringVar(&token, "token", "", "bearer token")
	return cmd
}

// NewLogoutCommand creates the logout command.
func NewLogoutCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the POS server token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.call(cmd, func(ctx context.Context, c Client, p *printer) error {
				if err := c.Logout(ctx); err != nil {
					return rpcError(err)
				}
				return p.emit(map[string]bool{"authenticated": false}, func(w io.Writer) {
					_, _ = io.WriteString(w, "Signed out.\n")
				})
			})
		},
	}
}

// NewWatchCommand creates the watch command, which streams daemon events
// until interrupted.
func NewWatchCommand(opts *RootOptions) *cobra.Command {
	var prefix string
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream daemon events",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.connect()
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()

			ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt)
			defer stop()

			watcher, err := c.WatchEvents(ctx, prefix)
			if err != nil {
				return rpcError(err)
			}
			p := opts.printer(cmd)
			for {
				evt, err := watcher.Recv()
				if err != nil {
					if errors.Is(err, io.EOF) || status.Code(err) == codes.Canceled || ctx.Err() != nil {
						return nil
					}
					return rpcError(err)
				}
				if err := p.emit(evt, func(w io.Writer) { renderEvent(w, evt) }); err != nil {
					return err
				}
			}
		},
	}
	cmd.Flags().StringVar(&prefix, "prefix", "", "only events whose kind starts with this (e.g. queue.)")
	return cmd
}
