package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/wtfpos/posd/internal/api"
	"github.com/wtfpos/posd/internal/pos"
)

// NewPendingCommand creates the pending command group, which inspects and
// edits orders waiting to sync.
func NewPendingCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "pending",
		Aliases: []string{"queue"},
		Short:   "Inspect and edit orders waiting to sync",
	}
	cmd.AddCommand(newPendingListCommand(opts))
	cmd.AddCommand(newPendingShowCommand(opts))
	cmd.AddCommand(newPendingEditCommand(opts))
	cmd.AddCommand(newPendingRemoveCommand(opts))
	cmd.AddCommand(newPendingLockCommand(opts, true))
	cmd.AddCommand(newPendingLockCommand(opts, false))
	return cmd
}

func newPendingListCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored orders, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.call(cmd, func(ctx context.Context, c Client, p *printer) error {
				r, err := c.ListPending(ctx)
				if err != nil {
					return rpcError(err)
				}
				return p.emit(r, func(w io.Writer) { renderPendingList(w, r) })
			})
		},
	}
}

func newPendingShowCommand(opts *RootOptions) *cobra.Command {
	var qr bool
	cmd := &cobra.Command{
		Use:   "show <local-id>",
		Short: "Show one stored order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.call(cmd, func(ctx context.Context, c Client, p *printer) error {
				o, err := c.GetPending(ctx, args[0])
				if err != nil {
					return rpcError(err)
				}
				return p.emit(o, func(w io.Writer) {
					renderPendingOrder(w, o)
					if qr {
						_, _ = fmt.Fprintf(w, "\n%s", renderQR(orderTicket(o)))
					}
				})
			})
		},
	}
	cmd.Flags().BoolVar(&qr, "qr", false, "print a QR code of the local id and total for the receipt")
	return cmd
}

// orderTicket is the text encoded in an order's receipt QR code.
func orderTicket(o *api.PendingOrder) string {
	return fmt.Sprintf("%s %s", o.LocalID, pos.FormatMoney(o.Total))
}

func newPendingEditCommand(opts *RootOptions) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "edit <local-id>",
		Short: "Replace a stored order with the contents of an order file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.call(cmd, func(ctx context.Context, c Client, p *printer) error {
				req, err := loadOrder(ctx, cmd, c, file)
				if err != nil {
					return err
				}
				if err := c.UpdatePending(ctx, &api.UpdateRequest{LocalID: args[0], OrderRequest: *req}); err != nil {
					return rpcError(err)
				}
				return p.emit(api.LocalIDRequest{LocalID: args[0]}, func(w io.Writer) {
					_, _ = fmt.Fprintf(w, "Updated %s.\n", args[0])
				})
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "order file (- for stdin)")
	return cmd
}

func newPendingRemoveCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "remove <local-id>",
		Aliases: []string{"rm"},
		Short:   "Delete a stored order without sending it",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.call(cmd, func(ctx context.Context, c Client, p *printer) error {
				if err := c.RemovePending(ctx, args[0]); err != nil {
					return rpcError(err)
				}
				return p.emit(api.LocalIDRequest{LocalID: args[0]}, func(w io.Writer) {
					_, _ = fmt.Fprintf(w, "Removed %s.\n", args[0])
				})
			})
		},
	}
}

// newPendingLockCommand builds "lock" or "unlock". A locked order keeps
// automatic sync from running while it is edited at the counter.
func newPendingLockCommand(opts *RootOptions, lock bool) *cobra.Command {
	use, short, done := "unlock", "Allow automatic sync again", "Unlocked"
	if lock {
		use, short, done = "lock", "Hold automatic sync while an order is edited", "Locked"
	}
	return &cobra.Command{
		Use:   use + " <local-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.call(cmd, func(ctx context.Context, c Client, p *printer) error {
				var err error
				if lock {
					err = c.LockSync(ctx, args[0])
				} else {
					err = c.UnlockSync(ctx, args[0])
				}
				if err != nil {
					return rpcError(err)
				}
				return p.emit(map[string]any{"localId": args[0], "locked": lock}, func(w io.Writer) {
					_, _ = fmt.Fprintf(w, "%s %s.\n", done, args[0])
				})
			})
		},
	}
}
