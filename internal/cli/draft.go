package cli

import (
	"context"
	"io"

	"github.com/spf13/cobra"
	"github.com/wtfpos/posd/internal/api"
)

// NewDraftCommand creates the draft command group for the cart saved by the
// register screen.
func NewDraftCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "draft",
		Short: "Show or discard the saved cart",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the saved cart",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.call(cmd, func(ctx context.Context, c Client, p *printer) error {
				r, err := c.LoadDraft(ctx)
				if err != nil {
					return rpcError(err)
				}
				return p.emit(r, func(w io.Writer) { renderDraft(w, r) })
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Discard the saved cart",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.call(cmd, func(ctx context.Context, c Client, p *printer) error {
				if err := c.ClearDraft(ctx); err != nil {
					return rpcError(err)
				}
				return p.emit(api.DraftResponse{}, func(w io.Writer) {
					_, _ = io.WriteString(w, "Draft cleared.\n")
				})
			})
		},
	})
	return cmd
}
