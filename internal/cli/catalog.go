package cli

import (
	"context"
	"io"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/wtfpos/posd/internal/api"
)

// NewCatalogCommand creates the catalog command group.
func NewCatalogCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Browse and refresh the cached catalog",
	}
	cmd.AddCommand(newCatalogProductsCommand(opts))
	cmd.AddCommand(newCatalogCustomersCommand(opts))
	cmd.AddCommand(newCatalogAddOnsCommand(opts))
	cmd.AddCommand(newCatalogRefreshCommand(opts))
	cmd.AddCommand(newCatalogStaleCommand(opts))
	return cmd
}

func newCatalogProductsCommand(opts *RootOptions) *cobra.Command {
	var query string
	var all bool
	cmd := &cobra.Command{
		Use:   "products",
		Short: "List sellable products",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.call(cmd, func(ctx context.Context, c Client, p *printer) error {
				r, err := c.ListProducts(ctx, &api.ProductsRequest{Query: query, All: all})
				if err != nil {
					return rpcError(err)
				}
				return p.emit(r, func(w io.Writer) { renderProducts(w, r.Products) })
			})
		},
	}
	cmd.Flags().StringVarP(&query, "query", "q", "", "filter by name or code")
	cmd.Flags().BoolVar(&all, "all", false, "include add-ons and inactive products")
	return cmd
}

func newCatalogCustomersCommand(opts *RootOptions) *cobra.Command {
	var query string
	cmd := &cobra.Command{
		Use:   "customers",
		Short: "List customers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.call(cmd, func(ctx context.Context, c Client, p *printer) error {
				r, err := c.ListCustomers(ctx, query)
				if err != nil {
					return rpcError(err)
				}
				return p.emit(r, func(w io.Writer) { renderCustomers(w, r.Customers) })
			})
		},
	}
	cmd.Flags().StringVarP(&query, "query", "q", "", "filter by name")
	return cmd
}

func newCatalogAddOnsCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "addons <product-id>",
		Short: "List the add-ons offered for a product",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid product id", err)
			}
			return opts.call(cmd, func(ctx context.Context, c Client, p *printer) error {
				r, err := c.GetAddOns(ctx, id)
				if err != nil {
					return rpcError(err)
				}
				return p.emit(r, func(w io.Writer) { renderAddOns(w, r.Groups) })
			})
		},
	}
}

func newCatalogRefreshCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Fetch the catalog from the POS server now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.call(cmd, func(ctx context.Context, c Client, p *printer) error {
				r, err := c.RefreshCatalog(ctx)
				if err != nil {
					return rpcError(err)
				}
				return p.emit(r, func(w io.Writer) { renderRefresh(w, r) })
			})
		},
	}
}

func newCatalogStaleCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stale",
		Short: "Show prices that changed in the last refresh",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.call(cmd, func(ctx context.Context, c Client, p *printer) error {
				r, err := c.StalePrices(ctx)
				if err != nil {
					return rpcError(err)
				}
				return p.emit(r, func(w io.Writer) { renderStalePrices(w, r.StalePrices) })
			})
		},
	}
}
