package cli

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"github.com/wtfpos/posd/internal/api"
	"github.com/wtfpos/posd/internal/pos"
	"gopkg.in/yaml.v3"
)

// orderFile is an order as written by hand in YAML:
//
//	customer:
//	  name: Ana Souza
//	paymentMethod: 1
//	amountReceived: "20.00"
//	items:
//	  - product: LAT
//	    quantity: 2
//	    addOns: [OAT]
//	    instructions: extra hot
//
// Products and add-ons are referenced by id or code and priced from the
// terminal's catalog.
type orderFile struct {
	Customer       *customerRef `yaml:"customer"`
	Instructions   string       `yaml:"instructions"`
	Status         string       `yaml:"status"`
	PaymentMethod  *int         `yaml:"paymentMethod"`
	AmountReceived string       `yaml:"amountReceived"`
	Tips           string       `yaml:"tips"`
	Items          []orderLine  `yaml:"items"`
}

type customerRef struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

type orderLine struct {
	Product      string   `yaml:"product"`
	Quantity     int      `yaml:"quantity"`
	AddOns       []string `yaml:"addOns"`
	Instructions string   `yaml:"instructions"`
}

// parseOrderFile decodes an order, rejecting unknown fields.
func parseOrderFile(data []byte) (*orderFile, error) {
	var f orderFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if len(f.Items) == 0 {
		return nil, fmt.Errorf("order has no items")
	}
	for i := range f.Items {
		switch {
		case f.Items[i].Product == "":
			return nil, fmt.Errorf("item %d: product is required", i+1)
		case f.Items[i].Quantity < 0:
			return nil, fmt.Errorf("item %d: quantity must be positive", i+1)
		case f.Items[i].Quantity == 0:
			f.Items[i].Quantity = 1
		}
	}
	return &f, nil
}

func readOrderFile(cmd *cobra.Command, path string) (*orderFile, error) {
	if path == "" {
		return nil, NewExitError(ExitCommandError, "an order file is required (-f)")
	}
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "read order file", err)
	}
	f, err := parseOrderFile(data)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid order file", err)
	}
	return f, nil
}

// productIndex looks products up by id or code.
type productIndex map[string]pos.Product

func newProductIndex(products []pos.Product) productIndex {
	idx := make(productIndex, len(products)*2)
	for _, p := range products {
		idx[p.ID.String()] = p
		if p.Code != "" {
			idx[strings.ToLower(p.Code)] = p
		}
	}
	return idx
}

func (idx productIndex) lookup(ref string) (pos.Product, bool) {
	if id, err := uuid.Parse(ref); err == nil {
		p, ok := idx[id.String()]
		return p, ok
	}
	p, ok := idx[strings.ToLower(ref)]
	return p, ok
}

func parseAmount(name, s string) (*decimal.Decimal, error) {
	if s == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("%s must not be negative", name)
	}
	return &d, nil
}

// buildOrder prices f against the catalog and returns the command to send
// along with the cart it was built from.
func buildOrder(f *orderFile, products []pos.Product, customers []pos.Customer) (*api.OrderRequest, error) {
	idx := newProductIndex(products)
	req := &api.OrderRequest{
		Command: pos.CreateOrderCommand{
			Items:  make([]pos.OrderItemRequest, 0, len(f.Items)),
			Status: pos.OrderStatusPending,
		},
	}

	for i, line := range f.Items {
		line := line
		p, ok := idx.lookup(line.Product)
		if !ok {
			return nil, fmt.Errorf("item %d: unknown product %q", i+1, line.Product)
		}
		if p.IsAddOn {
			return nil, fmt.Errorf("item %d: %s is an add-on", i+1, p.Name)
		}
		item := pos.OrderItemRequest{
			ProductID: p.ID,
			Quantity:  line.Quantity,
			AddOns:    make([]pos.OrderItemRequest, 0, len(line.AddOns)),
		}
		cart := pos.CartItem{
			ProductID:           p.ID,
			Name:                p.Name,
			Price:               p.EffectivePrice(),
			Quantity:            line.Quantity,
			ImageURL:            p.ImageURL,
			SpecialInstructions: line.Instructions,
		}
		if line.Instructions != "" {
			item.SpecialInstructions = &line.Instructions
		}
		for _, ref := range line.AddOns {
			a, ok := idx.lookup(ref)
			if !ok || !a.IsAddOn {
				return nil, fmt.Errorf("item %d: unknown add-on %q", i+1, ref)
			}
			item.AddOns = append(item.AddOns, pos.OrderItemRequest{ProductID: a.ID, Quantity: 1, AddOns: []pos.OrderItemRequest{}})
			cart.AddOns = append(cart.AddOns, pos.CartAddOn{AddOnID: a.ID, Name: a.Name, Price: a.EffectivePrice()})
		}
		req.Command.Items = append(req.Command.Items, item)
		req.Cart = append(req.Cart, cart)
	}

	if f.Customer != nil {
		if err := resolveCustomer(req, f.Customer, customers); err != nil {
			return nil, err
		}
	}
	if f.Instructions != "" {
		req.Command.SpecialInstructions = &f.Instructions
	}

	switch strings.ToLower(f.Status) {
	case "", "pending":
	case "completed":
		req.Command.Status = pos.OrderStatusCompleted
	default:
		return nil, fmt.Errorf("unknown status %q", f.Status)
	}

	req.Command.PaymentMethod = f.PaymentMethod
	received, err := parseAmount("amountReceived", f.AmountReceived)
	if err != nil {
		return nil, err
	}
	if received != nil {
		total := pos.CartTotal(req.Cart)
		if received.LessThan(total) {
			return nil, fmt.Errorf("amount received %s is less than the total %s", pos.FormatMoney(*received), pos.FormatMoney(total))
		}
		change := received.Sub(total)
		req.Command.AmountReceived = received
		req.Command.ChangeAmount = &change
	}
	if req.Command.Tips, err = parseAmount("tips", f.Tips); err != nil {
		return nil, err
	}
	return req, nil
}

// resolveCustomer matches ref against the catalog by id or display name.
// A name that matches no customer is kept as a walk-in name.
func resolveCustomer(req *api.OrderRequest, ref *customerRef, customers []pos.Customer) error {
	if ref.ID != "" {
		id, err := uuid.Parse(ref.ID)
		if err != nil {
			return fmt.Errorf("customer id: %w", err)
		}
		req.Command.CustomerID = &id
		req.CustomerName = pos.NormalizeName(ref.Name)
		for _, c := range customers {
			if c.ID == id && req.CustomerName == "" {
				req.CustomerName = c.DisplayName()
			}
		}
		return nil
	}
	name := pos.NormalizeName(ref.Name)
	req.CustomerName = name
	for _, c := range customers {
		if strings.EqualFold(c.DisplayName(), name) {
			id := c.ID
			req.Command.CustomerID = &id
			req.CustomerName = c.DisplayName()
			break
		}
	}
	return nil
}

// loadOrder reads the order file at path and prices it with the daemon's
// catalog.
func loadOrder(ctx context.Context, cmd *cobra.Command, c Client, path string) (*api.OrderRequest, error) {
	f, err := readOrderFile(cmd, path)
	if err != nil {
		return nil, err
	}
	products, err := c.ListProducts(ctx, &api.ProductsRequest{All: true})
	if err != nil {
		return nil, rpcError(err)
	}
	var customers []pos.Customer
	if f.Customer != nil {
		r, err := c.ListCustomers(ctx, "")
		if err != nil {
			return nil, rpcError(err)
		}
		customers = r.Customers
	}
	req, err := buildOrder(f, products.Products, customers)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid order", err)
	}
	return req, nil
}

// NewOrderCommand creates the order command group.
func NewOrderCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "order",
		Short: "Price or queue an order from a YAML file",
	}
	cmd.AddCommand(newOrderPreviewCommand(opts))
	cmd.AddCommand(newOrderQueueCommand(opts))
	return cmd
}

func newOrderPreviewCommand(opts *RootOptions) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "preview",
		Short: "Show the cart and total an order file would produce",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.call(cmd, func(ctx context.Context, c Client, p *printer) error {
				req, err := loadOrder(ctx, cmd, c, file)
				if err != nil {
					return err
				}
				return p.emit(req, func(w io.Writer) {
					if req.CustomerName != "" {
						field(w, "customer", req.CustomerName)
						_, _ = fmt.Fprintln(w)
					}
					renderCart(w, req.Cart)
					_, _ = fmt.Fprintf(w, "total: %s\n", pos.FormatMoney(pos.CartTotal(req.Cart)))
				})
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "order file (- for stdin)")
	return cmd
}

func newOrderQueueCommand(opts *RootOptions) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Save an order for later delivery",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.call(cmd, func(ctx context.Context, c Client, p *printer) error {
				req, err := loadOrder(ctx, cmd, c, file)
				if err != nil {
					return err
				}
				r, err := c.QueueOrder(ctx, req)
				if err != nil {
					return rpcError(err)
				}
				return p.emit(r, func(w io.Writer) {
					_, _ = fmt.Fprintf(w, "Queued as %s.\n", r.LocalID)
				})
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "order file (- for stdin)")
	return cmd
}

// NewCheckoutCommand creates the checkout command: the order goes straight
// to the POS server when it is reachable and into the queue otherwise.
func NewCheckoutCommand(opts *RootOptions) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "checkout",
		Short: "Complete a sale from an order file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.call(cmd, func(ctx context.Context, c Client, p *printer) error {
				req, err := loadOrder(ctx, cmd, c, file)
				if err != nil {
					return err
				}
				r, err := c.Checkout(ctx, req)
				if err != nil {
					return rpcError(err)
				}
				return p.emit(r, func(w io.Writer) { renderCheckout(w, r) })
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "order file (- for stdin)")
	return cmd
}
