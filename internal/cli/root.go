// Package cli implements posctl, the command-line client of a running
// terminal daemon.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/wtfpos/posd/internal/api"
	"github.com/wtfpos/posd/internal/lock"
	"github.com/wtfpos/posd/internal/outbox"
	"github.com/wtfpos/posd/internal/terminal"
)

// Client is the part of the daemon API posctl uses.
type Client interface {
	Status(ctx context.Context) (*api.StatusResponse, error)
	CheckConnectivity(ctx context.Context) (*api.CheckResponse, error)
	ListProducts(ctx context.Context, req *api.ProductsRequest) (*api.ProductsResponse, error)
	ListCustomers(ctx context.Context, query string) (*api.CustomersResponse, error)
	GetAddOns(ctx context.Context, productID uuid.UUID) (*api.AddOnsResponse, error)
	RefreshCatalog(ctx context.Context) (*api.RefreshResponse, error)
	StalePrices(ctx context.Context) (*api.StalePricesResponse, error)
	ListPending(ctx context.Context) (*api.PendingListResponse, error)
	GetPending(ctx context.Context, localID string) (*api.PendingOrder, error)
	QueueOrder(ctx context.Context, req *api.OrderRequest) (*api.QueueResponse, error)
	UpdatePending(ctx context.Context, req *api.UpdateRequest) error
	RemovePending(ctx context.Context, localID string) error
	SyncNow(ctx context.Context) (*outbox.SyncResult, error)
	LockSync(ctx context.Context, localID string) error
	UnlockSync(ctx context.Context, localID string) error
	Checkout(ctx context.Context, req *api.OrderRequest) (*outbox.CheckoutResult, error)
	Login(ctx context.Context, token string) error
	Logout(ctx context.Context) error
	LoadDraft(ctx context.Context) (*api.DraftResponse, error)
	ClearDraft(ctx context.Context) error
	WatchEvents(ctx context.Context, prefix string) (*api.EventWatcher, error)
	Close() error
}

var _ Client = (*api.Client)(nil)

// DialFunc connects to the daemon listening on socketPath.
type DialFunc func(socketPath string) (Client, error)

// dialDaemon connects to the socket of a running daemon. A missing socket
// means no daemon is serving the terminal; the owner left in its lock
// file, if any, is reported to help find a daemon that stopped answering.
func dialDaemon(socketPath string) (Client, error) {
	if _, err := os.Stat(socketPath); err != nil {
		if owner, ok := lock.ReadOwner(filepath.Dir(socketPath)); ok {
			return nil, fmt.Errorf("daemon not listening, terminal lock held by %s: %w", owner, err)
		}
		return nil, fmt.Errorf("daemon not running: %w", err)
	}
	return api.Dial(socketPath)
}

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Terminal string
	Format   string // "text" | "json"
	Timeout  time.Duration

	dial DialFunc
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the posctl root command.
func NewRootCommand() *cobra.Command {
	cmd, _ := newRootCommand(dialDaemon)
	return cmd
}

func newRootCommand(dial DialFunc) (*cobra.Command, *RootOptions) {
	opts := &RootOptions{dial: dial}

	cmd := &cobra.Command{
		Use:           "posctl",
		Short:         "Control a running POS terminal daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return nil
		},
	}
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return WrapExitError(ExitCommandError, "invalid flags", err)
	})

	cmd.PersistentFlags().StringVar(&opts.Terminal, "terminal", "", "terminal name (overrides POS_TERMINAL and config default)")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().DurationVar(&opts.Timeout, "timeout", 20*time.Second, "request timeout")

	cmd.AddCommand(NewStatusCommand(opts))
	cmd.AddCommand(NewCheckCommand(opts))
	cmd.AddCommand(NewSyncCommand(opts))
	cmd.AddCommand(NewLoginCommand(opts))
	cmd.AddCommand(NewLogoutCommand(opts))
	cmd.AddCommand(NewWatchCommand(opts))
	cmd.AddCommand(NewCatalogCommand(opts))
	cmd.AddCommand(NewPendingCommand(opts))
	cmd.AddCommand(NewOrderCommand(opts))
	cmd.AddCommand(NewCheckoutCommand(opts))
	cmd.AddCommand(NewDraftCommand(opts))

	return cmd, opts
}

// Run executes posctl with args and returns the process exit code. Errors
// go to stderr as text, or to stdout as a JSON envelope with --format json.
func Run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	return run(ctx, dialDaemon, args, stdout, stderr)
}

func run(ctx context.Context, dial DialFunc, args []string, stdout, stderr io.Writer) int {
	cmd, opts := newRootCommand(dial)
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	err := cmd.ExecuteContext(ctx)
	if err == nil {
		return ExitSuccess
	}
	if opts.Format == "json" {
		(&printer{format: "json", w: stdout}).fail(err)
	} else {
		_, _ = fmt.Fprintf(stderr, "error: %v\n", err)
	}
	return GetExitCode(err)
}

// connect resolves the terminal and dials its daemon.
func (o *RootOptions) connect() (Client, error) {
	name := terminal.Resolve(o.Terminal)
	if err := terminal.ValidateName(name); err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid terminal", err)
	}
	c, err := o.dial(terminal.SocketPath(name))
	if err != nil {
		return nil, WrapExitError(ExitUnavailable, fmt.Sprintf("cannot connect to daemon for terminal %q", name), err)
	}
	return c, nil
}

// call dials the daemon and runs fn with a request-scoped context.
func (o *RootOptions) call(cmd *cobra.Command, fn func(ctx context.Context, c Client, p *printer) error) error {
	c, err := o.connect()
	if err != nil {
		return err
	}
	defer func() { _ = c.Close() }()

	ctx, cancel := context.WithTimeout(commandContext(cmd), o.Timeout)
	defer cancel()
	return fn(ctx, c, o.printer(cmd))
}

func (o *RootOptions) printer(cmd *cobra.Command) *printer {
	return &printer{format: o.Format, w: cmd.OutOrStdout()}
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
