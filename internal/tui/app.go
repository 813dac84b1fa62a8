package tui

import (
	"context"
	"strings"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
	"github.com/wtfpos/posd/internal/api"
	"github.com/wtfpos/posd/internal/tui/keys"
	"github.com/wtfpos/posd/internal/tui/model"
	"github.com/wtfpos/posd/internal/tui/ui"
	"github.com/wtfpos/posd/internal/tui/views"
)

const (
	pagePending  = "pending"
	pageProducts = "products"
	pageHelp     = "help"

	callTimeout     = 20 * time.Second
	refreshInterval = 5 * time.Second
	rewatchDelay    = 2 * time.Second
)

// Client is the daemon API used by the console.
type Client interface {
	model.Backend
	WatchEvents(ctx context.Context, prefix string) (*api.EventWatcher, error)
}

// App is the terminal console: the pending queue, the product list and a
// status bar fed by daemon events.
type App struct {
	app       *tview.Application
	pages     *tview.Pages
	vm        *model.ViewModel
	client    Client
	registry  *keys.Registry
	statusBar *views.StatusBar
	pending   *views.PendingTable
	products  *views.ProductTable
	help      *views.HelpView
	prompt    *tview.InputField
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewApp creates the console for the named terminal.
func NewApp(c Client, terminalName string) *App {
	ctx, cancel := context.WithCancel(context.Background())
	theme := ui.DefaultTheme()

	a := &App{
		app:       tview.NewApplication(),
		pages:     tview.NewPages(),
		vm:        model.NewViewModel(c),
		client:    c,
		registry:  keys.NewRegistry(),
		statusBar: views.NewStatusBar(theme, terminalName),
		pending:   views.NewPendingTable(theme),
		products:  views.NewProductTable(theme),
		help:      views.NewHelpView(theme),
		prompt:    tview.NewInputField().SetLabel(":"),
		ctx:       ctx,
		cancel:    cancel,
	}

	a.setupBindings()
	a.setupLayout()
	return a
}

func runeAction(r rune, desc string, fn func()) *keys.Action {
	return &keys.Action{Key: tcell.KeyRune, Rune: r, Description: desc, Visible: desc != "", Handler: fn}
}

func (a *App) setupBindings() {
	a.registry.AddGlobal(runeAction('p', "p:pending", func() { a.show(pagePending) }))
	a.registry.AddGlobal(runeAction('o', "o:products", func() { a.show(pageProducts) }))
	a.registry.AddGlobal(runeAction('s', "s:sync", func() { a.do(a.vm.SyncNow) }))
	a.registry.AddGlobal(runeAction('r', "r:refresh", func() { a.do(a.vm.RefreshCatalog) }))
	a.registry.AddGlobal(runeAction('c', "c:check", func() { a.do(a.vm.CheckConnectivity) }))
	a.registry.AddGlobal(runeAction('?', "?:help", func() { a.show(pageHelp) }))
	a.registry.AddGlobal(runeAction(':', "", func() { a.app.SetFocus(a.prompt) }))
	a.registry.AddGlobal(runeAction('q', "q:quit", a.Stop))

	a.registry.AddPage(pagePending, runeAction('d', "d:remove", func() {
		if id := a.pending.Selected(); id != "" {
			a.do(func(ctx context.Context) error { return a.vm.Remove(ctx, id) })
		}
	}))
	a.registry.AddPage(pagePending, runeAction('l', "l:lock", func() {
		if id := a.pending.Selected(); id != "" {
			a.do(func(ctx context.Context) error { return a.vm.ToggleLock(ctx, id) })
		}
	}))
}

func (a *App) setupLayout() {
	a.pages.AddPage(pagePending, a.pending, true, true)
	a.pages.AddPage(pageProducts, a.products, true, false)
	a.pages.AddPage(pageHelp, a.help, true, false)

	a.prompt.SetPlaceholder(strings.Join(a.registry.Hints(pagePending), "  "))
	a.prompt.SetDoneFunc(func(key tcell.Key) {
		if key == tcell.KeyEnter {
			a.execute(a.prompt.GetText())
		}
		a.prompt.SetText("")
		a.show(a.currentPage())
	})

	root := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(a.pages, 0, 1, true).
		AddItem(a.statusBar, 1, 0, false).
		AddItem(a.prompt, 1, 0, false)
	a.app.SetRoot(root, true)

	a.app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		if a.app.GetFocus() == a.prompt {
			return event
		}
		page := a.currentPage()
		if event.Key() == tcell.KeyEscape && page != pagePending {
			a.show(pagePending)
			return nil
		}
		if a.registry.HandleEvent(page, event) {
			return nil
		}
		return event
	})
}

func (a *App) currentPage() string {
	name, _ := a.pages.GetFrontPage()
	return name
}

func (a *App) show(page string) {
	a.pages.SwitchToPage(page)
	a.prompt.SetPlaceholder(strings.Join(a.registry.Hints(page), "  "))
	switch page {
	case pagePending:
		a.app.SetFocus(a.pending)
	case pageProducts:
		a.app.SetFocus(a.products)
	default:
		a.app.SetFocus(a.help)
	}
}

// execute runs a ':' command.
func (a *App) execute(input string) {
	if strings.TrimSpace(input) == "" {
		return
	}
	cmd, err := ParseCommand(input)
	if err != nil {
		a.vm.Flash.Set(model.LevelWarning, err.Error(), 5*time.Second)
		a.redraw()
		return
	}
	switch cmd.Name {
	case "login":
		a.do(func(ctx context.Context) error { return a.vm.Login(ctx, cmd.Args) })
	case "logout":
		a.do(a.vm.Logout)
	case "find":
		a.vm.SetQuery(cmd.Args)
		a.show(pageProducts)
		a.do(a.vm.LoadProducts)
	case "remove":
		a.do(func(ctx context.Context) error { return a.vm.Remove(ctx, cmd.Args) })
	case "sync":
		a.do(a.vm.SyncNow)
	case "help":
		a.show(pageHelp)
	case "quit":
		a.Stop()
	}
}

// do runs fn off the UI goroutine, then reloads and redraws.
func (a *App) do(fn func(ctx context.Context) error) {
	go func() {
		ctx, cancel := context.WithTimeout(a.ctx, callTimeout)
		defer cancel()
		_ = fn(ctx)
		_ = a.vm.Reload(ctx)
		a.redraw()
	}()
}

func (a *App) redraw() {
	a.app.QueueUpdateDraw(func() {
		a.statusBar.SetStatus(a.vm.Status())
		a.statusBar.SetFlash(a.vm.Flash.Get())
		a.pending.Update(a.vm.Pending())
		a.products.Update(a.vm.Products(), a.vm.Query())
	})
}

// watch follows daemon events, re-subscribing after the stream drops.
func (a *App) watch() {
	for a.ctx.Err() == nil {
		w, err := a.client.WatchEvents(a.ctx, "")
		if err == nil {
			for {
				evt, err := w.Recv()
				if err != nil {
					break
				}
				if a.vm.HandleEvent(evt) {
					ctx, cancel := context.WithTimeout(a.ctx, callTimeout)
					_ = a.vm.Reload(ctx)
					if strings.HasPrefix(evt.Kind, "catalog.") {
						_ = a.vm.LoadProducts(ctx)
					}
					cancel()
				}
				a.redraw()
			}
		}
		select {
		case <-a.ctx.Done():
		case <-time.After(rewatchDelay):
		}
	}
}

// refreshLoop reloads periodically so expired flash messages clear and the
// view recovers when events were missed.
func (a *App) refreshLoop() {
	ticker := time.NewTicker(refreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(a.ctx, callTimeout)
			_ = a.vm.Reload(ctx)
			cancel()
			a.redraw()
		case <-a.ctx.Done():
			return
		}
	}
}

// Run starts the console and blocks until it quits.
func (a *App) Run() error {
	go func() {
		ctx, cancel := context.WithTimeout(a.ctx, callTimeout)
		_ = a.vm.Reload(ctx)
		_ = a.vm.LoadProducts(ctx)
		cancel()
		a.redraw()

		go a.watch()
		a.refreshLoop()
	}()
	return a.app.Run()
}

// Stop shuts the console down.
func (a *App) Stop() {
	a.cancel()
	a.app.Stop()
}
