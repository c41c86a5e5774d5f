package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"booth-pos/client"
	"booth-pos/connectivity"
	"booth-pos/models"
	"booth-pos/offline"
	"booth-pos/pipeline"
	"booth-pos/poll"
	"booth-pos/queue"
	"booth-pos/utils"
)

var errUsage = errors.New("usage")

type app struct {
	cfg       kioskConfig
	log       logrus.FieldLogger
	out       io.Writer
	api       *client.Client
	store     *offline.Store
	monitor   *connectivity.Monitor
	submitter *pipeline.Submitter
	closeOnce sync.Once
}

func newApp(cfg kioskConfig, log logrus.FieldLogger, out io.Writer) (*app, error) {
	loc, err := cfg.location()
	if err != nil {
		return nil, err
	}
	store, err := offline.Open(cfg.StorePath)
	if err != nil {
		return nil, err
	}
	api := client.New(cfg.ServerURL, client.WithTimeout(cfg.RequestTimeout))
	monitor := connectivity.New(api.Health, cfg.ProbeInterval, log)
	return &app{
		cfg:       cfg,
		log:       log,
		out:       out,
		api:       api,
		store:     store,
		monitor:   monitor,
		submitter: pipeline.New(api, store, monitor, pipeline.Options{Location: loc, Logger: log}),
	}, nil
}

func (a *app) close() {
	a.closeOnce.Do(func() {
		if err := a.store.Close(); err != nil {
			a.log.WithError(err).Warn("close offline store")
		}
	})
}

func (a *app) dispatch(ctx context.Context, cmd string, args []string) error {
	switch cmd {
	case "menu":
		return a.menu(ctx)
	case "submit":
		return a.submit(ctx, args)
	case "sync":
		return a.sync(ctx)
	case "pending":
		return a.pending(ctx)
	case "track":
		return a.track(ctx, args)
	case "run":
		return a.run(ctx)
	case "verify", "ready", "complete", "cancel":
		return a.staff(ctx, cmd, args)
	}
	return errUsage
}

// loadMenu prefers the server and refreshes the local cache; offline it
// falls back to the cached copy.
func (a *app) loadMenu(ctx context.Context) ([]models.MenuItem, error) {
	items, err := a.api.GetMenu(ctx)
	if err == nil {
		if serr := a.store.SaveMenu(ctx, items); serr != nil {
			a.log.WithError(serr).Warn("failed to cache menu")
		}
		return items, nil
	}
	a.log.WithError(err).Warn("menu unavailable from server, using cached copy")
	cached, cerr := a.store.LoadMenu(ctx)
	if cerr != nil {
		return nil, fmt.Errorf("no menu: %w", err)
	}
	return cached, nil
}

func (a *app) menu(ctx context.Context) error {
	items, err := a.loadMenu(ctx)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tPRICE")
	for _, item := range items {
		fmt.Fprintf(w, "%d\t%s\t%.2f\n", item.ID, item.Name, item.Price)
	}
	return w.Flush()
}

// itemFlags collects repeated -item ID:QTY flags.
type itemFlags []itemSpec

type itemSpec struct {
	ID       int
	Quantity int
}

func (f *itemFlags) String() string {
	parts := make([]string, len(*f))
	for i, s := range *f {
		parts[i] = fmt.Sprintf("%d:%d", s.ID, s.Quantity)
	}
	return strings.Join(parts, ",")
}

func (f *itemFlags) Set(v string) error {
	spec, err := parseItem(v)
	if err != nil {
		return err
	}
	*f = append(*f, spec)
	return nil
}

func parseItem(v string) (itemSpec, error) {
	idPart, qtyPart, found := strings.Cut(v, ":")
	if !found {
		qtyPart = "1"
	}
	id, err := strconv.Atoi(idPart)
	if err != nil || id <= 0 {
		return itemSpec{}, fmt.Errorf("invalid item id in %q", v)
	}
	qty, err := strconv.Atoi(qtyPart)
	if err != nil {
		return itemSpec{}, fmt.Errorf("invalid quantity in %q", v)
	}
	return itemSpec{ID: id, Quantity: qty}, nil
}

// buildItems prices the cart from the menu. Duplicate ids are merged.
func buildItems(menu []models.MenuItem, specs []itemSpec) ([]models.OrderItem, error) {
	byID := make(map[int]models.MenuItem, len(menu))
	for _, m := range menu {
		byID[m.ID] = m
	}
	var items []models.OrderItem
	index := map[int]int{}
	for _, s := range specs {
		m, ok := byID[s.ID]
		if !ok || !m.Available {
			return nil, fmt.Errorf("menu item %d is not available", s.ID)
		}
		if i, seen := index[s.ID]; seen {
			items[i].Quantity += s.Quantity
			continue
		}
		index[s.ID] = len(items)
		items = append(items, models.OrderItem{MenuItemID: m.ID, Name: m.Name, Price: m.Price, Quantity: s.Quantity})
	}
	return items, nil
}

func (a *app) submit(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("submit", flag.ContinueOnError)
	name := fs.String("name", "", "customer name")
	var specs itemFlags
	fs.Var(&specs, "item", "menu item as ID:QTY, repeatable")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}

	menu, err := a.loadMenu(ctx)
	if err != nil {
		return err
	}
	items, err := buildItems(menu, specs)
	if err != nil {
		return err
	}

	req := models.CreateOrderRequest{CustomerName: *name, Items: items, Channel: models.Channel(a.cfg.Channel)}
	res, err := a.submitter.Submit(ctx, req)
	if err != nil {
		return err
	}
	if res.Queued() {
		fmt.Fprintf(a.out, "saved offline as %s (total %.2f); it will be sent when the server is reachable\n",
			res.Pending.ID, models.TotalOf(res.Pending.Request.Items))
		return nil
	}
	fmt.Fprintf(a.out, "order %s placed, total %.2f, status %s\n", res.Order.ID, res.Order.Total(), res.Order.Status)
	return nil
}

func (a *app) sync(ctx context.Context) error {
	res, err := a.submitter.Sync(ctx)
	if err != nil {
		return err
	}
	for _, o := range res.Synced {
		fmt.Fprintf(a.out, "synced %s for %s\n", o.ID, o.CustomerName)
	}
	if len(res.Failed) > 0 {
		fmt.Fprintf(a.out, "%d orders failed to sync\n", len(res.Failed))
	}
	return nil
}

func (a *app) pending(ctx context.Context) error {
	orders, err := a.store.ListPending(ctx)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TEMP ID\tCUSTOMER\tTOTAL\tCREATED\tRETRIES\tLAST ERROR")
	for _, p := range orders {
		fmt.Fprintf(w, "%s\t%s\t%.2f\t%s\t%d\t%s\n", p.ID, p.Request.CustomerName,
			models.TotalOf(p.Request.Items), p.CreatedAt.Format(time.Kitchen), p.RetryCount, p.LastError)
	}
	return w.Flush()
}

type trackSnapshot struct {
	order    *models.Order
	position int
	total    int
}

func (a *app) track(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("track", flag.ContinueOnError)
	id := fs.String("id", "", "order id")
	if err := fs.Parse(args); err != nil || *id == "" {
		return errUsage
	}
	if utils.IsTempID(*id) {
		if _, err := a.store.GetPending(ctx, *id); err == nil {
			fmt.Fprintf(a.out, "%s has not reached the server yet\n", *id)
			return nil
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var last models.OrderStatus
	p := &poll.Poller[trackSnapshot]{
		Interval: a.cfg.PollInterval,
		Jitter:   a.cfg.PollJitter,
		Timeout:  a.cfg.RequestTimeout,
		Fetch: func(ctx context.Context) (trackSnapshot, error) {
			order, err := a.api.GetOrder(ctx, *id)
			if err != nil {
				return trackSnapshot{}, err
			}
			snap := trackSnapshot{order: order}
			if order.Status == models.StatusPaid {
				line, err := a.api.GetQueue(ctx)
				if err != nil {
					return trackSnapshot{}, err
				}
				snap.position, snap.total = queue.Position(line, order.ID)
			}
			return snap, nil
		},
		OnResult: func(s trackSnapshot) {
			if s.order.Status == models.StatusPaid && s.position > 0 {
				fmt.Fprintf(a.out, "%s: queue number %d, position %d of %d\n", s.order.ID, *s.order.QueueNumber, s.position, s.total)
			} else if s.order.Status != last {
				fmt.Fprintf(a.out, "%s: %s\n", s.order.ID, s.order.Status)
			}
			last = s.order.Status
			if s.order.Status == models.StatusCompleted || s.order.Status == models.StatusCancelled {
				cancel()
			}
		},
		OnError: func(err error, consecutive int) {
			if errors.Is(err, client.ErrNotFound) {
				fmt.Fprintf(a.out, "%s: order not found\n", *id)
				cancel()
				return
			}
			if consecutive >= 3 {
				a.log.WithError(err).WithField("failures", consecutive).Warn("order status unavailable")
			}
		},
	}
	return p.Run(ctx)
}

// run keeps the kiosk in sync until interrupted: the monitor probes the
// server and each reconnect triggers one replay pass.
func (a *app) run(ctx context.Context) error {
	a.monitor.OnReconnect(func() {
		a.replay(ctx, "reconnect")
	})

	if has, err := a.store.HasPending(ctx); err != nil {
		return err
	} else if has {
		a.replay(ctx, "startup")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.monitor.Run(gctx)
	})
	// Records that failed while the server was up are only retried here.
	g.Go(func() error {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				if has, _ := a.store.HasPending(gctx); has {
					a.replay(gctx, "retry")
				}
			}
		}
	})
	a.log.WithField("server", a.cfg.ServerURL).Info("kiosk running")
	return g.Wait()
}

func (a *app) replay(ctx context.Context, reason string) {
	res, err := a.submitter.Sync(ctx)
	log := a.log.WithField("trigger", reason)
	if err != nil {
		log.WithError(err).Error("replay failed")
		return
	}
	log.WithFields(logrus.Fields{"synced": len(res.Synced), "failed": len(res.Failed)}).Info("replay pass finished")
}

func (a *app) staff(ctx context.Context, cmd string, args []string) error {
	fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
	id := fs.String("id", "", "order id")
	role := fs.String("role", string(utils.RoleStaff), "staff or admin")
	password := fs.String("password", "", "role password or token")
	method := fs.String("method", "", "payment method for verify: PROMPTPAY or CASH")
	if err := fs.Parse(args); err != nil || *id == "" || *password == "" {
		return errUsage
	}
	creds := client.Credentials{Role: utils.Role(*role), Password: *password}

	var (
		order *models.Order
		err   error
	)
	switch cmd {
	case "verify":
		var pm *models.PaymentMethod
		if *method != "" {
			m := models.PaymentMethod(strings.ToUpper(*method))
			pm = &m
		}
		order, err = a.api.VerifyPayment(ctx, creds, *id, pm)
	case "ready":
		order, err = a.api.MarkReady(ctx, creds, *id)
	case "complete":
		order, err = a.api.CompleteOrder(ctx, creds, *id)
	case "cancel":
		order, err = a.api.CancelOrder(ctx, creds, *id)
	}
	if err != nil {
		return err
	}
	if order.QueueNumber != nil {
		fmt.Fprintf(a.out, "%s: %s (queue number %d)\n", order.ID, order.Status, *order.QueueNumber)
		return nil
	}
	fmt.Fprintf(a.out, "%s: %s\n", order.ID, order.Status)
	return nil
}
