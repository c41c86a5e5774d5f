// Package pipeline submits orders from the kiosk. A submission that cannot
// reach the server is stored locally and replayed later by Sync.
package pipeline

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"booth-pos/client"
	"booth-pos/models"
	"booth-pos/offline"
	"booth-pos/services"
	"booth-pos/utils"
)

type OrderAPI interface {
	CreateOrder(ctx context.Context, req models.CreateOrderRequest, idempotencyKey string) (*models.Order, error)
}

type Store interface {
	SavePending(ctx context.Context, id string, req models.CreateOrderRequest, now time.Time) (*offline.PendingOrder, error)
	ListPending(ctx context.Context) ([]offline.PendingOrder, error)
	UpdatePending(ctx context.Context, p *offline.PendingOrder) error
	MarkSynced(ctx context.Context, tempID string, order *models.Order, now time.Time) error
	CleanupSynced(ctx context.Context, cutoff time.Time) (int, error)
}

type Connectivity interface {
	Online() bool
	MarkOffline()
}

// Result holds exactly one of Order (server confirmed) or Pending (stored
// for replay).
type Result struct {
	Order   *models.Order
	Pending *offline.PendingOrder
}

func (r Result) Queued() bool {
	return r.Pending != nil
}

type SyncResult struct {
	Synced []models.Order
	Failed []offline.PendingOrder
}

// Options.Location is the booth timezone used to stamp each order's day.
type Options struct {
	Now             func() time.Time
	Location        *time.Location
	Limits          services.Limits
	SyncedRetention time.Duration
	Logger          logrus.FieldLogger
}

type Submitter struct {
	api       OrderAPI
	store     Store
	conn      Connectivity
	now       func() time.Time
	loc       *time.Location
	limits    services.Limits
	retention time.Duration
	log       logrus.FieldLogger

	syncing atomic.Bool
}

func New(api OrderAPI, store Store, conn Connectivity, opts Options) *Submitter {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Limits == (services.Limits{}) {
		opts.Limits = services.DefaultLimits
	}
	if opts.SyncedRetention <= 0 {
		opts.SyncedRetention = offline.DefaultSyncedRetention
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	return &Submitter{
		api:       api,
		store:     store,
		conn:      conn,
		now:       opts.Now,
		loc:       opts.Location,
		limits:    opts.Limits,
		retention: opts.SyncedRetention,
		log:       opts.Logger.WithField("component", "pipeline"),
	}
}

// Submit validates req and sends it. Transport failures and 5xx answers are
// not errors: the order is stored and returned as pending. Only validation
// failures, server rejections and a failing local store reach the caller.
func (s *Submitter) Submit(ctx context.Context, req models.CreateOrderRequest) (Result, error) {
	req.CustomerName = strings.TrimSpace(req.CustomerName)
	if err := services.ValidateRequest(req, s.limits); err != nil {
		submissions.WithLabelValues("invalid").Inc()
		return Result{}, err
	}

	// Both are fixed before the first attempt: a create whose response was
	// lost replays under the same key, and a replay after midnight keeps the
	// day the order was taken.
	now := s.now()
	if req.DateKey == 0 {
		req.DateKey = utils.DateKey(now.In(s.loc))
	}
	tempID := offline.NewTempID(now)

	if s.conn.Online() {
		order, err := s.api.CreateOrder(ctx, req, tempID)
		if err == nil {
			submissions.WithLabelValues("online").Inc()
			return Result{Order: order}, nil
		}
		if !client.IsTransient(err) {
			submissions.WithLabelValues("rejected").Inc()
			return Result{}, err
		}
		s.log.WithError(err).WithField("temp_id", tempID).Warn("order submission failed, storing offline")
		s.conn.MarkOffline()
	}

	pending, err := s.store.SavePending(context.WithoutCancel(ctx), tempID, req, s.now())
	if err != nil {
		return Result{}, fmt.Errorf("store offline order: %w", err)
	}
	submissions.WithLabelValues("queued").Inc()
	s.log.WithField("temp_id", tempID).Info("order stored for later sync")
	return Result{Pending: pending}, nil
}

// Sync replays pending orders oldest first, one at a time. A call made while
// another pass is running, or while offline, returns an empty result
// without touching the network.
func (s *Submitter) Sync(ctx context.Context) (SyncResult, error) {
	var result SyncResult
	if !s.conn.Online() {
		return result, nil
	}
	if !s.syncing.CompareAndSwap(false, true) {
		return result, nil
	}
	defer s.syncing.Store(false)

	pending, err := s.store.ListPending(ctx)
	if err != nil {
		return result, fmt.Errorf("list pending orders: %w", err)
	}

	for i := range pending {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		p := pending[i]
		log := s.log.WithField("temp_id", p.ID)

		order, err := s.api.CreateOrder(ctx, p.Request, p.ID)
		if err != nil {
			p.RetryCount++
			p.LastError = err.Error()
			if uerr := s.store.UpdatePending(ctx, &p); uerr != nil {
				log.WithError(uerr).Error("failed to record sync failure")
			}
			log.WithError(err).WithField("retry_count", p.RetryCount).Warn("pending order not synced")
			syncRecords.WithLabelValues("failed").Inc()
			result.Failed = append(result.Failed, p)
			continue
		}

		if err := s.store.MarkSynced(ctx, p.ID, order, s.now()); err != nil {
			// The server has the order; the next pass replays under the
			// same key and gets it back without a duplicate.
			log.WithError(err).Error("failed to mark order synced")
		}
		log.WithField("order_id", order.ID).Info("pending order synced")
		syncRecords.WithLabelValues("synced").Inc()
		result.Synced = append(result.Synced, *order)
	}

	if _, err := s.store.CleanupSynced(ctx, s.now().Add(-s.retention)); err != nil {
		s.log.WithError(err).Warn("failed to prune synced orders")
	}
	return result, nil
}

// Syncing reports whether a replay pass is in flight.
func (s *Submitter) Syncing() bool {
	return s.syncing.Load()
}
