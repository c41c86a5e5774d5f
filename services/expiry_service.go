package services

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

type Expirer interface {
	ExpireStale(ctx context.Context) (int, error)
}

// ExpiryService cancels unpaid orders on a fixed interval.
type ExpiryService struct {
	expirer  Expirer
	interval time.Duration
	log      logrus.FieldLogger
}

func NewExpiryService(expirer Expirer, interval time.Duration, log logrus.FieldLogger) *ExpiryService {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &ExpiryService{expirer: expirer, interval: interval, log: log.WithField("component", "expiry")}
}

// Start runs once immediately and then every interval until ctx is done.
func (s *ExpiryService) Start(ctx context.Context) error {
	s.log.WithField("interval", s.interval).Info("starting order expiry service")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			s.log.Info("stopping order expiry service")
			return nil
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *ExpiryService) sweep(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	count, err := s.expirer.ExpireStale(ctx)
	if err != nil {
		s.log.WithError(err).Error("failed to expire unpaid orders")
		return
	}
	if count > 0 {
		s.log.WithField("expired_count", count).Info("expired unpaid orders")
	}
}
