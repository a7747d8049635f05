package ca

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jmcleod/palisade/crl"
)

// Service drives periodic revocation list issuance: every CA with a
// partition configuration gets its active partitions flushed and signed at
// the configured period.
type Service struct {
	authority *Authority
	crl       *crl.Manager
	logger    *slog.Logger
}

// NewService returns a Service over the given authority and CRL manager.
func NewService(authority *Authority, crlManager *crl.Manager, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		authority: authority,
		crl:       crlManager,
		logger:    logger.With("component", "crl-service"),
	}
}

// Run issues lists for every configured CA until the context is canceled.
// CAs configured after Run starts are picked up on the next invocation.
func (s *Service) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, ca := range s.crl.CANames() {
		cfg, err := s.crl.Config(ca)
		if err != nil {
			continue
		}
		wg.Add(1)
		go func(ca string, period time.Duration) {
			defer wg.Done()
			s.runCA(ctx, ca, period)
		}(ca, cfg.Period)
	}
	wg.Wait()
}

func (s *Service) runCA(ctx context.Context, ca string, period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	s.logger.Info("crl issuance scheduled", "ca", ca, "period", period)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.issueAll(ctx, ca)
		}
	}
}

// issueAll signs every active partition of the CA. Suspension state is
// re-read each cycle so suspends and resumes take effect at the next tick.
func (s *Service) issueAll(ctx context.Context, ca string) {
	cfg, err := s.crl.Config(ca)
	if err != nil {
		s.logger.Error("loading partition configuration", "ca", ca, "error", err)
		return
	}
	for p := uint32(1); p <= cfg.PartitionCount; p++ {
		if cfg.IsSuspended(p) {
			continue
		}
		if _, err := s.authority.SignPartitionCRL(ctx, ca, p); err != nil {
			s.logger.Error("signing crl", "ca", ca, "partition", p, "error", err)
		}
	}
}
