package llm

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"crypto-signal-service/config"
	"crypto-signal-service/internal/asset"
	"crypto-signal-service/internal/signal"
)

// Service gates LLM submissions: one outstanding request per user, a
// process-wide concurrency cap, and a minimum spacing between requests.
type Service struct {
	completer Completer
	timeout   time.Duration
	log       zerolog.Logger

	sem chan struct{}

	mu          sync.Mutex
	inFlight    map[int64]bool
	lastRequest time.Time
	minInterval time.Duration
}

// NewService wraps a completer with the submission policy from config.
func NewService(completer Completer, cfg config.LLMConfig, log zerolog.Logger) *Service {
	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 4
	}
	minInterval := time.Duration(cfg.MinIntervalMs) * time.Millisecond
	if minInterval <= 0 {
		minInterval = time.Second
	}
	timeout := cfg.Timeout.Duration()
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	return &Service{
		completer:   completer,
		timeout:     timeout,
		log:         log,
		sem:         make(chan struct{}, maxConcurrent),
		inFlight:    make(map[int64]bool),
		minInterval: minInterval,
	}
}

// Analyze submits the prompt and returns a validated recommendation with
// every optional field populated.
func (s *Service) Analyze(ctx context.Context, userID int64, prompt string, expectedType asset.Type, style signal.TradingStyle) (*signal.Recommendation, error) {
	if err := s.acquireUser(userID); err != nil {
		return nil, err
	}
	defer s.releaseUser(userID)

	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, &Error{Kind: KindTimeout, Cause: ctx.Err()}
	}
	defer func() { <-s.sem }()

	if err := s.waitSpacing(ctx); err != nil {
		return nil, &Error{Kind: KindTimeout, Cause: err}
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	response, err := s.completer.Complete(callCtx, SystemPromptAnalysis, prompt)
	if err != nil {
		return nil, err
	}

	rec, err := ParseRecommendation(response)
	if err != nil {
		return nil, err
	}

	ValidateRecommendation(rec, expectedType, style)

	if len(rec.Warnings) > 0 {
		s.log.Warn().Int64("user_id", userID).Strs("warnings", rec.Warnings).
			Msg("recommendation carries validation warnings")
	}
	return rec, nil
}

func (s *Service) acquireUser(userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.inFlight[userID] {
		return &Error{Kind: KindBusy, Cause: fmt.Errorf("user %d already has an analysis in flight", userID)}
	}
	s.inFlight[userID] = true
	return nil
}

func (s *Service) releaseUser(userID int64) {
	s.mu.Lock()
	delete(s.inFlight, userID)
	s.mu.Unlock()
}

// waitSpacing enforces the minimum inter-request interval process-wide.
func (s *Service) waitSpacing(ctx context.Context) error {
	for {
		s.mu.Lock()
		now := time.Now()
		next := s.lastRequest.Add(s.minInterval)
		if !now.Before(next) {
			s.lastRequest = now
			s.mu.Unlock()
			return nil
		}
		wait := next.Sub(now)
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}
