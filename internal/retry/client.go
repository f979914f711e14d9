// Package retry wraps the gateway's close operations with bounded retries
// and the per-leg fallback escalation. The lifecycle monitor itself contains
// no retry logic; it only reacts to this client's success or failure.
package retry

import (
	"context"
	"crypto/rand"
	"fmt"
	"log"
	"math/big"
	"strings"
	"time"

	"github.com/eddiefleurent/zerodte_strangler/internal/broker"
	"github.com/eddiefleurent/zerodte_strangler/internal/models"
)

// Config bounds the retry behavior.
type Config struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Timeout        time.Duration
}

// DefaultConfig is tuned for a 0DTE close: the whole budget has to fit
// inside the final minutes of the session.
var DefaultConfig = Config{
	MaxRetries:     3,
	InitialBackoff: 1 * time.Second,
	MaxBackoff:     15 * time.Second,
	Timeout:        90 * time.Second,
}

// Client retries strangle closes against the gateway.
type Client struct {
	broker broker.Broker
	logger *log.Logger
	config Config
}

// NewClient creates a retrying close client.
func NewClient(b broker.Broker, logger *log.Logger, config ...Config) *Client {
	cfg := DefaultConfig
	if len(config) > 0 {
		cfg = config[0]
	}
	return &Client{
		broker: b,
		logger: logger,
		config: cfg,
	}
}

// CloseStrangleWithRetry attempts the two-leg buy-to-close, retrying
// transient failures with backoff. A nil error means the close order was
// accepted; the caller still awaits fill confirmation.
func (c *Client) CloseStrangleWithRetry(ctx context.Context, pos *models.OpenPosition, maxDebit float64) (*broker.OrderResult, error) {
	closeCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	req := broker.CloseStrangleRequest{
		Symbol:     pos.Symbol,
		CallSymbol: pos.CallLeg.Symbol,
		PutSymbol:  pos.PutLeg.Symbol,
		Quantity:   pos.Quantity,
		MaxDebit:   maxDebit,
		Tag:        "close-" + pos.ID,
	}

	var lastErr error
	backoff := c.config.InitialBackoff

	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if closeCtx.Err() != nil {
			return nil, fmt.Errorf("close operation timed out after %v: %w", c.config.Timeout, closeCtx.Err())
		}

		c.logger.Printf("Close attempt %d/%d for position %s", attempt+1, c.config.MaxRetries+1, pos.ID)

		res, err := c.broker.CloseStrangle(closeCtx, req)
		if err == nil {
			c.logger.Printf("Close order placed on attempt %d: %s", attempt+1, res.ID)
			return res, nil
		}

		lastErr = err
		c.logger.Printf("Close attempt %d failed: %v", attempt+1, err)

		if !isTransientError(err) || attempt == c.config.MaxRetries {
			break
		}

		c.logger.Printf("Transient error, retrying in %v", backoff)
		select {
		case <-time.After(backoff):
			backoff = c.nextBackoff(backoff)
		case <-closeCtx.Done():
			return nil, fmt.Errorf("close operation timed out during backoff: %w", closeCtx.Err())
		}
	}

	return nil, fmt.Errorf("failed to close position after %d attempts: %w", c.config.MaxRetries+1, lastErr)
}

// CloseLegsIndividually is the fallback path: buy each leg back separately
// at its own limit. It keeps going after a failed leg so one rejection
// cannot strand both; the returned error aggregates whatever still failed.
func (c *Client) CloseLegsIndividually(ctx context.Context, pos *models.OpenPosition, callLimit, putLimit float64) error {
	legs := []struct {
		name   string
		symbol string
		limit  float64
	}{
		{"call", pos.CallLeg.Symbol, callLimit},
		{"put", pos.PutLeg.Symbol, putLimit},
	}

	var failures []string
	for _, leg := range legs {
		c.logger.Printf("Fallback close for %s leg %s at limit $%.2f", leg.name, leg.symbol, leg.limit)
		res, err := c.broker.CloseLeg(ctx, leg.symbol, pos.Quantity, leg.limit)
		if err != nil {
			c.logger.Printf("Fallback close failed for %s leg %s: %v", leg.name, leg.symbol, err)
			failures = append(failures, fmt.Sprintf("%s leg %s: %v", leg.name, leg.symbol, err))
			continue
		}
		c.logger.Printf("Fallback close order placed for %s leg: %s", leg.name, res.ID)
	}

	if len(failures) > 0 {
		return fmt.Errorf("per-leg fallback close failed: %s", strings.Join(failures, "; "))
	}
	return nil
}

func (c *Client) nextBackoff(current time.Duration) time.Duration {
	backoff := time.Duration(float64(current) * 1.5)
	if backoff > c.config.MaxBackoff {
		backoff = c.config.MaxBackoff
	}

	maxJitter := int64(backoff / 4)
	if maxJitter > 0 {
		jitterVal, err := rand.Int(rand.Reader, big.NewInt(maxJitter))
		if err != nil {
			c.logger.Printf("Failed to generate jitter: %v", err)
		} else {
			backoff += time.Duration(jitterVal.Int64())
		}
	}

	return backoff
}

func isTransientError(err error) bool {
	if err == nil {
		return false
	}

	errStr := strings.ToLower(err.Error())
	transientPatterns := []string{
		"timeout",
		"connection refused",
		"connection reset",
		"temporary failure",
		"server error",
		"rate limit",
		"429",
		"502",
		"503",
		"504",
		"network",
		"dns",
		"tcp",
	}

	for _, pattern := range transientPatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}
	return false
}
