package proxy

import (
	"context"
	"fmt"
	"time"

	"github.com/lightningnetwork/lnd/clock"
)

// BackoffExecError is an error returned when the backoff execution fails.
// This error wraps the underlying error returned by the execution function.
type BackoffExecError struct {
	execErr error
}

// Error returns the error message.
func (e *BackoffExecError) Error() string {
	if e.execErr == nil {
		return "backoff exec error"
	}
	return fmt.Sprintf("backoff exec error: %s", e.execErr.Error())
}

// Unwrap returns the error of the last execution.
func (e *BackoffExecError) Unwrap() error {
	return e.execErr
}

// BackoffCfg configures the behaviour of the consignment delivery backoff
// procedure.
//
// nolint:lll
type BackoffCfg struct {
	// SkipInitDelay is a flag that indicates whether we should skip the
	// initial delay before attempting a transfer.
	SkipInitDelay bool `long:"skipinitdelay" description:"Skip the initial delay before attempting to deliver a consignment to the proxy."`

	// BackoffResetWait is the amount of time we'll wait before
	// resetting the backoff counter to its initial state.
	BackoffResetWait time.Duration `long:"backoffresetwait" description:"The amount of time to wait before resetting the backoff counter. Valid time units are {s, m, h}."`

	// NumTries is the number of times we'll try to deliver the
	// consignment before the BackoffResetWait delay is enforced.
	NumTries int `long:"numtries" description:"The number of consignment delivery attempts before the backoff counter is reset."`

	// InitialBackoff is the initial backoff time we'll use to wait before
	// retrying a transfer.
	InitialBackoff time.Duration `long:"initialbackoff" description:"The initial backoff time to wait before retrying to deliver a consignment. Valid time units are {s, m, h}."`

	// MaxBackoff is the maximum backoff time we'll use to wait before
	// retrying a transfer.
	MaxBackoff time.Duration `long:"maxbackoff" description:"The maximum backoff time to wait before retrying to deliver a consignment. Valid time units are {s, m, h}."`
}

// DefaultBackoffCfg returns the backoff configuration used if none is set.
func DefaultBackoffCfg() *BackoffCfg {
	return &BackoffCfg{
		BackoffResetWait: 10 * time.Minute,
		NumTries:         5,
		InitialBackoff:   5 * time.Second,
		MaxBackoff:       5 * time.Minute,
	}
}

// BackoffHandler is a handler for the backoff procedure.
type BackoffHandler struct {
	// cfg contains the backoff configuration parameters.
	cfg *BackoffCfg

	// transferLog is a log for recording consignment delivery and
	// retrieval attempts.
	transferLog TransferLog

	clock clock.Clock
}

// NewBackoffHandler creates a new backoff procedure handle.
func NewBackoffHandler(cfg *BackoffCfg, transferLog TransferLog,
	clock clock.Clock) *BackoffHandler {

	return &BackoffHandler{
		cfg:         cfg,
		transferLog: transferLog,
		clock:       clock,
	}
}

// initialDelay performs an initial delay based on the transfer log to ensure
// that we don't spam the proxy with delivery attempts after a restart.
func (b *BackoffHandler) initialDelay(ctx context.Context, transferID string,
	transferType TransferType) error {

	if b.cfg.SkipInitDelay {
		return nil
	}

	timestamps, err := b.transferLog.QueryTransferLog(
		ctx, transferID, transferType,
	)
	if err != nil {
		return fmt.Errorf("unable to retrieve transfer attempts "+
			"logs: %w", err)
	}

	if len(timestamps) == 0 {
		log.Debugf("No previous transfer attempts found for %v",
			transferID)
		return nil
	}

	sinceLastAttempt := b.timeSinceLastTransferAttempt(timestamps)
	if sinceLastAttempt < b.cfg.BackoffResetWait {
		waitDuration := b.cfg.BackoffResetWait - sinceLastAttempt
		log.Debugf("Waiting %v before attempting transfer %v",
			waitDuration, transferID)

		return b.wait(ctx, waitDuration)
	}

	return nil
}

// Exec attempts to execute the given transfer function using a repeating
// backoff time delayed strategy.
func (b *BackoffHandler) Exec(ctx context.Context, transferID string,
	transferType TransferType, transferFunc func() error) error {

	if b.cfg == nil {
		return fmt.Errorf("backoff config not specified")
	}

	log.Infof("Starting backoff procedure (transfer_type=%s, "+
		"transfer_id=%v)", transferType, transferID)

	err := b.initialDelay(ctx, transferID, transferType)
	if err != nil {
		return err
	}

	var (
		backoff    = b.cfg.InitialBackoff
		numTries   = b.cfg.NumTries
		maxBackoff = b.cfg.MaxBackoff

		errExec error
	)
	for i := 0; i < numTries; i++ {
		err = b.transferLog.LogTransferAttempt(
			ctx, transferID, transferType,
		)
		if err != nil {
			return fmt.Errorf("unable to log transfer attempt: %w",
				err)
		}

		errExec = transferFunc()
		if errExec == nil {
			break
		}
		errExec = &BackoffExecError{execErr: errExec}

		// The last attempt doesn't need to wait.
		if backoff == 0 || i == numTries-1 {
			continue
		}

		log.Debugf("Transfer failed, backing off (transfer_type=%s, "+
			"transfer_id=%v, backoff=%s, attempt=%d): %v",
			transferType, transferID, backoff, i, errExec)

		if err := b.wait(ctx, backoff); err != nil {
			return fmt.Errorf("backoff wait: %w", err)
		}

		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
	if errExec != nil {
		return fmt.Errorf("transfer backoff procedure failed; count "+
			"retries attempted: %d; %w", numTries, errExec)
	}

	return nil
}

// wait blocks for a given amount of time.
func (b *BackoffHandler) wait(ctx context.Context, wait time.Duration) error {
	select {
	case <-b.clock.TickAfter(wait):
		return nil
	case <-ctx.Done():
		return fmt.Errorf("back off handler context done")
	}
}

// timeSinceLastTransferAttempt returns the time elapsed since the latest of
// the given transfer attempts.
func (b *BackoffHandler) timeSinceLastTransferAttempt(
	timestamps []time.Time) time.Duration {

	if len(timestamps) == 0 {
		return 0
	}

	latest := timestamps[0]
	for _, ts := range timestamps {
		if ts.After(latest) {
			latest = ts
		}
	}

	return b.clock.Now().Sub(latest)
}
