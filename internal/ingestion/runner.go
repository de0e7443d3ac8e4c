package ingestion

import (
	"LockerLedger/internal/core"
	"LockerLedger/internal/observability"
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
)

// Dispatcher is what the runner applies parsed commands to.
type Dispatcher interface {
	CreateLocker(ctx context.Context, req core.CreateRequest) (*core.Result, error)
	Execute(ctx context.Context, cmd core.Command) (*core.Result, error)
}

// Disposition is what happens to a message after it was handled.
type Disposition int

const (
	Ack  Disposition = iota // applied or already applied
	Nak                     // redeliver later
	Term                    // never redeliver
)

func (d Disposition) String() string {
	switch d {
	case Ack:
		return "ack"
	case Nak:
		return "nak"
	default:
		return "term"
	}
}

// Runner drains inbound messages and applies them one at a time.
type Runner struct {
	dispatcher Dispatcher
	msgChan    <-chan RawMessage
	timeout    time.Duration
	metrics    *observability.Metrics
	logger     zerolog.Logger
}

func NewRunner(d Dispatcher, msgChan <-chan RawMessage, timeout time.Duration, metrics *observability.Metrics, logger zerolog.Logger) *Runner {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Runner{
		dispatcher: d,
		msgChan:    msgChan,
		timeout:    timeout,
		metrics:    metrics,
		logger:     logger,
	}
}

// Run blocks until ctx is cancelled or the message channel is closed.
func (r *Runner) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-r.msgChan:
			if !ok {
				return nil
			}
			switch r.Handle(ctx, msg) {
			case Ack:
				call(msg.AckFunc)
			case Nak:
				call(msg.NakFunc)
			case Term:
				call(msg.TermFunc)
			}
		}
	}
}

func call(f func()) {
	if f != nil {
		f()
	}
}

// Handle parses and applies one message and decides its disposition.
func (r *Runner) Handle(ctx context.Context, msg RawMessage) Disposition {
	req, err := Parse(msg.Kind, msg.Data, msg.MsgID)
	if err != nil {
		r.logger.Warn().Err(err).Str("subject", msg.Subject).Msg("dropping malformed command")
		r.count(msg.Kind, "malformed")
		return Term
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var res *core.Result
	if req.Create != nil {
		res, err = r.dispatcher.CreateLocker(ctx, *req.Create)
	} else {
		res, err = r.dispatcher.Execute(ctx, *req.Command)
	}

	op := req.Op()
	if err != nil {
		disp := Classify(err)
		reason := core.RejectReason(err)
		r.logger.Info().
			Err(err).
			Str("op", op).
			Str("reason", reason).
			Str("disposition", disp.String()).
			Msg("command rejected")
		if disp == Nak {
			r.count(op, "retry")
		} else {
			r.count(op, "rejected")
		}
		return disp
	}

	if res.Duplicate {
		r.count(op, "duplicate")
		return Ack
	}
	r.count(op, "applied")
	if r.metrics != nil && !msg.Received.IsZero() {
		r.metrics.IngestToApply.WithLabelValues(op).Observe(time.Since(msg.Received).Seconds())
	}
	r.logger.Debug().
		Str("op", op).
		Int64("sequence", res.Sequence).
		Str("event", eventTypeOf(res.Events)).
		Msg("command applied")
	return Ack
}

// retryable rejections may succeed on redelivery without the command
// changing: the key is still being applied, or a balance may be topped up.
var retryable = map[string]bool{
	"insufficient_balance": true,
}

// Classify maps a dispatcher error to a disposition. Domain rejections are
// final; in-flight duplicates, cancellations and unknown failures are
// redelivered.
func Classify(err error) Disposition {
	switch {
	case err == nil:
		return Ack
	case errors.Is(err, ErrMalformed), errors.Is(err, core.ErrUnknownOp):
		return Term
	case errors.Is(err, core.ErrDuplicateInFlight),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return Nak
	}
	reason := core.RejectReason(err)
	if reason == "other" || retryable[reason] {
		return Nak
	}
	return Term
}

func (r *Runner) count(op, outcome string) {
	if r.metrics != nil {
		r.metrics.IngestMessages.WithLabelValues(op, outcome).Inc()
	}
}
