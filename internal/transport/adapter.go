package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/illarion/moodlock/internal/crypto"
)

const (
	DefaultConcurrency    = 4
	DefaultStallThreshold = 2 * time.Second
)

// KeySource lends the master key. *lifecycle.Manager satisfies it.
type KeySource interface {
	WithKey(fn func(*crypto.Key) error) error
}

// Options configures an Adapter.
type Options struct {
	// Concurrency bounds parallel decryption in OpenBatch.
	Concurrency int
	// StallThreshold is how long an operation may take before it is logged as a fault.
	StallThreshold time.Duration
	Logger         *slog.Logger
}

// Adapter seals and opens payloads with the account's master key.
type Adapter struct {
	keys   KeySource
	opts   Options
	logger *slog.Logger
}

// NewAdapter returns an Adapter. Zero option values select the defaults.
func NewAdapter(keys KeySource, opts Options) *Adapter {
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.StallThreshold <= 0 {
		opts.StallThreshold = DefaultStallThreshold
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Adapter{
		keys:   keys,
		opts:   opts,
		logger: opts.Logger.With(slog.String("component", "transport")),
	}
}

// Seal serializes v to JSON and encrypts it.
func (a *Adapter) Seal(ctx context.Context, v any, aad []byte) (*crypto.Envelope, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	defer a.watch("seal", 1, time.Now())

	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	defer crypto.ClearBytes(data)

	var env *crypto.Envelope
	err = a.keys.WithKey(func(k *crypto.Key) error {
		var err error
		env, err = crypto.Encrypt(k, data, aad)
		return err
	})
	if err != nil {
		return nil, err
	}
	return env, nil
}

// Open decodes raw into out, decrypting it first when it is Sealed.
func (a *Adapter) Open(ctx context.Context, raw json.RawMessage, aad []byte, out any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	defer a.watch("open", 1, time.Now())

	p, err := Classify(raw)
	if err != nil {
		return err
	}

	var data []byte
	err = a.keys.WithKey(func(k *crypto.Key) error {
		data, err = openPayload(k, p, aad)
		return err
	})
	if err != nil {
		return err
	}
	return decodeJSON(data, out)
}

func openPayload(key *crypto.Key, p Payload, aad []byte) ([]byte, error) {
	switch p := p.(type) {
	case Plaintext:
		return p.Raw, nil
	case Sealed:
		return crypto.Decrypt(key, p.Envelope, aad)
	default:
		panic(fmt.Sprintf("transport: unknown payload %T", p))
	}
}

func decodeJSON(data []byte, out any) error {
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode payload: %w", err)
	}
	return nil
}

// Record is one stored value to be opened in a batch.
type Record struct {
	ID   string
	Data json.RawMessage
	AAD  []byte
}

// Item is a successfully opened record.
type Item struct {
	ID    string
	Index int
	// Data is the decrypted JSON.
	Data json.RawMessage
	// Legacy is set for records that were stored unencrypted.
	Legacy bool
}

// Failure is a record that could not be opened.
type Failure struct {
	ID    string
	Index int
	Err   error
}

// BatchResult holds the outcome of OpenBatch. Items and Failures keep input order.
type BatchResult struct {
	Items    []Item
	Failures []Failure
}

// OpenBatch opens every record, decrypting in parallel. Individual failures are
// collected in the result; an error is returned only when the key is unavailable.
func (a *Adapter) OpenBatch(ctx context.Context, records []Record) (*BatchResult, error) {
	defer a.watch("open_batch", len(records), time.Now())

	items := make([]*Item, len(records))
	errs := make([]error, len(records))

	err := a.keys.WithKey(func(k *crypto.Key) error {
		g := new(errgroup.Group)
		g.SetLimit(a.opts.Concurrency)
		for i, rec := range records {
			g.Go(func() error {
				if err := ctx.Err(); err != nil {
					errs[i] = err
					return nil
				}
				p, err := Classify(rec.Data)
				if err != nil {
					errs[i] = err
					return nil
				}
				data, err := openPayload(k, p, rec.AAD)
				if err != nil {
					errs[i] = err
					return nil
				}
				_, legacy := p.(Plaintext)
				items[i] = &Item{ID: rec.ID, Index: i, Data: data, Legacy: legacy}
				return nil
			})
		}
		return g.Wait()
	})
	if err != nil {
		return nil, err
	}

	res := &BatchResult{}
	for i := range records {
		if errs[i] != nil {
			res.Failures = append(res.Failures, Failure{ID: records[i].ID, Index: i, Err: errs[i]})
			continue
		}
		res.Items = append(res.Items, *items[i])
	}

	if len(res.Failures) > 0 {
		a.logger.Warn("some records could not be decrypted",
			slog.Int("total", len(records)),
			slog.Int("failed", len(res.Failures)))
	}
	return res, nil
}

func (a *Adapter) watch(op string, n int, started time.Time) {
	elapsed := time.Since(started)
	if elapsed > a.opts.StallThreshold {
		a.logger.Error("encryption operation stalled",
			slog.String("op", op),
			slog.Int("records", n),
			slog.Duration("elapsed", elapsed),
			slog.Duration("threshold", a.opts.StallThreshold))
	}
}
