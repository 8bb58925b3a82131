// Package quote resolves the text posted by each broadcast.
//
// Resolve never fails: when the remote source is unavailable for any reason the
// resolver picks one of a small set of built-in quotes instead.
package quote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/samber/lo"
	"golang.org/x/sync/singleflight"

	logx "quotecast/pkg/logx"
)

const (
	DefaultURL     = "https://type.fit/api/quotes"
	DefaultTimeout = 6 * time.Second

	unknownAuthor = "Unknown"
	maxBodyBytes  = 4 << 20
)

// Fallback is used verbatim whenever the quote source cannot be used.
var Fallback = []string{
	"The best way to predict the future is to invent it. — Alan Kay",
	"Be yourself; everyone else is already taken. — Oscar Wilde",
	"Do small things with great love. — Mother Teresa",
	"The only limit is your mind. — Unknown",
}

// ErrUpstreamUnavailable matches every FetchError.
var ErrUpstreamUnavailable = errors.New("quote source unavailable")

// Quote is built per resolution and never stored.
type Quote struct {
	Text   string
	Author string
}

func (q Quote) String() string {
	author := strings.TrimSpace(q.Author)
	if author == "" {
		author = unknownAuthor
	}
	return "\"" + q.Text + "\" — " + author
}

// FetchError describes why the quote source could not be used.
type FetchError struct {
	Stage      string // "request" | "status" | "decode" | "empty"
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	switch {
	case e.StatusCode != 0:
		return fmt.Sprintf("quote %s: http %d", e.Stage, e.StatusCode)
	case e.Err != nil:
		return fmt.Sprintf("quote %s: %v", e.Stage, e.Err)
	default:
		return "quote " + e.Stage
	}
}

func (e *FetchError) Unwrap() error { return e.Err }

func (e *FetchError) Is(target error) bool { return target == ErrUpstreamUnavailable }

type Config struct {
	URL     string
	Timeout time.Duration
}

type Resolver struct {
	cfg    Config
	log    logx.Logger
	client *http.Client
	group  singleflight.Group

	// intn picks an index in [0, n); swapped in tests.
	intn func(n int) int
}

type Option func(*Resolver)

// WithHTTPClient overrides the HTTP client. The per-request timeout still applies.
func WithHTTPClient(c *http.Client) Option {
	return func(r *Resolver) {
		if c != nil {
			r.client = c
		}
	}
}

// WithRand overrides the index picker used for uniform selection.
func WithRand(intn func(n int) int) Option {
	return func(r *Resolver) {
		if intn != nil {
			r.intn = intn
		}
	}
}

func New(cfg Config, log logx.Logger, opts ...Option) *Resolver {
	if strings.TrimSpace(cfg.URL) == "" {
		cfg.URL = DefaultURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	r := &Resolver{
		cfg:    cfg,
		log:    log,
		client: &http.Client{},
		intn:   rand.Intn,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Resolve returns display-ready text. It always succeeds.
func (r *Resolver) Resolve(ctx context.Context) string {
	q, err := r.Fetch(ctx)
	if err != nil {
		r.log.Warn("quote fetch failed; using fallback", logx.Err(err), logx.String("url", r.cfg.URL))
		return r.fallback()
	}
	return q.String()
}

// Fetch asks the quote source for candidates and picks one uniformly at random.
// Concurrent callers share a single in-flight request. The request is bounded
// by the resolver timeout only, so one caller giving up does not fail the
// others; that caller just stops waiting.
func (r *Resolver) Fetch(ctx context.Context) (Quote, error) {
	ch := r.group.DoChan("candidates", func() (any, error) {
		return r.fetchCandidates(context.WithoutCancel(ctx))
	})
	var res singleflight.Result
	select {
	case <-ctx.Done():
		return Quote{}, ctx.Err()
	case res = <-ch:
	}
	if res.Err != nil {
		return Quote{}, res.Err
	}
	if res.Shared {
		r.log.Trace("quote fetch shared")
	}
	candidates := res.Val.([]Quote)
	return candidates[r.intn(len(candidates))], nil
}

func (r *Resolver) fallback() string {
	return Fallback[r.intn(len(Fallback))]
}

type record struct {
	Text   *string `json:"text"`
	Author *string `json:"author"`
}

func (r *Resolver) fetchCandidates(ctx context.Context) ([]Quote, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.cfg.URL, http.NoBody)
	if err != nil {
		return nil, &FetchError{Stage: "request", Err: err}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, &FetchError{Stage: "request", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return nil, &FetchError{Stage: "status", StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, &FetchError{Stage: "request", Err: err}
	}
	records, err := decodeRecords(body)
	if err != nil {
		return nil, &FetchError{Stage: "decode", Err: err}
	}

	candidates := lo.FilterMap(records, func(rec record, _ int) (Quote, bool) {
		if rec.Text == nil || strings.TrimSpace(*rec.Text) == "" {
			return Quote{}, false
		}
		q := Quote{Text: strings.TrimSpace(*rec.Text), Author: unknownAuthor}
		if rec.Author != nil && strings.TrimSpace(*rec.Author) != "" {
			q.Author = strings.TrimSpace(*rec.Author)
		}
		return q, true
	})
	if len(candidates) == 0 {
		return nil, &FetchError{Stage: "empty"}
	}
	return candidates, nil
}

// decodeRecords accepts either a single {text, author} object or an array of them.
func decodeRecords(body []byte) ([]record, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, errors.New("empty body")
	}
	switch body[0] {
	case '[':
		var out []record
		if err := json.Unmarshal(body, &out); err != nil {
			return nil, err
		}
		return out, nil
	case '{':
		var one record
		if err := json.Unmarshal(body, &one); err != nil {
			return nil, err
		}
		if one.Text == nil {
			return nil, errors.New("object has no text field")
		}
		return []record{one}, nil
	default:
		return nil, fmt.Errorf("unexpected payload starting with %q", body[0])
	}
}
