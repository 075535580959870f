// Package ratelimiter paces outgoing HTTP requests per host so back-fill does not hammer a
// publisher with consecutive page downloads.
package ratelimiter

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

var ErrStopped = errors.New("rate limiter stopped")

type request struct {
	httpRequest *http.Request
	response    chan response
}

type response struct {
	httpResponse *http.Response
	err          error
}

type RateLimiter struct {
	client   *http.Client
	interval time.Duration
	queue    chan request
	lastSent map[string]time.Time
	mu       sync.Mutex
	ctx      context.Context
	cancel   context.CancelFunc
	log      *slog.Logger
	now      func() time.Time
}

// New starts the queue worker. A non-positive interval falls back to the default spacing.
func New(client *http.Client, interval time.Duration, log *slog.Logger) *RateLimiter {
	ctx, cancel := context.WithCancel(context.Background())

	if interval <= 0 {
		interval = defaultHostInterval
	}

	rl := &RateLimiter{
		client:   client,
		interval: interval,
		queue:    make(chan request, queueSize),
		lastSent: make(map[string]time.Time),
		ctx:      ctx,
		cancel:   cancel,
		log:      log,
		now:      time.Now,
	}

	go rl.processQueue()

	return rl
}

// Do queues the request and waits until it was sent. Requests to the same host are spaced by at
// least the configured interval.
func (rl *RateLimiter) Do(httpRequest *http.Request) (*http.Response, error) {
	req := request{
		httpRequest: httpRequest,
		response:    make(chan response, 1),
	}

	if rl.ctx.Err() != nil {
		return nil, ErrStopped
	}

	select {
	case rl.queue <- req:
	case <-httpRequest.Context().Done():
		return nil, httpRequest.Context().Err()
	case <-rl.ctx.Done():
		return nil, ErrStopped
	}

	select {
	case resp := <-req.response:
		return resp.httpResponse, resp.err
	case <-rl.ctx.Done():
		return nil, ErrStopped
	}
}

func (rl *RateLimiter) Stop() {
	rl.cancel()
}

func (rl *RateLimiter) processQueue() {
	for {
		select {
		case req := <-rl.queue:
			rl.handleRequest(req)
		case <-rl.ctx.Done():
			for {
				select {
				case req := <-rl.queue:
					req.response <- response{err: ErrStopped}
				default:
					return
				}
			}
		}
	}
}

func (rl *RateLimiter) handleRequest(req request) {
	host := req.httpRequest.URL.Hostname()
	reqCtx := req.httpRequest.Context()

	rl.mu.Lock()
	lastSent, exists := rl.lastSent[host]
	rl.mu.Unlock()

	if exists {
		delay := getDelay(rl.interval, lastSent, rl.now())

		if delay > 0 {
			rl.log.DebugContext(reqCtx, "Rate limiting request",
				"host", host,
				"delay", delay,
				"queueLen", len(rl.queue))

			select {
			case <-time.After(delay):
			case <-reqCtx.Done():
				req.response <- response{err: reqCtx.Err()}
				return
			case <-rl.ctx.Done():
				req.response <- response{err: ErrStopped}
				return
			}
		}
	}

	httpResponse, err := rl.client.Do(req.httpRequest)

	rl.mu.Lock()
	rl.lastSent[host] = rl.now()
	rl.mu.Unlock()

	req.response <- response{
		httpResponse: httpResponse,
		err:          err,
	}
}

func getDelay(interval time.Duration, lastSent time.Time, now time.Time) time.Duration {
	return max(interval-now.Sub(lastSent), 0)
}
