// Package approval holds peer requests until the operator approves or
// rejects them in the requests sheet.
package approval

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Maphikza/sheet-wallet/internal/dispatch"
	werrors "github.com/Maphikza/sheet-wallet/internal/errors"
	"github.com/Maphikza/sheet-wallet/internal/metrics"
	"github.com/Maphikza/sheet-wallet/internal/peer"
	"github.com/Maphikza/sheet-wallet/internal/schedule"
	"github.com/Maphikza/sheet-wallet/internal/schema"
)

const (
	rejectMessage  = "User rejected the request"
	expiredMessage = "Error: request expired without review"
)

// Executor runs an approved request.
type Executor interface {
	Execute(ctx context.Context, call dispatch.Call) (interface{}, error)
}

// Responder delivers a response to the peer that asked.
type Responder interface {
	RespondSessionRequest(ctx context.Context, topic string, resp peer.Response) error
}

// Submission is one inbound peer request, already tagged with its connection.
type Submission struct {
	ConnectionID string
	Topic        string
	PeerID       uint64
	Method       string
	Params       json.RawMessage
}

type Config struct {
	Requests       *schema.RequestTable
	Executor       Executor
	Responder      Responder
	Logs           *schema.LogTable
	PollInterval   time.Duration
	PendingTTL     time.Duration
	ClearCompleted bool
	Metrics        *metrics.Metrics
	Logger         zerolog.Logger
}

type waiter struct {
	topic string
	id    uint64
}

type entry struct {
	requestID string
	conn      string
	method    string
	paramKey  string
	params    json.RawMessage
	created   time.Time
	waiters   []waiter
	task      *schedule.Task
}

type Queue struct {
	cfg    Config
	logger zerolog.Logger
	now    func() time.Time

	mu         sync.Mutex
	entries    map[string]*entry
	dispatched map[string]bool
}

func New(cfg Config) *Queue {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 10 * time.Second
	}
	return &Queue{
		cfg:        cfg,
		logger:     cfg.Logger.With().Str("component", "approval_queue").Logger(),
		now:        time.Now,
		entries:    make(map[string]*entry),
		dispatched: make(map[string]bool),
	}
}

// Submit answers auto-approved methods immediately and queues everything
// else as a Pending row with a polling task. The returned request id is
// empty for auto-approved methods. ctx bounds the polling task's lifetime.
func (q *Queue) Submit(ctx context.Context, s Submission) (string, error) {
	q.cfg.Metrics.RequestSubmitted(s.Method)
	w := waiter{topic: s.Topic, id: s.PeerID}

	if dispatch.ParseMethod(s.Method).AutoApproved() {
		result, err := q.cfg.Executor.Execute(ctx, dispatch.Call{Method: s.Method, Params: s.Params})
		q.respond(ctx, "", w, dispatch.Respond(s.PeerID, result, err))
		return "", nil
	}

	key := dispatch.ParamKey(s.Method, s.Params)

	q.mu.Lock()
	for _, e := range q.entries {
		if e.conn == s.ConnectionID && e.method == s.Method && e.paramKey == key {
			e.waiters = append(e.waiters, w)
			q.mu.Unlock()
			q.logger.Info().
				Str("request_id", e.requestID).
				Str("connection_id", s.ConnectionID).
				Msg("duplicate request attached to pending row")
			return e.requestID, nil
		}
	}
	e := &entry{
		requestID: "req-" + uuid.NewString(),
		conn:      s.ConnectionID,
		method:    s.Method,
		paramKey:  key,
		params:    s.Params,
		created:   q.now(),
		waiters:   []waiter{w},
	}
	q.entries[e.requestID] = e
	q.mu.Unlock()

	err := q.cfg.Requests.Insert(ctx, schema.PendingRequest{
		ID:           e.requestID,
		ConnectionID: s.ConnectionID,
		Method:       s.Method,
		Params:       string(s.Params),
	})
	if err != nil {
		if waiters, ok := q.detach(e.requestID); ok {
			for _, w := range waiters {
				q.respond(ctx, e.requestID, w, dispatch.Respond(w.id, nil, err))
			}
		}
		return "", err
	}

	task := schedule.Every(ctx, q.cfg.PollInterval, func(ctx context.Context) bool {
		done, err := q.PollOnce(ctx, e.requestID)
		if err != nil {
			q.logger.Warn().Err(err).Str("request_id", e.requestID).Msg("poll failed, will retry")
		}
		return done
	})
	q.mu.Lock()
	e.task = task
	q.mu.Unlock()

	q.logger.Info().
		Str("request_id", e.requestID).
		Str("connection_id", s.ConnectionID).
		Str("method", s.Method).
		Msg("request awaiting approval")
	return e.requestID, nil
}

// PollOnce reads the row for requestID and acts on its disposition. done
// reports that the request is finished and polling should stop. Read
// errors and a missing row leave the request pending.
func (q *Queue) PollOnce(ctx context.Context, requestID string) (bool, error) {
	q.mu.Lock()
	e, ok := q.entries[requestID]
	q.mu.Unlock()
	if !ok {
		return true, nil
	}

	row, found, err := q.cfg.Requests.Find(ctx, requestID)
	if err != nil {
		return false, err
	}
	if !found {
		q.logger.Warn().Str("request_id", requestID).Msg("request row not found")
		return false, nil
	}

	switch row.Disposition() {
	case schema.ReqApproved:
		q.approve(ctx, e)
		return true, nil
	case schema.ReqRejected:
		q.reject(ctx, e)
		return true, nil
	default:
		if q.cfg.PendingTTL > 0 && q.now().Sub(e.created) >= q.cfg.PendingTTL {
			q.expire(ctx, e)
			return true, nil
		}
		return false, nil
	}
}

// detach claims the request for resolution. Only the first caller gets
// ok=true, so each request is dispatched at most once.
func (q *Queue) detach(requestID string) ([]waiter, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.dispatched[requestID] {
		return nil, false
	}
	e, ok := q.entries[requestID]
	if !ok {
		return nil, false
	}
	q.dispatched[requestID] = true
	delete(q.entries, requestID)
	return e.waiters, true
}

func (q *Queue) approve(ctx context.Context, e *entry) {
	waiters, ok := q.detach(e.requestID)
	if !ok {
		return
	}
	q.settle(ctx, e.requestID, schema.ReqApproved)

	result, err := q.cfg.Executor.Execute(ctx, dispatch.Call{
		RequestID: e.requestID,
		Method:    e.method,
		Params:    e.params,
	})
	for _, w := range waiters {
		q.respond(ctx, e.requestID, w, dispatch.Respond(w.id, result, err))
	}

	if err != nil {
		q.audit(ctx, "Request "+e.requestID+" ("+e.method+") failed: "+dispatch.Detail(err))
	} else {
		q.audit(ctx, "Request "+e.requestID+" ("+e.method+") approved")
	}
	q.finish(ctx, e.requestID, schema.ReqApproved)
}

func (q *Queue) reject(ctx context.Context, e *entry) {
	waiters, ok := q.detach(e.requestID)
	if !ok {
		return
	}
	q.settle(ctx, e.requestID, schema.ReqRejected)
	for _, w := range waiters {
		q.respond(ctx, e.requestID, w, peer.Error(w.id, peer.CodeUserRejected, rejectMessage))
	}
	q.audit(ctx, "Request "+e.requestID+" ("+e.method+") rejected")
	q.finish(ctx, e.requestID, schema.ReqRejected)
}

func (q *Queue) expire(ctx context.Context, e *entry) {
	waiters, ok := q.detach(e.requestID)
	if !ok {
		return
	}
	q.settle(ctx, e.requestID, schema.ReqRejected)
	for _, w := range waiters {
		q.respond(ctx, e.requestID, w, peer.Error(w.id, peer.CodeInternal, expiredMessage))
	}
	q.audit(ctx, "Request "+e.requestID+" ("+e.method+") expired without review")
	q.finish(ctx, e.requestID, schema.ReqRejected)
}

// settle mirrors the disposition into the Status text.
func (q *Queue) settle(ctx context.Context, requestID string, status schema.RequestStatus) {
	if _, err := q.cfg.Requests.Settle(ctx, requestID, status); err != nil {
		q.logger.Warn().Err(err).Str("request_id", requestID).Msg("failed to record request status")
	}
}

func (q *Queue) finish(ctx context.Context, requestID string, status schema.RequestStatus) {
	q.cfg.Metrics.RequestResolved(string(status))
	if !q.cfg.ClearCompleted {
		return
	}
	if err := q.cfg.Requests.Delete(ctx, requestID); err != nil {
		q.logger.Warn().Err(err).Str("request_id", requestID).Msg("failed to clear completed request")
	}
}

func (q *Queue) respond(ctx context.Context, requestID string, w waiter, resp peer.Response) {
	if err := q.cfg.Responder.RespondSessionRequest(ctx, w.topic, resp); err != nil {
		q.logger.Error().Err(err).
			Str("request_id", requestID).
			Str("topic", w.topic).
			Msg("failed to deliver response to peer")
	}
}

func (q *Queue) audit(ctx context.Context, message string) {
	if q.cfg.Logs == nil {
		return
	}
	if err := q.cfg.Logs.Append(ctx, message); err != nil {
		q.logger.Debug().Err(err).Msg("failed to append to logs sheet")
	}
}

// Resolve records an operator decision for a Pending row. The polling task
// picks it up on its next iteration.
func (q *Queue) Resolve(ctx context.Context, requestID string, approve bool) error {
	changed, err := q.cfg.Requests.Mark(ctx, requestID, approve)
	if err != nil {
		return err
	}
	if !changed {
		return werrors.Validation("resolve_request", "request "+requestID+" is not pending")
	}
	return nil
}

// List returns every request row.
func (q *Queue) List(ctx context.Context) ([]schema.PendingRequest, error) {
	return q.cfg.Requests.List(ctx)
}

// Pending returns the ids of requests still being polled.
func (q *Queue) Pending() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	ids := make([]string, 0, len(q.entries))
	for id := range q.entries {
		ids = append(ids, id)
	}
	return ids
}

// Stop cancels every polling task.
func (q *Queue) Stop() {
	q.mu.Lock()
	tasks := make([]*schedule.Task, 0, len(q.entries))
	for _, e := range q.entries {
		if e.task != nil {
			tasks = append(tasks, e.task)
		}
	}
	q.mu.Unlock()

	for _, t := range tasks {
		t.Cancel()
	}
}
