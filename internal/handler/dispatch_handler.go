package handler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/tidepress/mail-dispatch/internal/domain"
	"github.com/tidepress/mail-dispatch/internal/repository"
	"github.com/tidepress/mail-dispatch/internal/service"
)

const (
	defaultPage     = 1
	defaultPageSize = 50
	maxPageSize     = 100
)

// Dispatcher runs the notification batch for one submission.
type Dispatcher interface {
	Dispatch(ctx context.Context, sub domain.Submission) (*service.BatchResult, error)
}

// Drainer runs one pass over the durable queue.
type Drainer interface {
	Drain(ctx context.Context) (*service.DrainResult, error)
}

// QueueReader exposes the durable queue for inspection.
type QueueReader interface {
	GetByID(ctx context.Context, id string) (*domain.QueuedEmail, error)
	List(ctx context.Context, params repository.ListParams) ([]domain.QueuedEmail, int64, error)
}

// UsageReader reports today's quota consumption.
type UsageReader interface {
	Snapshot(ctx context.Context) (*service.UsageSnapshot, error)
}

type DispatchHandler struct {
	dispatcher Dispatcher
	drainer    Drainer
	queue      QueueReader
	usage      UsageReader
}

func NewDispatchHandler(dispatcher Dispatcher, drainer Drainer, queue QueueReader, usage UsageReader) (*DispatchHandler, error) {
	if dispatcher == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}
	if drainer == nil {
		return nil, fmt.Errorf("drainer is required")
	}
	if queue == nil {
		return nil, fmt.Errorf("queue reader is required")
	}
	if usage == nil {
		return nil, fmt.Errorf("usage reader is required")
	}
	return &DispatchHandler{dispatcher: dispatcher, drainer: drainer, queue: queue, usage: usage}, nil
}

func RegisterDispatchRoutes(router fiber.Router, dispatcher Dispatcher, drainer Drainer, queue QueueReader, usage UsageReader) error {
	h, err := NewDispatchHandler(dispatcher, drainer, queue, usage)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Post("/dispatch", h.Dispatch)
	v1.Post("/queue/drain", h.DrainQueue)
	v1.Get("/queue", h.ListQueue)
	v1.Get("/queue/:id", h.GetQueued)
	v1.Get("/usage/today", h.UsageToday)

	return nil
}

type dispatchRequest struct {
	Kind          string                    `json:"kind"`
	CorrelationID string                    `json:"correlationId"`
	Article       *domain.ArticleSubmission `json:"article,omitempty"`
	Contact       *domain.ContactMessage    `json:"contact,omitempty"`
	Newsletter    *domain.NewsletterSignup  `json:"newsletter,omitempty"`
}

type classResultResponse struct {
	Class        string     `json:"class"`
	Recipient    string     `json:"recipient"`
	Outcome      string     `json:"outcome"`
	ProviderID   string     `json:"providerId,omitempty"`
	QueueID      string     `json:"queueId,omitempty"`
	ScheduledFor *time.Time `json:"scheduledFor,omitempty"`
}

type dispatchResponse struct {
	Strategy  string                `json:"strategy"`
	Remaining int                   `json:"remaining"`
	Results   []classResultResponse `json:"results"`
}

type drainResponse struct {
	Scanned   int `json:"scanned"`
	Sent      int `json:"sent"`
	Retried   int `json:"retried"`
	Dead      int `json:"dead"`
	Remaining int `json:"remaining"`
}

type queuedEmailResponse struct {
	ID            string    `json:"id"`
	Recipient     string    `json:"recipient"`
	Subject       string    `json:"subject"`
	Priority      string    `json:"priority"`
	Class         string    `json:"class"`
	SubmissionRef *string   `json:"submissionRef,omitempty"`
	Status        string    `json:"status"`
	RetryCount    int       `json:"retryCount"`
	ScheduledFor  time.Time `json:"scheduledFor"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

type listQueueResponse struct {
	Data []queuedEmailResponse `json:"data"`
	Meta listMeta              `json:"meta"`
}

type listMeta struct {
	Page     int   `json:"page"`
	PageSize int   `json:"pageSize"`
	Total    int64 `json:"total"`
}

type usageResponse struct {
	Day       string `json:"day"`
	Attempted int    `json:"attempted"`
	Succeeded int    `json:"succeeded"`
	Failed    int    `json:"failed"`
	Limit     int    `json:"limit"`
	Remaining int    `json:"remaining"`
}

func (h *DispatchHandler) Dispatch(c *fiber.Ctx) error {
	var req dispatchRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	kind, err := domain.ParseSubmissionKindFromString(req.Kind)
	if err != nil {
		return toHTTPError(err)
	}

	sub := domain.Submission{
		Kind:          kind,
		CorrelationID: strings.TrimSpace(req.CorrelationID),
		Article:       req.Article,
		Contact:       req.Contact,
		Newsletter:    req.Newsletter,
	}
	if sub.CorrelationID == "" {
		sub.CorrelationID = requestCorrelationID(c)
	}

	result, err := h.dispatcher.Dispatch(c.Context(), sub)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusAccepted).JSON(toDispatchResponse(result))
}

func (h *DispatchHandler) DrainQueue(c *fiber.Ctx) error {
	result, err := h.drainer.Drain(c.Context())
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(drainResponse{
		Scanned:   result.Scanned,
		Sent:      result.Sent,
		Retried:   result.Retried,
		Dead:      result.Dead,
		Remaining: result.Remaining,
	})
}

func (h *DispatchHandler) ListQueue(c *fiber.Ctx) error {
	params, err := parseListParams(c)
	if err != nil {
		return toHTTPError(err)
	}

	messages, total, err := h.queue.List(c.Context(), params)
	if err != nil {
		return toHTTPError(err)
	}

	data := make([]queuedEmailResponse, 0, len(messages))
	for i := range messages {
		data = append(data, toQueuedEmailResponse(&messages[i]))
	}

	return c.Status(fiber.StatusOK).JSON(listQueueResponse{
		Data: data,
		Meta: listMeta{
			Page:     params.Page,
			PageSize: params.PageSize,
			Total:    total,
		},
	})
}

func (h *DispatchHandler) GetQueued(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	message, err := h.queue.GetByID(c.Context(), id)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(toQueuedEmailResponse(message))
}

func (h *DispatchHandler) UsageToday(c *fiber.Ctx) error {
	snapshot, err := h.usage.Snapshot(c.Context())
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(usageResponse{
		Day:       snapshot.Day,
		Attempted: snapshot.Attempted,
		Succeeded: snapshot.Succeeded,
		Failed:    snapshot.Failed,
		Limit:     snapshot.Limit,
		Remaining: snapshot.Remaining,
	})
}

func parseListParams(c *fiber.Ctx) (repository.ListParams, error) {
	params := repository.ListParams{
		Page:     c.QueryInt("page", defaultPage),
		PageSize: c.QueryInt("pageSize", defaultPageSize),
	}

	if params.Page < 1 {
		return repository.ListParams{}, fmt.Errorf("%w: page must be >= 1", domain.ErrValidation)
	}
	if params.PageSize < 1 || params.PageSize > maxPageSize {
		return repository.ListParams{}, fmt.Errorf("%w: pageSize must be between 1 and %d", domain.ErrValidation, maxPageSize)
	}

	if rawStatus := strings.TrimSpace(c.Query("status")); rawStatus != "" {
		status, err := domain.ParseQueueStatusFromString(rawStatus)
		if err != nil {
			return repository.ListParams{}, err
		}
		params.Status = &status
	}

	if rawClass := strings.TrimSpace(c.Query("class")); rawClass != "" {
		class, err := domain.ParseMessageClassFromString(rawClass)
		if err != nil {
			return repository.ListParams{}, err
		}
		params.Class = &class
	}

	from, err := parseRFC3339Query(c.Query("from"), "from")
	if err != nil {
		return repository.ListParams{}, err
	}
	to, err := parseRFC3339Query(c.Query("to"), "to")
	if err != nil {
		return repository.ListParams{}, err
	}
	params.From = from
	params.To = to

	return params, nil
}

func parseRFC3339Query(value string, field string) (*time.Time, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, nil
	}

	t, err := time.Parse(time.RFC3339, trimmed)
	if err != nil {
		return nil, fmt.Errorf("%w: %s must be RFC3339", domain.ErrValidation, field)
	}
	return &t, nil
}

func requestCorrelationID(c *fiber.Ctx) string {
	if value := strings.TrimSpace(c.Get(fiber.HeaderXRequestID)); value != "" {
		return value
	}
	if value, ok := c.Locals("requestid").(string); ok {
		return strings.TrimSpace(value)
	}
	return ""
}

func toDispatchResponse(result *service.BatchResult) dispatchResponse {
	if result == nil {
		return dispatchResponse{}
	}

	results := make([]classResultResponse, 0, len(result.Results))
	for _, classResult := range result.Results {
		item := classResultResponse{
			Class:      classResult.Class.String(),
			Recipient:  classResult.Recipient,
			Outcome:    string(classResult.Outcome),
			ProviderID: classResult.ProviderID,
			QueueID:    classResult.QueueID,
		}
		if !classResult.ScheduledFor.IsZero() {
			scheduledFor := classResult.ScheduledFor
			item.ScheduledFor = &scheduledFor
		}
		results = append(results, item)
	}

	return dispatchResponse{
		Strategy:  result.Strategy.String(),
		Remaining: result.Remaining,
		Results:   results,
	}
}

func toQueuedEmailResponse(m *domain.QueuedEmail) queuedEmailResponse {
	if m == nil {
		return queuedEmailResponse{}
	}

	return queuedEmailResponse{
		ID:            m.ID,
		Recipient:     m.Recipient,
		Subject:       m.Subject,
		Priority:      m.Priority.String(),
		Class:         m.Class.String(),
		SubmissionRef: m.SubmissionRef,
		Status:        m.Status.String(),
		RetryCount:    m.RetryCount,
		ScheduledFor:  m.ScheduledFor,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}

func toHTTPError(err error) error {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrConflict):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	default:
		return err
	}
}
