package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"medical-interpreter/internal/domain"
	"medical-interpreter/internal/pipeline"
)

const correlationHeader = "X-Correlation-Id"

// Interpreter is the pipeline surface exposed over HTTP.
type Interpreter interface {
	StartSession(ctx context.Context, doctorID, patientID string) (domain.Session, error)
	ProcessTurn(ctx context.Context, req pipeline.TurnRequest) (pipeline.TurnResult, error)
	CloseSession(ctx context.Context, sessionID string) error
	GetSummary(ctx context.Context, sessionID string) (domain.SessionSummary, error)
	SummarizeSession(ctx context.Context, sessionID string) (string, error)
}

type Handler struct {
	svc    Interpreter
	logger *slog.Logger
}

func NewHandler(svc Interpreter) (*Handler, error) {
	if svc == nil {
		return nil, errors.New("handler: interpreter must not be nil")
	}
	return &Handler{svc: svc, logger: slog.Default()}, nil
}

type startSessionRequest struct {
	DoctorID  string `json:"doctorId"`
	PatientID string `json:"patientId"`
}

type sessionResponse struct {
	SessionID string    `json:"sessionId"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"createdAt,omitzero"`
}

type turnRequest struct {
	SenderRole string `json:"senderRole"`
	Text       string `json:"text"`
}

type passageResponse struct {
	ID    string  `json:"id"`
	Text  string  `json:"text"`
	Score float64 `json:"score"`
}

type turnResponse struct {
	DisplayText string                       `json:"displayText"`
	Status      string                       `json:"status"`
	Intent      string                       `json:"intent"`
	Confidence  float64                      `json:"confidence"`
	Unreviewed  bool                         `json:"unreviewed"`
	Degraded    bool                         `json:"degradedMasking"`
	TurnIndex   int                          `json:"turnIndex"`
	MessageID   string                       `json:"messageId"`
	Contexts    map[string][]passageResponse `json:"contexts"`
}

type summaryResponse struct {
	SessionID       string   `json:"sessionId"`
	KeySymptoms     []string `json:"keySymptoms"`
	KeyDecisions    []string `json:"keyDecisions"`
	LastUpdatedTurn int      `json:"lastUpdatedTurn"`
	Narrative       *string  `json:"narrative,omitempty"`
}

type errorResponse struct {
	Error       string `json:"error"`
	Reason      string `json:"reason,omitempty"`
	DisplayText string `json:"displayText,omitempty"`
}

// Handle serves one API Gateway proxy event.
//
//	POST   /sessions
//	POST   /sessions/{id}/turns
//	GET    /sessions/{id}/summary[?narrative=true]
//	DELETE /sessions/{id}
func (h *Handler) Handle(ctx context.Context, event events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	corrID := correlationID(event.Headers)
	logger := h.logger.With("correlation_id", corrID, "method", event.HTTPMethod, "path", event.Path)
	start := time.Now()

	resp := h.route(ctx, event)
	if resp.Headers == nil {
		resp.Headers = map[string]string{}
	}
	resp.Headers["Content-Type"] = "application/json"
	resp.Headers[correlationHeader] = corrID
	logger.Info("request served", "status", resp.StatusCode, "duration_ms", time.Since(start).Milliseconds())
	return resp, nil
}

func (h *Handler) route(ctx context.Context, event events.APIGatewayProxyRequest) events.APIGatewayProxyResponse {
	parts := strings.Split(strings.Trim(event.Path, "/"), "/")
	if len(parts) == 0 || parts[0] != "sessions" {
		return jsonError(http.StatusNotFound, "NOT_FOUND", "unknown_route", "")
	}
	method := strings.ToUpper(event.HTTPMethod)

	switch {
	case len(parts) == 1 && method == http.MethodPost:
		return h.startSession(ctx, event.Body)
	case len(parts) == 2 && method == http.MethodDelete:
		return h.closeSession(ctx, parts[1])
	case len(parts) == 3 && parts[2] == "turns" && method == http.MethodPost:
		return h.processTurn(ctx, parts[1], event.Body)
	case len(parts) == 3 && parts[2] == "summary" && method == http.MethodGet:
		return h.summary(ctx, parts[1], event.QueryStringParameters["narrative"] == "true")
	case len(parts) <= 3:
		return jsonError(http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method_not_allowed", "")
	}
	return jsonError(http.StatusNotFound, "NOT_FOUND", "unknown_route", "")
}

func (h *Handler) startSession(ctx context.Context, body string) events.APIGatewayProxyResponse {
	var req startSessionRequest
	if err := decodeBody(body, &req); err != nil {
		return invalidBody()
	}
	sess, err := h.svc.StartSession(ctx, req.DoctorID, req.PatientID)
	if err != nil {
		return h.fromError(err, "")
	}
	return jsonResponse(http.StatusCreated, sessionResponse{
		SessionID: sess.ID,
		Status:    string(sess.Status),
		CreatedAt: sess.CreatedAt,
	})
}

func (h *Handler) closeSession(ctx context.Context, id string) events.APIGatewayProxyResponse {
	if err := h.svc.CloseSession(ctx, id); err != nil {
		return h.fromError(err, "")
	}
	return jsonResponse(http.StatusOK, sessionResponse{SessionID: id, Status: string(domain.SessionClosed)})
}

func (h *Handler) processTurn(ctx context.Context, id, body string) events.APIGatewayProxyResponse {
	var req turnRequest
	if err := decodeBody(body, &req); err != nil {
		return invalidBody()
	}
	res, err := h.svc.ProcessTurn(ctx, pipeline.TurnRequest{
		SessionID:  id,
		SenderRole: domain.SenderRole(strings.ToLower(strings.TrimSpace(req.SenderRole))),
		RawText:    req.Text,
	})
	if err != nil {
		return h.fromError(err, res.DisplayText)
	}

	contexts := make(map[string][]passageResponse, len(res.Contexts))
	for tag, ps := range res.Contexts {
		out := make([]passageResponse, 0, len(ps))
		for _, p := range ps {
			out = append(out, passageResponse{ID: p.ID, Text: p.Text, Score: p.Score})
		}
		contexts[string(tag)] = out
	}
	return jsonResponse(http.StatusOK, turnResponse{
		DisplayText: res.DisplayText,
		Status:      string(res.Status),
		Intent:      string(res.Intent),
		Confidence:  res.Confidence,
		Unreviewed:  res.Unreviewed,
		Degraded:    res.Degraded,
		TurnIndex:   res.TurnIndex,
		MessageID:   res.MessageID,
		Contexts:    contexts,
	})
}

func (h *Handler) summary(ctx context.Context, id string, narrative bool) events.APIGatewayProxyResponse {
	s, err := h.svc.GetSummary(ctx, id)
	if err != nil {
		return h.fromError(err, "")
	}
	out := summaryResponse{
		SessionID:       id,
		KeySymptoms:     nonNil(s.KeySymptoms),
		KeyDecisions:    nonNil(s.KeyDecisions),
		LastUpdatedTurn: s.LastUpdatedTurn,
	}
	if narrative {
		text, err := h.svc.SummarizeSession(ctx, id)
		if err != nil {
			return h.fromError(err, "")
		}
		out.Narrative = &text
	}
	return jsonResponse(http.StatusOK, out)
}

func (h *Handler) fromError(err error, displayText string) events.APIGatewayProxyResponse {
	var pe *pipeline.Error
	if !errors.As(err, &pe) {
		h.logger.Error("unexpected interpreter error", "err", err)
		return jsonError(http.StatusInternalServerError, string(pipeline.ErrorInternal), "unexpected_error", "")
	}
	status := http.StatusInternalServerError
	switch pe.Code {
	case pipeline.ErrorValidation:
		status = http.StatusBadRequest
		if pe.Reason == pipeline.ReasonSessionNotFound {
			status = http.StatusNotFound
		}
	case pipeline.ErrorSafetyRejection:
		status = http.StatusUnprocessableEntity
	case pipeline.ErrorTransient:
		status = http.StatusServiceUnavailable
	case pipeline.ErrorCancelled:
		status = http.StatusRequestTimeout
	}
	return jsonError(status, string(pe.Code), pe.Reason, displayText)
}

// ServeHTTP adapts a plain HTTP request to Handle for local runs.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}
	headers := make(map[string]string, len(r.Header))
	for k := range r.Header {
		headers[k] = r.Header.Get(k)
	}
	query := make(map[string]string)
	for k, v := range r.URL.Query() {
		if len(v) > 0 {
			query[k] = v[0]
		}
	}
	resp, _ := h.Handle(r.Context(), events.APIGatewayProxyRequest{
		HTTPMethod:            r.Method,
		Path:                  r.URL.Path,
		Headers:               headers,
		QueryStringParameters: query,
		Body:                  string(body),
	})
	for k, v := range resp.Headers {
		w.Header().Set(k, v)
	}
	w.WriteHeader(resp.StatusCode)
	_, _ = io.WriteString(w, resp.Body)
}

func decodeBody(body string, v any) error {
	dec := json.NewDecoder(strings.NewReader(body))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func invalidBody() events.APIGatewayProxyResponse {
	return jsonError(http.StatusBadRequest, string(pipeline.ErrorValidation), "invalid_body", "")
}

func jsonError(status int, code, reason, displayText string) events.APIGatewayProxyResponse {
	return jsonResponse(status, errorResponse{Error: code, Reason: reason, DisplayText: displayText})
}

func jsonResponse(status int, v any) events.APIGatewayProxyResponse {
	body, err := json.Marshal(v)
	if err != nil {
		status = http.StatusInternalServerError
		body = []byte(`{"error":"INTERNAL_ERROR"}`)
	}
	return events.APIGatewayProxyResponse{StatusCode: status, Body: string(body)}
}

func correlationID(headers map[string]string) string {
	for k, v := range headers {
		if strings.EqualFold(k, correlationHeader) && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return uuid.NewString()
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
