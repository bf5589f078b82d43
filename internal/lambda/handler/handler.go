// Package handler runs vault comparisons inside AWS Lambda: inputs come from
// S3, credentials from Secrets Manager and results go to the DynamoDB
// history table. Responses carry counts only, never field values.
package handler

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"

	"github.com/TheMichaelB/kdbxdiff/internal/config"
	"github.com/TheMichaelB/kdbxdiff/internal/creds"
	"github.com/TheMichaelB/kdbxdiff/internal/crypto"
	"github.com/TheMichaelB/kdbxdiff/internal/events"
	"github.com/TheMichaelB/kdbxdiff/internal/history"
	"github.com/TheMichaelB/kdbxdiff/internal/models"
	"github.com/TheMichaelB/kdbxdiff/internal/services/compare"
	"github.com/TheMichaelB/kdbxdiff/internal/source"
)

// ActionCompare is the only supported action. An empty action means compare.
const ActionCompare = "compare"

// Event represents the Lambda input event
type Event struct {
	Action   string `json:"action,omitempty"`
	Bucket   string `json:"bucket"`
	KeyA     string `json:"key_a"`
	KeyB     string `json:"key_b"`
	SecretID string `json:"secret_id,omitempty"`
}

// Response represents the Lambda response
type Response struct {
	Success   bool              `json:"success"`
	Message   string            `json:"message"`
	Differs   bool              `json:"differs"`
	Total     int               `json:"total"`
	Counts    map[string]int    `json:"counts,omitempty"`
	RecordID  string            `json:"record_id,omitempty"`
	ErrorCode string            `json:"error_code,omitempty"`
	Errors    []string          `json:"errors,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Deps are the AWS collaborators of a Handler.
type Deps struct {
	S3       source.S3Factory
	Secrets  creds.SecretsAPI
	Store    history.Store
	Provider crypto.Provider
}

// Handler processes comparison events. It is built once per cold start.
type Handler struct {
	cfg    *config.Config
	logger *events.Logger
	deps   Deps
}

// New creates a handler from explicit dependencies.
func New(cfg *config.Config, logger *events.Logger, deps Deps) *Handler {
	if logger == nil {
		logger = events.Discard()
	}
	if deps.Provider == nil {
		deps.Provider = crypto.NewProvider()
	}
	return &Handler{cfg: cfg, logger: logger, deps: deps}
}

// NewHandler builds a handler from the Lambda environment.
func NewHandler(ctx context.Context) (*Handler, error) {
	cfg, err := config.LoadLambdaConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger, err := events.NewLogger(&cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}

	sdk, err := cfg.AWS.SDKConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	store, err := history.Open(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("open history: %w", err)
	}
	if store == nil {
		logger.Warn("HISTORY_TABLE_NAME not set, comparisons will not be recorded")
	}

	return New(cfg, logger, Deps{
		S3:      source.NewS3Factory(cfg.AWS),
		Secrets: secretsmanager.NewFromConfig(sdk),
		Store:   store,
	}), nil
}

// ProcessEvent runs one comparison. Failures are reported in the response;
// the returned error is reserved for invocation-level problems.
func (h *Handler) ProcessEvent(ctx context.Context, event Event) (Response, error) {
	start := time.Now()
	logger := h.logger
	if id := events.GetRequestID(ctx); id != "" {
		logger = logger.WithField("request_id", id)
	}

	logger.WithFields(map[string]interface{}{
		"action": event.Action,
		"bucket": event.Bucket,
		"key_a":  event.KeyA,
		"key_b":  event.KeyB,
	}).Info("Processing Lambda event")

	switch event.Action {
	case "", ActionCompare:
	default:
		return Response{
			Success: false,
			Message: fmt.Sprintf("Unknown action: %s", event.Action),
		}, nil
	}

	if event.Bucket == "" || event.KeyA == "" || event.KeyB == "" {
		return Response{
			Success: false,
			Message: "bucket, key_a and key_b are required",
		}, nil
	}

	resp, err := h.handleCompare(ctx, logger, event)
	if err != nil {
		logger.WithError(err).Error("Comparison failed")
		return Response{
			Success:   false,
			Message:   "Comparison failed",
			ErrorCode: models.Code(err),
			Errors:    []string{err.Error()},
			Metadata:  map[string]string{"execution_time": time.Since(start).String()},
		}, nil
	}
	resp.Metadata["execution_time"] = time.Since(start).String()
	return resp, nil
}

func (h *Handler) handleCompare(ctx context.Context, logger *events.Logger, event Event) (Response, error) {
	refA := "s3://" + event.Bucket + "/" + strings.TrimPrefix(event.KeyA, "/")
	refB := "s3://" + event.Bucket + "/" + strings.TrimPrefix(event.KeyB, "/")

	loader := source.NewLoader(h.cfg.Source, nil, h.deps.S3, logger)
	dataA, err := loader.Load(ctx, refA)
	if err != nil {
		return Response{}, err
	}
	defer crypto.Wipe(dataA)
	dataB, err := loader.Load(ctx, refB)
	if err != nil {
		return Response{}, err
	}
	defer crypto.Wipe(dataB)

	combined, err := h.credentials(ctx, event.SecretID)
	if err != nil {
		return Response{}, err
	}

	resolver := &creds.Resolver{
		Combined: combined,
		ReadFile: func(path string) ([]byte, error) {
			if strings.HasPrefix(path, "s3://") {
				return loader.Load(ctx, path)
			}
			return os.ReadFile(path)
		},
	}
	pair, err := resolver.Resolve(refA, refB)
	if err != nil {
		return Response{}, err
	}
	defer pair.Wipe()

	svc := compare.NewService(h.deps.Provider, h.cfg.Compare, logger)
	res, err := svc.Compare(ctx,
		compare.Input{Name: refA, Data: dataA, Credentials: pair.A},
		compare.Input{Name: refB, Data: dataB, Credentials: pair.B},
	)
	if err != nil {
		return Response{}, err
	}
	defer res.Wipe()

	rec := res.Record()
	resp := Response{
		Success:  true,
		Differs:  !res.Changes.Empty(),
		Total:    rec.Total(),
		Counts:   rec.Counts,
		Metadata: map[string]string{
			"before_sha256":  res.Before.SHA256,
			"after_sha256":   res.After.SHA256,
			"before_version": res.Before.Version,
			"after_version":  res.After.Version,
		},
	}
	resp.Message = fmt.Sprintf("Found %d changes", resp.Total)

	if h.deps.Store != nil {
		if err := h.deps.Store.Record(ctx, rec); err != nil {
			logger.WithError(err).Warn("Failed to record comparison")
			resp.Errors = append(resp.Errors, fmt.Sprintf("record history: %v", err))
		} else {
			resp.RecordID = rec.ID
		}
	}
	return resp, nil
}

// credentials loads the combined document from the event's secret or the
// configured default secret.
func (h *Handler) credentials(ctx context.Context, secretID string) (*creds.Combined, error) {
	if secretID == "" {
		secretID = h.cfg.AWS.SecretID
	}
	if secretID == "" {
		return nil, fmt.Errorf("no credentials secret configured")
	}
	if h.deps.Secrets == nil {
		return nil, fmt.Errorf("secrets manager client not available")
	}
	return creds.LoadFromSecret(ctx, h.deps.Secrets, secretID)
}
