package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/kirillkom/immigration-intake/internal/core/domain"
	"github.com/kirillkom/immigration-intake/internal/core/ports"
)

const (
	StageExtract  = "extract"
	StageEvaluate = "evaluate"
	StageAllocate = "allocate"
	StageNotify   = "notify"
)

const extractErrorPrefix = "Error extracting text: "

type RequestStateMachine struct {
	requests    ports.RequestRepository
	documents   ports.DocumentRepository
	extractor   ports.TextExtractor
	embedder    ports.Embedder
	vectorDB    ports.VectorStore
	splitter    ports.TextSplitter
	evaluator   *ComplianceEvaluator
	categorizer *Categorizer
	allocator   *SlotAllocator
	notifier    ports.Notifier
	routes      domain.GuidelineRoutes
	limits      domain.PipelineLimits
	observer    ports.PipelineObserver
	now         func() time.Time
}

type StateMachineDeps struct {
	Requests    ports.RequestRepository
	Documents   ports.DocumentRepository
	Extractor   ports.TextExtractor
	Embedder    ports.Embedder
	VectorDB    ports.VectorStore
	Splitter    ports.TextSplitter
	Evaluator   *ComplianceEvaluator
	Categorizer *Categorizer
	Allocator   *SlotAllocator
	Notifier    ports.Notifier
	Routes      domain.GuidelineRoutes
	Limits      domain.PipelineLimits
	Observer    ports.PipelineObserver
}

func NewRequestStateMachine(deps StateMachineDeps) *RequestStateMachine {
	routes := deps.Routes
	if routes == nil {
		routes = domain.DefaultGuidelineRoutes()
	}
	return &RequestStateMachine{
		requests:    deps.Requests,
		documents:   deps.Documents,
		extractor:   deps.Extractor,
		embedder:    deps.Embedder,
		vectorDB:    deps.VectorDB,
		splitter:    deps.Splitter,
		evaluator:   deps.Evaluator,
		categorizer: deps.Categorizer,
		allocator:   deps.Allocator,
		notifier:    deps.Notifier,
		routes:      routes,
		limits:      deps.Limits.Normalize(),
		observer:    deps.Observer,
		now:         time.Now,
	}
}

// Run advances the request from its committed status until it reaches a pipeline terminal state.
// Each stage commits before the next one reads, so an interrupted run can be resumed by calling Run again.
func (sm *RequestStateMachine) Run(ctx context.Context, requestID int64) (*domain.Request, error) {
	req, err := sm.requests.GetByID(ctx, requestID)
	if err != nil {
		return nil, fmt.Errorf("load request: %w", err)
	}

	for {
		if err := ctx.Err(); err != nil {
			return req, sm.fail(ctx, req, fmt.Errorf("stopped at %s: %w", req.Status, err))
		}

		var (
			stage string
			done  bool
		)
		started := time.Now()
		switch req.Status {
		case domain.StatusPending:
			stage = StageExtract
			err = sm.extractDocuments(ctx, req)
		case domain.StatusProcessing:
			stage = StageEvaluate
			err = sm.evaluate(ctx, req)
		case domain.StatusCategorized:
			stage = StageAllocate
			done, err = sm.allocate(ctx, req)
		default:
			return req, nil
		}
		sm.observeStage(stage, time.Since(started), err)
		if err != nil {
			return req, sm.fail(ctx, req, fmt.Errorf("%s stage: %w", stage, err))
		}

		reloaded, loadErr := sm.requests.GetByID(ctx, requestID)
		if loadErr != nil {
			return req, fmt.Errorf("reload request: %w", loadErr)
		}
		req = reloaded
		if done {
			return req, nil
		}
	}
}

func (sm *RequestStateMachine) extractDocuments(ctx context.Context, req *domain.Request) error {
	existing, err := sm.documents.ListByRequest(ctx, req.ID)
	if err != nil {
		return fmt.Errorf("list documents: %w", err)
	}
	stored := make(map[string]struct{}, len(existing))
	for _, doc := range existing {
		stored[doc.Filename] = struct{}{}
	}

	for _, attachment := range req.Attachments {
		if _, ok := stored[attachment.Filename]; ok {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		doc := sm.extractAttachment(ctx, req.ID, attachment)
		if err := sm.documents.CreateDocument(ctx, doc); err != nil {
			return fmt.Errorf("store document %q: %w", attachment.Filename, err)
		}
	}

	return sm.requests.Transition(ctx, req.ID, domain.StatusPending, domain.StatusProcessing)
}

// extractAttachment never fails: a broken attachment becomes a document with placeholder text.
func (sm *RequestStateMachine) extractAttachment(ctx context.Context, requestID int64, attachment domain.Attachment) *domain.Document {
	doc := &domain.Document{
		RequestID:   requestID,
		Filename:    attachment.Filename,
		StoragePath: attachment.StorageKey,
		ContentType: attachment.ContentType,
		CreatedAt:   sm.now().UTC(),
	}

	extractCtx, cancel := context.WithTimeout(ctx, sm.limits.ExtractTimeout)
	text, err := sm.extractor.Extract(extractCtx, attachment)
	cancel()
	if err != nil {
		slog.Warn("attachment_extract_failed",
			"request_id", requestID,
			"filename", attachment.Filename,
			"error", err,
		)
		doc.ExtractedText = extractErrorPrefix + err.Error()
		doc.ExtractFailed = true
		return doc
	}

	doc.ExtractedText = strings.TrimSpace(text)
	doc.HasText = doc.ExtractedText != ""
	if !doc.HasText {
		slog.Info("attachment_without_text", "request_id", requestID, "filename", attachment.Filename)
	}

	if vectorID, err := sm.indexDocument(ctx, doc); err != nil {
		slog.Warn("attachment_index_failed",
			"request_id", requestID,
			"filename", attachment.Filename,
			"error", err,
		)
	} else {
		doc.VectorID = &vectorID
	}
	return doc
}

// indexDocument stores the document passages and returns the id of the first one.
func (sm *RequestStateMachine) indexDocument(ctx context.Context, doc *domain.Document) (string, error) {
	if sm.embedder == nil || sm.vectorDB == nil {
		return "", fmt.Errorf("retrieval index is not configured")
	}
	indexCtx, cancel := context.WithTimeout(ctx, sm.limits.RetrievalTimeout)
	defer cancel()

	texts := []string{doc.EvidenceText()}
	if sm.splitter != nil && doc.HasText {
		if parts := sm.splitter.Split(doc.ExtractedText); len(parts) > 0 {
			texts = parts
		}
	}
	vectors, err := sm.embedder.Embed(indexCtx, texts)
	if err != nil {
		return "", fmt.Errorf("embed document: %w", err)
	}
	if len(vectors) != len(texts) {
		return "", fmt.Errorf("embed document: expected %d vectors, got %d", len(texts), len(vectors))
	}

	var firstID string
	for i, text := range texts {
		id, err := sm.vectorDB.Upsert(indexCtx, text, vectors[i], map[string]any{
			"type":        domain.IndexTypeStudentDocument,
			"request_id":  strconv.FormatInt(doc.RequestID, 10),
			"filename":    doc.Filename,
			"has_text":    doc.HasText,
			"chunk_index": i,
		})
		if err != nil {
			return "", err
		}
		if i == 0 {
			firstID = id
		}
	}
	return firstID, nil
}

func (sm *RequestStateMachine) evaluate(ctx context.Context, req *domain.Request) error {
	docs, err := sm.documents.ListByRequest(ctx, req.ID)
	if err != nil {
		return fmt.Errorf("list documents: %w", err)
	}
	evidence := make([]string, 0, len(docs))
	for _, doc := range docs {
		if doc.ExtractFailed {
			continue
		}
		evidence = append(evidence, doc.EvidenceText())
	}

	var hint string
	if route, ok := sm.routes.Match(req.Subject + " " + req.Body); ok {
		hint = route.Hint
	}

	evalCtx, cancel := context.WithTimeout(ctx, sm.limits.RetrievalTimeout+sm.limits.JudgmentTimeout)
	verdict, err := sm.evaluator.Evaluate(evalCtx, submissionText(req), evidence, hint)
	cancel()
	if err != nil {
		return fmt.Errorf("evaluate compliance: %w", err)
	}
	if err := sm.requests.SaveCompliance(ctx, req.ID, verdict); err != nil {
		return fmt.Errorf("save compliance: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	catCtx, cancel := context.WithTimeout(ctx, sm.limits.JudgmentTimeout)
	categorization := sm.categorizer.Categorize(catCtx, req.Subject, req.Body, evidence)
	cancel()

	if err := sm.requests.CompleteCategorization(ctx, req.ID, categorization, sm.now().UTC()); err != nil {
		return fmt.Errorf("complete categorization: %w", err)
	}
	slog.Info("request_categorized",
		"request_id", req.ID,
		"category", categorization.Category,
		"is_compliant", verdict.IsCompliant,
		"missing_documents", len(verdict.MissingDocuments),
	)
	return nil
}

// allocate reports done=true when the request legitimately ends in categorized
// (non-compliant or no slot left) or has been scheduled.
func (sm *RequestStateMachine) allocate(ctx context.Context, req *domain.Request) (bool, error) {
	if !req.IsCompliant {
		return true, nil
	}

	allocCtx, cancel := context.WithTimeout(ctx, sm.limits.AllocationTimeout)
	appointment, err := sm.allocator.Allocate(allocCtx, req)
	cancel()
	if err != nil {
		return false, fmt.Errorf("allocate slot: %w", err)
	}
	if appointment == nil {
		slog.Info("no_slot_available", "request_id", req.ID)
		return true, nil
	}

	if err := sm.requests.MarkScheduled(ctx, req.ID, appointment.ID); err != nil {
		return false, fmt.Errorf("mark scheduled: %w", err)
	}
	sm.notify(ctx, req, appointment)
	return true, nil
}

func (sm *RequestStateMachine) notify(ctx context.Context, req *domain.Request, appointment *domain.Appointment) {
	if sm.notifier == nil {
		return
	}
	notifyCtx, cancel := context.WithTimeout(ctx, sm.limits.NotifyTimeout)
	defer cancel()

	started := time.Now()
	err := sm.notifier.NotifyAppointment(notifyCtx, domain.AppointmentNotification{
		RecipientEmail:    req.RequesterEmail,
		RecipientName:     req.RequesterName,
		RequestID:         req.ID,
		AppointmentID:     appointment.ID,
		Date:              appointment.Date,
		TimeLabel:         appointment.TimeLabel,
		Location:          appointment.Location,
		RequiredDocuments: appointment.RequiredDocuments,
	})
	sm.observeStage(StageNotify, time.Since(started), err)
	if err != nil {
		slog.Warn("appointment_notify_failed", "request_id", req.ID, "appointment_id", appointment.ID, "error", err)
	}
}

// fail records the error on the request without touching its status.
func (sm *RequestStateMachine) fail(ctx context.Context, req *domain.Request, cause error) error {
	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sm.limits.AllocationTimeout)
	defer cancel()
	if err := sm.requests.RecordFailure(recordCtx, req.ID, cause.Error()); err != nil {
		return fmt.Errorf("%w; record failure: %v", cause, err)
	}
	slog.Error("request_stage_failed", "request_id", req.ID, "status", req.Status, "error", cause)
	return cause
}

func (sm *RequestStateMachine) observeStage(stage string, duration time.Duration, err error) {
	if sm.observer != nil {
		sm.observer.ObserveStage(stage, duration, err)
	}
}

func submissionText(req *domain.Request) string {
	return "Subject: " + req.Subject + "\n\n" + req.Body
}
