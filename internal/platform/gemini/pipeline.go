// Package gemini implements the due-diligence analysis pipeline using
// Google's Gemini API. The pipeline researches a subject in stages and
// writes its report output to the transient outputs directory for the
// artifact store to collect.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/phrazzld/diligence-api/internal/config"
	"github.com/phrazzld/diligence-api/internal/domain"
	"github.com/phrazzld/diligence-api/internal/pipeline"
	"google.golang.org/genai"
)

// Pipeline stage names reported through Request.OnStage.
const (
	StageResearch = "researching subject"
	StageReport   = "drafting investment report"
	StageOutputs  = "finalizing outputs"
)

// generateFunc is the slice of the genai client used by the pipeline,
// abstracted for testing.
type generateFunc func(
	ctx context.Context,
	model string,
	contents []*genai.Content,
	cfg *genai.GenerateContentConfig,
) (*genai.GenerateContentResponse, error)

// Pipeline implements pipeline.Pipeline against the Gemini API.
type Pipeline struct {
	logger *slog.Logger

	// config contains model name, retry policy and the outputs directory
	config config.PipelineConfig

	generate generateFunc

	rng *rand.Rand

	// now is replaceable in tests for deterministic output filenames
	now func() time.Time
}

// NewPipeline creates a Gemini-backed analysis pipeline with the provided
// dependencies.
func NewPipeline(ctx context.Context, logger *slog.Logger, cfg config.PipelineConfig) (*Pipeline, error) {
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	if cfg.GeminiAPIKey == "" {
		return nil, fmt.Errorf("%w: gemini API key cannot be empty", pipeline.ErrInvalidConfig)
	}

	if cfg.ModelName == "" {
		return nil, fmt.Errorf("%w: model name cannot be empty", pipeline.ErrInvalidConfig)
	}

	if cfg.OutputsDir == "" {
		return nil, fmt.Errorf("%w: outputs directory cannot be empty", pipeline.ErrInvalidConfig)
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.GeminiAPIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create Gemini client: %v", pipeline.ErrInvalidConfig, err)
	}

	return &Pipeline{
		logger:   logger,
		config:   cfg,
		generate: client.Models.GenerateContent,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		now:      time.Now,
	}, nil
}

// Run executes the analysis stages for the requested subject. On success
// the investment report has been written to the outputs directory and the
// returned Result carries the stage transcript.
func (p *Pipeline) Run(ctx context.Context, req pipeline.Request) (*pipeline.Result, error) {
	if req.SubjectName == "" {
		return nil, pipeline.ErrEmptySubject
	}

	log := p.logger.With(
		slog.String("subject_name", req.SubjectName),
		slog.String("correlation_id", req.CorrelationID))

	enterStage := func(stage string) {
		log.InfoContext(ctx, "entering pipeline stage", slog.String("stage", stage))
		if req.OnStage != nil {
			req.OnStage(stage)
		}
	}

	var messages []domain.Message

	enterStage(StageResearch)
	researchPrompt := buildResearchPrompt(req.SubjectName, req.SubjectURL)
	research, err := p.callWithRetry(ctx, researchPrompt)
	if err != nil {
		return nil, fmt.Errorf("%w: research stage: %w", pipeline.ErrPipelineFailed, err)
	}
	messages = append(messages,
		domain.Message{Role: "user", Content: researchPrompt},
		domain.Message{Role: "assistant", Content: research},
	)

	enterStage(StageReport)
	reportPrompt := buildReportPrompt(req.SubjectName, research)
	reportHTML, err := p.callWithRetry(ctx, reportPrompt)
	if err != nil {
		return nil, fmt.Errorf("%w: report stage: %w", pipeline.ErrPipelineFailed, err)
	}
	messages = append(messages,
		domain.Message{Role: "user", Content: reportPrompt},
		domain.Message{Role: "assistant", Content: reportHTML},
	)

	enterStage(StageOutputs)
	filename, err := p.writeReport(reportHTML)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", pipeline.ErrPipelineFailed, err)
	}

	log.InfoContext(ctx, "pipeline run complete",
		slog.String("report_file", filename),
		slog.Int("message_count", len(messages)))

	return &pipeline.Result{Messages: messages}, nil
}

// callWithRetry makes a Gemini API call with exponential backoff retry
// logic. Transient errors are retried up to MaxRetries times with jitter
// between attempts; permanent errors (safety blocks, unusable responses)
// are returned immediately.
func (p *Pipeline) callWithRetry(ctx context.Context, prompt string) (string, error) {
	maxRetries := p.config.MaxRetries
	baseDelaySeconds := p.config.RetryDelaySeconds

	if maxRetries < 0 {
		p.logger.WarnContext(ctx, "invalid max retries value, using default", "max_retries", 3)
		maxRetries = 3
	}
	if baseDelaySeconds < 1 {
		baseDelaySeconds = 2
	}

	for attempt := 0; ; attempt++ {
		attemptNum := attempt + 1
		p.logger.InfoContext(ctx, "making Gemini API call",
			"attempt", attemptNum,
			"max_attempts", maxRetries+1)

		text, transient, err := p.callOnce(ctx, prompt)
		if err == nil {
			return text, nil
		}

		p.logger.ErrorContext(ctx, "Gemini API call failed",
			"attempt", attemptNum,
			"error", err)

		if !transient {
			return "", err
		}

		if attempt >= maxRetries {
			return "", fmt.Errorf("%w: exceeded maximum retry attempts (%d): %v",
				pipeline.ErrTransientFailure, maxRetries, err)
		}

		// delay = baseDelay * (2^attempt) * (0.5 + rand(0, 0.5))
		backoffSeconds := float64(baseDelaySeconds) * math.Pow(2, float64(attempt))
		jitterFactor := 0.5 + p.rng.Float64()*0.5
		delay := time.Duration(backoffSeconds * jitterFactor * float64(time.Second))

		p.logger.InfoContext(ctx, "retrying after delay",
			"attempt", attemptNum,
			"delay", delay.String())

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return "", fmt.Errorf("%w: %v", pipeline.ErrTransientFailure, ctx.Err())
		}
	}
}

// callOnce performs a single model call and classifies any failure as
// transient (retryable) or permanent.
func (p *Pipeline) callOnce(ctx context.Context, prompt string) (string, bool, error) {
	resp, err := p.generate(ctx, p.config.ModelName, genai.Text(prompt), nil)
	if err != nil {
		// Network and server errors are assumed transient
		return "", true, fmt.Errorf("gemini API call error: %w", err)
	}

	if resp == nil || len(resp.Candidates) == 0 {
		return "", false, fmt.Errorf("%w: no content generated", pipeline.ErrInvalidResponse)
	}

	if resp.Candidates[0].FinishReason == genai.FinishReasonSafety {
		return "", false, fmt.Errorf("%w: prompt for %q", pipeline.ErrContentBlocked, p.config.ModelName)
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", false, fmt.Errorf("%w: empty content in response", pipeline.ErrInvalidResponse)
	}

	return text, false, nil
}

// writeReport stores the generated report HTML in the outputs directory
// under a timestamped name the artifact collector recognizes.
func (p *Pipeline) writeReport(reportHTML string) (string, error) {
	if err := os.MkdirAll(p.config.OutputsDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create outputs directory: %w", err)
	}

	filename := fmt.Sprintf("investment_report_%s.html", p.now().Format("20060102_150405"))
	path := filepath.Join(p.config.OutputsDir, filename)

	if err := os.WriteFile(path, []byte(stripCodeFence(reportHTML)), 0o644); err != nil {
		return "", fmt.Errorf("failed to write report output: %w", err)
	}

	return filename, nil
}

// stripCodeFence removes a surrounding markdown code fence, which models
// frequently wrap HTML output in despite instructions.
func stripCodeFence(s string) string {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}

	trimmed = strings.TrimPrefix(trimmed, "```")
	if idx := strings.Index(trimmed, "\n"); idx >= 0 {
		// Drop the language tag on the opening fence line
		trimmed = trimmed[idx+1:]
	}
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")

	return strings.TrimSpace(trimmed)
}
