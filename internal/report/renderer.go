// Package report composes the artifacts of a completed analysis run into a
// single self-contained, print-paginated report document. The primary
// textual report supplies the body, chart and infographic images are
// embedded inline as data URIs, and a cover section leads the document, so
// the result renders (and prints to PDF) without any external references.
package report

import (
	"bytes"
	"context"
	"embed"
	"encoding/base64"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/phrazzld/diligence-api/internal/artifact"
)

//go:embed templates/combined.html.tmpl
var templateFS embed.FS

// Common renderer errors.
var (
	// ErrMissingReport is returned when the primary report artifact is
	// absent. The cover plus the primary report is the minimum document;
	// images are optional sections.
	ErrMissingReport = errors.New("primary report artifact missing")
)

// Renderer builds combined report documents from persisted task artifacts.
type Renderer struct {
	artifacts *artifact.Store
	logger    *slog.Logger
	now       func() time.Time
}

// NewRenderer creates a Renderer reading from and writing to the given
// artifact store.
func NewRenderer(artifacts *artifact.Store, logger *slog.Logger) (*Renderer, error) {
	if artifacts == nil {
		return nil, errors.New("artifact store cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Renderer{
		artifacts: artifacts,
		logger:    logger.With(slog.String("component", "report_renderer")),
		now:       time.Now,
	}, nil
}

// templateData is the model handed to the combined document template.
type templateData struct {
	SubjectName    string
	GeneratedDate  string
	ReportBody     template.HTML
	ChartURI       template.URL
	InfographicURI template.URL
}

// Render composes the combined document for a task and writes it into the
// task's artifact directory. Section order is fixed: cover, primary report
// body, chart, infographic. Missing optional images are skipped silently;
// a missing primary report fails the render with ErrMissingReport.
// Returns the generated document's filename.
func (r *Renderer) Render(
	ctx context.Context,
	taskID, subjectName string,
	artifacts map[string]string,
) (string, error) {
	log := r.logger.With(slog.String("task_id", taskID))

	reportName := artifacts[artifact.KindReport]
	if reportName == "" {
		return "", ErrMissingReport
	}

	reportContent, err := r.artifacts.Get(taskID, reportName)
	if err != nil {
		if errors.Is(err, artifact.ErrArtifactNotFound) {
			return "", fmt.Errorf("%w: %s", ErrMissingReport, reportName)
		}
		return "", fmt.Errorf("failed to read primary report: %w", err)
	}

	data := templateData{
		SubjectName:   subjectName,
		GeneratedDate: r.now().UTC().Format("January 2, 2006"),
		ReportBody:    template.HTML(extractBodyContent(string(reportContent))), //nolint:gosec // report HTML comes from the pipeline, not user input
	}

	if uri := r.embedImage(taskID, artifacts[artifact.KindChart], log); uri != "" {
		data.ChartURI = template.URL(uri) //nolint:gosec // data URI built from file bytes
	}
	if uri := r.embedImage(taskID, artifacts[artifact.KindInfographic], log); uri != "" {
		data.InfographicURI = template.URL(uri) //nolint:gosec // data URI built from file bytes
	}

	tmpl, err := template.ParseFS(templateFS, "templates/combined.html.tmpl")
	if err != nil {
		return "", fmt.Errorf("failed to parse document template: %w", err)
	}

	var doc bytes.Buffer
	if err := tmpl.Execute(&doc, data); err != nil {
		return "", fmt.Errorf("failed to execute document template: %w", err)
	}

	filename := documentFilename(subjectName, r.now().UTC())
	if err := os.MkdirAll(r.artifacts.TaskDir(taskID), 0o755); err != nil {
		return "", fmt.Errorf("failed to create task artifact directory: %w", err)
	}
	if err := os.WriteFile(r.artifacts.Path(taskID, filename), doc.Bytes(), 0o644); err != nil {
		return "", fmt.Errorf("failed to write combined document: %w", err)
	}

	log.Info("combined report document generated",
		slog.String("filename", filename),
		slog.Int("size_bytes", doc.Len()))

	return filename, nil
}

// embedImage loads an optional image artifact and returns it as a base64
// data URI, or "" when the artifact is absent. Absence is not an error;
// the section is simply skipped.
func (r *Renderer) embedImage(taskID, filename string, log *slog.Logger) string {
	if filename == "" {
		return ""
	}

	data, err := r.artifacts.Get(taskID, filename)
	if err != nil {
		log.Warn("skipping image section, artifact unavailable",
			slog.String("filename", filename),
			slog.String("error", err.Error()))
		return ""
	}

	return fmt.Sprintf("data:%s;base64,%s",
		imageMIMEType(filename),
		base64.StdEncoding.EncodeToString(data))
}

// extractBodyContent returns the content between <body> and </body> when
// the input is a full HTML document, stripping the outer document wrapper
// to avoid nesting. Fragments are returned unchanged.
func extractBodyContent(html string) string {
	lower := strings.ToLower(html)

	bodyStart := strings.Index(lower, "<body")
	bodyEnd := strings.Index(lower, "</body>")
	if bodyStart == -1 || bodyEnd == -1 || bodyEnd < bodyStart {
		return html
	}

	tagEnd := strings.Index(html[bodyStart:], ">")
	if tagEnd == -1 {
		return html
	}

	return html[bodyStart+tagEnd+1 : bodyEnd]
}

// documentFilename builds a collision-resistant output name from the
// subject and a generation timestamp.
func documentFilename(subjectName string, now time.Time) string {
	safe := strings.Join(strings.Fields(subjectName), "_")
	return fmt.Sprintf("%s_DD_Report_%s.html", safe, now.Format("20060102_150405"))
}

// imageMIMEType infers a MIME type from the file extension, defaulting to
// PNG for unknown image extensions.
func imageMIMEType(filename string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	default:
		return "image/png"
	}
}
