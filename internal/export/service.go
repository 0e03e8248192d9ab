// Package export renders a subject's revision history as an XLSX workbook.
package export

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/rpattn/revisionable/internal/domain"
)

const (
	revisionsSheet = "Revisions"
	changesSheet   = "Changes"

	// ContentType is the MIME type of the generated workbook.
	ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

var (
	revisionsHeader = []any{"Revision", "Action", "Created At", "User", "IP", "IP Forwarded", "Changed"}
	changesHeader   = []any{"Revision", "Attribute", "Old", "New"}
)

// HistorySource lists a subject's revisions newest-first.
type HistorySource interface {
	Revisions(ctx context.Context, subject domain.SubjectRef) ([]domain.Revision, error)
}

type Service struct {
	source HistorySource
	logger *slog.Logger
}

func NewService(source HistorySource, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{source: source, logger: logger}
}

// WriteHistory writes the subject's history workbook to w and returns the number of
// revisions exported.
func (s *Service) WriteHistory(ctx context.Context, subject domain.SubjectRef, w io.Writer) (int, error) {
	revisions, err := s.source.Revisions(ctx, subject)
	if err != nil {
		return 0, fmt.Errorf("failed to load revisions for export: %w", err)
	}

	f, err := BuildWorkbook(revisions)
	if err != nil {
		return 0, err
	}
	defer func() { _ = f.Close() }()

	if err := f.Write(w); err != nil {
		return 0, fmt.Errorf("failed to write xlsx: %w", err)
	}
	s.logger.Info("exported revision history",
		"subject_type", subject.Type,
		"subject_id", subject.ID,
		"revisions", len(revisions),
	)
	return len(revisions), nil
}

// BuildWorkbook lays out one summary row per revision on the Revisions sheet and one
// row per attribute on the Changes sheet, in the given order.
func BuildWorkbook(revisions []domain.Revision) (*excelize.File, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName(f.GetSheetName(0), revisionsSheet); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("failed to name sheet: %w", err)
	}
	if _, err := f.NewSheet(changesSheet); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}

	if err := writeRow(f, revisionsSheet, 1, revisionsHeader); err != nil {
		_ = f.Close()
		return nil, err
	}
	if err := writeRow(f, changesSheet, 1, changesHeader); err != nil {
		_ = f.Close()
		return nil, err
	}

	changeRow := 2
	for i, revision := range revisions {
		changed := domain.ChangedKeys(domain.Diff(revision.Old, revision.New))
		summary := []any{
			revision.ID,
			string(revision.Action),
			revision.CreatedAt.UTC().Format(time.RFC3339),
			formatOptionalInt(revision.UserID),
			formatOptional(revision.IP),
			formatOptional(revision.IPForwarded),
			strings.Join(changed, ", "),
		}
		if err := writeRow(f, revisionsSheet, i+2, summary); err != nil {
			_ = f.Close()
			return nil, err
		}

		for _, key := range attributeKeys(revision) {
			row := []any{revision.ID, key, revision.Old[key], revision.New[key]}
			if err := writeRow(f, changesSheet, changeRow, row); err != nil {
				_ = f.Close()
				return nil, err
			}
			changeRow++
		}
	}

	if err := f.SetColWidth(revisionsSheet, "C", "C", 22); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("failed to size columns: %w", err)
	}
	return f, nil
}

// FileName returns the download name for a subject's workbook.
func FileName(subject domain.SubjectRef) string {
	return fmt.Sprintf("%s-%d-revisions.xlsx", sanitizeFileComponent(subject.Type), subject.ID)
}

func writeRow(f *excelize.File, sheet string, row int, values []any) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return fmt.Errorf("failed to address row %d: %w", row, err)
	}
	if err := f.SetSheetRow(sheet, cell, &values); err != nil {
		return fmt.Errorf("failed to write %s row %d: %w", sheet, row, err)
	}
	return nil
}

func attributeKeys(revision domain.Revision) []string {
	seen := make(map[string]struct{}, len(revision.Old)+len(revision.New))
	for key := range revision.Old {
		seen[key] = struct{}{}
	}
	for key := range revision.New {
		seen[key] = struct{}{}
	}
	keys := make([]string, 0, len(seen))
	for key := range seen {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func formatOptional(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}

func formatOptionalInt(value *int64) string {
	if value == nil {
		return ""
	}
	return fmt.Sprintf("%d", *value)
}

func sanitizeFileComponent(value string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	if value == "" {
		return "export"
	}
	builder := strings.Builder{}
	for _, r := range value {
		switch {
		case r >= 'a' && r <= 'z':
			builder.WriteRune(r)
		case r >= '0' && r <= '9':
			builder.WriteRune(r)
		case r == '-' || r == '_':
			builder.WriteRune(r)
		default:
			builder.WriteRune('-')
		}
	}
	result := strings.Trim(builder.String(), "-")
	if result == "" {
		return "export"
	}
	return result
}
