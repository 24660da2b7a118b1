package service

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-classwall/internal/dto"
	"github.com/noah-isme/sma-classwall/pkg/export"
	appErrors "github.com/noah-isme/sma-classwall/pkg/errors"
)

type digestRenderer interface {
	Render(data export.Dataset, title string) ([]byte, error)
	ContentType() string
	Extension() string
}

var digestHeaders = []string{"posted_at", "author", "role", "audience", "message", "likes", "comments", "attachments", "status"}

// DigestService renders the visible wall as a downloadable digest.
type DigestService struct {
	enabled   bool
	renderers map[dto.ExportFormat]digestRenderer
	logger    *zap.Logger
	now       func() time.Time
}

// NewDigestService constructs the service with the CSV and PDF renderers.
func NewDigestService(enabled bool, logger *zap.Logger) *DigestService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DigestService{
		enabled: enabled,
		renderers: map[dto.ExportFormat]digestRenderer{
			dto.ExportFormatCSV: export.NewCSVExporter(),
			dto.ExportFormatPDF: export.NewPDFExporter(),
		},
		logger: logger,
		now:    time.Now,
	}
}

// Render builds the digest of the given wall items in order.
func (s *DigestService) Render(items []dto.WallItem, format dto.ExportFormat, viewerName string) (*dto.DigestFile, error) {
	if s == nil || !s.enabled {
		return nil, appErrors.Clone(appErrors.ErrServiceDisabled, "wall digest is disabled")
	}
	if format == "" {
		format = dto.ExportFormatCSV
	}
	renderer, ok := s.renderers[format]
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unsupported digest format")
	}

	rows := make([]map[string]string, 0, len(items))
	for _, item := range items {
		rows = append(rows, digestRow(item))
	}
	now := s.now().UTC()
	title := fmt.Sprintf("Class wall digest for %s (%s)", viewerName, now.Format("2006-01-02"))
	content, err := renderer.Render(export.Dataset{Headers: digestHeaders, Rows: rows}, title)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render digest")
	}
	s.logger.Debug("wall digest rendered", zap.String("format", string(format)), zap.Int("items", len(items)))

	return &dto.DigestFile{
		Filename:    fmt.Sprintf("wall-%s.%s", now.Format("20060102-150405"), renderer.Extension()),
		ContentType: renderer.ContentType(),
		Content:     content,
	}, nil
}

func digestRow(item dto.WallItem) map[string]string {
	p := item.Post
	postedAt := ""
	if !p.CreatedAt.IsZero() {
		postedAt = p.CreatedAt.UTC().Format(time.RFC3339)
	}
	names := make([]string, 0, len(p.Files)+1)
	if p.Image != nil {
		names = append(names, p.Image.Name)
	}
	for _, f := range p.Files {
		names = append(names, f.Name)
	}
	status := "saved"
	if item.Pending {
		status = "pending"
	}
	audience := string(p.Audience)
	if p.IsAnnouncement {
		audience += " (announcement)"
	}
	return map[string]string{
		"posted_at":   postedAt,
		"author":      p.Author,
		"role":        string(p.Role),
		"audience":    audience,
		"message":     p.Message,
		"likes":       strconv.Itoa(p.Likes),
		"comments":    strconv.Itoa(p.Comments),
		"attachments": strings.Join(names, "; "),
		"status":      status,
	}
}
