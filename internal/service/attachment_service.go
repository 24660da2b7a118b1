package service

import (
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-classwall/internal/dto"
	"github.com/noah-isme/sma-classwall/internal/models"
	appErrors "github.com/noah-isme/sma-classwall/pkg/errors"
	"github.com/noah-isme/sma-classwall/pkg/storage"
)

// AttachmentPolicy bounds attachment metadata accepted on posts.
type AttachmentPolicy struct {
	MaxFileSizeBytes int64
	AllowedMIMEs     []string
	MaxFiles         int
}

// AttachmentService checks attachment metadata and issues signed download links.
// File bytes are never read; only the picker's metadata is inspected.
type AttachmentService struct {
	policy   AttachmentPolicy
	allowed  map[string]struct{}
	signer   *storage.SignedURLSigner
	basePath string
	logger   *zap.Logger
}

// NewAttachmentService constructs the service. basePath prefixes generated download URLs.
func NewAttachmentService(policy AttachmentPolicy, signer *storage.SignedURLSigner, basePath string, logger *zap.Logger) *AttachmentService {
	if logger == nil {
		logger = zap.NewNop()
	}
	allowed := make(map[string]struct{}, len(policy.AllowedMIMEs))
	for _, mime := range policy.AllowedMIMEs {
		allowed[strings.ToLower(strings.TrimSpace(mime))] = struct{}{}
	}
	return &AttachmentService{
		policy:   policy,
		allowed:  allowed,
		signer:   signer,
		basePath: strings.TrimRight(basePath, "/"),
		logger:   logger,
	}
}

// Validate enforces size, type and count limits.
func (s *AttachmentService) Validate(image *models.Attachment, files []models.Attachment) error {
	if s == nil {
		return nil
	}
	if s.policy.MaxFiles > 0 && len(files) > s.policy.MaxFiles {
		return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("at most %d files may be attached", s.policy.MaxFiles))
	}
	if image != nil {
		if !strings.HasPrefix(strings.ToLower(image.Type), "image/") {
			return appErrors.Clone(appErrors.ErrValidation, "image attachment must be an image")
		}
		if err := s.check(*image); err != nil {
			return err
		}
	}
	for _, f := range files {
		if err := s.check(f); err != nil {
			return err
		}
	}
	return nil
}

func (s *AttachmentService) check(a models.Attachment) error {
	if a.URI == "" || a.Name == "" {
		return appErrors.Clone(appErrors.ErrValidation, "attachment name and uri are required")
	}
	if s.policy.MaxFileSizeBytes > 0 && a.Size > s.policy.MaxFileSizeBytes {
		return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("%s exceeds the %d byte limit", a.Name, s.policy.MaxFileSizeBytes))
	}
	if len(s.allowed) > 0 {
		if _, ok := s.allowed[strings.ToLower(a.Type)]; !ok {
			return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("%s has unsupported type %s", a.Name, a.Type))
		}
	}
	return nil
}

// Links returns signed download links for the post's image and files.
func (s *AttachmentService) Links(post models.Post) ([]dto.AttachmentLink, error) {
	attachments := make([]models.Attachment, 0, len(post.Files)+1)
	if post.Image != nil {
		attachments = append(attachments, *post.Image)
	}
	attachments = append(attachments, post.Files...)

	links := make([]dto.AttachmentLink, 0, len(attachments))
	for _, a := range attachments {
		token, expiresAt, err := s.signer.Generate(post.ID, a.URI)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign attachment link")
		}
		links = append(links, dto.AttachmentLink{
			Name:      a.Name,
			Type:      a.Type,
			Size:      a.Size,
			URL:       s.basePath + "/files/" + url.PathEscape(token),
			ExpiresAt: expiresAt,
		})
	}
	return links, nil
}

// Resolve validates a download token and returns the attachment uri it grants.
func (s *AttachmentService) Resolve(token string) (postID, uri string, err error) {
	postID, uri, _, err = s.signer.Parse(token)
	if err != nil {
		s.logger.Debug("rejected attachment token", zap.Error(err))
		return "", "", appErrors.Wrap(err, appErrors.ErrUnauthorized.Code, appErrors.ErrUnauthorized.Status, "invalid or expired link")
	}
	return postID, uri, nil
}
