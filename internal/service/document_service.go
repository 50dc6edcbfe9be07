package service

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/school-portal-api/internal/dto"
	appErrors "github.com/noah-isme/school-portal-api/pkg/errors"
	"github.com/noah-isme/school-portal-api/pkg/storage"
)

// Upload is a file received from a client.
type Upload struct {
	Filename    string
	ContentType string
	Size        int64
	Body        io.Reader
}

type documentStorage interface {
	SaveStream(ref string, r io.Reader) (string, error)
	Open(ref string) (*os.File, error)
	Delete(ref string) error
}

// DocumentService stores enrollment documents and transcripts and issues
// signed, expiring download links for them.
type DocumentService struct {
	storage      documentStorage
	signer       *storage.SignedURLSigner
	maxSize      int64
	allowedMIMEs map[string]struct{}
	linkPrefix   string
	logger       *zap.Logger
}

// NewDocumentService constructs a DocumentService. Links are rendered as
// linkPrefix + "/documents/" + token. An empty allow-list accepts any
// content type.
func NewDocumentService(store documentStorage, signer *storage.SignedURLSigner, maxSize int64, allowedMIMEs []string, linkPrefix string, logger *zap.Logger) *DocumentService {
	if logger == nil {
		logger = zap.NewNop()
	}
	allowed := make(map[string]struct{}, len(allowedMIMEs))
	for _, m := range allowedMIMEs {
		allowed[strings.ToLower(m)] = struct{}{}
	}
	return &DocumentService{
		storage:      store,
		signer:       signer,
		maxSize:      maxSize,
		allowedMIMEs: allowed,
		linkPrefix:   strings.TrimRight(linkPrefix, "/"),
		logger:       logger,
	}
}

// Store validates and writes an upload under prefix, returning its reference.
func (s *DocumentService) Store(prefix string, upload Upload) (string, error) {
	if upload.Body == nil {
		return "", appErrors.Clone(appErrors.ErrValidation, "file is required")
	}
	if s.maxSize > 0 && upload.Size > s.maxSize {
		return "", appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("file exceeds %d bytes", s.maxSize))
	}
	contentType := strings.ToLower(strings.TrimSpace(strings.SplitN(upload.ContentType, ";", 2)[0]))
	if len(s.allowedMIMEs) > 0 {
		if _, ok := s.allowedMIMEs[contentType]; !ok {
			return "", appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("content type %q not allowed", contentType))
		}
	}

	ext := strings.ToLower(filepath.Ext(upload.Filename))
	ref := filepath.ToSlash(filepath.Join(prefix, uuid.NewString()+ext))
	body := upload.Body
	if s.maxSize > 0 {
		body = io.LimitReader(body, s.maxSize)
	}
	if _, err := s.storage.SaveStream(ref, body); err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store document")
	}
	return ref, nil
}

// Discard removes a stored document, logging failures.
func (s *DocumentService) Discard(ref string) {
	if ref == "" {
		return
	}
	if err := s.storage.Delete(ref); err != nil {
		s.logger.Warn("failed to discard document", zap.String("ref", ref), zap.Error(err))
	}
}

// Link signs a download link for ref owned by entityID.
func (s *DocumentService) Link(entityID, kind, ref string) (*dto.DocumentLink, error) {
	token, expiresAt, err := s.signer.Generate(entityID, ref)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign document link")
	}
	return &dto.DocumentLink{Kind: kind, DownloadURL: s.linkPrefix + "/documents/" + token, ExpiresAt: expiresAt}, nil
}

// Open resolves a signed token to the stored file.
func (s *DocumentService) Open(token string) (*os.File, string, error) {
	_, ref, _, err := s.signer.Parse(token)
	if err != nil {
		return nil, "", appErrors.Wrap(err, appErrors.ErrUnauthorized.Code, appErrors.ErrUnauthorized.Status, "invalid or expired document link")
	}
	file, err := s.storage.Open(ref)
	if err != nil {
		return nil, "", appErrors.Wrap(err, appErrors.ErrNotFound.Code, appErrors.ErrNotFound.Status, "document not found")
	}
	return file, filepath.Base(ref), nil
}
