package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/masar-academy/api/internal/platform/auth"
	"github.com/masar-academy/api/internal/platform/storage"
)

const maxUploadRequestSize = 4 * 1024

// EvidenceUploader signs uploads of bank-transfer receipts.
type EvidenceUploader interface {
	UploadURL(ctx context.Context, req storage.UploadRequest) (storage.UploadTicket, error)
}

type uploadURLRequest struct {
	FileName    string `json:"file_name"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
}

type uploadURLResponse struct {
	URL          string            `json:"url"`
	Method       string            `json:"method"`
	EvidencePath string            `json:"evidence_path"`
	Headers      map[string]string `json:"headers,omitempty"`
	ExpiresAt    string            `json:"expires_at"`
}

// BankTransferHandlers issues signed upload URLs for transfer evidence. The returned path is
// what the client later submits as payment.bank_transfer.evidence_path.
type BankTransferHandlers struct {
	authn    *auth.Authenticator
	uploader EvidenceUploader
}

// NewBankTransferHandlers constructs the evidence upload handlers.
func NewBankTransferHandlers(authn *auth.Authenticator, uploader EvidenceUploader) *BankTransferHandlers {
	return &BankTransferHandlers{authn: authn, uploader: uploader}
}

// Routes registers POST /bank-transfers:upload-url on the API router.
func (h *BankTransferHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Post("/bank-transfers:upload-url", h.issueUploadURL)
}

func (h *BankTransferHandlers) issueUploadURL(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.uploader == nil {
		writeUnavailable(ctx, w, "evidence")
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	var req uploadURLRequest
	if !decodeJSONBody(w, r, maxUploadRequestSize, false, &req) {
		return
	}

	ticket, err := h.uploader.UploadURL(ctx, storage.UploadRequest{
		UserID:      strings.TrimSpace(identity.UID),
		FileName:    req.FileName,
		ContentType: req.ContentType,
		Size:        req.Size,
	})
	if err != nil {
		if errors.Is(err, storage.ErrInvalidUpload) {
			writeInvalid(ctx, w, err.Error())
			return
		}
		writeUnavailable(ctx, w, "evidence")
		return
	}
	writeJSONResponse(w, http.StatusOK, uploadURLResponse{
		URL:          ticket.URL,
		Method:       ticket.Method,
		EvidencePath: ticket.ObjectPath,
		Headers:      ticket.Headers,
		ExpiresAt:    formatTime(ticket.ExpiresAt),
	})
}
