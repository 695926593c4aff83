// Package httpapi exposes uploads and image lookups over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/tendant/simple-photos/internal/domain"
	"github.com/tendant/simple-photos/internal/store"
	"github.com/tendant/simple-photos/internal/upload"
)

const (
	headerAccountID = "X-Account-ID"
	headerUsername  = "X-Username"
)

type accountKey struct{}

// ImageHandler serves the image endpoints. Authentication happens upstream;
// the gateway forwards the resolved account in headers.
type ImageHandler struct {
	uploader      Uploader
	images        ImageReader
	presigner     Presigner
	maxUploadSize int64
	log           *slog.Logger
}

// NewImageHandler creates a new image handler.
func NewImageHandler(uploader Uploader, images ImageReader, presigner Presigner, maxUploadSize int64, log *slog.Logger) *ImageHandler {
	return &ImageHandler{
		uploader:      uploader,
		images:        images,
		presigner:     presigner,
		maxUploadSize: maxUploadSize,
		log:           log,
	}
}

// RequireAccount resolves the caller from the gateway headers.
func (h *ImageHandler) RequireAccount(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := r.Header.Get(headerAccountID)
		if raw == "" {
			h.errorResponse(w, http.StatusUnauthorized, "missing account ID")
			return
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			h.errorResponse(w, http.StatusBadRequest, "invalid account ID")
			return
		}
		account := domain.Account{ID: id, Username: r.Header.Get(headerUsername)}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), accountKey{}, account)))
	})
}

func accountFrom(ctx context.Context) domain.Account {
	account, _ := ctx.Value(accountKey{}).(domain.Account)
	return account
}

// Upload accepts the multipart fields filename and last_modified plus one
// file part. The response carries a status code only.
func (h *ImageHandler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadSize)
	if err := r.ParseMultipartForm(h.maxUploadSize); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			w.WriteHeader(http.StatusRequestEntityTooLarge)
			return
		}
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	data, err := firstFile(r.MultipartForm)
	if err != nil {
		h.log.Debug("upload without file part", "err", err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	req := upload.Request{
		Account:      accountFrom(r.Context()),
		Filename:     r.FormValue("filename"),
		LastModified: r.FormValue("last_modified"),
		Data:         data,
	}

	image, err := h.uploader.Upload(r.Context(), req)
	switch {
	case err == nil:
		h.log.Info("image accepted", "image_id", image.ID, "account_id", image.AccountID)
		w.WriteHeader(http.StatusOK)
	case errors.Is(err, domain.ErrInvalidInput):
		w.WriteHeader(http.StatusBadRequest)
	case errors.Is(err, domain.ErrDuplicate):
		w.WriteHeader(http.StatusConflict)
	default:
		h.log.Error("upload failed", "filename", req.Filename, "err", err)
		w.WriteHeader(http.StatusInternalServerError)
	}
}

func firstFile(form *multipart.Form) ([]byte, error) {
	if files := form.File["file"]; len(files) > 0 {
		return readPart(files[0])
	}
	for _, files := range form.File {
		if len(files) > 0 {
			return readPart(files[0])
		}
	}
	return nil, errors.New("no file part")
}

func readPart(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

// VariantResponse describes one stored rendition.
type VariantResponse struct {
	Tier    string `json:"tier"`
	Width   int    `json:"width"`
	Height  int    `json:"height"`
	Quality int    `json:"quality"`
	Version int64  `json:"version"`
}

// ImageResponse is one entry of the image listing.
type ImageResponse struct {
	ID          string            `json:"id"`
	Filename    string            `json:"filename"`
	CapturedAt  string            `json:"captured_at"`
	AspectRatio float64           `json:"aspect_ratio"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Variants    []VariantResponse `json:"variants"`
}

// List returns the caller's images with their variants.
func (h *ImageHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	account := accountFrom(ctx)

	images, err := h.images.ListImages(ctx, account.ID)
	if err != nil {
		h.log.Error("list images", "account_id", account.ID, "err", err)
		h.errorResponse(w, http.StatusInternalServerError, "internal error")
		return
	}

	resp := make([]ImageResponse, 0, len(images))
	for _, image := range images {
		variants, err := h.images.ListVariants(ctx, image.ID)
		if err != nil {
			h.log.Error("list variants", "image_id", image.ID, "err", err)
			h.errorResponse(w, http.StatusInternalServerError, "internal error")
			return
		}
		item := ImageResponse{
			ID:          image.ID.String(),
			Filename:    image.Filename,
			CapturedAt:  image.CapturedAt.UTC().Format(time.RFC3339),
			AspectRatio: image.AspectRatio,
			Metadata:    image.Metadata,
			Variants:    make([]VariantResponse, 0, len(variants)),
		}
		for _, v := range variants {
			item.Variants = append(item.Variants, VariantResponse{
				Tier:    string(v.Tier),
				Width:   v.Width,
				Height:  v.Height,
				Quality: v.CompressionQuality,
				Version: v.Version,
			})
		}
		resp = append(resp, item)
	}

	h.jsonResponse(w, http.StatusOK, resp)
}

// Get redirects to a pre-signed download of the requested tier.
func (h *ImageHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	account := accountFrom(ctx)

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.errorResponse(w, http.StatusBadRequest, "invalid image ID")
		return
	}
	tier, err := domain.ParseTier(r.URL.Query().Get("quality"))
	if err != nil {
		h.errorResponse(w, http.StatusBadRequest, "invalid quality")
		return
	}

	image, err := h.images.GetImage(ctx, account.ID, id)
	if errors.Is(err, domain.ErrNotFound) {
		h.errorResponse(w, http.StatusNotFound, "image not found")
		return
	}
	if err != nil {
		h.log.Error("get image", "image_id", id, "err", err)
		h.errorResponse(w, http.StatusInternalServerError, "internal error")
		return
	}

	variants, err := h.images.ListVariants(ctx, image.ID)
	if err != nil {
		h.log.Error("list variants", "image_id", id, "err", err)
		h.errorResponse(w, http.StatusInternalServerError, "internal error")
		return
	}
	variant, ok := store.LatestVariant(variants, tier)
	if !ok {
		h.errorResponse(w, http.StatusNotFound, "variant not found")
		return
	}

	url, err := h.presigner.PresignGet(ctx, variant.ObjectKey)
	if err != nil {
		h.log.Error("presign download", "image_id", id, "tier", tier, "err", err)
		h.errorResponse(w, http.StatusInternalServerError, "internal error")
		return
	}
	http.Redirect(w, r, url, http.StatusTemporaryRedirect)
}

func (h *ImageHandler) jsonResponse(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (h *ImageHandler) errorResponse(w http.ResponseWriter, status int, message string) {
	h.jsonResponse(w, status, map[string]string{"error": message})
}
