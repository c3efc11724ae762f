package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/MegaGrindStone/eightb-chat/internal/attachment"
)

const (
	unsupportedTypeAlert = "Unsupported file type. Please select a PNG, JPG, JPEG, or WEBP image."
	tooLargeAlert        = "Image is too large. Please select an image under 20 MB."
	readFailedAlert      = "Could not read the selected image."
	attachDisabledAlert  = "Attaching images is disabled."

	// Room for the multipart envelope around the image itself.
	maxUploadSize = attachment.MaxImageSize + 1<<20
)

// HandleAttachments stages or discards the image for the next message.
//
// POST takes a multipart "image" file and answers 204, or 415 with an alert text when the declared type
// is not an allowed image type, or 409 while the attach control is disabled. DELETE clears the pending image.
func (m Main) HandleAttachments(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		if !m.chat.Controls().AttachEnabled {
			m.logger.Warn("Attachment rejected while disabled")
			http.Error(w, attachDisabledAlert, http.StatusConflict)
			return
		}
		m.selectAttachment(w, r)
	case http.MethodDelete:
		m.attachments.Clear()
		w.WriteHeader(http.StatusNoContent)
	default:
		m.logger.Error("Method not allowed", slog.String("method", r.Method))
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (m Main) selectAttachment(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)

	file, header, err := r.FormFile("image")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			http.Error(w, tooLargeAlert, http.StatusRequestEntityTooLarge)
			return
		}
		m.logger.Error("Failed to read image form field", slog.String(errLoggerKey, err.Error()))
		http.Error(w, "Image is required", http.StatusBadRequest)
		return
	}
	defer file.Close()

	mimeType := header.Header.Get("Content-Type")
	err = m.attachments.Select(r.Context(), mimeType, file)
	switch {
	case errors.Is(err, attachment.ErrUnsupportedType):
		m.logger.Warn("Unsupported attachment type", slog.String("type", mimeType))
		http.Error(w, unsupportedTypeAlert, http.StatusUnsupportedMediaType)
		return
	case errors.Is(err, attachment.ErrTooLarge):
		http.Error(w, tooLargeAlert, http.StatusRequestEntityTooLarge)
		return
	case err != nil:
		m.logger.Error("Failed to read attachment",
			slog.String("filename", header.Filename),
			slog.String(errLoggerKey, err.Error()))
		http.Error(w, readFailedAlert, http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
