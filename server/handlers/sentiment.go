package handlers

import (
	"bytes"
	stderrors "errors"
	"net/http"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/teilomillet/econochat/errors"
	"github.com/teilomillet/econochat/server/batch"
	"github.com/teilomillet/econochat/server/middleware"
	"github.com/teilomillet/econochat/server/sentiment"
	"github.com/teilomillet/econochat/server/validation"
	"go.uber.org/zap"
)

// Upload error messages.
const (
	MessageMissingFile  = "No se encontró el archivo CSV."
	MessageNotCSV       = "El archivo debe tener formato .csv"
	MessageFileTooLarge = "El archivo supera el tamaño máximo permitido."
)

// UploadField is the multipart field carrying the CSV file.
const UploadField = "file"

// multipartMemory is the part of an upload kept in memory; the rest spills
// to temporary files.
const multipartMemory = 1 << 20

// SentimentHandler serves single-text and CSV classification.
type SentimentHandler struct {
	classifier *sentiment.Classifier
	pipeline   *batch.Pipeline
	validator  *validation.Validator
	logger     *zap.Logger
	maxUpload  atomic.Int64
}

// NewSentimentHandler creates a sentiment handler accepting uploads of at
// most maxUpload bytes.
func NewSentimentHandler(c *sentiment.Classifier, p *batch.Pipeline, v *validation.Validator, maxUpload int64, logger *zap.Logger) *SentimentHandler {
	h := &SentimentHandler{
		classifier: c,
		pipeline:   p,
		validator:  v,
		logger:     logger,
	}
	h.maxUpload.Store(maxUpload)
	return h
}

// SetMaxUpload replaces the upload size limit.
func (h *SentimentHandler) SetMaxUpload(n int64) {
	h.maxUpload.Store(n)
}

// Text classifies one text.
func (h *SentimentHandler) Text(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	var req validation.TextRequest
	if err := validation.DecodeJSON(r, maxJSONBody, &req); err != nil {
		writeFailure(w, r, h.logger, err)
		return
	}
	if err := h.validator.Struct(req); err != nil {
		writeFailure(w, r, h.logger, validationFailure(requestID, sentiment.MessageEmptyText, err))
		return
	}

	result, err := h.classifier.Classify(r.Context(), req.Text.String())
	if err != nil {
		writeFailure(w, r, h.logger, err)
		return
	}

	writeJSON(w, h.logger, http.StatusOK, result)
}

// CSV classifies every phrase of an uploaded CSV file and returns the
// results as a CSV attachment. Nothing is returned unless every row
// succeeds.
func (h *SentimentHandler) CSV(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload.Load())
	file, header, err := r.FormFile(UploadField)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if stderrors.As(err, &tooLarge) {
			writeFailure(w, r, h.logger, errors.NewError(errors.ValidationError, MessageFileTooLarge,
				http.StatusRequestEntityTooLarge, requestID,
				map[string]interface{}{"limit_bytes": tooLarge.Limit}, err))
			return
		}
		writeFailure(w, r, h.logger, errors.NewValidationError(requestID, MessageMissingFile, nil))
		return
	}
	defer file.Close()

	if header.Filename == "" {
		writeFailure(w, r, h.logger, errors.NewValidationError(requestID, MessageMissingFile, nil))
		return
	}
	if !strings.EqualFold(filepath.Ext(header.Filename), ".csv") {
		writeFailure(w, r, h.logger, errors.NewValidationError(requestID, MessageNotCSV, nil))
		return
	}

	rows, err := h.pipeline.Run(r.Context(), file)
	if err != nil {
		writeFailure(w, r, h.logger, err)
		return
	}

	var out bytes.Buffer
	if err := batch.WriteCSV(&out, rows); err != nil {
		writeFailure(w, r, h.logger, errors.NewInternalError(requestID, err))
		return
	}

	h.logger.Info("batch classified",
		zap.String("request_id", requestID),
		zap.String("filename", header.Filename),
		zap.Int("rows", len(rows)),
	)

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+batch.Filename+`"`)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(out.Bytes()); err != nil {
		h.logger.Warn("failed to write csv response", zap.Error(err))
	}
}
