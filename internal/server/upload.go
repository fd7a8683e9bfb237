package server

import (
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/Neolutionist/MiniTransfer-sub000/internal/transfer"
	"github.com/Neolutionist/MiniTransfer-sub000/internal/upload"
)

const (
	// multipartMemory is how much of a relay form is held in memory before
	// the rest spills to temporary files.
	multipartMemory = 32 << 20
	// formOverhead allows for multipart boundaries and the text fields on top
	// of the file payload itself.
	formOverhead = 1 << 20
)

func (s *Server) handleInitiate(w http.ResponseWriter, r *http.Request) {
	var req upload.InitiateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	sess, err := s.deps.Coordinator.InitiateUpload(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleSign(w http.ResponseWriter, r *http.Request) {
	var req upload.SignRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	u, err := s.deps.Coordinator.SignPart(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": u})
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	var req upload.CompleteRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	res, err := s.deps.Coordinator.CompleteUpload(r.Context(), req, s.requestOrigin(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleAbort(w http.ResponseWriter, r *http.Request) {
	var req upload.AbortRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.deps.Coordinator.AbortUpload(r.Context(), req); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "aborted"})
}

// handleRelay accepts a multipart form with one or more "files" parts, an
// optional "paths" value per file, "expiry_days" and "password".
func (s *Server) handleRelay(w http.ResponseWriter, r *http.Request) {
	relay := s.deps.Relay
	if err := relay.CheckDeclaredSize(r.ContentLength); err != nil {
		writeError(w, r, err)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, relay.MaxBytes()+formOverhead)

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(w, r, transfer.PayloadTooLarge(relay.MaxBytes()))
			return
		}
		writeError(w, r, transfer.ClientRequest("malformed multipart form"))
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	req := upload.RelayRequest{
		Paths:        r.MultipartForm.Value["paths"],
		Password:     r.FormValue("password"),
		DeclaredSize: r.ContentLength,
	}
	if raw := strings.TrimSpace(r.FormValue("expiry_days")); raw != "" {
		days, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, r, transfer.ClientRequest("expiry_days must be a whole number"))
			return
		}
		req.ExpiryDays = days
	}
	for _, fh := range r.MultipartForm.File["files"] {
		req.Files = append(req.Files, relayFile(fh))
	}

	res, err := relay.RelayUpload(r.Context(), req, s.requestOrigin(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func relayFile(fh *multipart.FileHeader) upload.RelayFile {
	return upload.RelayFile{
		Name: fh.Filename,
		Size: fh.Size,
		Open: func() (io.ReadCloser, error) { return fh.Open() },
	}
}
