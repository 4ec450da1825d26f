package server

import (
	"errors"
	"io"
	"mime"
	"net/http"

	"relay/blob"

	"github.com/gorilla/mux"
)

const uploadField = "file"

// handleUpload streams the multipart "file" part into the blob store and
// answers with the stored upload record.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	log := s.log.WithField("addr", r.RemoteAddr)

	reader, err := r.MultipartReader()
	if err != nil {
		s.metrics.uploads.WithLabelValues("missing").Inc()
		writeJSON(w, http.StatusBadRequest, errorBody("No file uploaded."))
		return
	}

	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			log.Warnf("Upload read error: %v", err)
			s.metrics.uploads.WithLabelValues("error").Inc()
			writeJSON(w, http.StatusBadRequest, errorBody("Malformed upload."))
			return
		}
		if part.FormName() != uploadField || part.FileName() == "" {
			_ = part.Close()
			continue
		}

		u, err := s.blobs.Save(part.FileName(), part.Header.Get("Content-Type"), part)
		_ = part.Close()
		switch {
		case errors.Is(err, blob.ErrTooLarge):
			s.metrics.uploads.WithLabelValues("too_large").Inc()
			writeJSON(w, http.StatusRequestEntityTooLarge, errorBody(err.Error()))
		case errors.Is(err, blob.ErrUnsupportedType):
			s.metrics.uploads.WithLabelValues("unsupported").Inc()
			writeJSON(w, http.StatusUnsupportedMediaType, errorBody(err.Error()))
		case err != nil:
			log.Errorf("Upload error: %v", err)
			s.metrics.uploads.WithLabelValues("error").Inc()
			writeJSON(w, http.StatusInternalServerError, errorBody("Upload failed."))
		default:
			log.WithField("file", u.Filename).Infof("Stored upload %q (%d bytes)", u.OriginalName, u.Size)
			s.metrics.uploads.WithLabelValues("ok").Inc()
			writeJSON(w, http.StatusOK, u)
		}
		return
	}

	s.metrics.uploads.WithLabelValues("missing").Inc()
	writeJSON(w, http.StatusBadRequest, errorBody("No file uploaded."))
}

// handleDownload serves a stored blob under its original name.
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	filename := mux.Vars(r)["filename"]

	u, f, err := s.blobs.Open(filename)
	if errors.Is(err, blob.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, errorBody("File not found."))
		return
	}
	if err != nil {
		s.log.WithField("file", filename).Errorf("Download error: %v", err)
		writeJSON(w, http.StatusInternalServerError, errorBody("Download failed."))
		return
	}
	defer f.Close()

	h := w.Header()
	h.Set("Content-Type", u.Mimetype)
	h.Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": u.OriginalName}))
	h.Set("ETag", `"`+u.Checksum+`"`)
	http.ServeContent(w, r, u.OriginalName, u.CreatedAt, f)
}

// handleDeleteUpload removes a stored blob and its metadata.
func (s *Server) handleDeleteUpload(w http.ResponseWriter, r *http.Request) {
	filename := mux.Vars(r)["filename"]

	err := s.blobs.Delete(filename)
	if errors.Is(err, blob.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, errorBody("File not found."))
		return
	}
	if err != nil {
		s.log.WithField("file", filename).Errorf("Delete error: %v", err)
		writeJSON(w, http.StatusInternalServerError, errorBody("Delete failed."))
		return
	}
	s.log.WithField("file", filename).Info("Deleted upload")
	w.WriteHeader(http.StatusNoContent)
}
