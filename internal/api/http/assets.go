package http

import (
	"errors"
	"io"
	"mime"
	"net/http"
	"path"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/certhub/certhub-platform/internal/rbac"
	"github.com/certhub/certhub-platform/internal/storage"
)

// MountAssets wires question-image upload and retrieval under one subtree.
// Upload needs the publish permission; retrieval only needs an authenticated
// session since keys are unguessable.
func MountAssets(r chi.Router, bs storage.BlobStore) {
	// POST /assets/{examID}  multipart field "file" -> {"key": "..."}
	r.With(rbac.Require("exam:publish")).Post("/{examID}", func(w http.ResponseWriter, r *http.Request) {
		examID := chi.URLParam(r, "examID")
		f, hdr, err := r.FormFile("file")
		if err != nil {
			http.Error(w, "file required", http.StatusBadRequest)
			return
		}
		defer f.Close()

		key := "exams/" + examID + "/" + uuid.NewString() + path.Ext(hdr.Filename)
		key, err = bs.Put(key, f)
		if err != nil {
			if errors.Is(err, storage.ErrBadKey) {
				http.Error(w, "bad key", http.StatusBadRequest)
				return
			}
			http.Error(w, "store error", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]string{"key": key})
	})

	// GET /assets/*  -> the blob at whatever follows /assets/
	r.Get("/*", func(w http.ResponseWriter, r *http.Request) {
		key := chi.URLParam(r, "*")
		rc, err := bs.Get(key)
		if err != nil {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		defer rc.Close()

		ct := mime.TypeByExtension(path.Ext(key))
		if ct == "" {
			ct = "application/octet-stream"
		}
		w.Header().Set("Content-Type", ct)
		_, _ = io.Copy(w, rc)
	})
}
