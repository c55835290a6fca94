// ABOUTME: Tests for document listing and multipart upload
// ABOUTME: Verifies form fields and the client-side size guard

package client

import (
	"bytes"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListDocuments(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/groups/{id}/documents", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[
			{"document_id":"d-1","filename":"notes.md","sender":"user","target_agent":"writer","size":2048,
			 "size_str":"2.0 KB","date_str":"2024-01-01 10:00","created_at":1700000000,"file_extension":".md","content_summary":"Meeting notes"},
			{"document_id":"d-2","filename":"data.csv","sender":"user","target_agent":"analyst","size":10,
			 "created_at":1700000100,"file_extension":".csv","content_summary":null}
		]`))
	})
	c := newTestClient(t, mux)

	docs, err := c.ListDocuments(t.Context(), "g-1")
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "d-1", docs[0].ID)
	assert.Equal(t, int64(2048), docs[0].Size)
	assert.Equal(t, "Meeting notes", docs[0].Summary)
	assert.Equal(t, ".csv", docs[1].Extension)
	assert.Empty(t, docs[1].Summary)
}

func TestUploadDocument(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/groups/{id}/documents/upload/", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "writer", r.FormValue("agent_id"))
		assert.Equal(t, "summarize please", r.FormValue("message"))

		f, hdr, err := r.FormFile("file")
		require.NoError(t, err)
		defer f.Close()
		data, _ := io.ReadAll(f)
		assert.Equal(t, "report.txt", hdr.Filename)
		assert.Equal(t, "quarterly numbers", string(data))

		_, _ = w.Write([]byte(`{"message":"Document uploaded and processed successfully","document_id":"d-9","filename":"report.txt","agent_id":"writer","file_size":17}`))
	})
	c := newTestClient(t, mux)

	res, err := c.UploadDocument(t.Context(), "g-1", "writer", "/home/me/report.txt", strings.NewReader("quarterly numbers"), "summarize please")
	require.NoError(t, err)
	assert.Equal(t, "d-9", res.DocumentID)
	assert.Equal(t, int64(17), res.FileSize)
}

func TestUploadDocument_TooLarge(t *testing.T) {
	called := false
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	big := bytes.NewReader(make([]byte, MaxUploadSize+1))
	_, err := c.UploadDocument(t.Context(), "g-1", "writer", "big.bin", big, "")
	assert.ErrorIs(t, err, ErrFileTooLarge)
	assert.False(t, called)
}

func TestUploadDocument_RejectedExtension(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"detail":"File extension '.exe' is not allowed"}`))
	}))

	_, err := c.UploadDocument(t.Context(), "g-1", "writer", "tool.exe", strings.NewReader("MZ"), "")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
}
