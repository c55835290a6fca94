// ABOUTME: Document endpoints of the backend API
// ABOUTME: Lists uploaded documents and uploads new ones as multipart forms

package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"

	"github.com/2389/coven-groups/internal/store"
)

// MaxUploadSize mirrors the backend's upload limit.
const MaxUploadSize = 10 << 20

// ErrFileTooLarge is returned when an upload exceeds MaxUploadSize.
var ErrFileTooLarge = errors.New("file exceeds the 10 MiB upload limit")

// UploadResult is the backend's answer to an upload.
type UploadResult struct {
	DocumentID string `json:"document_id"`
	Filename   string `json:"filename"`
	AgentID    string `json:"agent_id"`
	FileSize   int64  `json:"file_size"`
	Message    string `json:"message"`
}

// ListDocuments returns the documents uploaded to a group.
func (c *Client) ListDocuments(ctx context.Context, groupID string) ([]store.Document, error) {
	var resp []documentJSON
	if err := c.doJSON(ctx, http.MethodGet, []string{"groups", groupID, "documents"}, nil, &resp); err != nil {
		return nil, fmt.Errorf("listing documents of group %s: %w", groupID, err)
	}

	docs := make([]store.Document, 0, len(resp))
	for _, d := range resp {
		docs = append(docs, d.toStore())
	}
	return docs, nil
}

// UploadDocument uploads the contents of r as filename for agentID to
// process. An empty message lets the backend pick its default prompt.
func (c *Client) UploadDocument(ctx context.Context, groupID, agentID, filename string, r io.Reader, message string) (UploadResult, error) {
	if agentID == "" {
		return UploadResult{}, fmt.Errorf("uploading document: agent id is required")
	}

	data, err := io.ReadAll(io.LimitReader(r, MaxUploadSize+1))
	if err != nil {
		return UploadResult{}, fmt.Errorf("reading document: %w", err)
	}
	if len(data) > MaxUploadSize {
		return UploadResult{}, fmt.Errorf("uploading %s: %w", filename, ErrFileTooLarge)
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	part, err := mw.CreateFormFile("file", filepath.Base(filename))
	if err != nil {
		return UploadResult{}, fmt.Errorf("building upload form: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return UploadResult{}, fmt.Errorf("building upload form: %w", err)
	}
	if err := mw.WriteField("agent_id", agentID); err != nil {
		return UploadResult{}, fmt.Errorf("building upload form: %w", err)
	}
	if err := mw.WriteField("message", message); err != nil {
		return UploadResult{}, fmt.Errorf("building upload form: %w", err)
	}
	if err := mw.Close(); err != nil {
		return UploadResult{}, fmt.Errorf("building upload form: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, c.endpoint("groups", groupID, "documents", "upload", ""), &body)
	if err != nil {
		return UploadResult{}, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Accept", "application/json")

	var result UploadResult
	if err := c.do(req, &result); err != nil {
		return UploadResult{}, fmt.Errorf("uploading %s to group %s: %w", filename, groupID, err)
	}
	return result, nil
}
