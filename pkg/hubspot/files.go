package hubspot

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"

	pkgerrors "github.com/hubbridge/hubbridge-backend/pkg/errors"
)

// File is the stored-file record returned by the files API.
type File struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	URL  string `json:"url"`
}

// UploadFile stores bytes as a named file inside the given folder and
// returns the file id/url for later attachment.
func (c *Client) UploadFile(ctx context.Context, token, folderID, fileName string, data []byte) (*File, error) {
	if folderID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "files folder id is required")
	}
	if fileName == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "file name is required")
	}
	if len(data) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "file data is required")
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	part, err := writer.CreateFormFile("file", fileName)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build multipart body")
	}
	if _, err := part.Write(data); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "write multipart body")
	}

	options, err := json.Marshal(map[string]string{"access": "PUBLIC_NOT_INDEXABLE"})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode upload options")
	}
	_ = writer.WriteField("options", string(options))
	_ = writer.WriteField("folderId", folderID)
	if err := writer.Close(); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "finalize multipart body")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/files/v3/files", &buf)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build upload request")
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "upload file")
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read upload response")
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, decodeError(resp.StatusCode, "/files/v3/files", payload)
	}

	var out File
	if err := json.Unmarshal(payload, &out); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode upload response")
	}
	return &out, nil
}
