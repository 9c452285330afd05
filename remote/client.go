package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
)

const (
	chatPath   = "/api/v1/ai/chat"
	uploadPath = "/api/v1/upload"
)

type httpClient struct {
	client  *http.Client
	baseURL string
}

// NewClient builds the HTTP implementation of Exchanger against the
// service at baseURL.
func NewClient(baseURL string) Exchanger {
	return &httpClient{
		client:  &http.Client{},
		baseURL: baseURL,
	}
}

func (c *httpClient) SendMessage(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	if req.UserID == "" {
		req.UserID = DefaultUserID
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("could not marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+chatPath, bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("could not create http request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("%w: api returned status %d: %s", ErrRequestFailed, resp.StatusCode, string(bodyBytes))
	}

	var chatResp ChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return nil, fmt.Errorf("%w: could not decode response: %v", ErrRequestFailed, err)
	}
	return &chatResp, nil
}

func (c *httpClient) UploadFile(ctx context.Context, filename string, payload io.Reader) (*UploadResponse, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("could not create multipart payload: %w", err)
	}
	if _, err := io.Copy(part, payload); err != nil {
		return nil, fmt.Errorf("could not read file payload: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("could not finalize multipart payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+uploadPath, &buf)
	if err != nil {
		return nil, fmt.Errorf("could not create http request: %w", err)
	}
	httpReq.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("%w: api returned status %d: %s", ErrRequestFailed, resp.StatusCode, string(bodyBytes))
	}

	var uploadResp UploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&uploadResp); err != nil {
		return nil, fmt.Errorf("%w: could not decode response: %v", ErrRequestFailed, err)
	}
	return &uploadResp, nil
}
