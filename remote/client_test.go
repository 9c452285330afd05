package remote_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"datasoph/client/remote"
)

func TestSendMessage(t *testing.T) {
	var got remote.ChatRequest
	r := chi.NewRouter()
	r.Post("/api/v1/ai/chat", func(w http.ResponseWriter, req *http.Request) {
		require.NoError(t, json.NewDecoder(req.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(remote.ChatResponse{
			Response:  "here you go",
			Timestamp: "2026-08-31T12:00:00Z",
		})
	})
	server := httptest.NewServer(r)
	defer server.Close()

	client := remote.NewClient(server.URL)
	resp, err := client.SendMessage(context.Background(), &remote.ChatRequest{
		Message: "describe the dataset",
		UserID:  "u-1",
		FileID:  "f-1",
	})
	require.NoError(t, err)

	assert.Equal(t, "here you go", resp.Response)
	assert.Equal(t, "describe the dataset", got.Message)
	assert.Equal(t, "u-1", got.UserID)
	assert.Equal(t, "f-1", got.FileID)
}

func TestSendMessage_FillsDefaultUser(t *testing.T) {
	var got remote.ChatRequest
	r := chi.NewRouter()
	r.Post("/api/v1/ai/chat", func(w http.ResponseWriter, req *http.Request) {
		require.NoError(t, json.NewDecoder(req.Body).Decode(&got))
		json.NewEncoder(w).Encode(remote.ChatResponse{Response: "ok"})
	})
	server := httptest.NewServer(r)
	defer server.Close()

	client := remote.NewClient(server.URL)
	_, err := client.SendMessage(context.Background(), &remote.ChatRequest{Message: "hi"})
	require.NoError(t, err)

	assert.Equal(t, remote.DefaultUserID, got.UserID)
}

func TestSendMessage_ValidationStopsBeforeNetwork(t *testing.T) {
	var hits atomic.Int32
	r := chi.NewRouter()
	r.Post("/api/v1/ai/chat", func(w http.ResponseWriter, req *http.Request) {
		hits.Add(1)
	})
	server := httptest.NewServer(r)
	defer server.Close()

	client := remote.NewClient(server.URL)
	_, err := client.SendMessage(context.Background(), &remote.ChatRequest{Message: ""})

	require.ErrorIs(t, err, remote.ErrValidation)
	assert.Contains(t, err.Error(), "Message")
	assert.Zero(t, hits.Load())
}

func TestSendMessage_ServerError(t *testing.T) {
	r := chi.NewRouter()
	r.Post("/api/v1/ai/chat", func(w http.ResponseWriter, req *http.Request) {
		http.Error(w, "analysis engine unavailable", http.StatusInternalServerError)
	})
	server := httptest.NewServer(r)
	defer server.Close()

	client := remote.NewClient(server.URL)
	_, err := client.SendMessage(context.Background(), &remote.ChatRequest{Message: "hi"})

	require.ErrorIs(t, err, remote.ErrRequestFailed)
	assert.Contains(t, err.Error(), "500")
}

func TestSendMessage_ContextCanceled(t *testing.T) {
	r := chi.NewRouter()
	r.Post("/api/v1/ai/chat", func(w http.ResponseWriter, req *http.Request) {
		<-req.Context().Done()
	})
	server := httptest.NewServer(r)
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := remote.NewClient(server.URL)
	_, err := client.SendMessage(ctx, &remote.ChatRequest{Message: "hi"})

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestUploadFile(t *testing.T) {
	r := chi.NewRouter()
	r.Post("/api/v1/upload", func(w http.ResponseWriter, req *http.Request) {
		file, header, err := req.FormFile("file")
		require.NoError(t, err)
		defer file.Close()

		content, err := io.ReadAll(file)
		require.NoError(t, err)
		assert.Equal(t, "a,b\n1,2\n", string(content))
		assert.Equal(t, "data.csv", header.Filename)

		json.NewEncoder(w).Encode(remote.UploadResponse{
			FileID:   "f-42",
			Filename: header.Filename,
			Size:     int64(len(content)),
			MIMEType: "text/csv",
		})
	})
	server := httptest.NewServer(r)
	defer server.Close()

	client := remote.NewClient(server.URL)
	resp, err := client.UploadFile(context.Background(), "data.csv", strings.NewReader("a,b\n1,2\n"))
	require.NoError(t, err)

	assert.Equal(t, "f-42", resp.FileID)
	assert.Equal(t, "data.csv", resp.Filename)
	assert.Equal(t, int64(8), resp.Size)
}

func TestUploadFile_ServerError(t *testing.T) {
	r := chi.NewRouter()
	r.Post("/api/v1/upload", func(w http.ResponseWriter, req *http.Request) {
		http.Error(w, "file type not allowed", http.StatusBadRequest)
	})
	server := httptest.NewServer(r)
	defer server.Close()

	client := remote.NewClient(server.URL)
	_, err := client.UploadFile(context.Background(), "x.csv", strings.NewReader("x"))

	require.ErrorIs(t, err, remote.ErrRequestFailed)
	assert.Contains(t, err.Error(), "file type not allowed")
}
