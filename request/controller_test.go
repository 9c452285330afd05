package request_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"datasoph/client/conversation"
	"datasoph/client/model"
	"datasoph/client/parser"
	"datasoph/client/remote"
	"datasoph/client/remote/mocks"
	"datasoph/client/request"
	"datasoph/client/storage"
	"datasoph/client/upload"
)

func newTestController(t *testing.T, exchange remote.Exchanger) (*request.Controller, *conversation.Store) {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := conversation.NewStore(storage.NewMemoryStore(0), nil, conversation.Options{Logger: log})
	t.Cleanup(store.Close)

	ctrl := request.NewController(store, exchange, request.Options{
		StageInterval: 5 * time.Millisecond,
		Logger:        log,
	})
	return ctrl, store
}

func waitSettled(t *testing.T, h *request.Handle) request.Outcome {
	t.Helper()
	select {
	case <-h.Done():
		return h.Outcome()
	case <-time.After(3 * time.Second):
		t.Fatal("request did not settle")
		return request.Outcome{}
	}
}

func TestController_RoundTrip(t *testing.T) {
	exchange := mocks.NewMockExchanger(t)
	exchange.On("SendMessage", mock.Anything, mock.MatchedBy(func(req *remote.ChatRequest) bool {
		return req.Message == "what is the mean salary?" && req.UserID == remote.DefaultUserID
	})).Return(&remote.ChatResponse{Response: "The mean salary is **42k**."}, nil)

	ctrl, store := newTestController(t, exchange)

	h, started := ctrl.Send(context.Background(), "what is the mean salary?")
	require.True(t, started)

	// The user's message lands in the store before the exchange resolves.
	messages := store.CurrentSession().Messages
	require.NotEmpty(t, messages)
	assert.Equal(t, model.RoleUser, messages[0].Role)
	assert.Equal(t, "what is the mean salary?", messages[0].Content)

	out := waitSettled(t, h)
	assert.Equal(t, request.StateCompleted, out.State)
	require.Len(t, out.Blocks, 1)
	assert.Equal(t, parser.KindParagraph, out.Blocks[0].Kind)
	assert.True(t, out.Blocks[0].Strong)

	messages = store.CurrentSession().Messages
	require.Len(t, messages, 2)
	assert.Equal(t, model.RoleAssistant, messages[1].Role)
	assert.Equal(t, "The mean salary is **42k**.", messages[1].Content)

	assert.False(t, ctrl.Busy())
	assert.Equal(t, request.StageNone, h.Stage())
}

func TestController_StagesAdvance(t *testing.T) {
	release := make(chan struct{})
	exchange := mocks.NewMockExchanger(t)
	exchange.On("SendMessage", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { <-release }).
		Return(&remote.ChatResponse{Response: "done"}, nil)

	ctrl, _ := newTestController(t, exchange)

	h, started := ctrl.Send(context.Background(), "hold on")
	require.True(t, started)
	assert.Equal(t, request.StageThinking, h.Stage())

	// Stages walk forward on a timer while the exchange is pending, ending
	// at the last stage.
	require.Eventually(t, func() bool {
		return h.Stage() == request.StageGenerating
	}, 3*time.Second, time.Millisecond)

	close(release)
	waitSettled(t, h)
	assert.Equal(t, request.StageNone, h.Stage())
}

func TestController_CancelDiscardsLateResponse(t *testing.T) {
	release := make(chan struct{})
	exchange := mocks.NewMockExchanger(t)
	exchange.On("SendMessage", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { <-release }).
		Return(&remote.ChatResponse{Response: "too late"}, nil)

	ctrl, store := newTestController(t, exchange)

	h, started := ctrl.Send(context.Background(), "never mind")
	require.True(t, started)

	ctrl.Cancel(h)
	assert.True(t, h.Canceled())
	assert.Equal(t, request.StateCanceled, waitSettled(t, h).State)
	assert.Equal(t, request.StageNone, h.Stage())
	assert.False(t, ctrl.Busy())

	// Let the transport resolve after the fact. Its response must not
	// reach the transcript.
	close(release)
	time.Sleep(50 * time.Millisecond)

	messages := store.CurrentSession().Messages
	require.Len(t, messages, 1)
	assert.Equal(t, model.RoleUser, messages[0].Role)
}

func TestController_SendWhileBusyCancels(t *testing.T) {
	release := make(chan struct{})
	exchange := mocks.NewMockExchanger(t)
	exchange.On("SendMessage", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { <-release }).
		Return(&remote.ChatResponse{Response: "first"}, nil)

	ctrl, store := newTestController(t, exchange)

	first, started := ctrl.Send(context.Background(), "one")
	require.True(t, started)
	require.True(t, ctrl.Busy())

	// The same affordance is "stop" while busy: nothing new is issued and
	// the in-flight exchange is canceled.
	second, started := ctrl.Send(context.Background(), "two")
	assert.False(t, started)
	assert.Nil(t, second)
	assert.True(t, first.Canceled())
	assert.False(t, ctrl.Busy())

	close(release)
	time.Sleep(50 * time.Millisecond)

	// Only the first user message exists; "two" was never sent or stored.
	messages := store.CurrentSession().Messages
	require.Len(t, messages, 1)
	assert.Equal(t, "one", messages[0].Content)
}

func TestController_FailureAppendsFallback(t *testing.T) {
	exchange := mocks.NewMockExchanger(t)
	exchange.On("SendMessage", mock.Anything, mock.Anything).
		Return(nil, errors.New("connect refused"))

	ctrl, store := newTestController(t, exchange)

	h, started := ctrl.Send(context.Background(), "hello?")
	require.True(t, started)

	out := waitSettled(t, h)
	assert.Equal(t, request.StateFailed, out.State)
	assert.Error(t, out.Err)

	messages := store.CurrentSession().Messages
	require.Len(t, messages, 2)
	assert.Equal(t, model.RoleAssistant, messages[1].Role)
	assert.Equal(t, request.FallbackMessage, messages[1].Content)
}

func TestController_ContextCanceledIsNotFailure(t *testing.T) {
	exchange := mocks.NewMockExchanger(t)
	exchange.On("SendMessage", mock.Anything, mock.Anything).
		Return(nil, context.Canceled)

	ctrl, store := newTestController(t, exchange)

	h, started := ctrl.Send(context.Background(), "aborted")
	require.True(t, started)

	out := waitSettled(t, h)
	assert.Equal(t, request.StateCanceled, out.State)
	assert.True(t, h.Canceled())

	// No fallback message for a cancellation.
	assert.Len(t, store.CurrentSession().Messages, 1)
}

func TestController_OnSettled(t *testing.T) {
	exchange := mocks.NewMockExchanger(t)
	exchange.On("SendMessage", mock.Anything, mock.Anything).
		Return(&remote.ChatResponse{Response: "ok"}, nil)

	ctrl, _ := newTestController(t, exchange)

	h, started := ctrl.Send(context.Background(), "notify me")
	require.True(t, started)

	outcomes := make(chan request.Outcome, 1)
	ctrl.OnSettled(h, func(out request.Outcome) { outcomes <- out })

	select {
	case out := <-outcomes:
		assert.Equal(t, request.StateCompleted, out.State)
	case <-time.After(3 * time.Second):
		t.Fatal("settle callback never fired")
	}
}

func TestController_AttachRejectsBeforeUpload(t *testing.T) {
	// No UploadFile expectation: a classification failure must not touch
	// the network.
	exchange := mocks.NewMockExchanger(t)
	ctrl, _ := newTestController(t, exchange)

	_, _, err := ctrl.Attach(context.Background(), upload.File{
		Name:     "setup.exe",
		MIMEType: "application/x-msdownload",
		ByteSize: 1024,
	}, strings.NewReader("MZ"))
	require.ErrorIs(t, err, upload.ErrUnsupportedFormat)

	_, _, err = ctrl.Attach(context.Background(), upload.File{
		Name:     "data.csv",
		MIMEType: "text/csv",
		ByteSize: 500 << 20,
	}, strings.NewReader("a,b"))
	require.ErrorIs(t, err, upload.ErrFileTooLarge)

	fileID, desc := ctrl.ActiveFile()
	assert.Empty(t, fileID)
	assert.Nil(t, desc)
}

func TestController_AttachBindsFileToSends(t *testing.T) {
	exchange := mocks.NewMockExchanger(t)
	exchange.On("UploadFile", mock.Anything, "data.csv", mock.Anything).
		Return(&remote.UploadResponse{FileID: "f-1", Filename: "data.csv"}, nil).Once()
	exchange.On("SendMessage", mock.Anything, mock.MatchedBy(func(req *remote.ChatRequest) bool {
		return req.FileID == "f-1"
	})).Return(&remote.ChatResponse{Response: "analyzed"}, nil)

	ctrl, store := newTestController(t, exchange)

	desc, fileID, err := ctrl.Attach(context.Background(), upload.File{
		Name:     "data.csv",
		MIMEType: "text/csv",
		ByteSize: 1024,
	}, strings.NewReader("a,b\n1,2"))
	require.NoError(t, err)
	assert.Equal(t, "f-1", fileID)
	assert.Equal(t, "CSV data", desc.Category)

	h, started := ctrl.Send(context.Background(), "summarize it")
	require.True(t, started)
	waitSettled(t, h)

	// The reference also travels with the stored user message.
	messages := store.CurrentSession().Messages
	require.NotEmpty(t, messages)
	require.NotNil(t, messages[0].FileID)
	assert.Equal(t, "f-1", *messages[0].FileID)
}

func TestController_AttachReplaceAndClear(t *testing.T) {
	exchange := mocks.NewMockExchanger(t)
	exchange.On("UploadFile", mock.Anything, "a.csv", mock.Anything).
		Return(&remote.UploadResponse{FileID: "f-a"}, nil).Once()
	exchange.On("UploadFile", mock.Anything, "b.json", mock.Anything).
		Return(&remote.UploadResponse{FileID: "f-b"}, nil).Once()

	ctrl, _ := newTestController(t, exchange)

	_, _, err := ctrl.Attach(context.Background(), upload.File{Name: "a.csv", MIMEType: "text/csv", ByteSize: 10}, strings.NewReader("x"))
	require.NoError(t, err)
	fileID, _ := ctrl.ActiveFile()
	assert.Equal(t, "f-a", fileID)

	// Attaching again replaces the reference; nothing else does.
	_, _, err = ctrl.Attach(context.Background(), upload.File{Name: "b.json", MIMEType: "application/json", ByteSize: 10}, strings.NewReader("{}"))
	require.NoError(t, err)
	fileID, desc := ctrl.ActiveFile()
	assert.Equal(t, "f-b", fileID)
	assert.Equal(t, "JSON document", desc.Category)

	ctrl.ClearFile()
	fileID, desc = ctrl.ActiveFile()
	assert.Empty(t, fileID)
	assert.Nil(t, desc)
}
