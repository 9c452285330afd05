// Package request manages the lifecycle of one in-flight chat exchange:
// issuing it, presenting staged progress, cancelling it, and handing the
// settled result to the conversation store. The central guarantee is that
// a response arriving after cancellation never mutates the store.
package request

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"datasoph/client/conversation"
	"datasoph/client/model"
	"datasoph/client/parser"
	"datasoph/client/remote"
	"datasoph/client/upload"
)

// FallbackMessage is appended as the assistant's reply when the exchange
// fails. The underlying cause is logged, never shown in the transcript.
const FallbackMessage = "I ran into a problem while processing that request. Please try again in a moment."

// DefaultStageInterval is how long each progress stage is displayed
// before advancing to the next.
const DefaultStageInterval = 400 * time.Millisecond

// Options tune a Controller.
type Options struct {
	// UserID is sent with every chat request. Empty means
	// remote.DefaultUserID.
	UserID        string
	StageInterval time.Duration
	Logger        *slog.Logger
}

// Controller issues chat exchanges against the remote service. At most
// one exchange is in flight at a time; Send doubles as the stop action
// while one is active.
type Controller struct {
	store    *conversation.Store
	exchange remote.Exchanger
	log      *slog.Logger

	userID        string
	stageInterval time.Duration

	mu       sync.Mutex
	active   *Handle
	fileID   string
	fileDesc *upload.Descriptor
}

func NewController(store *conversation.Store, exchange remote.Exchanger, opts Options) *Controller {
	if opts.UserID == "" {
		opts.UserID = remote.DefaultUserID
	}
	if opts.StageInterval <= 0 {
		opts.StageInterval = DefaultStageInterval
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Controller{
		store:         store,
		exchange:      exchange,
		log:           opts.Logger,
		userID:        opts.UserID,
		stageInterval: opts.StageInterval,
	}
}

// Send issues one exchange for the active session. The user's message is
// appended to the store immediately, before the network round trip
// resolves.
//
// If an exchange is already in flight, Send cancels it and issues
// nothing: the same affordance means "send" when idle and "stop" when
// busy. started reports which of the two happened.
func (c *Controller) Send(ctx context.Context, message string) (handle *Handle, started bool) {
	c.mu.Lock()
	if c.active != nil && !c.active.settled.Load() {
		prior := c.active
		c.mu.Unlock()
		c.Cancel(prior)
		return nil, false
	}

	reqCtx, cancel := context.WithCancel(ctx)
	h := newHandle(cancel)
	c.active = h
	fileID := c.fileID
	c.mu.Unlock()

	sessionID := c.store.CurrentSession().ID

	userMsg := model.NewMessage(model.RoleUser, message)
	if fileID != "" {
		ref := fileID
		userMsg.FileID = &ref
	}
	if err := c.store.AppendMessage(sessionID, userMsg); err != nil {
		c.log.Warn("failed to append user message", "session_id", sessionID, "error", err)
	}

	go c.advanceStages(h)
	go func() {
		resp, err := c.exchange.SendMessage(reqCtx, &remote.ChatRequest{
			Message: message,
			UserID:  c.userID,
			FileID:  fileID,
		})
		c.settle(h, sessionID, resp, err)
	}()
	return h, true
}

// Cancel settles the handle as canceled and signals the in-flight call to
// abort. Whether or not the transport actually stops, the settled flag is
// the authoritative guard: a late result is discarded in settle.
func (c *Controller) Cancel(h *Handle) {
	if h == nil {
		return
	}
	if !h.settled.CompareAndSwap(false, true) {
		return
	}
	h.canceled.Store(true)
	h.cancel()
	h.stage.Store(StageNone)
	h.outcome = Outcome{State: StateCanceled}
	close(h.done)

	c.clearActive(h)
	c.log.Debug("request canceled")
}

// OnSettled invokes fn with the handle's outcome once it settles.
func (c *Controller) OnSettled(h *Handle, fn func(Outcome)) {
	if h == nil {
		return
	}
	go func() {
		<-h.done
		fn(h.outcome)
	}()
}

// Busy reports whether an exchange is currently in flight.
func (c *Controller) Busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active != nil && !c.active.settled.Load()
}

// Attach classifies the file and, if it passes, uploads it and makes its
// reference the one bound to subsequent sends. An existing reference is
// replaced only here, never implicitly; ClearFile drops it.
//
// Classification failures (upload.ErrUnsupportedFormat,
// upload.ErrFileTooLarge) are returned for display; nothing is uploaded.
func (c *Controller) Attach(ctx context.Context, f upload.File, payload io.Reader) (*upload.Descriptor, string, error) {
	desc, err := upload.Classify(f)
	if err != nil {
		return nil, "", err
	}

	resp, err := c.exchange.UploadFile(ctx, f.Name, payload)
	if err != nil {
		return nil, "", fmt.Errorf("upload failed: %w", err)
	}

	c.mu.Lock()
	c.fileID = resp.FileID
	c.fileDesc = desc
	c.mu.Unlock()

	c.log.Info("file attached", "file_id", resp.FileID, "category", desc.Category)
	return desc, resp.FileID, nil
}

// ClearFile drops the active file reference.
func (c *Controller) ClearFile() {
	c.mu.Lock()
	c.fileID = ""
	c.fileDesc = nil
	c.mu.Unlock()
}

// ActiveFile returns the current file reference and its descriptor, or
// empty values when no file is bound.
func (c *Controller) ActiveFile() (string, *upload.Descriptor) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fileID, c.fileDesc
}

// advanceStages walks the progress labels on a timer until the handle
// settles.
func (c *Controller) advanceStages(h *Handle) {
	for i := 1; i < len(Stages); i++ {
		select {
		case <-h.done:
			return
		case <-time.After(c.stageInterval):
			h.stage.Store(Stages[i])
		}
	}
}

// settle resolves the handle with the network result. Exactly one of
// settle and Cancel wins the settled flag; the loser's effect on the
// conversation store is suppressed.
func (c *Controller) settle(h *Handle, sessionID string, resp *remote.ChatResponse, err error) {
	if !h.settled.CompareAndSwap(false, true) {
		c.log.Debug("discarding late response for canceled request", "session_id", sessionID)
		return
	}

	var out Outcome
	switch {
	case err != nil && errors.Is(err, context.Canceled):
		h.canceled.Store(true)
		out = Outcome{State: StateCanceled}
	case err != nil:
		c.log.Warn("chat exchange failed", "session_id", sessionID, "error", err)
		if appendErr := c.store.AppendMessage(sessionID, model.NewMessage(model.RoleAssistant, FallbackMessage)); appendErr != nil {
			c.log.Warn("failed to append fallback message", "session_id", sessionID, "error", appendErr)
		}
		out = Outcome{State: StateFailed, Err: err}
	default:
		// Shape the reply before storing so the render surface always
		// receives well-formed blocks; Parse is total, so this cannot
		// reject the response.
		blocks := parser.Parse(resp.Response)
		if appendErr := c.store.AppendMessage(sessionID, model.NewMessage(model.RoleAssistant, resp.Response)); appendErr != nil {
			c.log.Warn("failed to append assistant message", "session_id", sessionID, "error", appendErr)
		}
		out = Outcome{State: StateCompleted, Blocks: blocks}
	}

	h.stage.Store(StageNone)
	h.outcome = out
	close(h.done)
	c.clearActive(h)
}

func (c *Controller) clearActive(h *Handle) {
	c.mu.Lock()
	if c.active == h {
		c.active = nil
	}
	c.mu.Unlock()
}
