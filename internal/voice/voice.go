// Package voice defines the push-to-talk input path's collaborator
// interfaces and the controller that sequences them. The engines (audio
// capture, speech recognition, keystroke typing) are platform specific
// and injected; this package only owns the record/transcribe/type
// pipeline and its state reporting.
package voice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// Recorder captures microphone audio between Start and Stop.
type Recorder interface {
	// Start begins capturing. Returns an error if already recording.
	Start(ctx context.Context) error

	// Stop ends the capture and returns the recorded audio bytes.
	Stop(ctx context.Context) ([]byte, error)
}

// Transcriber converts captured audio into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte) (string, error)
}

// Typist delivers transcribed text into the focused application.
type Typist interface {
	Type(ctx context.Context, text string) error
}

// Events receives controller state changes for the control plane.
type Events interface {
	RecordingStarted()
	RecordingStopped()
}

// ErrNotRecording is returned by Finish without a matching Begin.
var ErrNotRecording = errors.New("voice: not recording")

// Controller drives one push-to-talk cycle at a time.
type Controller struct {
	recorder    Recorder
	transcriber Transcriber
	typist      Typist
	events      Events

	mu        sync.Mutex
	recording bool
}

// NewController wires the collaborators together. events may be nil.
func NewController(r Recorder, t Transcriber, ty Typist, events Events) *Controller {
	return &Controller{recorder: r, transcriber: t, typist: ty, events: events}
}

// Recording reports whether a capture is in progress.
func (c *Controller) Recording() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.recording
}

// Begin starts a capture. A second Begin while recording is an error so
// a stuck hotkey cannot stack captures.
func (c *Controller) Begin(ctx context.Context) error {
	c.mu.Lock()
	if c.recording {
		c.mu.Unlock()
		return fmt.Errorf("voice: already recording")
	}
	c.recording = true
	c.mu.Unlock()

	if err := c.recorder.Start(ctx); err != nil {
		c.mu.Lock()
		c.recording = false
		c.mu.Unlock()
		return fmt.Errorf("voice: start capture: %w", err)
	}
	if c.events != nil {
		c.events.RecordingStarted()
	}
	return nil
}

// Finish stops the capture, transcribes it and types the result.
// Returns the transcribed text.
func (c *Controller) Finish(ctx context.Context) (string, error) {
	c.mu.Lock()
	if !c.recording {
		c.mu.Unlock()
		return "", ErrNotRecording
	}
	c.recording = false
	c.mu.Unlock()

	if c.events != nil {
		defer c.events.RecordingStopped()
	}

	audio, err := c.recorder.Stop(ctx)
	if err != nil {
		return "", fmt.Errorf("voice: stop capture: %w", err)
	}
	if len(audio) == 0 {
		slog.Debug("voice: empty capture, nothing to type")
		return "", nil
	}

	text, err := c.transcriber.Transcribe(ctx, audio)
	if err != nil {
		return "", fmt.Errorf("voice: transcribe: %w", err)
	}
	if text == "" {
		return "", nil
	}

	if err := c.typist.Type(ctx, text); err != nil {
		return text, fmt.Errorf("voice: type text: %w", err)
	}
	return text, nil
}
