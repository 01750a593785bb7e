// Package control implements the recorder's remote control surface: two
// request/reply endpoints on the bus, one for commands and one for status.
//
//	recorder/control/{device-id}     -> start/pause/resume/cancel/finish
//	recorder/status/{recording-id}   -> session status snapshot
//
// All registry and session errors become success=false responses with a
// descriptive message; the channel itself never fails a request.
package control

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/c360/busrecorder/config"
	"github.com/c360/busrecorder/natsclient"
	"github.com/c360/busrecorder/protocol"
	"github.com/c360/busrecorder/recorder"
)

// Subscription is a handle to an active responder registration
type Subscription interface {
	Unsubscribe() error
}

// Queryable is the request/reply surface the control interface needs from
// the bus.
type Queryable interface {
	Respond(subject string, handler func(subject string, data []byte) []byte) (Subscription, error)
}

// natsQueryable adapts natsclient.Client to the Queryable interface
type natsQueryable struct {
	client *natsclient.Client
}

// NewNATSQueryable wraps a NATS client as a control Queryable
func NewNATSQueryable(client *natsclient.Client) Queryable {
	return &natsQueryable{client: client}
}

func (q *natsQueryable) Respond(subject string, handler func(string, []byte) []byte) (Subscription, error) {
	return q.client.Respond(subject, handler)
}

// Interface serves the control and status endpoints and drives the session
// registry through its state machine.
type Interface struct {
	bus      Queryable
	manager  *recorder.Manager
	deviceID string
	cfg      config.ControlConfig
	logger   *slog.Logger

	controlSub Subscription
	statusSub  Subscription
}

// New creates a control interface for one device
func New(bus Queryable, manager *recorder.Manager, deviceID string, cfg config.ControlConfig, logger *slog.Logger) *Interface {
	return &Interface{
		bus:      bus,
		manager:  manager,
		deviceID: deviceID,
		cfg:      cfg,
		logger:   logger,
	}
}

// ControlKey returns the bus key this device's command endpoint listens on
func (c *Interface) ControlKey() string {
	return c.cfg.KeyPrefix + "/" + c.deviceID
}

// Start registers both responders on the bus
func (c *Interface) Start(_ context.Context) error {
	controlSubject := natsclient.KeyToSubject(c.ControlKey())
	sub, err := c.bus.Respond(controlSubject, c.handleControl)
	if err != nil {
		return fmt.Errorf("control responder on %s: %w", controlSubject, err)
	}
	c.controlSub = sub

	statusSubject := natsclient.KeyToSubject(c.cfg.StatusKey)
	sub, err = c.bus.Respond(statusSubject, c.handleStatus)
	if err != nil {
		c.controlSub.Unsubscribe()
		c.controlSub = nil
		return fmt.Errorf("status responder on %s: %w", statusSubject, err)
	}
	c.statusSub = sub

	c.logger.Info("Control interface listening",
		"control_key", c.ControlKey(),
		"status_key", c.cfg.StatusKey)
	return nil
}

// Stop drops both responders
func (c *Interface) Stop(_ time.Duration) error {
	var firstErr error
	if c.controlSub != nil {
		if err := c.controlSub.Unsubscribe(); err != nil {
			firstErr = err
		}
		c.controlSub = nil
	}
	if c.statusSub != nil {
		if err := c.statusSub.Unsubscribe(); err != nil && firstErr == nil {
			firstErr = err
		}
		c.statusSub = nil
	}
	return firstErr
}

// handleControl parses a command request, dispatches it to the registry,
// and serializes the uniform response.
func (c *Interface) handleControl(_ string, data []byte) []byte {
	var req protocol.Request
	if len(data) == 0 {
		return marshalResponse(protocol.Error("missing request payload"))
	}
	if err := json.Unmarshal(data, &req); err != nil {
		return marshalResponse(protocol.Error(fmt.Sprintf("invalid request payload: %v", err)))
	}

	if !req.Command.Valid() {
		return marshalResponse(protocol.Error(fmt.Sprintf("unknown command %q", req.Command)))
	}

	if req.Command != protocol.CommandStart {
		if err := validateRecordingID(req.RecordingID); err != nil {
			return marshalResponse(protocol.Error(err.Error()))
		}
	}

	c.logger.Info("Processing control command",
		"command", string(req.Command),
		"recording_id", req.RecordingID)

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.Timeout())
	defer cancel()

	var resp protocol.Response
	switch req.Command {
	case protocol.CommandStart:
		resp = c.manager.StartRecording(req)
	case protocol.CommandPause:
		resp = c.manager.PauseRecording(req.RecordingID)
	case protocol.CommandResume:
		resp = c.manager.ResumeRecording(req.RecordingID)
	case protocol.CommandCancel:
		resp = c.manager.CancelRecording(req.RecordingID)
	case protocol.CommandFinish:
		resp = c.manager.FinishRecording(ctx, req.RecordingID)
	}

	return marshalResponse(resp)
}

// handleStatus extracts the recording id from the status subject
// (recorder.status.{recording-id}) and returns the session snapshot.
func (c *Interface) handleStatus(subject string, _ []byte) []byte {
	key := natsclient.SubjectToKey(subject)
	parts := strings.Split(key, "/")
	if len(parts) < 3 || parts[len(parts)-1] == "" {
		return marshalStatus(protocol.StatusResponse{
			Success: false,
			Message: "invalid status query format",
			State:   protocol.StateIdle,
		})
	}

	recordingID := parts[len(parts)-1]
	return marshalStatus(c.manager.Status(recordingID))
}

// validateRecordingID performs shape validation for non-start commands
func validateRecordingID(id string) error {
	if id == "" {
		return fmt.Errorf("recording_id is required")
	}
	if len(id) > 128 {
		return fmt.Errorf("recording_id too long")
	}
	if strings.ContainsAny(id, " \t\n/") {
		return fmt.Errorf("recording_id contains invalid characters")
	}
	return nil
}

func marshalResponse(resp protocol.Response) []byte {
	data, err := json.Marshal(resp)
	if err != nil {
		// A Response of plain fields cannot fail to marshal; keep the
		// channel alive regardless.
		return []byte(`{"success":false,"message":"internal response encoding error"}`)
	}
	return data
}

func marshalStatus(resp protocol.StatusResponse) []byte {
	data, err := json.Marshal(resp)
	if err != nil {
		return []byte(`{"success":false,"message":"internal response encoding error"}`)
	}
	return data
}
