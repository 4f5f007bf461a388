package pipeline

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/satriahrh/arunika/gateway/internal/protocol"
)

// Command result statuses
const (
	CommandAccepted      = "accepted"
	CommandUnknownDevice = "unknown_device"
	CommandInvalid       = "invalid"
)

// CommandResult reports what happened to one device command
type CommandResult struct {
	Device string `json:"device"`
	Action string `json:"action"`
	Status string `json:"status"`
}

// DeviceStage validates device commands against the descriptors each
// session reported.
type DeviceStage struct {
	logger *zap.Logger

	mu       sync.RWMutex
	registry map[string]map[string]protocol.DeviceDescriptor // session id -> name -> descriptor
}

// NewDeviceStage creates an empty device registry stage
func NewDeviceStage(logger *zap.Logger) *DeviceStage {
	return &DeviceStage{
		logger:   logger,
		registry: make(map[string]map[string]protocol.DeviceDescriptor),
	}
}

// Name implements Stage
func (d *DeviceStage) Name() string {
	return "device"
}

// Register records descriptors reported by a session, replacing earlier ones
// with the same name.
func (d *DeviceStage) Register(sessionID string, descriptors []protocol.DeviceDescriptor) {
	d.mu.Lock()
	defer d.mu.Unlock()

	devices, ok := d.registry[sessionID]
	if !ok {
		devices = make(map[string]protocol.DeviceDescriptor, len(descriptors))
		d.registry[sessionID] = devices
	}
	for _, desc := range descriptors {
		if desc.Name == "" {
			continue
		}
		devices[desc.Name] = desc
	}

	d.logger.Info("Devices registered",
		zap.String("sessionID", sessionID),
		zap.Int("devices", len(devices)))
}

// Known reports whether a session registered the named device
func (d *DeviceStage) Known(sessionID, name string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.registry[sessionID][name]
	return ok
}

// Forget drops a session's registry
func (d *DeviceStage) Forget(sessionID string) {
	d.mu.Lock()
	delete(d.registry, sessionID)
	d.mu.Unlock()
}

// Validate keeps commands naming a device and an action. Commands for
// devices the session never described are kept but logged.
func (d *DeviceStage) Validate(sessionID string, commands []protocol.DeviceCommand) ([]protocol.DeviceCommand, []CommandResult) {
	valid := make([]protocol.DeviceCommand, 0, len(commands))
	results := make([]CommandResult, 0, len(commands))

	for _, cmd := range commands {
		result := CommandResult{Device: cmd.Device, Action: cmd.Action}
		switch {
		case cmd.Device == "" || cmd.Action == "":
			result.Status = CommandInvalid
			d.logger.Warn("Dropping device command without device or action",
				zap.String("sessionID", sessionID),
				zap.String("device", cmd.Device),
				zap.String("action", cmd.Action))
		case !d.Known(sessionID, cmd.Device):
			result.Status = CommandUnknownDevice
			valid = append(valid, cmd)
			d.logger.Warn("Command for unregistered device",
				zap.String("sessionID", sessionID),
				zap.String("device", cmd.Device))
		default:
			result.Status = CommandAccepted
			valid = append(valid, cmd)
		}
		results = append(results, result)
	}
	return valid, results
}

// Process implements Stage
func (d *DeviceStage) Process(ctx context.Context, state State) (State, error) {
	if len(state.Commands) == 0 {
		return state, nil
	}
	state.Commands, state.CommandResults = d.Validate(state.SessionID, state.Commands)
	return state, nil
}
