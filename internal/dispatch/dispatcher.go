package dispatch

import (
	"bytes"
	"encoding/json"

	"go.uber.org/zap"

	"presenceboard/pkg/interfaces"
	"presenceboard/pkg/types"
)

// ChannelRegistry is the slice of the connection registry the dispatcher
// needs: channel lookup for delivery and pruning of dead channels.
type ChannelRegistry interface {
	ChannelsFor(userID string) []interfaces.Channel
	Unregister(userID string, ch interfaces.Channel) int
}

// Dispatcher fans an externally triggered event out to every live channel
// of a target identity.
type Dispatcher struct {
	registry ChannelRegistry
	logger   *zap.Logger
}

// NewDispatcher creates a dispatcher over the given registry.
func NewDispatcher(registry ChannelRegistry, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		registry: registry,
		logger:   logger,
	}
}

var jsonNull = []byte("null")

// Notify writes a new_submission event carrying payload to each of the
// target's channels and returns the number of successful deliveries. A
// target with no channels is simply offline: zero deliveries, no error. A
// channel that fails to accept the write is dead: it is pruned from the
// registry and closed, and delivery continues with the remaining channels.
func (d *Dispatcher) Notify(targetUserID string, payload json.RawMessage) (int, error) {
	if targetUserID == "" {
		return 0, ErrMissingTeacherID
	}
	if len(payload) == 0 || bytes.Equal(bytes.TrimSpace(payload), jsonNull) {
		return 0, ErrMissingPayload
	}

	event := types.SubmissionEvent{
		Type: types.EventTypeNewSubmission,
		Data: payload,
	}

	delivered := 0
	for _, ch := range d.registry.ChannelsFor(targetUserID) {
		if err := ch.WriteJSON(event); err != nil {
			d.logger.Warn("pruning dead channel",
				zap.String("user_id", targetUserID),
				zap.String("channel", ch.ID()),
				zap.Error(err))
			d.registry.Unregister(targetUserID, ch)
			_ = ch.Close()
			continue
		}
		delivered++
	}

	d.logger.Info("notification dispatched",
		zap.String("user_id", targetUserID),
		zap.Int("delivered", delivered))

	return delivered, nil
}
