package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/OFFIS-RIT/regnet/pkg/analysis"
	"github.com/OFFIS-RIT/regnet/pkg/logger"
	"github.com/OFFIS-RIT/regnet/pkg/store"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

// Triggers recorded on queued passes.
const (
	TriggerAPI      = "api"
	TriggerSchedule = "schedule"
)

// PassMessage is the body of a PassQueue message.
type PassMessage struct {
	Request    analysis.PassRequest `json:"request"`
	Trigger    string               `json:"trigger"`
	EnqueuedAt time.Time            `json:"enqueued_at"`
}

// ErrInvalidMessage marks a message body that can never be decoded.
var ErrInvalidMessage = errors.New("invalid pass message")

func DecodePassMessage(body []byte) (PassMessage, error) {
	var msg PassMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return PassMessage{}, fmt.Errorf("%w: %w", ErrInvalidMessage, err)
	}
	if msg.Request.ID == "" {
		return PassMessage{}, fmt.Errorf("%w: missing id", ErrInvalidMessage)
	}
	return msg, nil
}

// EnqueuePass validates req, assigns an id when it has none, records the
// pending progress and publishes the pass.
func EnqueuePass(
	ctx context.Context,
	ch Publisher,
	progress store.ProgressStore,
	req analysis.PassRequest,
	trigger string,
) (analysis.Progress, error) {
	if err := req.Validate(); err != nil {
		return analysis.Progress{}, err
	}
	if req.ID == "" {
		id, err := gonanoid.New()
		if err != nil {
			return analysis.Progress{}, err
		}
		req.ID = id
	}

	now := time.Now().UTC()
	p := analysis.NewProgress(req.ID, req.Kind, req.Level, now)
	if progress != nil {
		if err := progress.SaveProgress(ctx, p); err != nil {
			return analysis.Progress{}, err
		}
	}

	body, err := json.Marshal(PassMessage{Request: req, Trigger: trigger, EnqueuedAt: now})
	if err != nil {
		return analysis.Progress{}, err
	}
	if err := PublishFIFO(ch, PassQueue, body); err != nil {
		return analysis.Progress{}, fmt.Errorf("failed to publish pass %s: %w", req.ID, err)
	}

	logger.Info("[Queue] pass enqueued", "id", req.ID, "kind", req.Kind, "level", req.Level, "trigger", trigger)
	return p, nil
}
