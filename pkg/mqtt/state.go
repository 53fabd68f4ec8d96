package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"openevse-mqtt-bridge/pkg/evse"
	"openevse-mqtt-bridge/pkg/logger"
	"openevse-mqtt-bridge/pkg/topics"
)

// PublishReadings publishes the state of every reading, plus its JSON
// attributes when it has any. All readings are attempted.
func (p *Publisher) PublishReadings(ctx context.Context, readings []evse.Reading) error {
	var errs []error
	for _, r := range readings {
		if err := p.publishReading(ctx, r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (p *Publisher) publishReading(ctx context.Context, r evse.Reading) error {
	if !r.Text && (math.IsNaN(r.Value) || math.IsInf(r.Value, 0)) {
		return fmt.Errorf("invalid value for sensor %s: %v", r.Key, r.Value)
	}

	logger.LogDebug("📤 Publishing '%s' = %s %s", r.Key, r.State(), r.Unit)

	if err := p.publish(ctx, topics.BuildStateTopic(p.haCfg.StatePrefix, r.Key), 0, false, r.State()); err != nil {
		return err
	}
	if len(r.Attributes) == 0 {
		return nil
	}

	attrs, err := json.Marshal(r.Attributes)
	if err != nil {
		return fmt.Errorf("error serializing attributes for %s: %w", r.Key, err)
	}
	return p.publish(ctx, topics.BuildAttributesTopic(p.haCfg.StatePrefix, r.Key), 0, false, attrs)
}
