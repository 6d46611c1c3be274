package rotation

import (
	"encoding/json"
	"fmt"
)

// Step is one of the four rotation steps.
type Step string

const (
	// StepCreate writes a new AWSPENDING version with the alternate username
	// and a fresh password.
	StepCreate Step = "createSecret"

	// StepSet makes the database accept the AWSPENDING credentials.
	StepSet Step = "setSecret"

	// StepTest logs in with the AWSPENDING credentials.
	StepTest Step = "testSecret"

	// StepFinish moves AWSCURRENT to the token's version. The store labels the
	// prior version AWSPREVIOUS.
	StepFinish Step = "finishSecret"
)

// Steps lists the steps in cycle order.
var Steps = []Step{StepCreate, StepSet, StepTest, StepFinish}

// ParseStep validates a step name.
func ParseStep(s string) (Step, error) {
	var step Step
	if err := step.UnmarshalText([]byte(s)); err != nil {
		return "", err
	}
	return step, nil
}

func (s Step) MarshalText() ([]byte, error) {
	return []byte(s), nil
}

func (s *Step) UnmarshalText(text []byte) error {
	switch Step(text) {
	case StepCreate, StepSet, StepTest, StepFinish:
		*s = Step(text)
		return nil
	default:
		return fmt.Errorf("unknown step: %s", text)
	}
}

// Event is one rotation invocation as delivered by the scheduler.
type Event struct {
	// SecretID is the ARN or name of the secret being rotated.
	SecretID string `json:"SecretId"`

	// ClientRequestToken identifies the rotation cycle and the pending version.
	ClientRequestToken string `json:"ClientRequestToken"`

	Step Step `json:"Step"`
}

// ParseEvent decodes an event and rejects missing fields and unknown steps.
func ParseEvent(data []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return Event{}, fmt.Errorf("invalid rotation event: %w", err)
	}
	if ev.SecretID == "" || ev.ClientRequestToken == "" || ev.Step == "" {
		return Event{}, fmt.Errorf("invalid rotation event: SecretId, ClientRequestToken and Step are required")
	}
	return ev, nil
}
