package ingest

import (
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/go-playground/validator/v10"

	"webhookd/internal/types"
)

// eventTypePattern is the dotted namespace format providers use, e.g.
// "payment.created".
var eventTypePattern = regexp.MustCompile(`^[a-z_]+\.[a-z_]+$`)

// envelope is the wire form of the provider notification. CreatedAt stays a
// string through validation so a bad timestamp yields a field violation
// instead of a parse failure for the whole body.
type envelope struct {
	MerchantID string          `json:"merchant_id" validate:"required"`
	EventType  string          `json:"type" validate:"required"`
	EventID    string          `json:"event_id" validate:"required"`
	CreatedAt  string          `json:"created_at" validate:"required"`
	Data       json.RawMessage `json:"data"`
}

// envelopeValidator collects every schema violation in a body rather than
// stopping at the first, so the provider's reject response names all of them.
type envelopeValidator struct {
	validate        *validator.Validate
	maxEventAge     time.Duration
	futureTolerance time.Duration
	clock           types.Clock
}

func newEnvelopeValidator(maxEventAge, futureTolerance time.Duration, clock types.Clock) *envelopeValidator {
	if clock == nil {
		clock = types.RealClock{}
	}
	return &envelopeValidator{
		validate:        validator.New(),
		maxEventAge:     maxEventAge,
		futureTolerance: futureTolerance,
		clock:           clock,
	}
}

// parseAndValidate decodes the raw body and checks the envelope contract.
// Returns the authenticated event on success, or the full violation list.
func (ev *envelopeValidator) parseAndValidate(rawBody []byte) (*types.WebhookEvent, []string) {
	var env envelope
	if err := json.Unmarshal(rawBody, &env); err != nil {
		return nil, []string{"body: not valid JSON"}
	}

	var violations []string

	if err := ev.validate.Struct(env); err != nil {
		if fieldErrs, ok := err.(validator.ValidationErrors); ok {
			for _, fe := range fieldErrs {
				violations = append(violations, fmt.Sprintf("%s: required field missing", jsonFieldName(fe.Field())))
			}
		} else {
			violations = append(violations, "body: schema validation failed")
		}
	}

	if env.EventType != "" && !eventTypePattern.MatchString(env.EventType) {
		violations = append(violations, fmt.Sprintf("type: %q does not match the dotted namespace format", env.EventType))
	}

	var createdAt time.Time
	if env.CreatedAt != "" {
		var err error
		createdAt, err = time.Parse(time.RFC3339, env.CreatedAt)
		if err != nil {
			violations = append(violations, "created_at: not a valid RFC 3339 timestamp")
		} else {
			now := ev.clock.Now()
			if createdAt.After(now.Add(ev.futureTolerance)) {
				violations = append(violations, "created_at: timestamp is implausibly far in the future")
			}
			if now.Sub(createdAt) > ev.maxEventAge {
				violations = append(violations, "created_at: event is older than the maximum accepted age")
			}
		}
	}

	if len(violations) > 0 {
		return nil, violations
	}

	return &types.WebhookEvent{
		EventID:    env.EventID,
		EventType:  env.EventType,
		MerchantID: env.MerchantID,
		CreatedAt:  createdAt.UTC(),
		Payload:    env.Data,
	}, nil
}

// jsonFieldName maps the Go struct field names validator reports back to
// their wire names.
func jsonFieldName(structField string) string {
	switch structField {
	case "MerchantID":
		return "merchant_id"
	case "EventType":
		return "type"
	case "EventID":
		return "event_id"
	case "CreatedAt":
		return "created_at"
	default:
		return structField
	}
}
