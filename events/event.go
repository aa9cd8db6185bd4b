package events

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// DefaultSource is the source applied to events that don't specify one.
const DefaultSource = "go-sdk"

// Event is a usage event sent to the ingestion API.
type Event struct {
	// Name of the event, used to match meters (required)
	EventName string `json:"event_name" validate:"required"`
	// ID of the customer in the caller's system (required)
	ExternalCustomerID string `json:"external_customer_id" validate:"required"`
	// Internal customer ID
	CustomerID string `json:"customer_id,omitempty"`
	// Unique ID of the event, used for idempotency
	EventID string `json:"event_id,omitempty"`
	// Arbitrary properties
	Properties map[string]any `json:"properties,omitempty"`
	// Source that generated the event
	Source string `json:"source,omitempty"`
	// Timestamp in RFC3339 format
	Timestamp string `json:"timestamp,omitempty" validate:"omitempty,datetime=2006-01-02T15:04:05Z07:00"`
}

// Validate returns an error if the event is missing required fields or has malformed ones.
func (e *Event) Validate() error {
	if e == nil {
		return &ValidationError{Field: "event", Message: "is nil"}
	}

	err := validate.Struct(e)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		return &ValidationError{
			Field:   verrs[0].Field(),
			Message: validationMessage(verrs[0]),
		}
	}
	return fmt.Errorf("%w: %w", ErrValidation, err)
}

// Clone returns a copy of the event.
// The properties map is copied shallowly.
func (e *Event) Clone() *Event {
	c := *e
	if e.Properties != nil {
		c.Properties = make(map[string]any, len(e.Properties))
		for k, v := range e.Properties {
			c.Properties[k] = v
		}
	}
	return &c
}

// EventOptions contains all the fields that can be set when enqueueing an event.
type EventOptions struct {
	EventName          string
	ExternalCustomerID string
	CustomerID         string
	EventID            string
	Properties         map[string]any
	Source             string
	Timestamp          string
}

// Event returns the Event described by the options.
func (o EventOptions) Event() *Event {
	return &Event{
		EventName:          o.EventName,
		ExternalCustomerID: o.ExternalCustomerID,
		CustomerID:         o.CustomerID,
		EventID:            o.EventID,
		Properties:         o.Properties,
		Source:             o.Source,
		Timestamp:          o.Timestamp,
	}
}

// IngestResponse is the response returned by the API when an event is accepted.
type IngestResponse struct {
	EventID string `json:"event_id"`
	Message string `json:"message"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())

	// Report field names as they appear in JSON
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})

	return v
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "datetime":
		return "must be a timestamp in RFC3339 format"
	default:
		return "failed validation rule '" + fe.Tag() + "'"
	}
}
