package detection

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Config holds the acceptance rules.
type Config struct {
	// Threshold is the minimum confidence, inclusive.
	Threshold float64

	// TargetLabel must be contained in the event class, ignoring case.
	TargetLabel string

	// MaxEventAge rejects events whose producer timestamp is older than
	// receivedAt minus this value. Zero disables the check.
	MaxEventAge time.Duration
}

// Validator turns raw payloads into validated events. It holds no mutable
// state and is safe for concurrent use.
type Validator struct {
	threshold   float64
	target      string
	maxEventAge time.Duration
}

// NewValidator creates a Validator from cfg.
func NewValidator(cfg Config) *Validator {
	return &Validator{
		threshold:   cfg.Threshold,
		target:      strings.ToLower(cfg.TargetLabel),
		maxEventAge: cfg.MaxEventAge,
	}
}

// wireEvent mirrors the producer's JSON. Pointers distinguish missing
// fields from zero values.
type wireEvent struct {
	Objeto    *string          `json:"objeto"`
	Confianza *json.RawMessage `json:"confianza"`
	Timestamp *json.RawMessage `json:"timestamp"`
}

// Parse decodes raw into an Event without applying the acceptance rules.
func Parse(raw []byte, receivedAt time.Time) (Event, error) {
	var w wireEvent
	if err := json.Unmarshal(raw, &w); err != nil {
		return Event{}, &ValidationError{Reason: ErrMalformedPayload, Detail: err.Error()}
	}
	if w.Objeto == nil {
		return Event{}, &ValidationError{Reason: ErrMalformedPayload, Detail: `missing "objeto"`}
	}
	if w.Confianza == nil {
		return Event{}, &ValidationError{Reason: ErrMalformedPayload, Label: *w.Objeto, Detail: `missing "confianza"`}
	}

	var conf float64
	if err := json.Unmarshal(*w.Confianza, &conf); err != nil {
		return Event{}, &ValidationError{Reason: ErrMalformedPayload, Label: *w.Objeto, Detail: fmt.Sprintf("confianza: %v", err)}
	}
	if conf < 0 || conf > 1 {
		return Event{}, &ValidationError{
			Reason:     ErrMalformedPayload,
			Label:      *w.Objeto,
			Confidence: conf,
			Detail:     fmt.Sprintf("confianza %v outside [0,1]", conf),
		}
	}

	ev := Event{
		Label:      *w.Objeto,
		Confidence: conf,
		ReceivedAt: receivedAt,
		ProducedAt: parseTimestamp(w.Timestamp),
	}
	return ev, nil
}

// parseTimestamp accepts an ISO-8601 string. Anything else is ignored.
func parseTimestamp(raw *json.RawMessage) *time.Time {
	if raw == nil {
		return nil
	}
	var s string
	if err := json.Unmarshal(*raw, &s); err != nil || s == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999999", "2006-01-02 15:04:05.999999999"} {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}

// Validate parses raw and applies the acceptance rules in order: payload
// shape, threshold, class, then age.
func (v *Validator) Validate(raw []byte, receivedAt time.Time) (Validated, error) {
	ev, err := Parse(raw, receivedAt)
	if err != nil {
		return Validated{}, err
	}

	if ev.Confidence < v.threshold {
		return Validated{}, &ValidationError{Reason: ErrBelowThreshold, Label: ev.Label, Confidence: ev.Confidence}
	}

	if !strings.Contains(strings.ToLower(ev.Label), v.target) {
		return Validated{}, &ValidationError{Reason: ErrWrongClass, Label: ev.Label, Confidence: ev.Confidence}
	}

	if v.maxEventAge > 0 && ev.ProducedAt != nil {
		if age := receivedAt.Sub(*ev.ProducedAt); age > v.maxEventAge {
			return Validated{}, &ValidationError{
				Reason:     ErrStaleEvent,
				Label:      ev.Label,
				Confidence: ev.Confidence,
				Detail:     fmt.Sprintf("produced %s before receipt", age.Round(time.Millisecond)),
			}
		}
	}

	return Validated{event: ev}, nil
}
