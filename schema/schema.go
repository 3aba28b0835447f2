// Package schema validates message payloads against the wire shape for
// their type before the router dispatches them.
package schema

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	agentpay "github.com/skymint/agentpay"
)

const serviceRequestSchema = `{
	"$schema": "http://json-schema.org/draft-04/schema#",
	"type": "object",
	"required": ["service_type", "quantity"],
	"properties": {
		"service_type": {"type": "string", "minLength": 1},
		"quantity": {"type": "integer", "minimum": 1}
	}
}`

const quoteSchema = `{
	"$schema": "http://json-schema.org/draft-04/schema#",
	"type": "object",
	"required": ["service_type", "quantity", "price", "currency"],
	"properties": {
		"service_type": {"type": "string", "minLength": 1},
		"quantity": {"type": "integer", "minimum": 1},
		"price": {"type": "number", "minimum": 0, "exclusiveMinimum": true},
		"currency": {"type": "string", "minLength": 1},
		"delivery_eta_seconds": {"type": "integer", "minimum": 0}
	}
}`

const paymentNotificationSchema = `{
	"$schema": "http://json-schema.org/draft-04/schema#",
	"type": "object",
	"required": ["payment_id", "amount", "currency", "transaction_signature", "refundable_until"],
	"properties": {
		"payment_id": {"type": "string", "minLength": 1},
		"amount": {"type": "number", "minimum": 0, "exclusiveMinimum": true},
		"currency": {"type": "string", "minLength": 1},
		"transaction_signature": {"type": "string"},
		"refundable_until": {"type": "string", "format": "date-time"}
	}
}`

const deliveryConfirmationSchema = `{
	"$schema": "http://json-schema.org/draft-04/schema#",
	"type": "object",
	"required": ["payment_id", "delivered_at"],
	"properties": {
		"payment_id": {"type": "string", "minLength": 1},
		"delivered_at": {"type": "string", "format": "date-time"},
		"note": {"type": "string"}
	}
}`

// Validator checks message payloads against per-type JSON Schemas.
// Schemas are compiled once at construction; Validate is safe for
// concurrent use.
type Validator struct {
	schemas map[agentpay.MessageType]*gojsonschema.Schema
}

// NewValidator compiles the payload schemas for all message types
func NewValidator() (*Validator, error) {
	sources := map[agentpay.MessageType]string{
		agentpay.MessageServiceRequest:       serviceRequestSchema,
		agentpay.MessageQuote:                quoteSchema,
		agentpay.MessagePaymentNotification:  paymentNotificationSchema,
		agentpay.MessageDeliveryConfirmation: deliveryConfirmationSchema,
	}

	schemas := make(map[agentpay.MessageType]*gojsonschema.Schema, len(sources))
	for msgType, source := range sources {
		schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(source))
		if err != nil {
			return nil, fmt.Errorf("compile %s schema: %w", msgType, err)
		}
		schemas[msgType] = schema
	}
	return &Validator{schemas: schemas}, nil
}

// MustValidator is NewValidator that panics on a compile failure. The
// schemas are package constants, so a failure is a programming error.
func MustValidator() *Validator {
	v, err := NewValidator()
	if err != nil {
		panic(err)
	}
	return v
}

// Validate checks the payload against the schema for msgType. It returns
// a validation_failed error naming every violated constraint.
func (v *Validator) Validate(msgType agentpay.MessageType, payload []byte) error {
	schema, ok := v.schemas[msgType]
	if !ok {
		return agentpay.NewValidationError(fmt.Sprintf("no schema for message type %q", msgType), map[string]interface{}{
			"type": string(msgType),
		})
	}

	result, err := schema.Validate(gojsonschema.NewBytesLoader(payload))
	if err != nil {
		return agentpay.NewValidationError("payload is not valid JSON", map[string]interface{}{
			"type":  string(msgType),
			"error": err.Error(),
		})
	}
	if !result.Valid() {
		violations := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			violations = append(violations, desc.String())
		}
		return agentpay.NewValidationError(
			fmt.Sprintf("%s payload failed validation: %s", msgType, strings.Join(violations, "; ")),
			map[string]interface{}{
				"type":       string(msgType),
				"violations": violations,
			})
	}
	return nil
}

// Ensure Validator implements PayloadValidator
var _ agentpay.PayloadValidator = (*Validator)(nil)
