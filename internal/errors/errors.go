// internal/errors/errors.go
package appErrors

import (
	"errors"
	"fmt"
)

// ErrCampaignNotFound is a sentinel error
type ErrCampaignNotFound struct {
	CampaignID int
}

func (e *ErrCampaignNotFound) Error() string {
	return fmt.Sprintf("campaign with ID %d not found", e.CampaignID)
}

// Helper constructor
func NewCampaignNotFound(id int) error {
	return &ErrCampaignNotFound{CampaignID: id}
}

type ErrLeadNotFound struct {
	LeadID int
}

func (e *ErrLeadNotFound) Error() string {
	return fmt.Sprintf("lead with ID %d not found", e.LeadID)
}

func NewLeadNotFound(id int) error {
	return &ErrLeadNotFound{LeadID: id}
}

type ErrConversationNotFound struct {
	ConversationID int
}

func (e *ErrConversationNotFound) Error() string {
	return fmt.Sprintf("conversation with ID %d not found", e.ConversationID)
}

func NewConversationNotFound(id int) error {
	return &ErrConversationNotFound{ConversationID: id}
}

type ErrAppointmentNotFound struct {
	AppointmentID int
}

func (e *ErrAppointmentNotFound) Error() string {
	return fmt.Sprintf("appointment with ID %d not found", e.AppointmentID)
}

func NewAppointmentNotFound(id int) error {
	return &ErrAppointmentNotFound{AppointmentID: id}
}

// IsNotFound reports whether err is any of the not-found errors above.
func IsNotFound(err error) bool {
	var c *ErrCampaignNotFound
	var l *ErrLeadNotFound
	var cv *ErrConversationNotFound
	var a *ErrAppointmentNotFound
	return errors.As(err, &c) || errors.As(err, &l) || errors.As(err, &cv) || errors.As(err, &a)
}

// InvalidStateTransition is returned when a status change is not allowed.
// The entity is left untouched.
type InvalidStateTransition struct {
	Entity string
	From   string
	To     string
}

func (e *InvalidStateTransition) Error() string {
	return fmt.Sprintf("invalid %s transition from %q to %q", e.Entity, e.From, e.To)
}

func NewInvalidStateTransition(entity, from, to string) error {
	return &InvalidStateTransition{Entity: entity, From: from, To: to}
}

// ComplianceDenied is an expected outcome, not a failure.
type ComplianceDenied struct {
	Reason string
}

func (e *ComplianceDenied) Error() string {
	return "compliance denied: " + e.Reason
}

func NewComplianceDenied(reason string) error {
	return &ComplianceDenied{Reason: reason}
}

// TransportError is reported by SMS/email transports. Retriable errors are
// TransportTransient, the rest are TransportPermanent.
type TransportError struct {
	Channel   string
	Retriable bool
	Code      string
	Err       error
}

func (e *TransportError) Error() string {
	kind := "permanent"
	if e.Retriable {
		kind = "transient"
	}
	msg := fmt.Sprintf("%s transport %s failure", e.Channel, kind)
	if e.Code != "" {
		msg += " (" + e.Code + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func NewTransportTransient(channel, code string, err error) error {
	return &TransportError{Channel: channel, Retriable: true, Code: code, Err: err}
}

func NewTransportPermanent(channel, code string, err error) error {
	return &TransportError{Channel: channel, Retriable: false, Code: code, Err: err}
}

// IsRetriable reports whether err is a transient transport error.
func IsRetriable(err error) bool {
	var te *TransportError
	if errors.As(err, &te) {
		return te.Retriable
	}
	return false
}

type ExtractionFailure struct {
	Err error
}

func (e *ExtractionFailure) Error() string {
	return fmt.Sprintf("field extraction failed: %v", e.Err)
}

func (e *ExtractionFailure) Unwrap() error {
	return e.Err
}

// LockContention means another worker holds the lead; skip this cycle.
type LockContention struct {
	LeadID int
}

func (e *LockContention) Error() string {
	return fmt.Sprintf("lead %d is already being processed", e.LeadID)
}

func NewLockContention(leadID int) error {
	return &LockContention{LeadID: leadID}
}

// ErrCampaignConflict is returned when a lead already belongs to another campaign.
type ErrCampaignConflict struct {
	LeadID     int
	CampaignID int
}

func (e *ErrCampaignConflict) Error() string {
	return fmt.Sprintf("lead %d already belongs to campaign %d", e.LeadID, e.CampaignID)
}

type ErrValidation struct {
	Field  string
	Reason string
}

func (e *ErrValidation) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func NewValidation(field, reason string) error {
	return &ErrValidation{Field: field, Reason: reason}
}

var (
	ErrInvalidSignature = errors.New("invalid webhook signature")
	ErrMalformedPayload = errors.New("malformed webhook payload")
)
