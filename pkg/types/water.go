package types

import (
	"encoding/json"
	"strings"
	"time"
)

// AssignationStatus is the upstream status of a contract relative to the user.
type AssignationStatus string

const (
	AssignationAssigned   AssignationStatus = "ASSIGNED"
	AssignationPending    AssignationStatus = "PENDING"
	AssignationRejected   AssignationStatus = "REJECTED"
	AssignationUnassigned AssignationStatus = "UNASSIGNED"
)

// DefaultAssignationStatuses are requested when the caller passes none.
var DefaultAssignationStatuses = []AssignationStatus{AssignationAssigned, AssignationPending}

// InvoiceMode selects which invoices are listed.
type InvoiceMode string

const (
	InvoiceModeAll  InvoiceMode = "ALL"
	InvoiceModeDebt InvoiceMode = "DEBT"
)

// Frequency is the granularity of a consumption series.
type Frequency string

const (
	FrequencyHourly Frequency = "HOURLY"
	FrequencyDaily  Frequency = "DAILY"
)

// Profile is the user profile returned by the standard provider.
type Profile struct {
	UserData map[string]any  `json:"userData"`
	Raw      json.RawMessage `json:"raw,omitempty"`
}

// Contract is a supply contract attached to the account.
type Contract struct {
	ID     string            `json:"id"`
	Status AssignationStatus `json:"status,omitempty"`
	Detail map[string]any    `json:"detail,omitempty"`
	Raw    json.RawMessage   `json:"raw,omitempty"`
}

// Invoice is a single bill for a contract.
type Invoice struct {
	Number     string          `json:"number"`
	ContractID string          `json:"contractId,omitempty"`
	Amount     float64         `json:"amount"`
	IssueDate  time.Time       `json:"issueDate"`
	Status     string          `json:"status,omitempty"`
	Raw        json.RawMessage `json:"raw,omitempty"`
}

var paidInvoiceStatuses = map[string]bool{
	"PAID":      true,
	"PAGADA":    true,
	"PAGAT":     true,
	"PAGADO":    true,
	"COBRADA":   true,
	"COBRAT":    true,
	"COBRADO":   true,
	"LIQUIDADA": true,
}

// Paid reports whether the invoice status denotes a settled bill. Unknown
// statuses are treated as unpaid.
func (i Invoice) Paid() bool {
	return paidInvoiceStatuses[strings.ToUpper(strings.TrimSpace(i.Status))]
}

// ConsumptionSample is a single meter reading.
type ConsumptionSample struct {
	// AccumulatedConsumption is the meter index in cubic meters.
	AccumulatedConsumption float64 `json:"accumulatedConsumption"`
	// Consumption is the delta since the previous reading in cubic meters.
	Consumption float64 `json:"consumption"`
	// Datetime is ISO-8601 when the upstream time could be parsed, otherwise
	// the upstream text as received.
	Datetime string `json:"datetime"`
	// Time is zero when Datetime holds the unparsed upstream text.
	Time time.Time       `json:"-"`
	Raw  json.RawMessage `json:"raw,omitempty"`
}

// SyncState records the outcome of the last background sync of an account.
type SyncState struct {
	LastSync     time.Time `json:"lastSync"`
	LastError    string    `json:"lastError,omitempty"`
	Consumptions int       `json:"consumptions"`
	Invoices     int       `json:"invoices"`
}
