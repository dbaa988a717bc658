package delivery

import (
	"encoding/json"
	"time"
)

// Message types carried on the connector topics.
const (
	SuccessType = "connector.success"
	FailureType = "connector.failure"
	Version     = "v1"
)

// Inbound is an engine-to-connector message.
type Inbound struct {
	CorrelationID string            `json:"correlation_id"`
	OrgID         string            `json:"org_id"`
	AccountID     string            `json:"account_id,omitempty"`
	TargetURL     string            `json:"target_url"`
	TrustAll      bool              `json:"trust_all"`
	AuthToken     string            `json:"auth_token,omitempty"`
	Payload       json.RawMessage   `json:"payload"`
	PublishedAt   string            `json:"published_at,omitempty"`  // RFC3339
	TraceHeaders  map[string]string `json:"trace_headers,omitempty"` // OTel trace propagation headers
}

// SuccessReport is published once per acknowledged unit.
type SuccessReport struct {
	Type          string `json:"type"`    // "connector.success"
	Version       string `json:"version"` // schema version
	At            string `json:"at"`      // RFC3339 time of the delivery
	RouteID       string `json:"route_id"`
	CorrelationID string `json:"correlation_id"`
	OrgID         string `json:"org_id"`
	AccountID     string `json:"account_id,omitempty"`
	TargetURL     string `json:"target_url"`
	UnitIndex     int    `json:"unit_index"`
	UnitCount     int    `json:"unit_count"`
}

// FailureReport is published once per failed unit.
type FailureReport struct {
	Type          string `json:"type"`    // "connector.failure"
	Version       string `json:"version"` // schema version
	At            string `json:"at"`      // RFC3339 time the failure was classified
	RouteID       string `json:"route_id"`
	CorrelationID string `json:"correlation_id"`
	OrgID         string `json:"org_id"`
	ErrorKind     string `json:"error_kind"`
	Detail        string `json:"detail"` // human/debug text
	StatusCode    int    `json:"status_code,omitempty"`
	UnitIndex     int    `json:"unit_index"`
	UnitCount     int    `json:"unit_count"`
}

type Unit struct {
	Index int
	Count int
}

func NewSuccessReport(routeID, correlationID, orgID, accountID, targetURL string, u Unit) SuccessReport {
	return SuccessReport{
		Type:          SuccessType,
		Version:       Version,
		At:            time.Now().Format(time.RFC3339Nano),
		RouteID:       routeID,
		CorrelationID: correlationID,
		OrgID:         orgID,
		AccountID:     accountID,
		TargetURL:     targetURL,
		UnitIndex:     u.Index,
		UnitCount:     u.Count,
	}
}

func NewFailureReport(routeID, correlationID, orgID, errorKind, detail string, statusCode int, u Unit) FailureReport {
	return FailureReport{
		Type:          FailureType,
		Version:       Version,
		At:            time.Now().Format(time.RFC3339Nano),
		RouteID:       routeID,
		CorrelationID: correlationID,
		OrgID:         orgID,
		ErrorKind:     errorKind,
		Detail:        detail,
		StatusCode:    statusCode,
		UnitIndex:     u.Index,
		UnitCount:     u.Count,
	}
}
