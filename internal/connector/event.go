// Package connector delivers engine events to external destinations. One
// Pipeline runs per connector process; it splits each event into delivery
// units, authenticates and routes every unit, sends it and reports the outcome.
package connector

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Routing is the per-event delivery context every unit inherits.
type Routing struct {
	CorrelationID string
	OrgID         string
	AccountID     string
	Target        string // destination URL as received
	AuthToken     string
	TrustAll      bool
}

// TargetNoScheme is the target with its scheme removed, e.g. "dest/x" for
// "https://dest/x".
func (r Routing) TargetNoScheme() string {
	if i := strings.Index(r.Target, "://"); i >= 0 {
		return r.Target[i+3:]
	}
	return r.Target
}

// Event is one inbound notification. Treat it as immutable.
type Event struct {
	Routing
	Payload      json.RawMessage
	TraceHeaders map[string]string
}

// Items returns the payload elements when the payload is a JSON array, or the
// whole payload as a single item otherwise.
func (e Event) Items() []json.RawMessage {
	trimmed := bytes.TrimSpace(e.Payload)
	if len(trimmed) == 0 {
		return nil
	}
	if trimmed[0] == '[' {
		var items []json.RawMessage
		if err := json.Unmarshal(trimmed, &items); err == nil {
			if len(items) == 0 {
				return nil
			}
			return items
		}
	}
	return []json.RawMessage{cloneRaw(trimmed)}
}

// Unit is one network send derived from an Event. Body is what gets posted;
// Items is the slice of the event's items Body was built from.
type Unit struct {
	Routing
	Index int
	Total int
	Items []json.RawMessage
	Body  []byte

	// Authorization is set when the unit passes the AUTHENTICATED stage.
	Authorization string
}

var errMissingField = errors.New("missing required field")

// Validate checks the fields every connector needs. A JSON null payload
// counts as missing.
func (e Event) Validate() error {
	switch {
	case e.CorrelationID == "":
		return fmt.Errorf("%w: correlation id", errMissingField)
	case e.OrgID == "":
		return fmt.Errorf("%w: org id", errMissingField)
	case e.AccountID == "":
		return fmt.Errorf("%w: account id", errMissingField)
	case e.Target == "":
		return fmt.Errorf("%w: target url", errMissingField)
	case !hasPayload(e.Payload):
		return fmt.Errorf("%w: payload", errMissingField)
	}
	return nil
}

func hasPayload(p json.RawMessage) bool {
	trimmed := bytes.TrimSpace(p)
	return len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null"))
}

func cloneRaw(b []byte) json.RawMessage {
	out := make(json.RawMessage, len(b))
	copy(out, b)
	return out
}
