package soap

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"strings"
)

// RejectedError represents a UPnP/SOAP error response from a device.
type RejectedError struct {
	Action      string
	StatusCode  int
	Code        string
	Description string
}

func (e *RejectedError) Error() string {
	if e.Description == "" {
		return fmt.Sprintf("soap action %s rejected: code %s (http %d)", e.Action, e.Code, e.StatusCode)
	}
	return fmt.Sprintf("soap action %s rejected: code %s (%s)", e.Action, e.Code, e.Description)
}

// TimeoutError indicates a request timed out.
type TimeoutError struct {
	Action string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("soap action %s timed out", e.Action)
}

// UnreachableError indicates the device could not be reached at the
// transport level.
type UnreachableError struct {
	Action string
	Err    error
}

func (e *UnreachableError) Error() string {
	return fmt.Sprintf("soap action %s unreachable: %v", e.Action, e.Err)
}

func (e *UnreachableError) Unwrap() error {
	return e.Err
}

// ParseFault extracts the UPnP error code and description from a SOAP fault
// payload. Both are empty when the payload carries no fault.
func ParseFault(payload []byte) (code, description string) {
	decoder := xml.NewDecoder(bytes.NewReader(payload))
	for {
		tok, err := decoder.Token()
		if err != nil {
			break
		}
		se, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		switch se.Name.Local {
		case "errorCode":
			var value string
			if err := decoder.DecodeElement(&value, &se); err == nil {
				code = strings.TrimSpace(value)
			}
		case "errorDescription":
			var value string
			if err := decoder.DecodeElement(&value, &se); err == nil {
				description = strings.TrimSpace(value)
			}
		}
	}
	return code, description
}
