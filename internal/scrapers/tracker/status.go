package tracker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"
)

// PatientStatus is one patient's record at the time of a fetch.
type PatientStatus struct {
	PatientID  string     `json:"patientId"`
	LocationID string     `json:"locationId"`
	TimeInOR   *time.Time `json:"timeInOr"`
	// Status is nil when the record's colors do not resolve to exactly one legend entry.
	Status         *string `json:"status"`
	Surgeon        *string `json:"surgeon"`
	ReadyForFamily bool    `json:"readyForFamily"`
}

// StatusOr returns the status label or fallback if there is none.
func (s PatientStatus) StatusOr(fallback string) string {
	if s.Status == nil {
		return fallback
	}
	return *s.Status
}

// flexString accepts the portal's loosely typed scalars: strings, numbers, booleans
// and null all decode into their textual form.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		*f = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		err := json.Unmarshal(data, &s)
		if err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var scalar any
	err := json.Unmarshal(data, &scalar)
	if err != nil {
		return err
	}
	switch scalar.(type) {
	case float64, bool:
		*f = flexString(strings.TrimSpace(string(data)))
		return nil
	}
	return fmt.Errorf("expected a scalar, got %s", data)
}

type statusRequest struct {
	FacilityID string `json:"facilityID"`
	PatientID  string `json:"patientID"`
}

type statusEnvelope struct {
	D json.RawMessage `json:"d"`
}

type rawStatus struct {
	PatientID       flexString `json:"PatientID"`
	Location        flexString `json:"Location"`
	TimeInOR        flexString `json:"TimeInOR"`
	Surgeon         flexString `json:"Surgeon"`
	BackgroundColor flexString `json:"BackgroundColor"`
	ForegroundColor flexString `json:"ForegroundColor"`
	ReadyForFamily  flexString `json:"ReadyForFamily"`
}

// empty is true for placeholder records (`{}` or `null` entries) that identify no patient.
func (r rawStatus) empty() bool {
	return strings.TrimSpace(string(r.PatientID)) == "" &&
		strings.TrimSpace(string(r.ForegroundColor)) == "" &&
		strings.TrimSpace(string(r.BackgroundColor)) == ""
}

// decodePayload decodes the inner payload of the envelope, a nil slice means the payload
// was empty or falsy.
func decodePayload(raw json.RawMessage) ([]rawStatus, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, nil
	}

	switch raw[0] {
	case 'n', 'f':
		var falsy any
		err := json.Unmarshal(raw, &falsy)
		if err != nil {
			return nil, err
		}
		if falsy != nil && falsy != false {
			return nil, fmt.Errorf("unexpected payload %s", raw)
		}
		return nil, nil
	case '"':
		// asmx endpoints sometimes serialize the payload twice
		var inner string
		err := json.Unmarshal(raw, &inner)
		if err != nil {
			return nil, err
		}
		return decodePayload(json.RawMessage(inner))
	case '[':
		var records []rawStatus
		err := json.Unmarshal(raw, &records)
		if err != nil {
			return nil, err
		}
		return records, nil
	case '{':
		var record rawStatus
		err := json.Unmarshal(raw, &record)
		if err != nil {
			return nil, err
		}
		return []rawStatus{record}, nil
	}

	n, err := strconv.ParseFloat(string(raw), 64)
	if err == nil && n == 0 {
		return nil, nil
	}
	return nil, fmt.Errorf("unexpected payload %s", raw)
}

var aspNetDateRegex = regexp.MustCompile(`^/Date\((-?\d+)([+-]\d{4})?\)/$`)

var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"1/2/2006 3:04:05 PM",
	"1/2/2006 3:04 PM",
	"01/02/2006 15:04",
}

// parseTimeInOR returns nil for an empty value and ErrFormat when the value is present
// but matches none of the known layouts.
func parseTimeInOR(value string, location *time.Location) (*time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}

	groups := aspNetDateRegex.FindStringSubmatch(value)
	if len(groups) >= 2 {
		ms, err := strconv.ParseInt(groups[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: time in OR %q: %w", ErrFormat, value, err)
		}
		t := time.UnixMilli(ms).In(location)
		return &t, nil
	}

	for _, layout := range timeLayouts {
		t, err := time.ParseInLocation(layout, value, location)
		if err == nil {
			return &t, nil
		}
	}
	return nil, fmt.Errorf("%w: time in OR %q is not a known timestamp", ErrFormat, value)
}

func optionalString(value flexString) *string {
	s := strings.TrimSpace(string(value))
	if s == "" {
		return nil
	}
	return &s
}

func (c *Client) toPatientStatus(raw rawStatus, legend Legend) (PatientStatus, error) {
	timeInOR, err := parseTimeInOR(string(raw.TimeInOR), c.opts.Location)
	if err != nil {
		return PatientStatus{}, err
	}

	out := PatientStatus{
		PatientID:      strings.TrimSpace(string(raw.PatientID)),
		LocationID:     strings.TrimSpace(string(raw.Location)),
		TimeInOR:       timeInOR,
		Surgeon:        optionalString(raw.Surgeon),
		ReadyForFamily: raw.ReadyForFamily == "Yes",
	}

	pair := NewColorPair(string(raw.ForegroundColor), string(raw.BackgroundColor))
	status, ok := legend.Lookup(pair)
	if ok {
		out.Status = &status
	} else {
		c.tel.ReportWarning(
			report_client_fetch_status,
			"colors did not resolve to a single status",
			out.PatientID,
			pair.Foreground,
			pair.Background,
		)
	}

	return out, nil
}

// FetchStatus fetches the statuses of a facility's patients, an empty patientID (or "0")
// asks for every patient of the facility. The portal returns a bare object instead of a
// list when only one record matches, both are returned as a slice.
func (c *Client) FetchStatus(ctx context.Context, facilityID, patientID string, legend Legend) ([]PatientStatus, error) {
	if patientID == "" {
		patientID = "0"
	}
	c.tel.ReportDebug(report_client_fetch_status, facilityID, patientID)

	body, err := json.Marshal(statusRequest{
		FacilityID: facilityID,
		PatientID:  patientID,
	})
	if err != nil {
		c.tel.ReportBroken(
			report_client_fetch_status,
			fmt.Errorf("json marshal: %w", err),
		)
		return nil, err
	}

	res, err := c.http.R().
		SetContext(ctx).
		SetHeader("content-type", "application/json; charset=utf-8").
		SetBody(body).
		Post(c.opts.StatusPath)
	if err != nil {
		c.tel.ReportBroken(
			report_client_fetch_status,
			fmt.Errorf("fetch: %w", err),
		)
		return nil, fmt.Errorf("%w: fetch status: %w", ErrNetwork, err)
	}
	if res.IsError() {
		err := fmt.Errorf("%w: fetch status: unexpected status %s", ErrNetwork, res.Status())
		c.tel.ReportBroken(report_client_fetch_status, err)
		return nil, err
	}

	var envelope statusEnvelope
	err = json.Unmarshal(res.Body(), &envelope)
	if err != nil {
		c.tel.ReportBroken(
			report_client_fetch_status,
			fmt.Errorf("unmarshal json: %w", err),
		)
		return nil, fmt.Errorf("%w: status response: %w", ErrParse, err)
	}

	records, err := decodePayload(envelope.D)
	if err != nil {
		c.tel.ReportBroken(
			report_client_fetch_status,
			fmt.Errorf("decode payload: %w", err),
		)
		return nil, fmt.Errorf("%w: status payload: %w", ErrParse, err)
	}
	records = slices.DeleteFunc(records, rawStatus.empty)
	if len(records) == 0 {
		return nil, &NotFoundError{FacilityID: facilityID, PatientID: patientID}
	}

	statuses := make([]PatientStatus, 0, len(records))
	for _, raw := range records {
		status, err := c.toPatientStatus(raw, legend)
		if err != nil {
			c.tel.ReportBroken(report_client_fetch_status, err, string(raw.PatientID))
			return nil, err
		}
		statuses = append(statuses, status)
	}

	c.tel.ReportDebug(
		fmt.Sprintf("%s response", report_client_fetch_status),
		facilityID,
		len(statuses),
	)

	return statuses, nil
}
