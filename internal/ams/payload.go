// Package ams decodes printer status reports and flattens their
// Automatic Material System section into tray records.
//
// Reports are loosely structured and vary between firmware versions:
// the same field may arrive as a JSON string in one release and a
// number in the next, and any field may be missing. The decode types
// here accept both encodings and default every absent field, so
// callers never see a decode failure for a well-formed JSON report.
package ams

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Text is a string field that also accepts a JSON number or bool.
// Null and absent both decode to "".
type Text string

// UnmarshalJSON implements [json.Unmarshaler].
func (t *Text) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*t = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*t = Text(s)
		return nil
	}
	if data[0] == '{' || data[0] == '[' {
		*t = ""
		return nil
	}
	// Numbers and bools keep their literal spelling.
	*t = Text(data)
	return nil
}

// Number is a numeric field that also accepts a numeric string.
// Null, absent, and unparseable values decode to 0.
type Number float64

// UnmarshalJSON implements [json.Unmarshaler].
func (n *Number) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*n = 0
		return nil
	}
	raw := string(data)
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		raw = s
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		*n = 0
		return nil
	}
	*n = Number(f)
	return nil
}

// Report is the envelope of a message on device/<serial>/report. Only
// the print section is of interest; other top-level sections (info,
// system, upgrade) are ignored.
type Report struct {
	Print *PrintStatus `json:"print"`
}

// PrintStatus is the print section of a report. It is sent both as a
// full "pushall" snapshot and as partial deltas; deltas usually omit
// the ams key.
type PrintStatus struct {
	Command Text    `json:"command"`
	AMS     *Status `json:"ams"`
}

// Status is the AMS section of a print report.
type Status struct {
	Units   []Unit `json:"ams"`
	TrayNow Text   `json:"tray_now"`
	Version Number `json:"version"`
}

// Unit is one AMS accessory. Humidity and temperature are decoded for
// logging but are not part of the tray records.
type Unit struct {
	ID          Text      `json:"ams_id"`
	Humidity    Text      `json:"humidity"`
	Temperature Text      `json:"temp"`
	Trays       []RawTray `json:"tray"`
}

// RawTray is one tray entry as the printer reports it.
type RawTray struct {
	ID            Text   `json:"id"`
	TrayIDName    Text   `json:"tray_id_name"`
	TrayType      Text   `json:"tray_type"`
	TraySubBrands Text   `json:"tray_sub_brands"`
	TrayColor     Text   `json:"tray_color"`
	Remain        Number `json:"remain"`
	TrayWeight    Text   `json:"tray_weight"`
	TagUID        Text   `json:"tag_uid"`
	TrayUUID      Text   `json:"tray_uuid"`
}

// amsKeys captures the raw keys of the AMS section so an empty object
// can be told apart from one whose fields all decoded to zero values.
type amsKeys struct {
	Print struct {
		AMS map[string]json.RawMessage `json:"ams"`
	} `json:"print"`
}

// DecodeReport parses a report payload and returns its AMS section.
// It returns (nil, nil) for a valid report that carries no AMS data:
// no print section, no ams key, a null ams, or an empty ams object.
// It returns an error when the payload is not JSON or its print or
// ams sections are not objects.
func DecodeReport(payload []byte) (*Status, error) {
	var r Report
	if err := json.Unmarshal(payload, &r); err != nil {
		return nil, fmt.Errorf("decode report: %w", err)
	}
	if r.Print == nil || r.Print.AMS == nil {
		return nil, nil
	}

	var keys amsKeys
	if err := json.Unmarshal(payload, &keys); err != nil {
		return nil, fmt.Errorf("decode report: %w", err)
	}
	if len(keys.Print.AMS) == 0 {
		return nil, nil
	}
	return r.Print.AMS, nil
}
