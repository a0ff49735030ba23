package ams

// Tray is the normalized record for one filament tray. Field names
// match the JSON keys the printer uses so downstream consumers of the
// status file can treat both the same way. Every string may be empty.
type Tray struct {
	TrayID        string  `json:"tray_id"`
	TrayIDName    string  `json:"tray_id_name"`
	TrayType      string  `json:"tray_type"`
	TraySubBrands string  `json:"tray_sub_brands"`
	TrayColor     string  `json:"tray_color"`
	Remain        float64 `json:"remain"`
	TrayWeight    string  `json:"tray_weight"`
	TagUID        string  `json:"tag_uid"`
	TrayUUID      string  `json:"tray_uuid"`
}

// Transform flattens every tray of every unit into a single list,
// preserving unit order and then tray order within each unit. A nil
// status yields an empty, non-nil slice so the status file always
// carries a "trays" array.
func Transform(status *Status) []Tray {
	trays := []Tray{}
	if status == nil {
		return trays
	}
	for _, unit := range status.Units {
		for _, raw := range unit.Trays {
			trays = append(trays, Tray{
				TrayID:        string(raw.ID),
				TrayIDName:    string(raw.TrayIDName),
				TrayType:      string(raw.TrayType),
				TraySubBrands: string(raw.TraySubBrands),
				TrayColor:     string(raw.TrayColor),
				Remain:        float64(raw.Remain),
				TrayWeight:    string(raw.TrayWeight),
				TagUID:        string(raw.TagUID),
				TrayUUID:      string(raw.TrayUUID),
			})
		}
	}
	return trays
}

// TrayCount returns the number of trays across all units.
func (s *Status) TrayCount() int {
	if s == nil {
		return 0
	}
	n := 0
	for _, unit := range s.Units {
		n += len(unit.Trays)
	}
	return n
}
