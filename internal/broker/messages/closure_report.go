package messages

import "time"

type ClosureReport struct {
	Day         string          `json:"day"`
	Timezone    string          `json:"timezone"`
	SoloFlex    bool            `json:"solo_flex"`
	GeneratedAt time.Time       `json:"generated_at"`
	Drivers     []ClosureDriver `json:"drivers"`
	Total       int             `json:"total"`
}

type ClosureDriver struct {
	DriverID   uint64 `json:"driver_id"`
	DriverName string `json:"driver_name"`
	Count      int    `json:"count"`
}
