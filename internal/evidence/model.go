package evidence

import "time"

// CrashType classifies the collision recorded by the edge device.
type CrashType string

const (
	CrashFrontalImpact CrashType = "frontal_impact_collision"
	CrashSideImpact    CrashType = "side_impact_collision"
	CrashRearEnd       CrashType = "rear_end_collision"
	CrashRollover      CrashType = "rollover_event"
)

// Valid reports whether t is a known crash type.
func (t CrashType) Valid() bool {
	switch t {
	case CrashFrontalImpact, CrashSideImpact, CrashRearEnd, CrashRollover:
		return true
	}
	return false
}

// Severity grades the crash.
type Severity string

const (
	SeverityMinor    Severity = "minor"
	SeverityModerate Severity = "moderate"
	SeveritySevere   Severity = "severe"
)

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool {
	switch s {
	case SeverityMinor, SeverityModerate, SeveritySevere:
		return true
	}
	return false
}

// Location is the crash site.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Address   string  `json:"address,omitempty"`
}

// CalculatedValues are the derived kinematic figures computed on-device at
// detection time.
type CalculatedValues struct {
	SpeedNow            *float64 `json:"speed_now,omitempty"`
	SpeedPrevious       *float64 `json:"speed_previous,omitempty"`
	Deceleration        *float64 `json:"deceleration,omitempty"`
	TotalAcceleration   *float64 `json:"total_acceleration,omitempty"`
	AngularAcceleration *float64 `json:"angular_acceleration,omitempty"`
	HardBrakeEvent      string   `json:"hard_brake_event,omitempty"`
	AirbagStatus        string   `json:"airbag_status,omitempty"`
	PowerStatus         string   `json:"power_status,omitempty"`
	Tilt                *float64 `json:"tilt,omitempty"`
	ImpactForceG        *float64 `json:"impact_force_g,omitempty"`
}

// Metadata describes the capture context.
type Metadata struct {
	CSVFile            string `json:"csv_file,omitempty"`
	BufferSeconds      int    `json:"buffer_seconds"`
	WindowSize         int    `json:"window_size"`
	DetectionAlgorithm string `json:"detection_algorithm"`
	DeviceID           string `json:"device_id"`
	FirmwareVersion    string `json:"firmware_version"`
}

// TelemetryRecord is one sample of the raw pre/post-impact telemetry buffer.
type TelemetryRecord struct {
	Timestamp           string   `json:"timestamp"`
	Speed               float64  `json:"speed"`
	RPM                 int      `json:"rpm"`
	ThrottlePos         int      `json:"throttle_pos"`
	EngineLoad          *float64 `json:"engine_load,omitempty"`
	CoolantTemp         *float64 `json:"coolant_temp,omitempty"`
	FuelLevel           *float64 `json:"fuel_level,omitempty"`
	Latitude            float64  `json:"latitude"`
	Longitude           float64  `json:"longitude"`
	AccelX              float64  `json:"accel_x"`
	AccelY              float64  `json:"accel_y"`
	AccelZ              float64  `json:"accel_z"`
	AirbagStatus        string   `json:"airbag_status"`
	PowerStatus         string   `json:"power_status"`
	Tilt                float64  `json:"tilt"`
	TotalAcceleration   float64  `json:"total_acceleration"`
	AngularAcceleration float64  `json:"angular_acceleration"`
	HardBrakeEvent      int      `json:"hard_brake_event"`
	Event               string   `json:"event,omitempty"`
}

// CrashEvent is the decrypted evidence record produced by an edge device.
type CrashEvent struct {
	EventID          string            `json:"event_id"`
	Timestamp        time.Time         `json:"timestamp"`
	CrashDescription string            `json:"crash_event"`
	CrashType        CrashType         `json:"crash_type"`
	Severity         Severity          `json:"severity"`
	Location         Location          `json:"location"`
	RawData          []TelemetryRecord `json:"raw_data,omitempty"`
	CalculatedValues CalculatedValues  `json:"calculated_values"`
	Metadata         Metadata          `json:"metadata"`
	CreatedAt        time.Time         `json:"created_at,omitempty"`
}

// ListFilter narrows crash queries.
type ListFilter struct {
	Severity  Severity
	StartDate *time.Time
	EndDate   *time.Time
	Limit     int
	Skip      int
}
