package models

// PresentationMode is what the local display is currently showing.
type PresentationMode int

const (
	ShowingLiveReadings PresentationMode = iota
	ShowingTransientStatus
)

func (m PresentationMode) String() string {
	if m == ShowingTransientStatus {
		return "transient_status"
	}
	return "live_readings"
}

// Screen is the rendered text of the four live display regions.
type Screen struct {
	Value    string
	Index    string
	Advisory string
	Link     string
}
