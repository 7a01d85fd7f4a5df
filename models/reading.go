package models

// Reading is one decoded particulate sample in µg/m³. A Reading with
// Valid == false carries no meaningful values and must not leave the decoder's
// caller.
type Reading struct {
	PM1   uint16 `json:"pm1"`
	PM25  uint16 `json:"pm25"`
	PM10  uint16 `json:"pm10"`
	Valid bool   `json:"-"`
}
