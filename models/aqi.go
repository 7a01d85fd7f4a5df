package models

import "fmt"

// Category is the AQI bucket a concentration falls into.
type Category int

const (
	CategoryGood Category = iota
	CategoryModerate
	CategorySensitive
	CategoryUnhealthy
	CategoryVeryUnhealthy
	CategoryHazardous
)

func (c Category) String() string {
	switch c {
	case CategoryGood:
		return "Good"
	case CategoryModerate:
		return "Moderate"
	case CategorySensitive:
		return "Sensitive"
	case CategoryUnhealthy:
		return "Unhealthy"
	case CategoryVeryUnhealthy:
		return "Very Unhealthy"
	case CategoryHazardous:
		return "Hazardous"
	default:
		return fmt.Sprintf("Category(%d)", int(c))
	}
}

// Color is an RGB565 display color token.
type Color uint16

const (
	ColorGreen  Color = 0x07E0
	ColorYellow Color = 0xFFE0
	ColorOrange Color = 0xFD20
	ColorRed    Color = 0xF800
	ColorPurple Color = 0x780F
	ColorMaroon Color = 0x7800
)

func (c Color) String() string {
	return fmt.Sprintf("#%04X", uint16(c))
}

// AirQualityIndex is derived from a PM2.5 concentration. Category,
// HealthMessage and Color always come from the same breakpoint bucket.
type AirQualityIndex struct {
	Value         int
	Category      Category
	HealthMessage string
	Color         Color
}
