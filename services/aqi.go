package services

import (
	"math"

	"airwatch/models"
)

const (
	MinAQI = 0
	MaxAQI = 500
)

// aqiBucket maps a contiguous PM2.5 range onto a contiguous index range.
type aqiBucket struct {
	concLo, concHi   float64
	indexLo, indexHi float64
	category         models.Category
	healthMessage    string
	color            models.Color
}

// aqiBuckets are ascending and contiguous; each upper bound is the next
// bucket's lower bound.
var aqiBuckets = [...]aqiBucket{
	{0, 12, 0, 50, models.CategoryGood, "Air quality is good", models.ColorGreen},
	{12, 35, 51, 100, models.CategoryModerate, "Moderate health concern", models.ColorYellow},
	{35, 55, 101, 150, models.CategorySensitive, "Sensitive groups at risk", models.ColorOrange},
	{55, 150, 151, 200, models.CategoryUnhealthy, "Everyone may experience effects", models.ColorRed},
	{150, 250, 201, 300, models.CategoryVeryUnhealthy, "Health warnings, avoid activity", models.ColorPurple},
	{250, 500, 301, 500, models.CategoryHazardous, "Health alert: everyone at risk", models.ColorMaroon},
}

// CalculateAQI converts a PM2.5 concentration in µg/m³ to an air quality
// index. The first bucket whose upper bound is >= pm25 wins, so a value on a
// shared boundary belongs to the lower bucket; values above every bound use
// the last bucket. The interpolated index is truncated toward zero and
// clamped to [MinAQI, MaxAQI].
func CalculateAQI(pm25 float64) models.AirQualityIndex {
	if math.IsNaN(pm25) {
		pm25 = 0
	}

	bucket := aqiBuckets[len(aqiBuckets)-1]
	for _, b := range aqiBuckets {
		if pm25 <= b.concHi {
			bucket = b
			break
		}
	}

	// Multiplying before dividing keeps exact boundary values exact.
	index := (bucket.indexHi-bucket.indexLo)*(pm25-bucket.concLo)/(bucket.concHi-bucket.concLo) + bucket.indexLo

	value := int(math.Trunc(math.Max(math.Min(index, MaxAQI), MinAQI)))

	return models.AirQualityIndex{
		Value:         value,
		Category:      bucket.category,
		HealthMessage: bucket.healthMessage,
		Color:         bucket.color,
	}
}
