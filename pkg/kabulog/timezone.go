package kabulog

import "time"

const tokyoTimeZoneName = "Asia/Tokyo"

var tokyoLocation = loadTokyoLocation()

func loadTokyoLocation() *time.Location {
	location, err := time.LoadLocation(tokyoTimeZoneName)
	if err != nil {
		return time.FixedZone(tokyoTimeZoneName, 9*60*60)
	}
	return location
}

// TokyoLocation returns the Asia/Tokyo location used for dates and schedules.
func TokyoLocation() *time.Location {
	return tokyoLocation
}

// MonthInTokyo returns the YYYY-MM month of t in Asia/Tokyo.
func MonthInTokyo(t time.Time) string {
	return t.In(tokyoLocation).Format("2006-01")
}

// DateInTokyo returns the YYYY-MM-DD date of t in Asia/Tokyo.
func DateInTokyo(t time.Time) string {
	return t.In(tokyoLocation).Format("2006-01-02")
}
