package wifi

import "sort"

// QualityOf converts a signal strength in dBm into a 0-100 quality score.
// Anything at or below -100 dBm scores 0, anything at or above -50 dBm
// scores 100, and the range between is linear.
func QualityOf(rssi int) int {
	switch {
	case rssi <= -100:
		return 0
	case rssi >= -50:
		return 100
	}
	return 2 * (rssi + 100)
}

// RSSIOf is the inverse of QualityOf, for radios that only report a
// percentage.
func RSSIOf(quality int) int {
	if quality <= 0 {
		return -100
	}
	if quality >= 100 {
		return -50
	}
	return quality/2 - 100
}

// SortNetworks sorts records in place by raw signal strength, strongest
// first. Records with equal strength keep their relative order.
func SortNetworks(records []NetworkRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].RSSI > records[j].RSSI
	})
}
