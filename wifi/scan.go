package wifi

import "fmt"

// Exclusion records why a scanned network is hidden from selection.
type Exclusion int

const (
	Included Exclusion = iota
	ExcludedDuplicate
	ExcludedLowQuality
)

func (e Exclusion) String() string {
	switch e {
	case Included:
		return "included"
	case ExcludedDuplicate:
		return "duplicate"
	case ExcludedLowQuality:
		return "low-quality"
	}
	return "unknown"
}

// NetworkRecord is one ranked scan entry.
type NetworkRecord struct {
	SSID      string
	RSSI      int // dBm
	Encrypted bool
	Quality   int // 0-100, derived from RSSI
	Exclusion Exclusion
}

// Selectable reports whether the record should be offered to the user.
func (n NetworkRecord) Selectable() bool {
	return n.Exclusion == Included
}

// ScanResult is the ranked output of one scan. Excluded entries are kept in
// place so that indexes stay stable; callers must skip them.
type ScanResult struct {
	Networks []NetworkRecord
}

// Len is the number of entries, including excluded ones.
func (r ScanResult) Len() int {
	return len(r.Networks)
}

// Selectable returns the included entries in rank order.
func (r ScanResult) Selectable() []NetworkRecord {
	var out []NetworkRecord
	for _, n := range r.Networks {
		if n.Selectable() {
			out = append(out, n)
		}
	}
	return out
}

// Lookup returns the strongest selectable record for ssid.
func (r ScanResult) Lookup(ssid string) (NetworkRecord, bool) {
	for _, n := range r.Networks {
		if n.Selectable() && n.SSID == ssid {
			return n, true
		}
	}
	return NetworkRecord{}, false
}

// Rank turns raw scan entries into a ScanResult: sorted strongest first,
// later entries sharing an SSID marked as duplicates when removeDuplicates
// is set, and remaining entries with a quality below minimumQuality marked
// as low quality. A negative minimumQuality disables the quality filter.
func Rank(raw []RawNetwork, minimumQuality int, removeDuplicates bool) ScanResult {
	if len(raw) == 0 {
		return ScanResult{}
	}

	records := make([]NetworkRecord, len(raw))
	for i, n := range raw {
		records[i] = NetworkRecord{
			SSID:      n.SSID,
			RSSI:      n.RSSI,
			Encrypted: n.Security.Encrypted(),
			Quality:   QualityOf(n.RSSI),
		}
	}
	SortNetworks(records)

	if removeDuplicates {
		// The slice is strength-sorted, so the first occurrence of an SSID
		// is the strongest one.
		for i := range records {
			if records[i].Exclusion != Included {
				continue
			}
			for j := i + 1; j < len(records); j++ {
				if records[j].Exclusion == Included && records[j].SSID == records[i].SSID {
					records[j].Exclusion = ExcludedDuplicate
				}
			}
		}
	}

	if minimumQuality >= 0 {
		for i := range records {
			if records[i].Exclusion == Included && records[i].Quality < minimumQuality {
				records[i].Exclusion = ExcludedLowQuality
			}
		}
	}

	return ScanResult{Networks: records}
}

// Scan runs a hardware scan on r and ranks the result. A scan that finds
// nothing returns an empty result, not an error.
func Scan(r Radio, minimumQuality int, removeDuplicates bool) (ScanResult, error) {
	raw, err := r.Scan()
	if err != nil {
		return ScanResult{}, fmt.Errorf("scan failed: %w", err)
	}
	return Rank(raw, minimumQuality, removeDuplicates), nil
}
