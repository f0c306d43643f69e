package domain

// TransformStats records what the Silver transform did to one Bronze year.
// Coercion failures are recovered as nulls and only show up here.
type TransformStats struct {
	Year            int    `json:"year"`
	SchemaVersion   string `json:"schema_version"`
	HeaderSignature string `json:"header_signature"`

	RecordsIn        int `json:"records_in"`
	RecordsOut       int `json:"records_out"`
	ShortRows        int `json:"short_rows"`
	DroppedTimestamp int `json:"dropped_timestamp"`
	DroppedIdentity  int `json:"dropped_identity"`
	OutOfPartition   int `json:"out_of_partition"`
	Duplicates       int `json:"duplicates"`

	Nulls map[CanonicalField]map[NullReason]int `json:"nulls"`
}

func newTransformStats(year int) TransformStats {
	return TransformStats{
		Year:  year,
		Nulls: make(map[CanonicalField]map[NullReason]int),
	}
}

func (s *TransformStats) addNull(field CanonicalField, reason NullReason) {
	byReason, ok := s.Nulls[field]
	if !ok {
		byReason = make(map[NullReason]int)
		s.Nulls[field] = byReason
	}
	byReason[reason]++
}

// NullTotal returns the number of coerced values that became null.
func (s TransformStats) NullTotal() int {
	total := 0
	for _, byReason := range s.Nulls {
		for _, n := range byReason {
			total += n
		}
	}
	return total
}

// AggregateStats records what the Gold transform did to one Silver year.
type AggregateStats struct {
	Year                 int `json:"year"`
	RecordsIn            int `json:"records_in"`
	OutOfWindow          int `json:"out_of_window"`
	CarriedOver          int `json:"carried_over"`
	Days                 int `json:"days"`
	EmptyTemperatureDays int `json:"empty_temperature_days"`
	FilledDays           int `json:"filled_days"`
}
