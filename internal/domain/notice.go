package domain

import (
	"fmt"
	"time"
)

// Dataset names a lake tier.
type Dataset string

const (
	DatasetSilver Dataset = "silver"
	DatasetGold   Dataset = "gold"
)

// PartitionNotice announces that a processing year of a dataset was
// published. Partitions lists the logical keys that were written.
type PartitionNotice struct {
	RunID       string    `json:"run_id"`
	Dataset     Dataset   `json:"dataset"`
	Year        int       `json:"year"`
	Partitions  []string  `json:"partitions"`
	Records     int       `json:"records"`
	Fingerprint string    `json:"fingerprint,omitempty"`
	PublishedAt time.Time `json:"published_at"`
}

// Key is the message key used for notices: dataset and year, so that all
// notices of one partition land in the same Kafka partition.
func (n PartitionNotice) Key() string {
	return fmt.Sprintf("%s/%04d", n.Dataset, n.Year)
}

// NewSilverNotice builds the notice for a published Silver year.
func NewSilverNotice(runID string, year int, parts []SilverPartition, fingerprint string) PartitionNotice {
	n := PartitionNotice{
		RunID:       runID,
		Dataset:     DatasetSilver,
		Year:        year,
		Partitions:  make([]string, 0, len(parts)),
		Fingerprint: fingerprint,
		PublishedAt: clock.Now().UTC(),
	}
	for _, p := range parts {
		n.Partitions = append(n.Partitions, p.Key.String())
		n.Records += len(p.Records)
	}
	return n
}

// NewGoldNotice builds the notice for a published Gold year.
func NewGoldNotice(runID string, year int, parts []GoldPartition, fingerprint string) PartitionNotice {
	n := PartitionNotice{
		RunID:       runID,
		Dataset:     DatasetGold,
		Year:        year,
		Partitions:  make([]string, 0, len(parts)),
		Fingerprint: fingerprint,
		PublishedAt: clock.Now().UTC(),
	}
	for _, p := range parts {
		n.Partitions = append(n.Partitions, p.Key.String())
		n.Records += len(p.Records)
	}
	return n
}
