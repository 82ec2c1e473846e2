package checkpoint

import "time"

// Statistics is a read-only aggregate over a set of checkpoints. It is
// computed on demand from a snapshot and never persisted.
type Statistics struct {
	Total    int            `json:"total"`
	ByStatus map[Status]int `json:"by_status"`
	ByType   map[Type]int   `json:"by_type"`
	Size     SizeStats      `json:"size"`
	Restores RestoreStats   `json:"restores"`
	Age      AgeStats       `json:"age"`
}

// SizeStats describes the size distribution of a checkpoint set.
type SizeStats struct {
	TotalBytes int64   `json:"total_bytes"`
	MinBytes   int64   `json:"min_bytes"`
	MaxBytes   int64   `json:"max_bytes"`
	MeanBytes  float64 `json:"mean_bytes"`
}

// RestoreStats describes how often checkpoints have served restores.
type RestoreStats struct {
	TotalRestores int `json:"total_restores"`
	NeverRestored int `json:"never_restored"`
	RestoredOnce  int `json:"restored_once"`
	RestoredMany  int `json:"restored_many"`
}

// AgeStats buckets checkpoints by age as of the snapshot time.
type AgeStats struct {
	UnderHour   int `json:"under_hour"`
	UnderDay    int `json:"under_day"`
	UnderWeek   int `json:"under_week"`
	WeekOrOlder int `json:"week_or_older"`
}

// ComputeStatistics derives the aggregate for a snapshot of checkpoints
// taken at now.
func ComputeStatistics(checkpoints []*Checkpoint, now time.Time) *Statistics {
	stats := &Statistics{
		Total:    len(checkpoints),
		ByStatus: make(map[Status]int),
		ByType:   make(map[Type]int),
	}
	for i, cp := range checkpoints {
		stats.ByStatus[cp.Status]++
		stats.ByType[cp.Type]++

		stats.Size.TotalBytes += cp.SizeBytes
		if i == 0 || cp.SizeBytes < stats.Size.MinBytes {
			stats.Size.MinBytes = cp.SizeBytes
		}
		if cp.SizeBytes > stats.Size.MaxBytes {
			stats.Size.MaxBytes = cp.SizeBytes
		}

		stats.Restores.TotalRestores += cp.RestoreCount
		switch {
		case cp.RestoreCount == 0:
			stats.Restores.NeverRestored++
		case cp.RestoreCount == 1:
			stats.Restores.RestoredOnce++
		default:
			stats.Restores.RestoredMany++
		}

		switch age := cp.Age(now); {
		case age < time.Hour:
			stats.Age.UnderHour++
		case age < 24*time.Hour:
			stats.Age.UnderDay++
		case age < 7*24*time.Hour:
			stats.Age.UnderWeek++
		default:
			stats.Age.WeekOrOlder++
		}
	}
	if stats.Total > 0 {
		stats.Size.MeanBytes = float64(stats.Size.TotalBytes) / float64(stats.Total)
	}
	return stats
}
