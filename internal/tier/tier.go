// Package tier partitions file-processing work by object size. The router
// picks a tier per event; each worker binds one tier's consumer.
package tier

import (
	"time"

	"github.com/Healer-AI/p8fs/internal/natsclient"
)

// Size boundaries. Sizes at or below SmallMax are small, at or below
// MediumMax are medium, everything above is large.
const (
	SmallMax  = 100 << 20 // 100 MiB
	MediumMax = 1 << 30   // 1 GiB

	// MinFileSize floors reported sizes before tiering, so zero-byte and
	// size-less events still land in a tier deterministically.
	MinFileSize = 1024
)

// Tier is one size class of the pipeline.
type Tier struct {
	Name              string
	Stream            string
	Subject           string
	Consumer          string
	MaxAckPending     int
	MaxDeliver        int
	ProcessingTimeout time.Duration
}

var (
	Small = Tier{
		Name:              "small",
		Stream:            natsclient.StreamStorageEventsSmall,
		Subject:           natsclient.SubjectStorageEventsSmall,
		Consumer:          "small-workers",
		MaxAckPending:     100,
		MaxDeliver:        3,
		ProcessingTimeout: 300 * time.Second,
	}
	Medium = Tier{
		Name:              "medium",
		Stream:            natsclient.StreamStorageEventsMedium,
		Subject:           natsclient.SubjectStorageEventsMedium,
		Consumer:          "medium-workers",
		MaxAckPending:     50,
		MaxDeliver:        3,
		ProcessingTimeout: 600 * time.Second,
	}
	Large = Tier{
		Name:              "large",
		Stream:            natsclient.StreamStorageEventsLarge,
		Subject:           natsclient.SubjectStorageEventsLarge,
		Consumer:          "large-workers",
		MaxAckPending:     10,
		MaxDeliver:        3,
		ProcessingTimeout: 1800 * time.Second,
	}
)

// All returns the tiers in ascending size order.
func All() []Tier {
	return []Tier{Small, Medium, Large}
}

// ByName resolves a tier from its configured name.
func ByName(name string) (Tier, bool) {
	for _, t := range All() {
		if t.Name == name {
			return t, true
		}
	}
	return Tier{}, false
}

// ForSize picks the tier for a raw reported size, flooring it first.
func ForSize(size int64) (Tier, int64) {
	size = Floor(size)
	switch {
	case size <= SmallMax:
		return Small, size
	case size <= MediumMax:
		return Medium, size
	default:
		return Large, size
	}
}

// Floor raises a reported size to MinFileSize.
func Floor(size int64) int64 {
	if size < MinFileSize {
		return MinFileSize
	}
	return size
}
