package resharding

import (
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// CommitCounts are the placement counts the commit fence compares against
// the caller's expectations.
type CommitCounts struct {
	// TempChunks are chunks still registered under the temporary namespace.
	TempChunks int
	// RelabeledChunks are chunks under the original namespace that already
	// carry the new epoch.
	RelabeledChunks int
	TempZones       int
	OriginalZones   int
}

// ChunksOwned is the number of chunks the new incarnation owns, wherever a
// partial commit left them.
func (c CommitCounts) ChunksOwned() int {
	return c.TempChunks + c.RelabeledChunks
}

// ZonesOwned is the number of zones the new incarnation owns. Before any
// chunk moved, or while temporary zones remain, those are the new zones;
// once the temporary zones were relabeled the original namespace holds them.
func (c CommitCounts) ZonesOwned(expectedZones int) int {
	if c.RelabeledChunks == 0 || c.TempZones > 0 || expectedZones == 0 {
		return c.TempZones
	}
	return c.OriginalZones
}

// CountsFor derives the commit counts for newEpoch from a snapshot.
func CountsFor(s Snapshot, newEpoch primitive.ObjectID) CommitCounts {
	relabeled := 0
	for _, c := range s.OriginalChunks {
		if c.Version.Epoch == newEpoch {
			relabeled++
		}
	}
	return CommitCounts{
		TempChunks:      len(s.TempChunks),
		RelabeledChunks: relabeled,
		TempZones:       len(s.TempZones),
		OriginalZones:   len(s.OriginalZones),
	}
}

// CheckCommitFence fails with a consistency fence error when the new
// incarnation does not own exactly the expected chunks and zones.
func CheckCommitFence(c CommitCounts, expectedChunks, expectedZones int) error {
	if expectedChunks <= 0 {
		return Errorf(KindInvalidDocument, "expected chunk count must be positive, got %d", expectedChunks)
	}
	if expectedZones < 0 {
		return Errorf(KindInvalidDocument, "expected zone count must not be negative, got %d", expectedZones)
	}
	if got := c.ChunksOwned(); got != expectedChunks {
		return Errorf(KindConsistencyFence, "expected %d chunks in the new incarnation, found %d", expectedChunks, got)
	}
	if got := c.ZonesOwned(expectedZones); got != expectedZones {
		return Errorf(KindConsistencyFence, "expected %d zones in the new incarnation, found %d", expectedZones, got)
	}
	return nil
}
