package resharding

import (
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/dreamware/reshard/internal/catalog"
)

// Snapshot is everything the catalog holds about one operation: its
// coordinator document and both namespaces with their placement. Absent
// records are nil or empty.
type Snapshot struct {
	Operation      *catalog.CoordinatorDocument
	Original       *catalog.CollectionEntry
	Temp           *catalog.CollectionEntry
	OriginalChunks []catalog.Chunk
	TempChunks     []catalog.Chunk
	OriginalZones  []catalog.Zone
	TempZones      []catalog.Zone
}

// VerifyInitialized checks the durable state after a successful initialize.
func VerifyInitialized(doc catalog.CoordinatorDocument, s Snapshot, chunks []catalog.Chunk, zones []catalog.Zone) error {
	want := doc.WithState(catalog.CoordinatorInitialized)
	if err := verifyOperation(want, s); err != nil {
		return err
	}
	if err := verifyEntry(s.Original, doc.Namespace, ProjectDonor(want)); err != nil {
		return err
	}
	if err := verifyEntry(s.Temp, doc.TempNamespace, ProjectRecipient(want)); err != nil {
		return err
	}
	if !s.Temp.KeyPattern.Equal(doc.ReshardingKey) {
		return Errorf(KindInvariantViolation, "temporary entry %s has key %s, expected %s",
			doc.TempNamespace, s.Temp.KeyPattern, doc.ReshardingKey)
	}
	if s.Temp.UUID != doc.ID {
		return Errorf(KindInvariantViolation, "temporary entry %s has uuid %s, expected %s",
			doc.TempNamespace, s.Temp.UUID, doc.ID)
	}

	stored := make(map[primitive.ObjectID]catalog.Chunk, len(s.TempChunks))
	for _, c := range s.TempChunks {
		stored[c.ID] = c
	}
	if len(stored) != len(chunks) {
		return Errorf(KindInvariantViolation, "temporary namespace has %d chunks, expected %d", len(stored), len(chunks))
	}
	for _, c := range chunks {
		got, ok := stored[c.ID]
		if !ok {
			return Errorf(KindInvariantViolation, "chunk %s missing from temporary namespace", c.ID.Hex())
		}
		if got.Shard != c.Shard || !got.Range.Equal(c.Range) {
			return Errorf(KindInvariantViolation, "chunk %s stored with different placement", c.ID.Hex())
		}
		if got.Version.Epoch != s.Temp.Epoch {
			return Errorf(KindInvariantViolation, "chunk %s is not in the temporary epoch", c.ID.Hex())
		}
	}
	if len(s.TempZones) != len(zones) {
		return Errorf(KindInvariantViolation, "temporary namespace has %d zones, expected %d", len(s.TempZones), len(zones))
	}
	return nil
}

// VerifyMirrored checks that the document is durable and that every entry
// carrying the operation's fields reflects it.
func VerifyMirrored(doc catalog.CoordinatorDocument, s Snapshot) error {
	if err := verifyOperation(doc, s); err != nil {
		return err
	}
	if s.Original != nil && s.Original.ParticipatesIn(doc.ID) {
		if err := verifyEntry(s.Original, doc.Namespace, ProjectDonor(doc)); err != nil {
			return err
		}
	}
	if s.Temp != nil && s.Temp.ParticipatesIn(doc.ID) {
		if err := verifyEntry(s.Temp, doc.TempNamespace, ProjectRecipient(doc)); err != nil {
			return err
		}
	}
	return nil
}

// VerifyCommitted checks the durable state after a successful commit: the
// original namespace is the new incarnation and the temporary one is gone.
func VerifyCommitted(doc catalog.CoordinatorDocument, newEpoch primitive.ObjectID, s Snapshot, expectedChunks, expectedZones int) error {
	want := doc.WithState(catalog.CoordinatorCommitted)
	if err := verifyOperation(want, s); err != nil {
		return err
	}
	if err := verifyEntry(s.Original, doc.Namespace, ProjectDonor(want)); err != nil {
		return err
	}
	switch {
	case s.Original.Epoch != newEpoch:
		return Errorf(KindInvariantViolation, "original entry has epoch %s, expected %s", s.Original.Epoch.Hex(), newEpoch.Hex())
	case s.Original.UUID != doc.ID:
		return Errorf(KindInvariantViolation, "original entry has uuid %s, expected %s", s.Original.UUID, doc.ID)
	case !s.Original.KeyPattern.Equal(doc.ReshardingKey):
		return Errorf(KindInvariantViolation, "original entry has key %s, expected %s", s.Original.KeyPattern, doc.ReshardingKey)
	case s.Temp != nil:
		return Errorf(KindInvariantViolation, "temporary entry %s still exists", doc.TempNamespace)
	case len(s.TempChunks) != 0 || len(s.TempZones) != 0:
		return Errorf(KindInvariantViolation, "temporary namespace still has %d chunks and %d zones",
			len(s.TempChunks), len(s.TempZones))
	case len(s.OriginalChunks) != expectedChunks:
		return Errorf(KindInvariantViolation, "original namespace has %d chunks, expected %d", len(s.OriginalChunks), expectedChunks)
	case catalog.CountChunksInEpoch(s.OriginalChunks, newEpoch) != expectedChunks:
		return Errorf(KindInvariantViolation, "original namespace has chunks outside epoch %s", newEpoch.Hex())
	case len(s.OriginalZones) != expectedZones:
		return Errorf(KindInvariantViolation, "original namespace has %d zones, expected %d", len(s.OriginalZones), expectedZones)
	}
	return nil
}

// VerifyRemoved checks the durable state after an operation was removed.
func VerifyRemoved(doc catalog.CoordinatorDocument, s Snapshot) error {
	if s.Operation != nil {
		return Errorf(KindInvariantViolation, "coordinator document %s still exists", doc.ID)
	}
	if s.Original == nil {
		return Errorf(KindInvariantViolation, "original entry %s is missing", doc.Namespace)
	}
	if s.Original.ParticipatesIn(doc.ID) {
		return Errorf(KindInvariantViolation, "original entry %s still carries resharding fields", doc.Namespace)
	}
	if s.Temp != nil && s.Temp.ParticipatesIn(doc.ID) {
		return Errorf(KindInvariantViolation, "temporary entry %s still exists", doc.TempNamespace)
	}
	return ValidateCollectionEntry(*s.Original)
}

func verifyOperation(want catalog.CoordinatorDocument, s Snapshot) error {
	if s.Operation == nil {
		return Errorf(KindInvariantViolation, "coordinator document %s is missing", want.ID)
	}
	if !catalog.SameDocument(*s.Operation, want) {
		return Errorf(KindInvariantViolation, "coordinator document %s differs from the persisted request", want.ID)
	}
	return nil
}

func verifyEntry(e *catalog.CollectionEntry, ns catalog.Namespace, want *catalog.ReshardingFields) error {
	if e == nil {
		return Errorf(KindInvariantViolation, "collection entry %s is missing", ns)
	}
	if err := ValidateCollectionEntry(*e); err != nil {
		return err
	}
	if !e.ReshardingFields.Equal(want) {
		return Errorf(KindInvariantViolation, "collection entry %s does not mirror state %s", ns, want.State)
	}
	return nil
}
