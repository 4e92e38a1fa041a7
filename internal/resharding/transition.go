package resharding

import (
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/dreamware/reshard/internal/catalog"
)

// LegalStateChange reports whether a durable document in state from may be
// replaced by one in state to. A document may stay where it is, advance to
// its forward successor, or fall into error from any state but done.
func LegalStateChange(from, to catalog.CoordinatorState) bool {
	if from == to {
		return true
	}
	if to == catalog.CoordinatorError {
		return from != catalog.CoordinatorDone
	}
	next, ok := from.Next()
	return ok && next == to
}

// CheckTransition checks that next may replace persisted. Identity fields
// and the participant set are immutable, and timestamps are set once.
func CheckTransition(persisted, next catalog.CoordinatorDocument) error {
	if !LegalStateChange(persisted.State, next.State) {
		return Errorf(KindIllegalTransition, "operation %s cannot move from %s to %s",
			persisted.ID, persisted.State, next.State)
	}
	switch {
	case persisted.ID != next.ID:
		return immutable(persisted, "operation id")
	case persisted.Namespace != next.Namespace:
		return immutable(persisted, "namespace")
	case persisted.CollectionUUID != next.CollectionUUID:
		return immutable(persisted, "collection uuid")
	case persisted.TempNamespace != next.TempNamespace:
		return immutable(persisted, "temporary namespace")
	case !persisted.ReshardingKey.Equal(next.ReshardingKey):
		return immutable(persisted, "resharding key")
	}
	if !timestampKept(persisted.FetchTimestamp, next.FetchTimestamp) {
		return immutable(persisted, "fetch timestamp")
	}

	if len(persisted.Shards) != len(next.Shards) {
		return immutable(persisted, "participant set")
	}
	for i, p := range persisted.Shards {
		n := next.Shards[i]
		if p.ID != n.ID || p.Role != n.Role {
			return immutable(persisted, "participant set")
		}
		if p.Donor != nil && n.Donor != nil &&
			!timestampKept(p.Donor.MinFetchTimestamp, n.Donor.MinFetchTimestamp) {
			return Errorf(KindIllegalTransition, "operation %s: min fetch timestamp of donor %s changed",
				persisted.ID, p.ID)
		}
		if p.Recipient != nil && n.Recipient != nil &&
			!timestampKept(p.Recipient.StrictConsistencyTimestamp, n.Recipient.StrictConsistencyTimestamp) {
			return Errorf(KindIllegalTransition, "operation %s: strict consistency timestamp of recipient %s changed",
				persisted.ID, p.ID)
		}
	}
	return nil
}

func immutable(doc catalog.CoordinatorDocument, field string) error {
	return Errorf(KindIllegalTransition, "operation %s: %s cannot change", doc.ID, field)
}

// timestampKept reports whether a set-once timestamp survived: an unset
// timestamp may become anything, a set one must stay equal.
func timestampKept(before, after *primitive.Timestamp) bool {
	if before == nil {
		return true
	}
	return after != nil && before.Equal(*after)
}

// CheckScaffolding checks that the catalog records initialize creates are in
// place before doc moves further in the donate, clone or mirror phase. The
// original entry must carry the operation's fields and, until the cut-over
// gives it the operation's uuid, the temporary entry must exist. Either entry
// may be nil.
func CheckScaffolding(doc catalog.CoordinatorDocument, original, temp *catalog.CollectionEntry) error {
	if !doc.State.AtLeast(catalog.CoordinatorPreparingToDonate) || doc.State.AtLeast(catalog.CoordinatorCommitted) {
		return nil
	}
	if original == nil || !original.ParticipatesIn(doc.ID) {
		return Errorf(KindIllegalTransition,
			"operation %s: %s does not carry its resharding fields, initialize did not finish",
			doc.ID, doc.Namespace)
	}
	if temp == nil && original.UUID != doc.ID {
		return Errorf(KindIllegalTransition,
			"operation %s: temporary entry %s is missing, initialize did not finish",
			doc.ID, doc.TempNamespace)
	}
	return nil
}
