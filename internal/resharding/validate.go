package resharding

import (
	"github.com/google/uuid"

	"github.com/dreamware/reshard/internal/catalog"
)

// ValidateDocument checks the structural rules every coordinator document
// must satisfy regardless of what is already durable.
func ValidateDocument(doc catalog.CoordinatorDocument) error {
	if doc.ID == uuid.Nil {
		return Errorf(KindInvalidDocument, "coordinator document has no operation id")
	}
	if !doc.Namespace.Valid() {
		return Errorf(KindInvalidDocument, "invalid namespace %q", doc.Namespace)
	}
	if doc.Namespace.IsTemporaryResharding() {
		return Errorf(KindInvalidDocument, "cannot reshard temporary namespace %s", doc.Namespace)
	}
	if want := catalog.TempReshardingNamespace(doc.Namespace, doc.ID); doc.TempNamespace != want {
		return Errorf(KindInvalidDocument, "temporary namespace is %s, expected %s", doc.TempNamespace, want)
	}
	if doc.ReshardingKey.IsEmpty() {
		return Errorf(KindInvalidDocument, "resharding key is empty")
	}
	if !doc.State.Valid() {
		return Errorf(KindInvalidDocument, "unknown coordinator state %q", doc.State)
	}
	if doc.State.RequiresFetchTimestamp() && (doc.FetchTimestamp == nil || doc.FetchTimestamp.IsZero()) {
		return Errorf(KindInvalidDocument, "state %s requires a fetch timestamp", doc.State)
	}
	if doc.State.ForbidsFetchTimestamp() && doc.FetchTimestamp != nil {
		return Errorf(KindInvalidDocument, "state %s must not carry a fetch timestamp", doc.State)
	}
	if doc.AbortReason != "" && doc.State != catalog.CoordinatorError {
		return Errorf(KindInvalidDocument, "abort reason set in state %s", doc.State)
	}
	return validateShards(doc.Shards)
}

func validateShards(shards []catalog.ShardEntry) error {
	seen := make(map[string]struct{}, len(shards))
	var donors, recipients int
	for _, e := range shards {
		if e.ID == "" {
			return Errorf(KindInvalidDocument, "shard entry without id")
		}
		if _, dup := seen[e.ID]; dup {
			return Errorf(KindInvalidDocument, "shard %s listed more than once", e.ID)
		}
		seen[e.ID] = struct{}{}

		switch e.Role {
		case catalog.RoleDonor:
			if e.Donor == nil || e.Recipient != nil {
				return Errorf(KindInvalidDocument, "donor shard %s must carry donor progress only", e.ID)
			}
			if !e.Donor.State.Valid() {
				return Errorf(KindInvalidDocument, "donor shard %s has unknown state %q", e.ID, e.Donor.State)
			}
			donors++
		case catalog.RoleRecipient:
			if e.Recipient == nil || e.Donor != nil {
				return Errorf(KindInvalidDocument, "recipient shard %s must carry recipient progress only", e.ID)
			}
			if !e.Recipient.State.Valid() {
				return Errorf(KindInvalidDocument, "recipient shard %s has unknown state %q", e.ID, e.Recipient.State)
			}
			recipients++
		default:
			return Errorf(KindInvalidDocument, "shard %s has unknown role %q", e.ID, e.Role)
		}
	}
	if donors == 0 {
		return Errorf(KindInvalidDocument, "operation has no donor shards")
	}
	if recipients == 0 {
		return Errorf(KindInvalidDocument, "operation has no recipient shards")
	}
	return nil
}

// ValidateReshardingFields checks that f carries exactly one role's fields
// and that those fields are well formed.
func ValidateReshardingFields(f *catalog.ReshardingFields) error {
	if f == nil {
		return nil
	}
	if f.OperationID == uuid.Nil {
		return Errorf(KindInvariantViolation, "resharding fields without operation id")
	}
	if !f.State.Valid() {
		return Errorf(KindInvariantViolation, "resharding fields carry unknown state %q", f.State)
	}
	switch {
	case f.DonorFields != nil && f.RecipientFields != nil:
		return Errorf(KindInvariantViolation, "resharding fields carry both donor and recipient fields")
	case f.DonorFields != nil:
		if f.DonorFields.ReshardingKey.IsEmpty() {
			return Errorf(KindInvariantViolation, "donor fields without resharding key")
		}
	case f.RecipientFields != nil:
		if !f.RecipientFields.OriginalNamespace.Valid() {
			return Errorf(KindInvariantViolation, "recipient fields with invalid original namespace %q",
				f.RecipientFields.OriginalNamespace)
		}
	default:
		return Errorf(KindInvariantViolation, "resharding fields carry neither donor nor recipient fields")
	}
	return nil
}

// ValidateCollectionEntry checks a catalog entry read back from the store.
// Donor fields may only appear on an original namespace and recipient fields
// only on a temporary one.
func ValidateCollectionEntry(e catalog.CollectionEntry) error {
	if !e.Namespace.Valid() {
		return Errorf(KindInvariantViolation, "collection entry with invalid namespace %q", e.Namespace)
	}
	if e.KeyPattern.IsEmpty() {
		return Errorf(KindInvariantViolation, "collection entry %s has no key pattern", e.Namespace)
	}
	if e.Epoch.IsZero() {
		return Errorf(KindInvariantViolation, "collection entry %s has no epoch", e.Namespace)
	}
	if e.UUID == uuid.Nil {
		return Errorf(KindInvariantViolation, "collection entry %s has no uuid", e.Namespace)
	}
	f := e.ReshardingFields
	if f == nil {
		return nil
	}
	if err := ValidateReshardingFields(f); err != nil {
		return err
	}
	temp := e.Namespace.IsTemporaryResharding()
	if f.DonorFields != nil && temp {
		return Errorf(KindInvariantViolation, "temporary namespace %s carries donor fields", e.Namespace)
	}
	if f.RecipientFields != nil {
		if !temp {
			return Errorf(KindInvariantViolation, "namespace %s carries recipient fields", e.Namespace)
		}
		if f.RecipientFields.OriginalNamespace == e.Namespace {
			return Errorf(KindInvariantViolation, "namespace %s names itself as original", e.Namespace)
		}
	}
	return nil
}

// CheckInitialRequest checks the document and initial placement handed to
// the initialize operation before anything is read from the store.
func CheckInitialRequest(doc catalog.CoordinatorDocument, chunks []catalog.Chunk, zones []catalog.Zone) error {
	if doc.State != catalog.CoordinatorInitializing && doc.State != catalog.CoordinatorInitialized {
		return Errorf(KindInvalidDocument, "cannot initialize an operation in state %s", doc.State)
	}
	if err := ValidateDocument(doc); err != nil {
		return err
	}
	return CheckInitialPlacement(doc, chunks, zones)
}

// CheckInitialPlacement checks that the initial chunks and zones describe the
// temporary namespace under the new key, and that every chunk is owned by a
// recipient of the operation.
func CheckInitialPlacement(doc catalog.CoordinatorDocument, chunks []catalog.Chunk, zones []catalog.Zone) error {
	if len(chunks) == 0 {
		return Errorf(KindInvalidDocument, "at least one initial chunk is required")
	}
	recipients := make(map[string]struct{})
	for _, id := range doc.RecipientIDs() {
		recipients[id] = struct{}{}
	}

	ids := make(map[string]struct{}, len(chunks))
	for i, c := range chunks {
		if c.ID.IsZero() {
			return Errorf(KindInvalidDocument, "chunk %d has no id", i)
		}
		if _, dup := ids[c.ID.Hex()]; dup {
			return Errorf(KindInvalidDocument, "chunk %s listed more than once", c.ID.Hex())
		}
		ids[c.ID.Hex()] = struct{}{}
		if c.Namespace != doc.TempNamespace {
			return Errorf(KindInvalidDocument, "chunk %s belongs to %s, expected %s", c.ID.Hex(), c.Namespace, doc.TempNamespace)
		}
		if !doc.ReshardingKey.MatchesRange(c.Range) {
			return Errorf(KindInvalidDocument, "chunk %s range does not match key %s", c.ID.Hex(), doc.ReshardingKey)
		}
		if _, ok := recipients[c.Shard]; !ok {
			return Errorf(KindInvalidDocument, "chunk %s is owned by %q, which is not a recipient", c.ID.Hex(), c.Shard)
		}
	}

	mins := make(map[string]struct{}, len(zones))
	for i, z := range zones {
		if z.Namespace != doc.TempNamespace {
			return Errorf(KindInvalidDocument, "zone %d belongs to %s, expected %s", i, z.Namespace, doc.TempNamespace)
		}
		if z.Tag == "" {
			return Errorf(KindInvalidDocument, "zone %d has no tag", i)
		}
		if !doc.ReshardingKey.MatchesRange(z.Range) {
			return Errorf(KindInvalidDocument, "zone %q range does not match key %s", z.Tag, doc.ReshardingKey)
		}
		key, err := z.Key()
		if err != nil {
			return Wrap(KindInvalidDocument, err, "zone %q has an unencodable bound", z.Tag)
		}
		if _, dup := mins[key]; dup {
			return Errorf(KindInvalidDocument, "zone %q starts at the same bound as another zone", z.Tag)
		}
		mins[key] = struct{}{}
	}
	return nil
}

// CheckOriginalEntry checks the original namespace's entry before an
// operation is initialized against it.
func CheckOriginalEntry(doc catalog.CoordinatorDocument, original *catalog.CollectionEntry) error {
	if original == nil {
		return Errorf(KindNamespaceNotFound, "namespace %s is not sharded", doc.Namespace)
	}
	if f := original.ReshardingFields; f != nil && f.OperationID != doc.ID {
		return Errorf(KindConflictingOperation,
			"namespace %s is already being resharded by operation %s", doc.Namespace, f.OperationID)
	}
	if doc.CollectionUUID != uuid.Nil && original.UUID != doc.CollectionUUID && !original.ParticipatesIn(doc.ID) {
		return Errorf(KindConflictingOperation,
			"namespace %s has uuid %s, operation targets %s", doc.Namespace, original.UUID, doc.CollectionUUID)
	}
	return nil
}

// CheckCollectionRegistration checks an ordinary sharded namespace handed to
// the catalog before any resharding operation exists for it.
func CheckCollectionRegistration(e catalog.CollectionEntry, chunks []catalog.Chunk, zones []catalog.Zone) error {
	if !e.Namespace.Valid() {
		return Errorf(KindInvalidDocument, "invalid namespace %q", e.Namespace)
	}
	if e.Namespace.IsTemporaryResharding() {
		return Errorf(KindInvalidDocument, "%s is a temporary resharding namespace", e.Namespace)
	}
	if e.UUID == uuid.Nil {
		return Errorf(KindInvalidDocument, "collection %s has no uuid", e.Namespace)
	}
	if e.KeyPattern.IsEmpty() {
		return Errorf(KindInvalidDocument, "collection %s has no key pattern", e.Namespace)
	}
	if e.ReshardingFields != nil {
		return Errorf(KindInvalidDocument, "collection %s cannot be registered with resharding fields", e.Namespace)
	}
	if len(chunks) == 0 {
		return Errorf(KindInvalidDocument, "at least one chunk is required")
	}

	ids := make(map[string]struct{}, len(chunks))
	for i, c := range chunks {
		if c.ID.IsZero() {
			return Errorf(KindInvalidDocument, "chunk %d has no id", i)
		}
		if _, dup := ids[c.ID.Hex()]; dup {
			return Errorf(KindInvalidDocument, "chunk %s listed more than once", c.ID.Hex())
		}
		ids[c.ID.Hex()] = struct{}{}
		if c.Namespace != e.Namespace {
			return Errorf(KindInvalidDocument, "chunk %s belongs to %s, expected %s", c.ID.Hex(), c.Namespace, e.Namespace)
		}
		if c.Shard == "" {
			return Errorf(KindInvalidDocument, "chunk %s has no owner", c.ID.Hex())
		}
		if !e.KeyPattern.MatchesRange(c.Range) {
			return Errorf(KindInvalidDocument, "chunk %s range does not match key %s", c.ID.Hex(), e.KeyPattern)
		}
	}
	for i, z := range zones {
		if z.Namespace != e.Namespace {
			return Errorf(KindInvalidDocument, "zone %d belongs to %s, expected %s", i, z.Namespace, e.Namespace)
		}
		if z.Tag == "" {
			return Errorf(KindInvalidDocument, "zone %d has no tag", i)
		}
		if !e.KeyPattern.MatchesRange(z.Range) {
			return Errorf(KindInvalidDocument, "zone %q range does not match key %s", z.Tag, e.KeyPattern)
		}
	}
	return nil
}
