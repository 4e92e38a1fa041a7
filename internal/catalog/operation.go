package catalog

import (
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"golang.org/x/exp/slices"
)

// ShardRole is the part a shard plays in a resharding operation.
type ShardRole string

const (
	// RoleDonor marks a shard owning data under the old shard key.
	RoleDonor ShardRole = "donor"
	// RoleRecipient marks a shard that will own data under the new key.
	RoleRecipient ShardRole = "recipient"
)

// DonorProgress is the donor-specific part of a ShardEntry.
type DonorProgress struct {
	State             DonorState           `bson:"state"`
	MinFetchTimestamp *primitive.Timestamp `bson:"minFetchTimestamp,omitempty"`
}

// RecipientProgress is the recipient-specific part of a ShardEntry.
type RecipientProgress struct {
	State                      RecipientState       `bson:"state"`
	StrictConsistencyTimestamp *primitive.Timestamp `bson:"strictConsistencyTimestamp,omitempty"`
}

// ShardEntry is one participant of an operation, keyed by shard id. Role
// selects which of Donor and Recipient is populated; the other stays nil.
type ShardEntry struct {
	ID        string             `bson:"id"`
	Role      ShardRole          `bson:"role"`
	Donor     *DonorProgress     `bson:"donor,omitempty"`
	Recipient *RecipientProgress `bson:"recipient,omitempty"`
}

// NewDonorShard returns an unused donor entry for shard id.
func NewDonorShard(id string) ShardEntry {
	return ShardEntry{ID: id, Role: RoleDonor, Donor: &DonorProgress{State: DonorUnused}}
}

// NewRecipientShard returns an unused recipient entry for shard id.
func NewRecipientShard(id string) ShardEntry {
	return ShardEntry{ID: id, Role: RoleRecipient, Recipient: &RecipientProgress{State: RecipientUnused}}
}

func (e ShardEntry) clone() ShardEntry {
	out := e
	if e.Donor != nil {
		d := *e.Donor
		d.MinFetchTimestamp = cloneTimestamp(e.Donor.MinFetchTimestamp)
		out.Donor = &d
	}
	if e.Recipient != nil {
		r := *e.Recipient
		r.StrictConsistencyTimestamp = cloneTimestamp(e.Recipient.StrictConsistencyTimestamp)
		out.Recipient = &r
	}
	return out
}

// CoordinatorDocument is the durable record of one resharding operation.
type CoordinatorDocument struct {
	ID             uuid.UUID            `bson:"_id"`
	Namespace      Namespace            `bson:"nss"`
	CollectionUUID uuid.UUID            `bson:"ns_uuid"`
	TempNamespace  Namespace            `bson:"tempNss"`
	ReshardingKey  KeyPattern           `bson:"reshardingKey"`
	State          CoordinatorState     `bson:"state"`
	FetchTimestamp *primitive.Timestamp `bson:"fetchTimestamp,omitempty"`
	Shards         []ShardEntry         `bson:"shards"`
	AbortReason    string               `bson:"abortReason,omitempty"`
}

// NewCoordinatorDocument starts a new operation resharding ns, whose current
// incarnation is collectionUUID, onto key. The document is in the
// initializing state with a fresh operation id.
func NewCoordinatorDocument(ns Namespace, collectionUUID uuid.UUID, key KeyPattern, donors, recipients []string) CoordinatorDocument {
	id := uuid.New()
	doc := CoordinatorDocument{
		ID:             id,
		Namespace:      ns,
		CollectionUUID: collectionUUID,
		TempNamespace:  TempReshardingNamespace(ns, id),
		ReshardingKey:  key,
		State:          CoordinatorInitializing,
		Shards:         make([]ShardEntry, 0, len(donors)+len(recipients)),
	}
	for _, d := range donors {
		doc.Shards = append(doc.Shards, NewDonorShard(d))
	}
	for _, r := range recipients {
		doc.Shards = append(doc.Shards, NewRecipientShard(r))
	}
	return doc
}

// Shard returns the entry for shard id.
func (d CoordinatorDocument) Shard(id string) (ShardEntry, bool) {
	i := slices.IndexFunc(d.Shards, func(e ShardEntry) bool { return e.ID == id })
	if i < 0 {
		return ShardEntry{}, false
	}
	return d.Shards[i], true
}

// Donors returns the donor entries in insertion order.
func (d CoordinatorDocument) Donors() []ShardEntry {
	return d.shardsWithRole(RoleDonor)
}

// Recipients returns the recipient entries in insertion order.
func (d CoordinatorDocument) Recipients() []ShardEntry {
	return d.shardsWithRole(RoleRecipient)
}

// DonorIDs returns the donor shard ids in insertion order.
func (d CoordinatorDocument) DonorIDs() []string {
	return shardIDs(d.Donors())
}

// RecipientIDs returns the recipient shard ids in insertion order.
func (d CoordinatorDocument) RecipientIDs() []string {
	return shardIDs(d.Recipients())
}

func (d CoordinatorDocument) shardsWithRole(role ShardRole) []ShardEntry {
	var out []ShardEntry
	for _, e := range d.Shards {
		if e.Role == role {
			out = append(out, e)
		}
	}
	return out
}

// Clone returns a deep copy of the document.
func (d CoordinatorDocument) Clone() CoordinatorDocument {
	out := d
	out.ReshardingKey = slices.Clone(d.ReshardingKey)
	out.FetchTimestamp = cloneTimestamp(d.FetchTimestamp)
	if d.Shards != nil {
		out.Shards = make([]ShardEntry, len(d.Shards))
		for i, e := range d.Shards {
			out.Shards[i] = e.clone()
		}
	}
	return out
}

// WithState returns a copy of the document moved to state s.
func (d CoordinatorDocument) WithState(s CoordinatorState) CoordinatorDocument {
	out := d.Clone()
	out.State = s
	return out
}

func shardIDs(entries []ShardEntry) []string {
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, e.ID)
	}
	return ids
}

func cloneTimestamp(ts *primitive.Timestamp) *primitive.Timestamp {
	if ts == nil {
		return nil
	}
	t := *ts
	return &t
}
