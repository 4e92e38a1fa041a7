package catalog

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestNamespace(t *testing.T) {
	tests := []struct {
		ns    Namespace
		valid bool
		db    string
		coll  string
	}{
		{"db.coll", true, "db", "coll"},
		{"db.a.b", true, "db", "a.b"},
		{"nodot", false, "nodot", ""},
		{".coll", false, "", "coll"},
		{"db.", false, "db", ""},
		{"db.co\x00ll", false, "db", "co\x00ll"},
	}

	for _, tt := range tests {
		t.Run(strings.ReplaceAll(string(tt.ns), "\x00", "NUL"), func(t *testing.T) {
			assert.Equal(t, tt.valid, tt.ns.Valid())
			assert.Equal(t, tt.db, tt.ns.DB())
			assert.Equal(t, tt.coll, tt.ns.Collection())
		})
	}
}

func TestTempReshardingNamespace(t *testing.T) {
	id := uuid.MustParse("5e9e2d7c-2b47-4a1e-9d0e-1c0d3d2a1b00")
	temp := TempReshardingNamespace("db.coll", id)

	assert.Equal(t, Namespace("db.system.resharding.5e9e2d7c-2b47-4a1e-9d0e-1c0d3d2a1b00"), temp)
	assert.True(t, temp.IsTemporaryResharding())
	assert.True(t, temp.Valid())
	assert.False(t, Namespace("db.coll").IsTemporaryResharding())
}

func TestCoordinatorStateOrder(t *testing.T) {
	s := CoordinatorInitializing
	var visited []CoordinatorState
	for {
		visited = append(visited, s)
		next, ok := s.Next()
		if !ok {
			break
		}
		assert.True(t, next.AtLeast(s))
		assert.False(t, s.AtLeast(next))
		s = next
	}
	assert.Equal(t, coordinatorOrder, visited)
	assert.Equal(t, CoordinatorDone, s)

	_, ok := CoordinatorError.Next()
	assert.False(t, ok)
	assert.True(t, CoordinatorError.Valid())
	assert.True(t, CoordinatorError.IsTerminal())
	assert.False(t, CoordinatorError.AtLeast(CoordinatorInitializing))
	assert.False(t, CoordinatorState("bogus").Valid())

	assert.True(t, CoordinatorCloning.RequiresFetchTimestamp())
	assert.True(t, CoordinatorDone.RequiresFetchTimestamp())
	assert.True(t, CoordinatorPreparingToDonate.ForbidsFetchTimestamp())
	assert.False(t, CoordinatorError.RequiresFetchTimestamp())
	assert.False(t, CoordinatorError.ForbidsFetchTimestamp())
}

func TestKeyPatternBSON(t *testing.T) {
	type holder struct {
		Key KeyPattern `bson:"key"`
	}

	kp := NewKeyPattern("a", "b")
	data, err := bson.Marshal(holder{Key: kp})
	require.NoError(t, err)

	var out holder
	require.NoError(t, bson.Unmarshal(data, &out))
	assert.True(t, kp.Equal(out.Key))
	assert.Equal(t, []string{"a", "b"}, out.Key.FieldNames())
	assert.JSONEq(t, `{"a":1,"b":1}`, kp.String())

	hashed := KeyPattern{{Key: "a", Value: "hashed"}}
	assert.False(t, kp.Equal(hashed))
}

func TestKeyPatternMatchesRange(t *testing.T) {
	kp := NewKeyPattern("a", "b")

	assert.True(t, kp.MatchesRange(ChunkRange{Min: GlobalMin(kp), Max: GlobalMax(kp)}))
	assert.False(t, kp.MatchesRange(ChunkRange{
		Min: bson.D{{Key: "a", Value: 1}},
		Max: GlobalMax(kp),
	}))
	assert.False(t, kp.MatchesRange(ChunkRange{
		Min: bson.D{{Key: "b", Value: 1}, {Key: "a", Value: 1}},
		Max: GlobalMax(kp),
	}))
	assert.False(t, KeyPattern(nil).MatchesRange(ChunkRange{}))
}

func TestZoneKey(t *testing.T) {
	min := bson.D{{Key: "a", Value: int32(5)}}
	k1, err := ZoneKey("db.coll", min)
	require.NoError(t, err)
	k2, err := (Zone{Namespace: "db.coll", Tag: "x", Range: ChunkRange{Min: min}}).Key()
	require.NoError(t, err)
	assert.Equal(t, k1, k2)

	k3, err := ZoneKey("db.other", min)
	require.NoError(t, err)
	assert.NotEqual(t, k1, k3)
}

func TestCoordinatorDocument(t *testing.T) {
	collUUID := uuid.New()
	doc := NewCoordinatorDocument("db.coll", collUUID, NewKeyPattern("newKey"),
		[]string{"s0", "s1"}, []string{"s2"})

	assert.Equal(t, CoordinatorInitializing, doc.State)
	assert.Equal(t, TempReshardingNamespace("db.coll", doc.ID), doc.TempNamespace)
	assert.Equal(t, []string{"s0", "s1"}, doc.DonorIDs())
	assert.Equal(t, []string{"s2"}, doc.RecipientIDs())

	e, ok := doc.Shard("s2")
	require.True(t, ok)
	assert.Equal(t, RoleRecipient, e.Role)
	assert.Nil(t, e.Donor)
	_, ok = doc.Shard("s9")
	assert.False(t, ok)

	t.Run("clone is deep", func(t *testing.T) {
		doc.FetchTimestamp = &primitive.Timestamp{T: 7, I: 1}
		c := doc.Clone()
		c.FetchTimestamp.T = 8
		c.Shards[0].Donor.State = DonorDonating
		c.ReshardingKey[0].Key = "changed"

		assert.Equal(t, uint32(7), doc.FetchTimestamp.T)
		assert.Equal(t, DonorUnused, doc.Shards[0].Donor.State)
		assert.Equal(t, "newKey", doc.ReshardingKey[0].Key)
	})

	t.Run("bson round trip", func(t *testing.T) {
		data, err := bson.Marshal(doc)
		require.NoError(t, err)
		var out CoordinatorDocument
		require.NoError(t, bson.Unmarshal(data, &out))
		assert.True(t, SameDocument(doc, out))
		assert.Equal(t, doc.ID, out.ID)
		assert.Equal(t, doc.DonorIDs(), out.DonorIDs())
	})

	t.Run("with state", func(t *testing.T) {
		next := doc.WithState(CoordinatorInitialized)
		assert.Equal(t, CoordinatorInitialized, next.State)
		assert.Equal(t, CoordinatorInitializing, doc.State)
		diff := cmp.Diff(doc.DonorIDs(), next.DonorIDs())
		assert.Empty(t, diff)
	})
}

func TestReshardingFieldsEqual(t *testing.T) {
	var nilFields *ReshardingFields
	id := uuid.New()
	a := &ReshardingFields{OperationID: id, State: CoordinatorCloning,
		DonorFields: &DonorFields{ReshardingKey: NewKeyPattern("k"), RecipientShardIDs: []string{"s1"}}}
	b := &ReshardingFields{OperationID: id, State: CoordinatorCloning,
		DonorFields: &DonorFields{ReshardingKey: NewKeyPattern("k"), RecipientShardIDs: []string{"s1"}}}

	assert.True(t, nilFields.Equal(nil))
	assert.False(t, nilFields.Equal(a))
	assert.True(t, a.Equal(b))

	b.State = CoordinatorMirroring
	assert.False(t, a.Equal(b))
}
