package resharding

import (
	"go.mongodb.org/mongo-driver/bson/primitive"
	"golang.org/x/exp/slices"

	"github.com/dreamware/reshard/internal/catalog"
)

// Project computes the resharding fields the catalog entry of ns must carry
// for doc. The original namespace gets donor fields only, the temporary
// namespace recipient fields only.
func Project(doc catalog.CoordinatorDocument, ns catalog.Namespace) (*catalog.ReshardingFields, error) {
	switch ns {
	case doc.Namespace:
		return ProjectDonor(doc), nil
	case doc.TempNamespace:
		return ProjectRecipient(doc), nil
	default:
		return nil, Errorf(KindInvalidDocument,
			"namespace %s is not part of resharding operation %s", ns, doc.ID)
	}
}

// ProjectDonor computes the fields of the original namespace's entry.
func ProjectDonor(doc catalog.CoordinatorDocument) *catalog.ReshardingFields {
	return &catalog.ReshardingFields{
		OperationID: doc.ID,
		State:       doc.State,
		DonorFields: &catalog.DonorFields{
			ReshardingKey:     slices.Clone(doc.ReshardingKey),
			RecipientShardIDs: doc.RecipientIDs(),
		},
	}
}

// ProjectRecipient computes the fields of the temporary namespace's entry.
func ProjectRecipient(doc catalog.CoordinatorDocument) *catalog.ReshardingFields {
	return &catalog.ReshardingFields{
		OperationID: doc.ID,
		State:       doc.State,
		RecipientFields: &catalog.RecipientFields{
			OriginalNamespace: doc.Namespace,
			FetchTimestamp:    copyTimestamp(doc.FetchTimestamp),
			DonorShardIDs:     doc.DonorIDs(),
		},
	}
}

func copyTimestamp(ts *primitive.Timestamp) *primitive.Timestamp {
	if ts == nil {
		return nil
	}
	t := *ts
	return &t
}
