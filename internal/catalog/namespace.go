package catalog

import (
	"strings"

	"github.com/google/uuid"
)

// tempReshardingPrefix is the collection-name prefix of temporary resharding
// namespaces.
const tempReshardingPrefix = "system.resharding."

// Namespace is a fully qualified collection name of the form "db.coll".
type Namespace string

// DB returns the database part of the namespace.
func (n Namespace) DB() string {
	db, _, _ := strings.Cut(string(n), ".")
	return db
}

// Collection returns the collection part of the namespace.
func (n Namespace) Collection() string {
	_, coll, _ := strings.Cut(string(n), ".")
	return coll
}

// Valid reports whether the namespace has a non-empty database and
// collection part and contains no NUL bytes.
func (n Namespace) Valid() bool {
	if strings.ContainsRune(string(n), 0) {
		return false
	}
	db, coll, ok := strings.Cut(string(n), ".")
	return ok && db != "" && coll != ""
}

// IsTemporaryResharding reports whether the namespace is a temporary
// resharding namespace.
func (n Namespace) IsTemporaryResharding() bool {
	return strings.HasPrefix(n.Collection(), tempReshardingPrefix)
}

func (n Namespace) String() string {
	return string(n)
}

// TempReshardingNamespace derives the temporary namespace that holds the new
// incarnation of ns while the operation identified by operationID runs.
func TempReshardingNamespace(ns Namespace, operationID uuid.UUID) Namespace {
	return Namespace(ns.DB() + "." + tempReshardingPrefix + operationID.String())
}
