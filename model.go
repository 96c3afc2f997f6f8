package ecgstore

import "time"

// Record carries the fields every stored entity shares. Concrete entities
// embed it; the repository owns its lifecycle (id assignment, timestamps,
// soft-delete markers).
type Record struct {
	ID        string     `json:"id"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
	IsDeleted bool       `json:"isDeleted"`
	DeletedAt *time.Time `json:"deletedAt,omitempty"`
}

// Base returns the record itself. Entities embed Record, so the method
// promotes and gives generic code access to the shared fields. The name
// must differ from the embedded field name or the field would shadow it.
func (r *Record) Base() *Record { return r }

// Entity is implemented by every stored type
type Entity interface {
	Base() *Record
	Validate() error
}

// SortKey orders listing results by a document field.
// Descending sorts break ties by id descending; ascending by id ascending.
type SortKey struct {
	Field      string
	Descending bool
}

// TTLPolicy holds the cache lifetimes for one entity type
type TTLPolicy struct {
	Entity    time.Duration
	Listing   time.Duration
	Aggregate time.Duration
}

// Descriptor ties together everything the generic layers need to know
// about one entity type: its collection name, how to parse its filters,
// how to sort listings, and how long to cache its reads.
type Descriptor struct {
	// Name is the plural collection name, used in backend keys and
	// cache key namespaces ("exams", "users").
	Name string

	// Singular is used in log and error messages ("exam", "user")
	Singular string

	Filter FilterDef
	Sort   []SortKey
	TTL    TTLPolicy
}
