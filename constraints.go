package ecgstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

// UniqueConstraint declares that one field of an entity must be unique
// across the collection. ValueOf extracts the normalized value from a
// raw document map; empty values are not constrained.
type UniqueConstraint struct {
	Entity  string
	Field   string
	ValueOf func(doc map[string]interface{}) string
}

// NormalizedField returns a ValueOf extracting a lowercased, trimmed
// string field. Suitable for email addresses.
func NormalizedField(field string) func(map[string]interface{}) string {
	return func(doc map[string]interface{}) string {
		v, _ := doc[field].(string)
		return strings.ToLower(strings.TrimSpace(v))
	}
}

// ConstraintManager enforces uniqueness with a Redis claim registry.
// A claim is a SET NX of "unique:<entity>:<field>:<value>" holding the
// owning entity id. Claims are taken before the document write and
// released on hard delete, so two concurrent creates of the same value
// cannot both succeed.
type ConstraintManager struct {
	client      *redis.Client
	constraints []UniqueConstraint
}

// NewConstraintManager creates a constraint manager
func NewConstraintManager(client *redis.Client) *ConstraintManager {
	return &ConstraintManager{client: client}
}

// Register adds a constraint. Call during setup, before serving requests.
func (m *ConstraintManager) Register(c UniqueConstraint) {
	m.constraints = append(m.constraints, c)
}

func constraintKey(entity, field, value string) string {
	return fmt.Sprintf("unique:%s:%s:%s", entity, field, value)
}

// Claim takes every constraint on entity for the given document on
// behalf of ownerID. If any value is already claimed by another owner,
// the claims taken so far are rolled back and ErrAlreadyExists returned.
func (m *ConstraintManager) Claim(ctx context.Context, entity, ownerID string, doc map[string]interface{}) error {
	if m == nil || m.client == nil {
		return nil
	}

	var taken []string
	rollback := func() {
		for _, key := range taken {
			m.client.Del(context.WithoutCancel(ctx), key)
		}
	}

	for _, c := range m.constraints {
		if c.Entity != entity {
			continue
		}
		value := c.ValueOf(doc)
		if value == "" {
			continue
		}

		key := constraintKey(entity, c.Field, value)
		ok, err := m.client.SetNX(ctx, key, ownerID, 0).Result()
		if err != nil {
			rollback()
			return fmt.Errorf("%w: claim %s: %v", ErrRepository, key, err)
		}
		if !ok {
			// Claimed already. Re-claiming your own value is fine (an
			// update that did not change it).
			owner, err := m.client.Get(ctx, key).Result()
			if err == nil && owner == ownerID {
				continue
			}
			rollback()
			return WithContext(ErrAlreadyExists, map[string]interface{}{
				"entity": entity,
				"field":  c.Field,
				"value":  value,
			})
		}
		taken = append(taken, key)
	}

	return nil
}

// Release frees the claims held by ownerID for the given document.
// Claims owned by someone else are left alone.
func (m *ConstraintManager) Release(ctx context.Context, entity, ownerID string, doc map[string]interface{}) error {
	if m == nil || m.client == nil {
		return nil
	}

	var firstErr error
	for _, c := range m.constraints {
		if c.Entity != entity {
			continue
		}
		value := c.ValueOf(doc)
		if value == "" {
			continue
		}

		key := constraintKey(entity, c.Field, value)
		owner, err := m.client.Get(ctx, key).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if firstErr == nil {
				firstErr = fmt.Errorf("%w: release %s: %v", ErrRepository, key, err)
			}
			continue
		}
		if owner != ownerID {
			continue
		}
		if err := m.client.Del(ctx, key).Err(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("%w: release %s: %v", ErrRepository, key, err)
		}
	}
	return firstErr
}

// Has reports whether any constraints are registered for entity
func (m *ConstraintManager) Has(entity string) bool {
	if m == nil {
		return false
	}
	for _, c := range m.constraints {
		if c.Entity == entity {
			return true
		}
	}
	return false
}
