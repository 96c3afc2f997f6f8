package ecgstore

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newConstraintManager(t *testing.T) (*ConstraintManager, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	m := NewConstraintManager(client)
	m.Register(UniqueConstraint{
		Entity:  "users",
		Field:   "email",
		ValueOf: NormalizedField("email"),
	})
	return m, mr
}

func TestConstraintManager_ClaimAndDuplicate(t *testing.T) {
	ctx := context.Background()
	m, mr := newConstraintManager(t)

	doc := map[string]interface{}{"email": "Ana@Example.com"}

	if err := m.Claim(ctx, "users", "owner-1", doc); err != nil {
		t.Fatalf("first claim failed: %v", err)
	}

	// The registry key is normalized
	if !mr.Exists("unique:users:email:ana@example.com") {
		t.Error("claim key missing or not normalized")
	}

	// Another owner cannot claim the same value
	err := m.Claim(ctx, "users", "owner-2", map[string]interface{}{"email": "ana@example.com"})
	if !IsAlreadyExists(err) {
		t.Errorf("duplicate claim = %v, want ErrAlreadyExists", err)
	}

	// The same owner re-claiming is a no-op
	if err := m.Claim(ctx, "users", "owner-1", doc); err != nil {
		t.Errorf("self re-claim failed: %v", err)
	}
}

func TestConstraintManager_ReleaseRespectsOwnership(t *testing.T) {
	ctx := context.Background()
	m, mr := newConstraintManager(t)

	doc := map[string]interface{}{"email": "ana@example.com"}
	if err := m.Claim(ctx, "users", "owner-1", doc); err != nil {
		t.Fatalf("claim failed: %v", err)
	}

	// A non-owner release leaves the claim in place
	if err := m.Release(ctx, "users", "owner-2", doc); err != nil {
		t.Fatalf("foreign release errored: %v", err)
	}
	if !mr.Exists("unique:users:email:ana@example.com") {
		t.Fatal("foreign release removed the claim")
	}

	if err := m.Release(ctx, "users", "owner-1", doc); err != nil {
		t.Fatalf("release failed: %v", err)
	}
	if mr.Exists("unique:users:email:ana@example.com") {
		t.Error("claim survived its owner's release")
	}

	// The value is claimable again
	if err := m.Claim(ctx, "users", "owner-3", doc); err != nil {
		t.Errorf("re-claim after release failed: %v", err)
	}
}

func TestConstraintManager_EmptyValueUnconstrained(t *testing.T) {
	ctx := context.Background()
	m, _ := newConstraintManager(t)

	if err := m.Claim(ctx, "users", "owner-1", map[string]interface{}{}); err != nil {
		t.Errorf("claim with absent field = %v", err)
	}
	if err := m.Claim(ctx, "users", "owner-2", map[string]interface{}{}); err != nil {
		t.Errorf("second claim with absent field = %v", err)
	}
}

func newUserServiceWithRedis(t *testing.T) (*UserService, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	backend := NewFilesystemBackend(t.TempDir())
	store := NewDocStore(backend)

	deps := ServiceDeps{
		Cache:       NewRedisCache(client, "ecg"),
		Namespace:   "ecg",
		Constraints: NewConstraintManager(client),
	}
	return NewUserService(store, deps), mr
}

func TestUserService_UniqueEmailLifecycle(t *testing.T) {
	ctx := context.Background()
	svc, _ := newUserServiceWithRedis(t)

	ana, err := svc.Create(ctx, &User{Name: "Ana", Email: "ana@example.com", CRM: "CRM-12345"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	// Duplicate email is rejected, case-insensitively
	_, err = svc.Create(ctx, &User{Name: "Impostor", Email: "ANA@example.com"})
	if !IsAlreadyExists(err) {
		t.Fatalf("duplicate email = %v, want ErrAlreadyExists", err)
	}

	// Soft delete keeps the email reserved
	if _, err := svc.Delete(ctx, ana.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	_, err = svc.Create(ctx, &User{Name: "Impostor", Email: "ana@example.com"})
	if !IsAlreadyExists(err) {
		t.Errorf("email free after soft delete: %v", err)
	}

	// Hard delete releases it
	if _, err := svc.HardDelete(ctx, ana.ID); err != nil {
		t.Fatalf("HardDelete failed: %v", err)
	}
	if _, err := svc.Create(ctx, &User{Name: "New Ana", Email: "ana@example.com"}); err != nil {
		t.Errorf("email still reserved after hard delete: %v", err)
	}
}

func TestUserService_Authenticate(t *testing.T) {
	ctx := context.Background()
	svc, _ := newUserServiceWithRedis(t)

	u := &User{Name: "Ana", Email: "ana@example.com"}
	if err := u.SetPassword("s3cret"); err != nil {
		t.Fatalf("SetPassword failed: %v", err)
	}
	if _, err := svc.Create(ctx, u); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	got, err := svc.Authenticate(ctx, "Ana@Example.com", "s3cret")
	if err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}
	if got.Name != "Ana" {
		t.Errorf("authenticated user = %+v", got)
	}

	if _, err := svc.Authenticate(ctx, "ana@example.com", "wrong"); err != ErrUnauthorized {
		t.Errorf("bad password = %v, want ErrUnauthorized", err)
	}
	if _, err := svc.Authenticate(ctx, "nobody@example.com", "s3cret"); err != ErrUnauthorized {
		t.Errorf("unknown email = %v, want ErrUnauthorized", err)
	}
}

func TestUserService_SearchAndListing(t *testing.T) {
	ctx := context.Background()
	svc, _ := newUserServiceWithRedis(t)

	seed := []*User{
		{Name: "Ana Souza", Email: "ana@example.com", CRM: "CRM-11111"},
		{Name: "Bruno Lima", Email: "bruno@example.com", CRM: "CRM-22222"},
		{Name: "Carla Mendes", Email: "carla@clinic.org", CRM: "CRM-33333"},
	}
	for _, u := range seed {
		if _, err := svc.Create(ctx, u); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
	}

	page, err := svc.List(ctx, map[string]string{"search": "clinic"}, Pagination{Page: 1, Limit: 10})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if page.Meta.Total != 1 || page.Data[0].Name != "Carla Mendes" {
		t.Errorf("search by email domain: %+v", page.Meta)
	}

	page, err = svc.List(ctx, map[string]string{"crm": "CRM-22222"}, Pagination{Page: 1, Limit: 10})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if page.Meta.Total != 1 || page.Data[0].Name != "Bruno Lima" {
		t.Errorf("crm equality: %+v", page.Meta)
	}

	// Default user sort is name ascending
	page, err = svc.List(ctx, nil, Pagination{Page: 1, Limit: 10})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(page.Data) != 3 || page.Data[0].Name != "Ana Souza" || page.Data[2].Name != "Carla Mendes" {
		t.Errorf("default sort order wrong: %v", page.Meta)
	}
}
