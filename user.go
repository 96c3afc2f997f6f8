package ecgstore

import (
	"context"
	"errors"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// User is a practitioner account. CRM is the regional medical council
// registration number.
type User struct {
	Record

	Name  string `json:"name"`
	Email string `json:"email"`
	CRM   string `json:"crm,omitempty"`

	// PasswordHash is a bcrypt hash, never the plain credential
	PasswordHash string `json:"password,omitempty"`
}

// Validate checks required fields and normalizes the email
func (u *User) Validate() error {
	if strings.TrimSpace(u.Name) == "" {
		return errors.New("name is required")
	}

	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	if u.Email == "" {
		return errors.New("email is required")
	}
	at := strings.Index(u.Email, "@")
	if at < 1 || at == len(u.Email)-1 {
		return errors.New("malformed email")
	}
	return nil
}

// SetPassword hashes and stores the credential
func (u *User) SetPassword(plain string) error {
	if plain == "" {
		return errors.New("password must not be empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	u.PasswordHash = string(hash)
	return nil
}

// CheckPassword reports whether plain matches the stored hash
func (u *User) CheckPassword(plain string) bool {
	if u.PasswordHash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(plain)) == nil
}

// UserDescriptor declares how users are stored, filtered, sorted and cached
var UserDescriptor = Descriptor{
	Name:     "users",
	Singular: "user",
	Filter: FilterDef{
		SearchFields: []string{"name", "email", "crm"},
		Equality: map[string]string{
			"email": "email",
			"crm":   "crm",
		},
	},
	Sort: []SortKey{
		{Field: "name", Descending: false},
	},
	TTL: TTLPolicy{
		Entity:    5 * time.Minute,
		Listing:   30 * time.Second,
		Aggregate: 5 * time.Minute,
	},
}

// UserService wraps the generic service for users
type UserService struct {
	*Service[*User]
}

// NewUserService creates the user service. When deps.Constraints is set,
// the unique-email constraint is registered on it.
func NewUserService(store *DocStore, deps ServiceDeps) *UserService {
	if deps.Constraints != nil {
		deps.Constraints.Register(UniqueConstraint{
			Entity:  UserDescriptor.Name,
			Field:   "email",
			ValueOf: NormalizedField("email"),
		})
	}

	repo := NewRepository(store, UserDescriptor, func() *User { return &User{} })
	return &UserService{Service: NewService(repo, deps)}
}

// Authenticate returns the live user with the given email when plain
// matches their credential, ErrUnauthorized otherwise.
func (s *UserService) Authenticate(ctx context.Context, email, plain string) (*User, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	users, err := s.Repository().FindAll(ctx, Eq("email", email))
	if err != nil {
		return nil, err
	}
	if len(users) == 0 || !users[0].CheckPassword(plain) {
		return nil, ErrUnauthorized
	}
	return users[0], nil
}
