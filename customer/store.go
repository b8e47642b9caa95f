// Package customer keeps provisioned customers in process memory and
// answers entitlement checks for the analysis pipeline.
package customer

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"net/mail"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrCapacity      = errors.New("customer limit reached")
	ErrDuplicate     = errors.New("customer already exists")
	ErrInvalidEmail  = errors.New("invalid email address")
	ErrNotFound      = errors.New("customer not found")
	ErrBadCredential = errors.New("invalid email or password")
)

// Customer is one provisioned account. The password hash never leaves the
// package in JSON.
type Customer struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	IssuedAt     time.Time `json:"issuedAt"`
	ExpiresAt    time.Time `json:"expiresAt"`
	passwordHash []byte
}

// Entitled reports whether now falls inside the entitlement window.
func (c Customer) Entitled(now time.Time) bool {
	return !now.Before(c.IssuedAt) && now.Before(c.ExpiresAt)
}

// Credentials are returned once at provisioning time.
type Credentials struct {
	Customer Customer `json:"customer"`
	Password string   `json:"password"`
}

// Store is safe for concurrent use.
type Store struct {
	mu       sync.RWMutex
	byID     map[string]*Customer
	byEmail  map[string]string
	limit    int
	validity time.Duration
	now      func() time.Time
}

// NewStore returns a store holding at most limit customers whose
// entitlement lasts validity from provisioning.
func NewStore(limit int, validity time.Duration) *Store {
	return &Store{
		byID:     make(map[string]*Customer),
		byEmail:  make(map[string]string),
		limit:    limit,
		validity: validity,
		now:      time.Now,
	}
}

// Provision creates a customer with a random password.
func (s *Store) Provision(email, name string) (Credentials, error) {
	addr, err := mail.ParseAddress(strings.TrimSpace(email))
	if err != nil {
		return Credentials{}, ErrInvalidEmail
	}
	key := strings.ToLower(addr.Address)

	password, err := generatePassword()
	if err != nil {
		return Credentials{}, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return Credentials{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byEmail[key]; ok {
		return Credentials{}, ErrDuplicate
	}
	if len(s.byID) >= s.limit {
		return Credentials{}, ErrCapacity
	}

	issued := s.now().UTC()
	c := &Customer{
		ID:           uuid.NewString(),
		Email:        key,
		Name:         strings.TrimSpace(name),
		IssuedAt:     issued,
		ExpiresAt:    issued.Add(s.validity),
		passwordHash: hash,
	}
	s.byID[c.ID] = c
	s.byEmail[key] = c.ID

	return Credentials{Customer: *c, Password: password}, nil
}

// Get returns a copy of the customer with id
func (s *Store) Get(id string) (Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.byID[id]
	if !ok {
		return Customer{}, ErrNotFound
	}
	return *c, nil
}

// IsEntitled reports whether the caller currently holds an entitlement.
// Unknown callers are not entitled.
func (s *Store) IsEntitled(callerID string) bool {
	c, err := s.Get(callerID)
	if err != nil {
		return false
	}
	return c.Entitled(s.now())
}

// Authenticate verifies an email and password pair.
func (s *Store) Authenticate(email, password string) (Customer, error) {
	s.mu.RLock()
	id, ok := s.byEmail[strings.ToLower(strings.TrimSpace(email))]
	var c Customer
	if ok {
		c = *s.byID[id]
	}
	s.mu.RUnlock()

	if !ok {
		return Customer{}, ErrBadCredential
	}
	if err := bcrypt.CompareHashAndPassword(c.passwordHash, []byte(password)); err != nil {
		return Customer{}, ErrBadCredential
	}
	return c, nil
}

// Len returns the number of provisioned customers
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

func generatePassword() (string, error) {
	buf := make([]byte, 12)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
