package orders

import (
	"context"
	"fmt"
	"sync"

	"github.com/BearBump/ShipBox/internal/errs"
	"github.com/BearBump/ShipBox/internal/models"
)

// Token is the credential a storefront or marketplace accepts for one customer.
type Token struct {
	CustomerID  uint64
	Origin      models.Origin
	AccessToken string
	// StoreID is the seller/store id on the external platform.
	StoreID string
}

type TokenProvider interface {
	Token(ctx context.Context, customerID uint64, origin models.Origin) (Token, error)
}

// Fetcher returns raw channel payloads; normalization happens elsewhere.
// A missing resource is errs.ErrNotFound, transport and auth failures are
// errs.ErrExternalFetch.
type Fetcher interface {
	FetchOrder(ctx context.Context, tok Token, resourceRef string) ([]byte, error)
	FetchAllOrders(ctx context.Context, tok Token) ([][]byte, error)
}

// StaticTokens serves credentials loaded from config.
type StaticTokens struct {
	mu     sync.RWMutex
	tokens map[string]Token
}

func NewStaticTokens(tokens []Token) *StaticTokens {
	s := &StaticTokens{tokens: make(map[string]Token, len(tokens))}
	for _, t := range tokens {
		s.Put(t)
	}
	return s
}

func tokenKey(customerID uint64, origin models.Origin) string {
	return fmt.Sprintf("%s|%d", origin, customerID)
}

func (s *StaticTokens) Put(t Token) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[tokenKey(t.CustomerID, t.Origin)] = t
}

func (s *StaticTokens) Token(ctx context.Context, customerID uint64, origin models.Origin) (Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tokens[tokenKey(customerID, origin)]
	if !ok {
		return Token{}, errs.New(errs.KindExternalFetch, "no %s credential for customer %d", origin, customerID)
	}
	return t, nil
}
