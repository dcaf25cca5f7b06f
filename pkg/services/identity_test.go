package services

import (
	"context"
	"testing"

	"go.uber.org/zap"

	"github.com/edelae/frepi/pkg/models"
	"github.com/edelae/frepi/pkg/repositories"
)

type fakeIdentityRestaurants struct {
	repositories.RestaurantRepository
	people map[string]*models.RestaurantPerson
}

func (f *fakeIdentityRestaurants) GetPersonByWhatsapp(ctx context.Context, whatsappNumber string) (*models.RestaurantPerson, error) {
	return f.people[whatsappNumber], nil
}

type fakeIdentitySuppliers struct {
	repositories.SupplierRepository
	suppliers map[string]*models.Supplier
}

func (f *fakeIdentitySuppliers) GetByWhatsapp(ctx context.Context, whatsappNumber string) (*models.Supplier, error) {
	return f.suppliers[whatsappNumber], nil
}

func newTestIdentity(people map[string]*models.RestaurantPerson, suppliers map[string]*models.Supplier) IdentityService {
	return NewIdentityService(
		&fakeIdentityRestaurants{people: people},
		&fakeIdentitySuppliers{suppliers: suppliers},
		zap.NewNop(),
	)
}

func TestIdentifyUser_RestaurantContact(t *testing.T) {
	svc := newTestIdentity(map[string]*models.RestaurantPerson{
		"123456": {ID: 7, RestaurantID: 3, FirstName: strPtr("Maria"), IsActive: true},
	}, nil)

	identity, err := svc.IdentifyUser(context.Background(), 123456)
	if err != nil {
		t.Fatalf("IdentifyUser: %v", err)
	}
	if identity.UserType != models.UserTypeRestaurant {
		t.Fatalf("expected restaurant, got %q", identity.UserType)
	}
	if identity.UserID != 7 || identity.RestaurantID != 3 {
		t.Fatalf("wrong ids: %+v", identity)
	}
	if identity.Name != "Maria" {
		t.Fatalf("expected first name, got %q", identity.Name)
	}
	if identity.IsNewUser {
		t.Fatal("known contact must not be flagged as new")
	}
}

func TestIdentifyUser_PlusPrefixFallback(t *testing.T) {
	svc := newTestIdentity(map[string]*models.RestaurantPerson{
		"+5511999887766": {ID: 2, RestaurantID: 9, FullName: strPtr("João Silva"), IsActive: true},
	}, nil)

	identity, err := svc.IdentifyUser(context.Background(), 5511999887766)
	if err != nil {
		t.Fatalf("IdentifyUser: %v", err)
	}
	if identity.UserType != models.UserTypeRestaurant || identity.RestaurantID != 9 {
		t.Fatalf("plus-prefixed number not matched: %+v", identity)
	}
	if identity.Name != "João Silva" {
		t.Fatalf("expected full name fallback, got %q", identity.Name)
	}
}

func TestIdentifyUser_Supplier(t *testing.T) {
	svc := newTestIdentity(nil, map[string]*models.Supplier{
		"555": {ID: 4, CompanyName: "Atacadão Boi Forte", IsActive: true},
	})

	identity, err := svc.IdentifyUser(context.Background(), 555)
	if err != nil {
		t.Fatalf("IdentifyUser: %v", err)
	}
	if identity.UserType != models.UserTypeSupplier || identity.SupplierID != 4 {
		t.Fatalf("supplier not matched: %+v", identity)
	}
	if identity.Name != "Atacadão Boi Forte" {
		t.Fatalf("expected company name, got %q", identity.Name)
	}
}

func TestIdentifyUser_Unknown(t *testing.T) {
	svc := newTestIdentity(map[string]*models.RestaurantPerson{
		"42": {ID: 1, RestaurantID: 1, IsActive: false},
	}, nil)

	identity, err := svc.IdentifyUser(context.Background(), 42)
	if err != nil {
		t.Fatalf("IdentifyUser: %v", err)
	}
	if identity.UserType != models.UserTypeUnknown || !identity.IsNewUser {
		t.Fatalf("inactive contact must route to onboarding: %+v", identity)
	}
}
