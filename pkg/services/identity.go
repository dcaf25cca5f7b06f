package services

import (
	"context"
	"strconv"

	"go.uber.org/zap"

	"github.com/edelae/frepi/pkg/models"
	"github.com/edelae/frepi/pkg/repositories"
)

// RoleSelectionMessage is shown to users the bot cannot place.
const RoleSelectionMessage = `Olá! Bem-vindo ao Frepi!

Não encontrei seu cadastro. Você é:

1️⃣ **Restaurante** - Quero comprar produtos
2️⃣ **Fornecedor** - Quero fornecer produtos

Por favor, digite 1 ou 2 para continuar.`

// IdentityService routes incoming chat ids to a known restaurant contact,
// a known supplier, or the onboarding flow.
type IdentityService interface {
	// IdentifyUser resolves a Telegram chat id against restaurant contacts
	// and suppliers. Unknown users get IsNewUser=true.
	IdentifyUser(ctx context.Context, telegramChatID int64) (*models.UserIdentity, error)
}

type identityService struct {
	restaurants repositories.RestaurantRepository
	suppliers   repositories.SupplierRepository
	logger      *zap.Logger
}

// NewIdentityService creates a new IdentityService.
func NewIdentityService(
	restaurants repositories.RestaurantRepository,
	suppliers repositories.SupplierRepository,
	logger *zap.Logger,
) IdentityService {
	return &identityService{
		restaurants: restaurants,
		suppliers:   suppliers,
		logger:      logger.Named("identity-service"),
	}
}

var _ IdentityService = (*identityService)(nil)

func (s *identityService) IdentifyUser(ctx context.Context, telegramChatID int64) (*models.UserIdentity, error) {
	chatID := strconv.FormatInt(telegramChatID, 10)

	// Whatsapp numbers migrated from phone-based channels may carry a
	// plus prefix, so both spellings are tried.
	for _, candidate := range []string{chatID, "+" + chatID} {
		person, err := s.restaurants.GetPersonByWhatsapp(ctx, candidate)
		if err != nil {
			return nil, err
		}
		if person != nil && person.IsActive {
			return &models.UserIdentity{
				UserType:     models.UserTypeRestaurant,
				UserID:       person.ID,
				RestaurantID: person.RestaurantID,
				Name:         personName(person),
			}, nil
		}

		supplier, err := s.suppliers.GetByWhatsapp(ctx, candidate)
		if err != nil {
			return nil, err
		}
		if supplier != nil && supplier.IsActive {
			return &models.UserIdentity{
				UserType:   models.UserTypeSupplier,
				UserID:     supplier.ID,
				SupplierID: supplier.ID,
				Name:       supplierName(supplier),
			}, nil
		}
	}

	s.logger.Debug("Unknown user", zap.Int64("telegram_chat_id", telegramChatID))
	return &models.UserIdentity{
		UserType:  models.UserTypeUnknown,
		IsNewUser: true,
	}, nil
}

func personName(p *models.RestaurantPerson) string {
	if p.FirstName != nil && *p.FirstName != "" {
		return *p.FirstName
	}
	if p.FullName != nil {
		return *p.FullName
	}
	return ""
}

func supplierName(sup *models.Supplier) string {
	if sup.CompanyName != "" {
		return sup.CompanyName
	}
	if sup.PrimaryContactName != nil {
		return *sup.PrimaryContactName
	}
	return ""
}
