// Package services implements the onboarding pipeline: staging, analysis,
// commit, engagement scoring, drip scheduling and the conversational agent.
package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/edelae/frepi/pkg/apperrors"
	"github.com/edelae/frepi/pkg/llm"
	"github.com/edelae/frepi/pkg/models"
	"github.com/edelae/frepi/pkg/repositories"
)

// SessionSummary is the compact progress view of a staging session, used by
// the agent to answer "where are we" questions and build the final recap.
type SessionSummary struct {
	SessionID       uuid.UUID            `json:"session_id"`
	Status          models.SessionStatus `json:"status"`
	Phase           models.SessionPhase  `json:"phase"`
	RestaurantName  *string              `json:"restaurant_name,omitempty"`
	City            *string              `json:"city,omitempty"`
	PhotosUploaded  int                  `json:"photos_uploaded"`
	SupplierCount   int                  `json:"supplier_count"`
	ProductCount    int                  `json:"product_count"`
	PriceCount      int                  `json:"price_count"`
	PreferenceCount int                  `json:"preference_count"`
}

// StagingService owns the onboarding scratch space: sessions and everything
// staged into them before commit.
type StagingService interface {
	// GetOrCreateSession returns the active session for a chat, creating one
	// if none exists.
	GetOrCreateSession(ctx context.Context, chatID int64) (*models.OnboardingSession, error)

	// GetSession retrieves a session by id. Unknown ids return
	// apperrors.ErrSessionNotFound.
	GetSession(ctx context.Context, sessionID uuid.UUID) (*models.OnboardingSession, error)

	// GetActiveSession returns the in-progress session for a chat, nil if none.
	GetActiveSession(ctx context.Context, chatID int64) (*models.OnboardingSession, error)

	// SaveRestaurantBasicInfo stores the name and city and advances the
	// session to the invoice upload phase.
	SaveRestaurantBasicInfo(ctx context.Context, sessionID uuid.UUID, name, city string) error

	// StageSupplier stages a supplier, deduplicating by company name within
	// the session and matching against production suppliers (tax id exact,
	// then fuzzy name).
	StageSupplier(ctx context.Context, supplier *models.StagedSupplier) (*models.StagedSupplier, error)

	// StageProduct stages a product. Products with a name already staged in
	// the session (case-insensitive containment) reuse the existing row.
	StageProduct(ctx context.Context, product *models.StagedProduct) (*models.StagedProduct, error)

	// StagePrice stages one observed price point.
	StagePrice(ctx context.Context, price *models.StagedPrice) error

	// StagePrices stages a batch of price points.
	StagePrices(ctx context.Context, prices []*models.StagedPrice) error

	// StagePreference stages a typed preference.
	StagePreference(ctx context.Context, pref *models.StagedPreference) error

	// GetStagedSuppliers returns the session's staged suppliers.
	GetStagedSuppliers(ctx context.Context, sessionID uuid.UUID) ([]*models.StagedSupplier, error)

	// GetStagedProducts returns the session's staged products.
	GetStagedProducts(ctx context.Context, sessionID uuid.UUID) ([]*models.StagedProduct, error)

	// GetStagedPreferences returns the session's staged preferences.
	GetStagedPreferences(ctx context.Context, sessionID uuid.UUID) ([]*models.StagedPreference, error)

	// FindStagedProduct finds a staged product by name fragment.
	FindStagedProduct(ctx context.Context, sessionID uuid.UUID, fragment string) (*models.StagedProduct, error)

	// SetPriorityProducts clears existing priority flags and marks the given
	// products in rank order.
	SetPriorityProducts(ctx context.Context, sessionID uuid.UUID, productIDs []uuid.UUID) error

	// UpdateSessionPhase advances the conversation phase.
	UpdateSessionPhase(ctx context.Context, sessionID uuid.UUID, phase models.SessionPhase) error

	// UpdateSessionStatus changes the session lifecycle status.
	UpdateSessionStatus(ctx context.Context, sessionID uuid.UUID, status models.SessionStatus) error

	// SavePhotoMetadata registers an uploaded invoice photo.
	SavePhotoMetadata(ctx context.Context, photo *models.InvoicePhoto) error

	// UpdatePhotoParsingResult records the vision parse outcome for a photo.
	UpdatePhotoParsingResult(ctx context.Context, photoID uuid.UUID, invoice *llm.ParsedInvoice, parseErr error) error

	// GetInvoicePhotos returns the session's uploaded photos in order.
	GetInvoicePhotos(ctx context.Context, sessionID uuid.UUID) ([]*models.InvoicePhoto, error)

	// RecordEngagementChoice stores the depth choice (1, 2 or 3).
	RecordEngagementChoice(ctx context.Context, sessionID uuid.UUID, choice int) error

	// GetSessionSummary builds the progress view.
	GetSessionSummary(ctx context.Context, sessionID uuid.UUID) (*SessionSummary, error)

	// RefreshStagedCounts re-reads staging counters onto the session row.
	RefreshStagedCounts(ctx context.Context, sessionID uuid.UUID) error
}

// Match confidences for supplier dedup against the production table.
const (
	taxIDMatchConfidence     = 1.0
	fuzzyNameMatchConfidence = 0.85
)

type stagingService struct {
	sessions       repositories.SessionRepository
	stagedSupplier repositories.StagedSupplierRepository
	stagedProduct  repositories.StagedProductRepository
	stagedPrice    repositories.StagedPriceRepository
	stagedPref     repositories.StagedPreferenceRepository
	photos         repositories.InvoicePhotoRepository
	suppliers      repositories.SupplierRepository
	logger         *zap.Logger
}

// NewStagingService creates a new StagingService.
func NewStagingService(
	sessions repositories.SessionRepository,
	stagedSupplier repositories.StagedSupplierRepository,
	stagedProduct repositories.StagedProductRepository,
	stagedPrice repositories.StagedPriceRepository,
	stagedPref repositories.StagedPreferenceRepository,
	photos repositories.InvoicePhotoRepository,
	suppliers repositories.SupplierRepository,
	logger *zap.Logger,
) StagingService {
	return &stagingService{
		sessions:       sessions,
		stagedSupplier: stagedSupplier,
		stagedProduct:  stagedProduct,
		stagedPrice:    stagedPrice,
		stagedPref:     stagedPref,
		photos:         photos,
		suppliers:      suppliers,
		logger:         logger.Named("staging-service"),
	}
}

var _ StagingService = (*stagingService)(nil)

func (s *stagingService) GetOrCreateSession(ctx context.Context, chatID int64) (*models.OnboardingSession, error) {
	session, err := s.sessions.GetActiveByChatID(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("get active session: %w", err)
	}
	if session != nil {
		return session, nil
	}

	session = &models.OnboardingSession{TelegramChatID: chatID}
	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	s.logger.Info("Created onboarding session",
		zap.String("session_id", session.ID.String()),
		zap.Int64("chat_id", chatID))

	return session, nil
}

func (s *stagingService) GetSession(ctx context.Context, sessionID uuid.UUID) (*models.OnboardingSession, error) {
	session, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, apperrors.ErrSessionNotFound
	}
	return session, nil
}

func (s *stagingService) GetActiveSession(ctx context.Context, chatID int64) (*models.OnboardingSession, error) {
	return s.sessions.GetActiveByChatID(ctx, chatID)
}

func (s *stagingService) SaveRestaurantBasicInfo(ctx context.Context, sessionID uuid.UUID, name, city string) error {
	if name == "" {
		return fmt.Errorf("%w: restaurant name is required", apperrors.ErrInvalidInput)
	}

	if err := s.sessions.UpdateBasicInfo(ctx, sessionID, name, city); err != nil {
		return err
	}
	return s.sessions.UpdatePhase(ctx, sessionID, models.PhaseInvoicesUpload)
}

func (s *stagingService) StageSupplier(ctx context.Context, supplier *models.StagedSupplier) (*models.StagedSupplier, error) {
	if supplier.CompanyName == "" {
		return nil, fmt.Errorf("%w: supplier company name is required", apperrors.ErrInvalidInput)
	}

	// Match against production before staging so commit can reuse the row.
	s.matchProductionSupplier(ctx, supplier)

	staged, err := s.stagedSupplier.Create(ctx, supplier)
	if err != nil {
		return nil, err
	}
	return staged, nil
}

// matchProductionSupplier looks the supplier up in the production table:
// tax-id exact match first, case-insensitive name match second.
func (s *stagingService) matchProductionSupplier(ctx context.Context, supplier *models.StagedSupplier) {
	if supplier.CNPJ != nil && *supplier.CNPJ != "" {
		existing, err := s.suppliers.GetByTaxNumber(ctx, *supplier.CNPJ)
		if err != nil {
			s.logger.Warn("Supplier tax-number lookup failed", zap.Error(err))
		} else if existing != nil {
			conf := taxIDMatchConfidence
			supplier.MatchedSupplierID = &existing.ID
			supplier.MatchConfidence = &conf
			return
		}
	}

	existing, err := s.suppliers.GetByNameFuzzy(ctx, supplier.CompanyName)
	if err != nil {
		s.logger.Warn("Supplier name lookup failed", zap.Error(err))
		return
	}
	if existing != nil {
		conf := fuzzyNameMatchConfidence
		supplier.MatchedSupplierID = &existing.ID
		supplier.MatchConfidence = &conf
	}
}

func (s *stagingService) StageProduct(ctx context.Context, product *models.StagedProduct) (*models.StagedProduct, error) {
	if product.ProductName == "" {
		return nil, fmt.Errorf("%w: product name is required", apperrors.ErrInvalidInput)
	}

	existing, err := s.stagedProduct.FindByNameContains(ctx, product.SessionID, product.ProductName)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	if err := s.stagedProduct.Create(ctx, product); err != nil {
		return nil, err
	}
	return product, nil
}

func (s *stagingService) StagePrice(ctx context.Context, price *models.StagedPrice) error {
	return s.stagedPrice.Create(ctx, price)
}

func (s *stagingService) StagePrices(ctx context.Context, prices []*models.StagedPrice) error {
	return s.stagedPrice.CreateBatch(ctx, prices)
}

func (s *stagingService) StagePreference(ctx context.Context, pref *models.StagedPreference) error {
	if !models.IsValidPreferenceType(pref.PreferenceType) {
		return fmt.Errorf("%w: preference type %q", apperrors.ErrInvalidInput, pref.PreferenceType)
	}
	return s.stagedPref.Create(ctx, pref)
}

func (s *stagingService) GetStagedSuppliers(ctx context.Context, sessionID uuid.UUID) ([]*models.StagedSupplier, error) {
	return s.stagedSupplier.ListBySession(ctx, sessionID)
}

func (s *stagingService) GetStagedProducts(ctx context.Context, sessionID uuid.UUID) ([]*models.StagedProduct, error) {
	return s.stagedProduct.ListBySession(ctx, sessionID)
}

func (s *stagingService) GetStagedPreferences(ctx context.Context, sessionID uuid.UUID) ([]*models.StagedPreference, error) {
	return s.stagedPref.ListBySession(ctx, sessionID)
}

func (s *stagingService) FindStagedProduct(ctx context.Context, sessionID uuid.UUID, fragment string) (*models.StagedProduct, error) {
	return s.stagedProduct.FindByNameContains(ctx, sessionID, fragment)
}

func (s *stagingService) SetPriorityProducts(ctx context.Context, sessionID uuid.UUID, productIDs []uuid.UUID) error {
	return s.stagedProduct.SetPriorities(ctx, sessionID, productIDs)
}

func (s *stagingService) UpdateSessionPhase(ctx context.Context, sessionID uuid.UUID, phase models.SessionPhase) error {
	if !models.IsValidSessionPhase(phase) {
		return fmt.Errorf("%w: session phase %q", apperrors.ErrInvalidInput, phase)
	}
	return s.sessions.UpdatePhase(ctx, sessionID, phase)
}

func (s *stagingService) UpdateSessionStatus(ctx context.Context, sessionID uuid.UUID, status models.SessionStatus) error {
	if !models.IsValidSessionStatus(status) {
		return fmt.Errorf("%w: session status %q", apperrors.ErrInvalidInput, status)
	}
	return s.sessions.UpdateStatus(ctx, sessionID, status)
}

func (s *stagingService) SavePhotoMetadata(ctx context.Context, photo *models.InvoicePhoto) error {
	if err := s.photos.Create(ctx, photo); err != nil {
		return err
	}
	return s.sessions.IncrementPhotosUploaded(ctx, photo.SessionID)
}

func (s *stagingService) UpdatePhotoParsingResult(ctx context.Context, photoID uuid.UUID, invoice *llm.ParsedInvoice, parseErr error) error {
	outcome := repositories.ParseOutcome{}

	switch {
	case parseErr != nil:
		msg := parseErr.Error()
		outcome.Error = &msg
	case invoice == nil || invoice.IsEmpty():
		msg := "no invoice data extracted"
		outcome.Error = &msg
	default:
		outcome.Success = true
		if invoice.SupplierName != "" {
			name := invoice.SupplierName
			outcome.SupplierName = &name
		}
		count := len(invoice.Items)
		outcome.ItemCount = &count
		if invoice.TotalAmount > 0 {
			total := invoice.TotalAmount
			outcome.TotalAmount = &total
		}
	}

	return s.photos.UpdateParseOutcome(ctx, photoID, outcome)
}

func (s *stagingService) GetInvoicePhotos(ctx context.Context, sessionID uuid.UUID) ([]*models.InvoicePhoto, error) {
	return s.photos.ListBySession(ctx, sessionID)
}

func (s *stagingService) RecordEngagementChoice(ctx context.Context, sessionID uuid.UUID, choice int) error {
	if choice < 1 || choice > 3 {
		return fmt.Errorf("%w: engagement choice must be 1, 2 or 3", apperrors.ErrInvalidInput)
	}
	return s.sessions.SetEngagementChoice(ctx, sessionID, choice)
}

func (s *stagingService) GetSessionSummary(ctx context.Context, sessionID uuid.UUID) (*SessionSummary, error) {
	session, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	supplierCount, err := s.stagedSupplier.CountBySession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	productCount, err := s.stagedProduct.CountBySession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	priceCount, err := s.stagedPrice.CountBySession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	prefCount, err := s.stagedPref.CountBySession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	return &SessionSummary{
		SessionID:       session.ID,
		Status:          session.Status,
		Phase:           session.CurrentPhase,
		RestaurantName:  session.RestaurantName,
		City:            session.City,
		PhotosUploaded:  session.PhotosUploaded,
		SupplierCount:   supplierCount,
		ProductCount:    productCount,
		PriceCount:      priceCount,
		PreferenceCount: prefCount,
	}, nil
}

func (s *stagingService) RefreshStagedCounts(ctx context.Context, sessionID uuid.UUID) error {
	products, err := s.stagedProduct.CountBySession(ctx, sessionID)
	if err != nil {
		return err
	}
	suppliers, err := s.stagedSupplier.CountBySession(ctx, sessionID)
	if err != nil {
		return err
	}
	prefs, err := s.stagedPref.CountBySession(ctx, sessionID)
	if err != nil {
		return err
	}
	return s.sessions.UpdateStagedCounts(ctx, sessionID, products, suppliers, prefs)
}
