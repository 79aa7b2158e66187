package inventory

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ariefcatur/storefront-orders/internal/apperr"
	"github.com/ariefcatur/storefront-orders/internal/codegen"
	"github.com/ariefcatur/storefront-orders/internal/logger"
	"github.com/ariefcatur/storefront-orders/internal/validation"
)

type SizeInput struct {
	Size  string `json:"size" validate:"required"`
	Stock int    `json:"stock" validate:"gte=0,max=2147483647"`
}

type VariantInput struct {
	Name      string          `json:"name" validate:"required"`
	ColorName string          `json:"colorName" validate:"required"`
	HexCode   string          `json:"hexCode,omitempty" validate:"omitempty,hexcolor"`
	Price     decimal.Decimal `json:"price" validate:"gt=0"`
	Sizes     []SizeInput     `json:"sizes" validate:"dive"`
}

type CreateProductInput struct {
	Reference  string         `json:"product_reference" validate:"required"`
	Collection string         `json:"collection" validate:"required"`
	Brand      string         `json:"brand" validate:"required"`
	Type       string         `json:"type" validate:"required"`
	Gender     string         `json:"gender" validate:"required,oneof=hombre mujer unisex"`
	NewArrival bool           `json:"new_arrival"`
	Featured   bool           `json:"featured"`
	Variants   []VariantInput `json:"variants" validate:"required,min=1,dive"`
}

// Service is the catalog side of the inventory: creating products and
// reading their current stock. Stock itself only moves through Store.
type Service struct {
	catalog      Catalog
	log          *logger.Logger
	newCode      codegen.CandidateFunc
	codeAttempts int
	now          func() time.Time
}

type ServiceParams struct {
	Catalog      Catalog
	Logger       *logger.Logger
	NewCode      codegen.CandidateFunc // defaults to codegen.ProductCode
	CodeAttempts int
}

func NewService(p ServiceParams) *Service {
	if p.Logger == nil {
		p.Logger = logger.Nop()
	}
	if p.NewCode == nil {
		p.NewCode = codegen.ProductCode
	}
	return &Service{
		catalog:      p.Catalog,
		log:          p.Logger,
		newCode:      p.NewCode,
		codeAttempts: p.CodeAttempts,
		now:          time.Now,
	}
}

func (s *Service) CreateProduct(ctx context.Context, in CreateProductInput) (*Product, error) {
	in.Reference = strings.TrimSpace(in.Reference)
	if err := validation.Struct(in); err != nil {
		return nil, err
	}
	taken, err := s.catalog.ReferenceExists(ctx, in.Reference)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodePersistence, err, "check product reference")
	}
	if taken {
		return nil, apperr.Newf(apperr.CodeConflict, "product reference %q already exists", in.Reference)
	}

	now := s.now().UTC()
	p := &Product{
		ID:         uuid.New(),
		Reference:  in.Reference,
		Collection: in.Collection,
		Brand:      in.Brand,
		Type:       in.Type,
		Gender:     in.Gender,
		NewArrival: in.NewArrival,
		Featured:   in.Featured,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	// Codes handed out in this request are not in the catalog yet.
	assigned := map[string]bool{}
	exists := func(ctx context.Context, code string) (bool, error) {
		if assigned[code] {
			return true, nil
		}
		return s.catalog.ProductCodeExists(ctx, code)
	}

	for i, vin := range in.Variants {
		code, err := codegen.Unique(ctx, s.newCode, exists, s.codeAttempts)
		if err != nil {
			if apperr.As(err) == nil {
				err = apperr.Wrap(apperr.CodePersistence, err, "allocate product code")
			}
			return nil, err
		}
		assigned[code] = true

		v := Variant{
			ID:          uuid.New(),
			ProductCode: code,
			Name:        vin.Name,
			Color:       Color{Name: vin.ColorName, HexCode: vin.HexCode},
			Price:       vin.Price,
			Sizes:       make([]SizeStock, 0, len(vin.Sizes)),
		}
		seen := map[string]bool{}
		for _, sin := range vin.Sizes {
			if seen[sin.Size] {
				return nil, apperr.Validation("variants["+strconv.Itoa(i)+"].sizes", "duplicate size "+sin.Size)
			}
			seen[sin.Size] = true
			v.Sizes = append(v.Sizes, NewSizeStock(sin.Size, sin.Stock))
		}
		p.Variants = append(p.Variants, v)
	}

	if err := s.catalog.CreateProduct(ctx, p); err != nil {
		if apperr.As(err) == nil {
			err = apperr.Wrap(apperr.CodePersistence, err, "create product")
		}
		return nil, err
	}
	s.log.Info(s.log.WithField(ctx, "product_id", p.ID.String()), "product created")
	return p, nil
}

func (s *Service) GetProduct(ctx context.Context, id uuid.UUID) (*Product, error) {
	p, err := s.catalog.GetProduct(ctx, id)
	if err != nil {
		if apperr.As(err) == nil {
			err = apperr.Wrap(apperr.CodePersistence, err, "load product")
		}
		return nil, err
	}
	return p, nil
}

func (s *Service) ListProducts(ctx context.Context) ([]Product, error) {
	list, err := s.catalog.ListProducts(ctx)
	if err != nil {
		if apperr.As(err) == nil {
			err = apperr.Wrap(apperr.CodePersistence, err, "list products")
		}
		return nil, err
	}
	return list, nil
}
