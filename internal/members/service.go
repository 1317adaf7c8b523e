package members

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/clubpay-backend/internal/audit"
	"github.com/angelmondragon/clubpay-backend/internal/fieldcrypt"
	"github.com/angelmondragon/clubpay-backend/internal/tenancy"
	"github.com/angelmondragon/clubpay-backend/pkg/db/models"
	"github.com/angelmondragon/clubpay-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/clubpay-backend/pkg/errors"
	"github.com/angelmondragon/clubpay-backend/pkg/pagination"
)

var documentLookup = fieldcrypt.Lookup{
	Table:       tenancy.TableMembers,
	Column:      "document",
	IndexColumn: "document_index",
}

var validate = validator.New()

// CreateInput carries plaintext member data. Contact and document values are
// encrypted before they reach storage.
type CreateInput struct {
	Name              string `validate:"required,max=200"`
	Email             string `validate:"omitempty,email"`
	Phone             string `validate:"omitempty,max=32"`
	Document          string `validate:"omitempty,max=32"`
	GatewayCustomerID string
	GatewayCardID     string
}

// Contact is the decrypted view of a member's protected fields.
type Contact struct {
	Email    string
	Phone    string
	Document string
}

// Service manages members inside club partitions.
type Service struct {
	accessor *tenancy.Accessor
	codec    *fieldcrypt.Codec
}

func NewService(accessor *tenancy.Accessor, codec *fieldcrypt.Codec) (*Service, error) {
	if accessor == nil {
		return nil, fmt.Errorf("tenant accessor required")
	}
	if codec == nil {
		return nil, fmt.Errorf("field codec required")
	}
	return &Service{accessor: accessor, codec: codec}, nil
}

// Create stores a member with encrypted contact fields. Documents are unique
// per club; the check is a lookup because ciphertext cannot carry a constraint.
func (s *Service) Create(ctx context.Context, tenantID, actorID string, input CreateInput) (*models.Member, error) {
	if err := validate.Struct(input); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid member")
	}
	document := NormalizeDocument(input.Document)

	member := &models.Member{
		ID:                uuid.New(),
		Name:              strings.TrimSpace(input.Name),
		Status:            enums.MemberStatusActive,
		GatewayCustomerID: optional(input.GatewayCustomerID),
		GatewayCardID:     optional(input.GatewayCardID),
	}
	var err error
	if member.Email, err = s.codec.EncryptPtr(strings.ToLower(strings.TrimSpace(input.Email))); err != nil {
		return nil, err
	}
	if member.Phone, err = s.codec.EncryptPtr(strings.TrimSpace(input.Phone)); err != nil {
		return nil, err
	}
	if member.Document, err = s.codec.EncryptPtr(document); err != nil {
		return nil, err
	}
	member.DocumentIndex = s.codec.BlindIndexPtr(document)

	err = s.accessor.WithTenant(ctx, tenantID, func(scope *tenancy.Scope) error {
		if document != "" {
			_, found, err := s.codec.FindByPlaintext(scope, documentLookup, document)
			if err != nil {
				return err
			}
			if found {
				return pkgerrors.New(pkgerrors.CodeConflict, "document already registered")
			}
		}
		return scope.Transaction(func(tx *tenancy.Scope) error {
			if err := tx.Table(tenancy.TableMembers).Create(member).Error; err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create member")
			}
			return audit.Record(tx, audit.Entry{
				ActorID:    actorID,
				Action:     audit.ActionMemberCreated,
				EntityType: audit.EntityMember,
				EntityID:   member.ID.String(),
			})
		})
	})
	if err != nil {
		return nil, err
	}
	return member, nil
}

// Get loads a member by id.
func (s *Service) Get(ctx context.Context, tenantID string, memberID uuid.UUID) (*models.Member, error) {
	return tenancy.Query(ctx, s.accessor, tenantID, func(scope *tenancy.Scope) (*models.Member, error) {
		return getMember(scope, memberID)
	})
}

// FindByDocument returns the member whose decrypted document matches.
func (s *Service) FindByDocument(ctx context.Context, tenantID, document string) (*models.Member, error) {
	document = NormalizeDocument(document)
	if document == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "document required")
	}
	return tenancy.Query(ctx, s.accessor, tenantID, func(scope *tenancy.Scope) (*models.Member, error) {
		id, found, err := s.codec.FindByPlaintext(scope, documentLookup, document)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup member by document")
		}
		if !found {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "member not found")
		}
		memberID, err := uuid.Parse(id)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "stored member id")
		}
		return getMember(scope, memberID)
	})
}

// Reveal decrypts a member's protected fields.
func (s *Service) Reveal(member *models.Member) (Contact, error) {
	var (
		out Contact
		err error
	)
	if out.Email, err = s.decrypt(member.Email); err != nil {
		return Contact{}, err
	}
	if out.Phone, err = s.decrypt(member.Phone); err != nil {
		return Contact{}, err
	}
	if out.Document, err = s.decrypt(member.Document); err != nil {
		return Contact{}, err
	}
	return out, nil
}

// Enroll starts a plan for a member. A member enrolls in a plan at most once.
func (s *Service) Enroll(ctx context.Context, tenantID string, memberID, planID uuid.UUID, startedAt time.Time) (*models.MemberPlan, error) {
	enrollment := &models.MemberPlan{
		ID:        uuid.New(),
		MemberID:  memberID,
		PlanID:    planID,
		StartedAt: startedAt.UTC(),
	}
	err := s.accessor.WithTenant(ctx, tenantID, func(scope *tenancy.Scope) error {
		if err := scope.Table(tenancy.TableMemberPlans).Create(enrollment).Error; err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "enroll member")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return enrollment, nil
}

// EndEnrollment stops future billing for the enrollment.
func (s *Service) EndEnrollment(ctx context.Context, tenantID string, memberID, planID uuid.UUID, endedAt time.Time) error {
	return s.accessor.WithTenant(ctx, tenantID, func(scope *tenancy.Scope) error {
		res := scope.Table(tenancy.TableMemberPlans).
			Where("member_id = ? AND plan_id = ? AND ended_at IS NULL", memberID, planID).
			Update("ended_at", endedAt.UTC())
		if res.Error != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "end enrollment")
		}
		if res.RowsAffected == 0 {
			return pkgerrors.New(pkgerrors.CodeNotFound, "active enrollment not found")
		}
		return nil
	})
}

func (s *Service) decrypt(value *string) (string, error) {
	if value == nil {
		return "", nil
	}
	return s.codec.Decrypt(*value)
}

func getMember(scope *tenancy.Scope, id uuid.UUID) (*models.Member, error) {
	var member models.Member
	err := scope.Table(tenancy.TableMembers).Where("id = ?", id).Take(&member).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "member not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load member")
	}
	return &member, nil
}

// NormalizeDocument keeps letters and digits, upper-cased, so "123.456.789-09"
// and "12345678909" match.
func NormalizeDocument(value string) string {
	var b strings.Builder
	for _, r := range value {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToUpper(r))
		}
	}
	return b.String()
}

func optional(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}

// Page is one slice of a club's members, newest first.
type Page struct {
	Members    []models.Member
	NextCursor string
}

// List pages through a club's members by (created_at, id) descending.
func (s *Service) List(ctx context.Context, tenantID string, params pagination.Params) (*Page, error) {
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	limit := pagination.NormalizeLimit(params.Limit)

	return tenancy.Query(ctx, s.accessor, tenantID, func(scope *tenancy.Scope) (*Page, error) {
		q := scope.Table(tenancy.TableMembers).Order("created_at DESC, id DESC")
		if cursor != nil {
			q = q.Where("created_at < ? OR (created_at = ? AND id < ?)", cursor.CreatedAt, cursor.CreatedAt, cursor.ID)
		}
		var rows []models.Member
		if err := q.Limit(pagination.LimitWithBuffer(limit)).Find(&rows).Error; err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list members")
		}
		page := &Page{Members: rows}
		if len(rows) > limit {
			page.Members = rows[:limit]
			last := page.Members[limit-1]
			page.NextCursor = pagination.EncodeCursor(pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
		}
		return page, nil
	})
}
