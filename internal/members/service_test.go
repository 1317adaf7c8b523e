package members

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/clubpay-backend/internal/audit"
	"github.com/angelmondragon/clubpay-backend/internal/fieldcrypt"
	"github.com/angelmondragon/clubpay-backend/internal/tenancy"
	"github.com/angelmondragon/clubpay-backend/pkg/db"
	"github.com/angelmondragon/clubpay-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/clubpay-backend/pkg/errors"
	"github.com/angelmondragon/clubpay-backend/pkg/pagination"
)

const (
	clubA = "clubaaaaaaaaaaaaaaaa01"
	clubB = "clubbbbbbbbbbbbbbbbb02"
)

func newTestService(t *testing.T, blindIndex bool) (*Service, *tenancy.Accessor) {
	t.Helper()
	client, err := db.OpenSQLite(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	manager, err := tenancy.NewManager(client, nil)
	require.NoError(t, err)
	for _, id := range []string{clubA, clubB} {
		require.NoError(t, manager.Provision(context.Background(), id))
	}
	accessor, err := tenancy.NewAccessor(manager)
	require.NoError(t, err)

	codec, err := fieldcrypt.New(strings.Repeat("s", 40), fieldcrypt.Options{BlindIndex: blindIndex})
	require.NoError(t, err)
	svc, err := NewService(accessor, codec)
	require.NoError(t, err)
	return svc, accessor
}

func TestNewServiceRequiresDependencies(t *testing.T) {
	_, err := NewService(nil, nil)
	require.Error(t, err)
}

func TestCreateEncryptsProtectedFields(t *testing.T) {
	svc, accessor := newTestService(t, false)
	ctx := context.Background()

	member, err := svc.Create(ctx, clubA, "admin-1", CreateInput{
		Name:     "Ana Souza",
		Email:    "Ana@Example.com",
		Phone:    "+55 11 99999-0000",
		Document: "123.456.789-09",
	})
	require.NoError(t, err)
	require.NotNil(t, member.Document)
	require.True(t, strings.HasPrefix(*member.Document, "v1:"))
	require.NotContains(t, *member.Email, "example.com")
	require.Nil(t, member.DocumentIndex)

	stored, err := svc.Get(ctx, clubA, member.ID)
	require.NoError(t, err)
	contact, err := svc.Reveal(stored)
	require.NoError(t, err)
	require.Equal(t, "ana@example.com", contact.Email)
	require.Equal(t, "+55 11 99999-0000", contact.Phone)
	require.Equal(t, "12345678909", contact.Document)

	err = accessor.WithTenant(ctx, clubA, func(s *tenancy.Scope) error {
		rows, err := audit.List(s, audit.EntityMember, member.ID.String())
		require.NoError(t, err)
		require.Len(t, rows, 1)
		require.Equal(t, "admin-1", rows[0].ActorID)
		return nil
	})
	require.NoError(t, err)
}

func TestCreateRejectsInvalidInput(t *testing.T) {
	svc, _ := newTestService(t, false)
	_, err := svc.Create(context.Background(), clubA, "admin-1", CreateInput{Email: "not-an-email"})
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))
}

func TestCreateRejectsDuplicateDocumentWithinClub(t *testing.T) {
	for _, indexed := range []bool{false, true} {
		svc, _ := newTestService(t, indexed)
		ctx := context.Background()

		_, err := svc.Create(ctx, clubA, "admin-1", CreateInput{Name: "Ana", Document: "123.456.789-09"})
		require.NoError(t, err)

		_, err = svc.Create(ctx, clubA, "admin-1", CreateInput{Name: "Bia", Document: "12345678909"})
		require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeConflict))

		_, err = svc.Create(ctx, clubB, "admin-2", CreateInput{Name: "Ana B", Document: "12345678909"})
		require.NoError(t, err, "another club may hold the same document")
	}
}

func TestFindByDocumentIsScopedToClub(t *testing.T) {
	svc, _ := newTestService(t, true)
	ctx := context.Background()

	inA, err := svc.Create(ctx, clubA, "admin-1", CreateInput{Name: "Ana", Document: "12345678909"})
	require.NoError(t, err)
	inB, err := svc.Create(ctx, clubB, "admin-2", CreateInput{Name: "Ana B", Document: "12345678909"})
	require.NoError(t, err)

	found, err := svc.FindByDocument(ctx, clubA, "123.456.789-09")
	require.NoError(t, err)
	require.Equal(t, inA.ID, found.ID)

	found, err = svc.FindByDocument(ctx, clubB, "12345678909")
	require.NoError(t, err)
	require.Equal(t, inB.ID, found.ID)

	_, err = svc.FindByDocument(ctx, clubA, "00000000000")
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeNotFound))

	_, err = svc.FindByDocument(ctx, clubA, "--")
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))
}

func TestEnrollAndEnd(t *testing.T) {
	svc, _ := newTestService(t, false)
	ctx := context.Background()

	member, err := svc.Create(ctx, clubA, "admin-1", CreateInput{Name: "Ana"})
	require.NoError(t, err)
	plan, err := svc.CreatePlan(ctx, clubA, PlanInput{Name: "Gold", PriceCents: 15000, Interval: enums.BillingIntervalMonthly, Active: true})
	require.NoError(t, err)

	_, err = svc.Enroll(ctx, clubA, member.ID, plan.ID, time.Now())
	require.NoError(t, err)
	_, err = svc.Enroll(ctx, clubA, member.ID, plan.ID, time.Now())
	require.Error(t, err, "one enrollment per member and plan")

	require.NoError(t, svc.EndEnrollment(ctx, clubA, member.ID, plan.ID, time.Now()))
	err = svc.EndEnrollment(ctx, clubA, member.ID, plan.ID, time.Now())
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeNotFound))
}

func TestCreatePlanValidation(t *testing.T) {
	svc, _ := newTestService(t, false)
	_, err := svc.CreatePlan(context.Background(), clubA, PlanInput{Name: "Bad", PriceCents: 100, Interval: "WEEKLY"})
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))

	plan, err := svc.CreatePlan(context.Background(), clubA, PlanInput{Name: "Gold", PriceCents: 100, Interval: enums.BillingIntervalMonthly})
	require.NoError(t, err)
	require.NoError(t, svc.SetPlanActive(context.Background(), clubA, plan.ID, true))

	yearly, err := svc.CreatePlan(context.Background(), clubA, PlanInput{Name: "Annual", PriceCents: 100, Interval: "yearly"})
	require.NoError(t, err)
	require.Equal(t, enums.BillingIntervalYearly, yearly.Interval)
}

func TestNormalizeDocument(t *testing.T) {
	require.Equal(t, "12345678909", NormalizeDocument("123.456.789-09"))
	require.Equal(t, "AB123", NormalizeDocument(" ab-123 "))
	require.Equal(t, "", NormalizeDocument("./-"))
}

func TestListPagesNewestFirst(t *testing.T) {
	svc, _ := newTestService(t, false)
	ctx := context.Background()

	created := map[string]bool{}
	for _, name := range []string{"Ana", "Bruno", "Carla"} {
		member, err := svc.Create(ctx, clubA, "admin-1", CreateInput{Name: name})
		require.NoError(t, err)
		created[member.ID.String()] = true
	}
	_, err := svc.Create(ctx, clubB, "admin-1", CreateInput{Name: "Other club"})
	require.NoError(t, err)

	first, err := svc.List(ctx, clubA, pagination.Params{Limit: 2})
	require.NoError(t, err)
	require.Len(t, first.Members, 2)
	require.NotEmpty(t, first.NextCursor)

	second, err := svc.List(ctx, clubA, pagination.Params{Limit: 2, Cursor: first.NextCursor})
	require.NoError(t, err)
	require.Len(t, second.Members, 1)
	require.Empty(t, second.NextCursor)

	seen := map[string]bool{}
	for _, m := range append(first.Members, second.Members...) {
		seen[m.ID.String()] = true
	}
	require.Equal(t, created, seen)
}

func TestListRejectsBadCursor(t *testing.T) {
	svc, _ := newTestService(t, false)
	_, err := svc.List(context.Background(), clubA, pagination.Params{Cursor: "%%%"})
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))
}
