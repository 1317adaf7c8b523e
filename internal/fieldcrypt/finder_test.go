package fieldcrypt

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/clubpay-backend/internal/tenancy"
	"github.com/angelmondragon/clubpay-backend/pkg/db"
	"github.com/angelmondragon/clubpay-backend/pkg/db/models"
	"github.com/angelmondragon/clubpay-backend/pkg/enums"
)

const (
	clubA = "clubaaaaaaaaaaaaaaaa01"
	clubB = "clubbbbbbbbbbbbbbbbb02"
)

var documentLookup = Lookup{
	Table:       tenancy.TableMembers,
	Column:      "document",
	IndexColumn: "document_index",
}

func newTestAccessor(t *testing.T) *tenancy.Accessor {
	t.Helper()
	client, err := db.OpenSQLite(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	manager, err := tenancy.NewManager(client, nil)
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, manager.Provision(ctx, clubA))
	require.NoError(t, manager.Provision(ctx, clubB))

	accessor, err := tenancy.NewAccessor(manager)
	require.NoError(t, err)
	return accessor
}

func insertMember(t *testing.T, accessor *tenancy.Accessor, codec *Codec, tenantID, document string) uuid.UUID {
	t.Helper()
	enc, err := codec.EncryptPtr(document)
	require.NoError(t, err)
	member := models.Member{
		ID:            uuid.New(),
		Name:          "Member " + document,
		Document:      enc,
		DocumentIndex: codec.BlindIndexPtr(document),
		Status:        enums.MemberStatusActive,
	}
	err = accessor.WithTenant(context.Background(), tenantID, func(s *tenancy.Scope) error {
		return s.Table(tenancy.TableMembers).Create(&member).Error
	})
	require.NoError(t, err)
	return member.ID
}

func find(t *testing.T, accessor *tenancy.Accessor, codec *Codec, tenantID, document string) (string, bool) {
	t.Helper()
	var (
		id string
		ok bool
	)
	err := accessor.WithTenant(context.Background(), tenantID, func(s *tenancy.Scope) error {
		var err error
		id, ok, err = codec.FindByPlaintext(s, documentLookup, document)
		return err
	})
	require.NoError(t, err)
	return id, ok
}

func TestFindByPlaintextScan(t *testing.T) {
	accessor := newTestAccessor(t)
	codec := newTestCodec(t, false)

	for i := 0; i < 5; i++ {
		insertMember(t, accessor, codec, clubA, fmt.Sprintf("0000000000%d", i))
	}
	want := insertMember(t, accessor, codec, clubA, "12345678909")

	id, ok := find(t, accessor, codec, clubA, "12345678909")
	require.True(t, ok)
	require.Equal(t, want.String(), id)

	_, ok = find(t, accessor, codec, clubA, "99999999999")
	require.False(t, ok)

	_, ok = find(t, accessor, codec, clubA, "")
	require.False(t, ok)
}

func TestFindByPlaintextDoesNotCrossClubs(t *testing.T) {
	accessor := newTestAccessor(t)
	codec := newTestCodec(t, true)

	insertMember(t, accessor, codec, clubA, "12345678909")

	_, ok := find(t, accessor, codec, clubB, "12345678909")
	require.False(t, ok)
	_, ok = find(t, accessor, codec, clubA, "12345678909")
	require.True(t, ok)
}

func TestFindByPlaintextIndexFallsBackForUnindexedRows(t *testing.T) {
	accessor := newTestAccessor(t)
	legacy := newTestCodec(t, false)
	indexed := newTestCodec(t, true)

	old := insertMember(t, accessor, legacy, clubA, "11111111111")
	fresh := insertMember(t, accessor, indexed, clubA, "22222222222")

	id, ok := find(t, accessor, indexed, clubA, "22222222222")
	require.True(t, ok)
	require.Equal(t, fresh.String(), id)

	id, ok = find(t, accessor, indexed, clubA, "11111111111")
	require.True(t, ok)
	require.Equal(t, old.String(), id)
}
