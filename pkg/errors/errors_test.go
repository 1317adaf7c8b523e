package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
)

func TestMetadataForKnownCodes(t *testing.T) {
	tests := []struct {
		code      Code
		status    int
		publicMsg string
		retryable bool
		detailsOK bool
	}{
		{code: CodeValidation, status: http.StatusBadRequest, publicMsg: "validation failed", detailsOK: true},
		{code: CodeUnauthorized, status: http.StatusUnauthorized, publicMsg: "invalid signature"},
		{code: CodeNotFound, status: http.StatusNotFound, publicMsg: "resource not found"},
		{code: CodeConflict, status: http.StatusConflict, publicMsg: "conflict detected"},
		{code: CodeStateConflict, status: http.StatusUnprocessableEntity, publicMsg: "state transition disallowed", detailsOK: true},
		{code: CodeInternal, status: http.StatusInternalServerError, publicMsg: "internal server error", retryable: true},
		{code: CodeDependency, status: http.StatusServiceUnavailable, publicMsg: "dependency unavailable", retryable: true, detailsOK: true},
		{code: CodeGateway, status: http.StatusBadGateway, publicMsg: "payment gateway error", retryable: true, detailsOK: true},
		{code: CodeNoActivePlan, status: http.StatusUnprocessableEntity, publicMsg: "club has no active plans", retryable: true, detailsOK: true},
	}

	for _, tt := range tests {
		meta := MetadataFor(tt.code)
		if meta.HTTPStatus != tt.status {
			t.Fatalf("code %s expected status %d got %d", tt.code, tt.status, meta.HTTPStatus)
		}
		if meta.PublicMessage != tt.publicMsg {
			t.Fatalf("code %s expected public message %q got %q", tt.code, tt.publicMsg, meta.PublicMessage)
		}
		if meta.Retryable != tt.retryable {
			t.Fatalf("code %s expected retryable %v got %v", tt.code, tt.retryable, meta.Retryable)
		}
		if meta.DetailsAllowed != tt.detailsOK {
			t.Fatalf("code %s expected details allowed %v got %v", tt.code, tt.detailsOK, meta.DetailsAllowed)
		}
	}
}

func TestMetadataForUnknownCodeDefaultsToInternal(t *testing.T) {
	meta := MetadataFor("SOMETHING_UNKNOWN")
	if meta.HTTPStatus != http.StatusInternalServerError {
		t.Fatalf("expected internal status, got %d", meta.HTTPStatus)
	}
}

func TestErrorConstructors(t *testing.T) {
	base := New(CodeValidation, "missing foo")
	if base.Code() != CodeValidation {
		t.Fatalf("expected validation code, got %s", base.Code())
	}
	if base.Message() != "missing foo" {
		t.Fatalf("unexpected message %q", base.Message())
	}
	if base.Details() != nil {
		t.Fatalf("details should be nil by default")
	}

	base.WithDetails(map[string]any{"field": "foo"})
	if base.Details() == nil {
		t.Fatalf("details should be preserved")
	}

	cause := stdErrors.New("boom")
	wrapped := Wrap(CodeConflict, cause, "ctx")
	if !stdErrors.Is(wrapped, cause) {
		t.Fatalf("Wrap did not preserve cause")
	}
	if wrapped.Code() != CodeConflict {
		t.Fatalf("unexpected code %s", wrapped.Code())
	}
}

func TestAsReturnsTypedError(t *testing.T) {
	err := fmt.Errorf("outer: %w", New(CodeNotFound, "no club"))
	typed := As(err)
	if typed == nil || typed.Code() != CodeNotFound {
		t.Fatalf("expected typed not found error, got %v", typed)
	}
	if As(stdErrors.New("plain")) != nil {
		t.Fatal("plain errors should not be typed")
	}
}

func TestHasCodeWalksWrappedChain(t *testing.T) {
	inner := New(CodeNoActivePlan, "no plans")
	outer := Wrap(CodeInternal, fmt.Errorf("generate: %w", inner), "job failed")

	if !HasCode(outer, CodeNoActivePlan) {
		t.Fatal("expected inner code to be found")
	}
	if HasCode(outer, CodeGateway) {
		t.Fatal("unexpected gateway code")
	}
}

func TestIsRetryable(t *testing.T) {
	if IsRetryable(nil) {
		t.Fatal("nil error is not retryable")
	}
	if !IsRetryable(stdErrors.New("network blip")) {
		t.Fatal("untyped errors should be retried")
	}
	if IsRetryable(New(CodeValidation, "bad payload")) {
		t.Fatal("validation errors are permanent")
	}
	if !IsRetryable(New(CodeNoActivePlan, "no plans")) {
		t.Fatal("no active plan is retryable by default")
	}
	if IsRetryable(New(CodeNoActivePlan, "no plans").Permanent()) {
		t.Fatal("permanent flag should override code metadata")
	}
}

func TestDumpCapturesPostgresSchema(t *testing.T) {
	pgErr := &pgconn.PgError{Code: "23505", SchemaName: "club_abc", TableName: "payments", ConstraintName: "payments_gateway_transaction_id_key"}
	err := Wrap(CodeDependency, fmt.Errorf("insert: %w", pgErr), "create payment")

	dump := Dump(err)
	require.Equal(t, CodeDependency, dump.Code)
	require.Equal(t, "club_abc", dump.PGSchema)
	require.Equal(t, "23505", dump.PGCode)

	fields := dump.Fields()
	require.Equal(t, "payments_gateway_transaction_id_key", fields["pg_constraint"])
	require.NotContains(t, fields, "pg_detail")
	require.Len(t, fields["error_chain"], len(dump.Chain))
}

func TestDumpNil(t *testing.T) {
	require.Empty(t, Dump(nil).Fields())
}
