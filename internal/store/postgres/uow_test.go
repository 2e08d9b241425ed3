package postgres

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/alanyoungcy/betledger/internal/domain"
)

func TestMapErr(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		want      error
		retryable bool
	}{
		{"no rows", pgx.ErrNoRows, domain.ErrNotFound, false},
		{"serialization failure", &pgconn.PgError{Code: "40001", Message: "could not serialize"}, domain.ErrConflict, true},
		{"deadlock", &pgconn.PgError{Code: "40P01"}, domain.ErrConflict, true},
		{"unique violation", fmt.Errorf("exec: %w", &pgconn.PgError{Code: "23505"}), domain.ErrConflict, true},
		{"check violation", &pgconn.PgError{Code: "23514"}, domain.ErrPersistence, false},
		{"network", errors.New("connection reset"), domain.ErrPersistence, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := mapErr("op", tt.err)
			if !errors.Is(got, tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
			if domain.IsRetryable(got) != tt.retryable {
				t.Errorf("retryable: got %v, want %v", domain.IsRetryable(got), tt.retryable)
			}
		})
	}
	if mapErr("op", nil) != nil {
		t.Error("nil error should stay nil")
	}
}

func TestMapErr_ConflictIsPersistence(t *testing.T) {
	err := mapErr("commit", &pgconn.PgError{Code: "40001"})
	if !errors.Is(err, domain.ErrPersistence) {
		t.Errorf("conflict should also match ErrPersistence: %v", err)
	}
}

func TestParseIsolation(t *testing.T) {
	tests := []struct {
		in   string
		want pgx.TxIsoLevel
		ok   bool
	}{
		{"", pgx.RepeatableRead, true},
		{"repeatable_read", pgx.RepeatableRead, true},
		{"REPEATABLE READ", pgx.RepeatableRead, true},
		{"serializable", pgx.Serializable, true},
		{"read_committed", "", false},
	}
	for _, tt := range tests {
		got, err := ParseIsolation(tt.in)
		if (err == nil) != tt.ok {
			t.Errorf("%q: err %v, want ok=%v", tt.in, err, tt.ok)
			continue
		}
		if got != tt.want {
			t.Errorf("%q: got %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestDSN(t *testing.T) {
	got := DSN(ClientConfig{Host: "db", Database: "betledger", User: "u", Password: "p"})
	want := "postgres://u:p@db:5432/betledger?sslmode=disable"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
	if got := DSN(ClientConfig{DSN: "postgres://x", Host: "ignored"}); got != "postgres://x" {
		t.Errorf("explicit DSN: got %q", got)
	}
}

func TestParseAmount(t *testing.T) {
	v, err := parseAmount("123456789012345678901234567890")
	if err != nil {
		t.Fatalf("parseAmount: %v", err)
	}
	if v.String() != "123456789012345678901234567890" {
		t.Errorf("got %s", v)
	}
	if _, err := parseAmount("1.5"); !errors.Is(err, domain.ErrPersistence) {
		t.Errorf("fractional: got %v, want ErrPersistence", err)
	}
}
