package domain_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/dchirkin/lessonlive/internal/domain"
)

func TestNewParticipant(t *testing.T) {
	p, err := domain.NewParticipant("p-1", "Alice", domain.RoleOwner)
	if err != nil {
		t.Fatal(err)
	}
	if p.Role != domain.RoleOwner {
		t.Fatalf("role %s", p.Role)
	}

	p, err = domain.NewParticipant("p-2", "Bob", "admin")
	if err != nil {
		t.Fatal(err)
	}
	if p.Role != domain.RoleParticipant {
		t.Fatalf("unknown role coerced to %s", p.Role)
	}

	if _, err := domain.NewParticipant("p-3", "", domain.RoleParticipant); !errors.Is(err, domain.ErrDisplayNameEmpty) {
		t.Fatalf("empty name: %v", err)
	}
	long := strings.Repeat("x", domain.MaxDisplayNameLen+1)
	if _, err := domain.NewParticipant("p-4", long, domain.RoleParticipant); !errors.Is(err, domain.ErrDisplayNameTooLong) {
		t.Fatalf("long name: %v", err)
	}
}
