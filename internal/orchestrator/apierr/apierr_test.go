package apierr

import (
	"errors"
	"testing"
)

func TestValidationfFormatsMessage(t *testing.T) {
	err := Validationf("task %q does not exist", "TASK-1")
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected *ValidationError, got %T", err)
	}
	if verr.Error() != `task "TASK-1" does not exist` {
		t.Fatalf("unexpected message: %s", verr.Error())
	}
}

func TestAuthorityPreservesCode(t *testing.T) {
	err := Authority(CodeLeaderMismatch, `"agent-a" is not the current leader`)
	var aerr *AuthorityError
	if !errors.As(err, &aerr) {
		t.Fatalf("expected *AuthorityError, got %T", err)
	}
	if aerr.Code != CodeLeaderMismatch {
		t.Fatalf("expected code %q, got %q", CodeLeaderMismatch, aerr.Code)
	}
}

func TestConflictErrorSatisfiesError(t *testing.T) {
	var err error = &ConflictError{Message: "duplicate of TASK-1"}
	if err.Error() != "duplicate of TASK-1" {
		t.Fatalf("unexpected message: %s", err.Error())
	}
}
