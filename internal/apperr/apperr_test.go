package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRender(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantField  string
		wantMsg    string
	}{
		{"validation", Validation("domain", "Domain is required"), http.StatusBadRequest, "domain", "Domain is required"},
		{"unauthorized", Unauthorized("Unauthorized"), http.StatusUnauthorized, FieldServer, "Unauthorized"},
		{"not found", NotFound("plan", "Plan not found"), http.StatusNotFound, "plan", "Plan not found"},
		{"precondition", Precondition("user", "no customer"), http.StatusBadRequest, "user", "no customer"},
		{"conflict", Conflict("user", "busy"), http.StatusConflict, "user", "busy"},
		{"provider conflict", ProviderConflict("exists", errors.New("409")), http.StatusInternalServerError, FieldServer, "exists"},
		{"payment", PaymentProvider("stripe failed", nil), http.StatusInternalServerError, FieldServer, "stripe failed"},
		{"wrapped", fmt.Errorf("outer: %w", Storage("db down", nil)), http.StatusInternalServerError, FieldServer, "db down"},
		{"plain error", errors.New("boom"), http.StatusInternalServerError, FieldServer, "Server error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, env := Render(tt.err)
			assert.Equal(t, tt.wantStatus, status)
			assert.Equal(t, tt.wantMsg, env.Errors[tt.wantField].Message)
			assert.Len(t, env.Errors, 1)
		})
	}
}

func TestErrorChain(t *testing.T) {
	cause := errors.New("connection reset")
	err := fmt.Errorf("create tunnel: %w", Provider("Error while creating domain", cause))

	assert.ErrorIs(t, err, cause)
	assert.ErrorIs(t, err, Provider("", nil))
	assert.NotErrorIs(t, err, Storage("", nil))
	assert.Equal(t, KindProvider, KindOf(err))
	assert.Equal(t, KindInternal, KindOf(cause))
}
