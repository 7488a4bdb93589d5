package model_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/investr/trade-engine/internal/model"
)

func TestParseRole(t *testing.T) {
	for in, want := range map[string]model.Role{
		"ADMIN":    model.RoleAdmin,
		" admin ":  model.RoleAdmin,
		"CUSTOMER": model.RoleCustomer,
		"":         model.RoleCustomer,
		"root":     model.RoleCustomer,
	} {
		require.Equal(t, want, model.ParseRole(in), in)
	}
}

func TestOnlyAdminAdministers(t *testing.T) {
	require.True(t, model.RoleAdmin.CanAdminister())
	require.False(t, model.RoleCustomer.CanAdminister())
	require.False(t, model.ParseRole("superuser").CanAdminister())
}

func TestParseAction(t *testing.T) {
	a, err := model.ParseAction(" buy")
	require.NoError(t, err)
	require.Equal(t, model.ActionBuy, a)

	_, err = model.ParseAction("HOLD")
	require.ErrorIs(t, err, model.ErrInvalidAction)
	require.Equal(t, model.TxSell, model.TxTypeFor(model.ActionSell))
}
