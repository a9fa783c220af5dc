package types

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestChangeKindString(t *testing.T) {
	t.Parallel()

	require.Equal(t, "mutation", ChangeMutation.String())
	require.Equal(t, "restore", ChangeRestore.String())
	require.Equal(t, "replace", ChangeReplace.String())
	require.Equal(t, "ChangeKind(7)", ChangeKind(7).String())
	require.Equal(t, "ChangeKind(-1)", ChangeKind(-1).String())
}
