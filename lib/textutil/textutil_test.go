package textutil

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFoldDiacritics(t *testing.T) {
	require.Equal(t, "Terminee", FoldDiacritics("Terminée"))
	require.Equal(t, "Commande expediee", FoldDiacritics("Commande expédiée"))
	require.Equal(t, "plain", FoldDiacritics("plain"))
}

func TestNormalizeLabel(t *testing.T) {
	require.Equal(t, "commande expediee", NormalizeLabel("  Commande   Expédiée \n"))
}

func TestHasAnyPrefix(t *testing.T) {
	markers := []string{"termin", "commande exp"}

	require.True(t, HasAnyPrefix("Terminée", markers))
	require.True(t, HasAnyPrefix("TERMINEE", markers))
	require.True(t, HasAnyPrefix("Commande expédiée", markers))
	require.False(t, HasAnyPrefix("Annulée", markers))
	require.False(t, HasAnyPrefix("En cours", markers))
}
