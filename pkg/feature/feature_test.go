package feature_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quotakit/quotakit/pkg/feature"
)

func TestValid(t *testing.T) {
	t.Parallel()

	assert.True(t, feature.Valid(feature.ArticlesPerMonth))
	assert.True(t, feature.Valid(feature.StorageSpace))
	assert.False(t, feature.Valid(feature.Code("videos_per_day")))
	assert.False(t, feature.Valid(feature.Code("")))
}

func TestCadenceOf(t *testing.T) {
	t.Parallel()

	assert.Equal(t, feature.CadenceMonthly, feature.CadenceOf(feature.ArticlesPerMonth))
	assert.Equal(t, feature.CadenceDaily, feature.CadenceOf(feature.KeywordDistillation))
	assert.Equal(t, feature.CadenceLifetime, feature.CadenceOf(feature.PlatformAccounts))

	// Unknown codes must never reset.
	assert.Equal(t, feature.CadenceLifetime, feature.CadenceOf(feature.Code("unknown")))
}

func TestPreserved(t *testing.T) {
	t.Parallel()

	preserved := feature.Preserved()
	require.Len(t, preserved, 1)
	assert.Equal(t, feature.PlatformAccounts, preserved[0])
}

func TestValidateOverrides(t *testing.T) {
	t.Parallel()

	t.Run("accepts known codes and the unlimited sentinel", func(t *testing.T) {
		t.Parallel()

		bad := feature.ValidateOverrides(map[feature.Code]int64{
			feature.ArticlesPerMonth: 3,
			feature.StorageSpace:     feature.Unlimited,
		})
		assert.Empty(t, bad)
	})

	t.Run("rejects unknown codes", func(t *testing.T) {
		t.Parallel()

		bad := feature.ValidateOverrides(map[feature.Code]int64{
			feature.Code("videos_per_day"): 10,
		})
		require.Len(t, bad, 1)
		assert.Equal(t, feature.Code("videos_per_day"), bad[0])
	})

	t.Run("rejects values below the sentinel", func(t *testing.T) {
		t.Parallel()

		bad := feature.ValidateOverrides(map[feature.Code]int64{
			feature.ArticlesPerMonth: -2,
		})
		require.Len(t, bad, 1)
	})

	t.Run("empty map is valid", func(t *testing.T) {
		t.Parallel()

		assert.Empty(t, feature.ValidateOverrides(nil))
	})
}
