package profile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateSQLiteDefaults(t *testing.T) {
	p := &Profile{
		Mode:   "dev",
		Driver: "sqlite",
		Data:   t.TempDir(),
	}
	require.NoError(t, p.Validate())
	assert.NotEmpty(t, p.DSN)
	assert.Equal(t, 80, p.MediaWebPQuality)
	assert.Equal(t, 3, p.DistributionWorkers)
}

func TestValidatePostgresRequiresDSN(t *testing.T) {
	p := &Profile{
		Mode:   "dev",
		Driver: "postgres",
		Data:   t.TempDir(),
	}
	require.Error(t, p.Validate())

	p.DSN = "postgres://localhost/linkhoard"
	require.NoError(t, p.Validate())
}

func TestValidateUnknownDriver(t *testing.T) {
	p := &Profile{
		Mode:   "dev",
		Driver: "mysql",
		Data:   t.TempDir(),
	}
	require.Error(t, p.Validate())
}

func TestValidateNormalizesMode(t *testing.T) {
	p := &Profile{
		Mode:   "weird",
		Driver: "sqlite",
		Data:   t.TempDir(),
	}
	require.NoError(t, p.Validate())
	assert.Equal(t, "demo", p.Mode)
	assert.True(t, p.IsDev())
}

func TestWebPQualityClamped(t *testing.T) {
	for _, q := range []int{-1, 0, 101} {
		p := &Profile{Mode: "dev", Driver: "sqlite", Data: t.TempDir(), MediaWebPQuality: q}
		require.NoError(t, p.Validate())
		assert.Equal(t, 80, p.MediaWebPQuality)
	}
}
