package sandbox

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/security-mcp/winsandbox/internal/policy"
)

func TestSafeDefaults(t *testing.T) {
	defaults := SafeDefaults()

	assert.Equal(t, policy.TokenLockdown, defaults.Primary)
	assert.Equal(t, policy.TokenRestrictedSameAccess, defaults.Impersonation)
	assert.Equal(t, policy.JobLockdown, defaults.Job)
}

func TestParseLevels(t *testing.T) {
	tests := []struct {
		name          string
		primary       string
		impersonation string
		job           string
		want          Levels
	}{
		{
			name: "all empty keeps defaults",
			want: SafeDefaults(),
		},
		{
			name:          "explicit",
			primary:       "restricted",
			impersonation: "INTERACTIVE",
			job:           "limited",
			want: Levels{
				Primary:       policy.TokenRestricted,
				Impersonation: policy.TokenInteractive,
				Job:           policy.JobLimitedUser,
			},
		},
		{
			name:    "partial",
			primary: "NON_ADMIN",
			want: Levels{
				Primary:       policy.TokenNonAdmin,
				Impersonation: DefaultImpersonationLevel,
				Job:           DefaultJobLevel,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseLevels(tt.primary, tt.impersonation, tt.job)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseLevels_Errors(t *testing.T) {
	tests := []struct {
		name          string
		primary       string
		impersonation string
		job           string
		wantMsg       string
	}{
		{"bad main", "ROOT", "", "", "main level"},
		{"bad init", "", "ADMIN", "", "init level"},
		{"non admin job", "", "", "NON_ADMIN", "job level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseLevels(tt.primary, tt.impersonation, tt.job)
			require.Error(t, err)
			assert.ErrorIs(t, err, policy.ErrBadArguments)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}
