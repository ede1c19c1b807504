package transfer

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNetworkPolicy_Check(t *testing.T) {
	tests := []struct {
		name    string
		policy  NetworkPolicy
		to      string
		allowed bool
	}{
		{"devnet enabled", NetworkPolicy{Network: NetworkDevnet, Enabled: true}, "a", true},
		{"devnet disabled", NetworkPolicy{Network: NetworkDevnet}, "a", false},
		{"mainnet disabled", NetworkPolicy{Network: NetworkMainnet, Allowlist: []string{"a"}}, "a", false},
		{"mainnet allow-listed", NetworkPolicy{Network: NetworkMainnet, MainnetEnabled: true, Allowlist: []string{"a"}}, "a", true},
		{"mainnet not listed", NetworkPolicy{Network: NetworkMainnet, MainnetEnabled: true, Allowlist: []string{"a"}}, "b", false},
		{"unknown network", NetworkPolicy{Network: "testnet", Enabled: true}, "a", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.policy.Check(tt.to)
			if tt.allowed {
				assert.NoError(t, err)
				return
			}
			var na *NotAllowedError
			assert.True(t, errors.As(err, &na))
		})
	}
}

func TestKeyedMutex_ReleasesKeys(t *testing.T) {
	k := newKeyedMutex()
	unlockA := k.Lock("a")
	unlockB := k.Lock("b")
	assert.Equal(t, 2, k.size())
	unlockA()
	unlockB()
	assert.Zero(t, k.size())
}
