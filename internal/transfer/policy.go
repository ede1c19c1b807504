package transfer

import "slices"

const (
	NetworkDevnet  = "devnet"
	NetworkMainnet = "mainnet"
)

// NetworkPolicy decides whether transfers are enabled for the configured
// network. Mainnet additionally requires the recipient to be allow-listed.
type NetworkPolicy struct {
	Network        string
	Enabled        bool
	MainnetEnabled bool
	Allowlist      []string
}

// Check returns a *NotAllowedError when the transfer is not permitted.
func (p NetworkPolicy) Check(to string) error {
	switch p.Network {
	case NetworkMainnet:
		if !p.MainnetEnabled {
			return &NotAllowedError{Network: p.Network, Reason: "mainnet transfers are disabled"}
		}
		if !slices.Contains(p.Allowlist, to) {
			return &NotAllowedError{Network: p.Network, Reason: "recipient is not on the allowlist"}
		}
		return nil
	case NetworkDevnet:
		if !p.Enabled {
			return &NotAllowedError{Network: p.Network, Reason: "transfers are disabled"}
		}
		return nil
	default:
		return &NotAllowedError{Network: p.Network, Reason: "unknown network"}
	}
}

// TransfersEnabled reports whether any transfer can pass the policy.
func (p NetworkPolicy) TransfersEnabled() bool {
	switch p.Network {
	case NetworkDevnet:
		return p.Enabled
	case NetworkMainnet:
		return p.MainnetEnabled && len(p.Allowlist) > 0
	}
	return false
}
