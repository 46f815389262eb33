package gate

// Privileged API names gated per operation type.
const (
	APIRegister        = "register"
	APIRegisterEd25519 = "register_ed25519"
	APIGetKeyShares    = "get_key_shares"
	APIReshare         = "reshare"
	APIReshareRegister = "reshare_register"
)

// allowedAPIs maps each operation type to the privileged APIs a session of
// that type may unlock. The table is fixed at process start and never mutated
// by request handling; extend it by adding entries here.
var allowedAPIs = map[OperationType]map[string]struct{}{
	OpSignUp: {
		APIRegister:        {},
		APIRegisterEd25519: {},
	},
	OpSignIn: {
		APIGetKeyShares: {},
	},
	OpReshare: {
		APIGetKeyShares:    {},
		APIReshare:         {},
		APIReshareRegister: {},
	},
}

// Allowed reports whether apiName is permitted within a session of the given
// operation type. Pure lookup, no side effects.
func Allowed(op OperationType, apiName string) bool {
	_, ok := allowedAPIs[op][apiName]
	return ok
}

// AllowedAPIs returns the privileged API names permitted for the operation
// type. The returned slice is a copy.
func AllowedAPIs(op OperationType) []string {
	set := allowedAPIs[op]
	if len(set) == 0 {
		return nil
	}
	names := make([]string, 0, len(set))
	for name := range set {
		names = append(names, name)
	}
	return names
}
