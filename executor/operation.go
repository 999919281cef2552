package executor

import (
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	typeString        abi.Type
	operationSelector []byte
)

func init() {
	typeString = mustType("string", nil)
	operationSelector = crypto.Keccak256([]byte("executeOp((bytes32,bytes,bool)[],string)"))[:4]
}

// Operation is a named, ordered action sequence. The name is verified
// on-chain against a registry of permitted action sequences, which is
// what stops a third party substituting actions into a signed call.
type Operation struct {
	Name    string
	Actions []Action
}

// NewOperation builds an operation from an ordered action list.
func NewOperation(name string, actions ...Action) (Operation, error) {
	if name == "" {
		return Operation{}, fmt.Errorf("operation name cannot be empty")
	}
	if len(actions) == 0 {
		return Operation{}, fmt.Errorf("operation %s has no actions", name)
	}
	return Operation{Name: name, Actions: actions}, nil
}

// Encode produces the calldata the on-chain executor consumes. Nested
// flash-loan bodies are resolved bottom-up before the parent sequence
// is packed, and the whole encoding is deterministic: the same actions
// and name always produce the same bytes.
func (o Operation) Encode() ([]byte, error) {
	calls, err := encodeCalls(o.Actions)
	if err != nil {
		return nil, fmt.Errorf("operation %s: %w", o.Name, err)
	}

	args := abi.Arguments{
		{Type: typeCallArr},
		{Type: typeString},
	}
	body, err := args.Pack(calls, o.Name)
	if err != nil {
		return nil, fmt.Errorf("operation %s: pack: %w", o.Name, err)
	}
	return append(append([]byte(nil), operationSelector...), body...), nil
}

// SequenceHash is the keccak hash of the concatenated action target
// hashes, including nested actions in encoding order. The on-chain
// registry recomputes this to verify the intended sequence.
func (o Operation) SequenceHash() common.Hash {
	var buf []byte
	var walk func(actions []Action)
	walk = func(actions []Action) {
		for _, a := range actions {
			h := a.TargetHash()
			buf = append(buf, h[:]...)
			if nested := a.NestedCalls(); nested != nil {
				walk(nested)
			}
		}
	}
	walk(o.Actions)
	return crypto.Keccak256Hash(buf)
}

// ActionNames lists the top-level target names in execution order.
func (o Operation) ActionNames() []string {
	names := make([]string, len(o.Actions))
	for i, a := range o.Actions {
		names[i] = a.TargetName
	}
	return names
}
