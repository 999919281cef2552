// Package executor builds the atomic call units a user's proxy executes
// on-chain. An Action is one ABI-encoded call against a named target
// contract; an Operation is a named, ordered action sequence. The
// on-chain executor verifies the hash of the action-name sequence
// against a registry before running anything, so encoding here must be
// fully deterministic.
package executor

import (
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// ParamSlots is the fixed width of an action's parameter-mapping
// vector. Each slot either holds 0 ("use the literal encoded in the
// call data") or the 1-based index of a storage slot written by an
// earlier action, whose runtime value is substituted at execution time.
const ParamSlots = 3

// CallsType is the pseudo argument type marking a nested action list
// (a flash-loan callback body). Its value must be []Action; it is
// resolved to the executor's (bytes32,bytes,bool)[] tuple layout when
// the enclosing Operation is encoded.
const CallsType = "calls"

var (
	typeBytes    abi.Type
	typeUint8Arr abi.Type
	typeCallArr  abi.Type

	executeSelector []byte
)

func init() {
	typeBytes = mustType("bytes", nil)
	typeUint8Arr = mustType("uint8[]", nil)
	typeCallArr = mustType("tuple[]", []abi.ArgumentMarshaling{
		{Name: "targetHash", Type: "bytes32"},
		{Name: "callData", Type: "bytes"},
		{Name: "skipped", Type: "bool"},
	})
	executeSelector = crypto.Keccak256([]byte("execute(bytes,uint8[])"))[:4]
}

func mustType(t string, components []abi.ArgumentMarshaling) abi.Type {
	typ, err := abi.NewType(t, "", components)
	if err != nil {
		panic(fmt.Sprintf("abi type %q: %v", t, err))
	}
	return typ
}

// Call is the wire form of one encoded action, matching the on-chain
// executor's (bytes32,bytes,bool) layout.
type Call struct {
	TargetHash [32]byte `abi:"targetHash"`
	CallData   []byte   `abi:"callData"`
	Skipped    bool     `abi:"skipped"`
}

// Action is a single atomic call unit. Argument values are held
// unpacked until encoding so that nested action lists can be resolved
// bottom-up.
type Action struct {
	TargetName string
	ParamMap   [ParamSlots]uint8
	Skipped    bool

	argTypes  []string
	argValues []interface{}
}

// NewAction validates and constructs an action targeting the contract
// registered under targetName. argTypes are solidity type strings
// (plus CallsType for a nested action list); paramMap must have exactly
// ParamSlots entries.
func NewAction(targetName string, argTypes []string, argValues []interface{}, paramMap []uint8) (Action, error) {
	if targetName == "" {
		return Action{}, fmt.Errorf("action target name cannot be empty")
	}
	if len(argTypes) != len(argValues) {
		return Action{}, fmt.Errorf("action %s: %d arg types for %d values", targetName, len(argTypes), len(argValues))
	}
	if len(paramMap) != ParamSlots {
		return Action{}, fmt.Errorf("action %s: param mapping has %d slots, executor expects %d", targetName, len(paramMap), ParamSlots)
	}
	for i, t := range argTypes {
		if t == CallsType {
			if _, ok := argValues[i].([]Action); !ok {
				return Action{}, fmt.Errorf("action %s: arg %d declared %q but value is %T", targetName, i, CallsType, argValues[i])
			}
			continue
		}
		if _, err := abi.NewType(t, "", nil); err != nil {
			return Action{}, fmt.Errorf("action %s: arg %d type %q: %w", targetName, i, t, err)
		}
	}

	a := Action{
		TargetName: targetName,
		argTypes:   append([]string(nil), argTypes...),
		argValues:  append([]interface{}(nil), argValues...),
	}
	copy(a.ParamMap[:], paramMap)
	return a, nil
}

// Skip marks the action as skippable and returns the modified copy.
// The on-chain executor records but does not run skipped actions.
func (a Action) Skip() Action {
	a.Skipped = true
	return a
}

// TargetHash is the keccak hash of the target contract name, the key
// the executor resolves through its service registry.
func (a Action) TargetHash() common.Hash {
	return crypto.Keccak256Hash([]byte(a.TargetName))
}

// NestedCalls returns the nested action list if the action carries one.
func (a Action) NestedCalls() []Action {
	for i, t := range a.argTypes {
		if t == CallsType {
			return a.argValues[i].([]Action)
		}
	}
	return nil
}

// encode packs the action into its wire form, resolving any nested
// action list first.
func (a Action) encode() (Call, error) {
	args := make(abi.Arguments, len(a.argTypes))
	values := make([]interface{}, len(a.argValues))

	for i, t := range a.argTypes {
		if t == CallsType {
			nested, err := encodeCalls(a.argValues[i].([]Action))
			if err != nil {
				return Call{}, fmt.Errorf("action %s: nested calls: %w", a.TargetName, err)
			}
			args[i] = abi.Argument{Type: typeCallArr}
			values[i] = nested
			continue
		}
		typ, err := abi.NewType(t, "", nil)
		if err != nil {
			return Call{}, fmt.Errorf("action %s: arg %d: %w", a.TargetName, i, err)
		}
		args[i] = abi.Argument{Type: typ}
		values[i] = a.argValues[i]
	}

	packed, err := args.Pack(values...)
	if err != nil {
		return Call{}, fmt.Errorf("action %s: pack args: %w", a.TargetName, err)
	}

	wrapper := abi.Arguments{
		{Type: typeBytes},
		{Type: typeUint8Arr},
	}
	body, err := wrapper.Pack(packed, a.ParamMap[:])
	if err != nil {
		return Call{}, fmt.Errorf("action %s: wrap execute args: %w", a.TargetName, err)
	}

	return Call{
		TargetHash: [32]byte(a.TargetHash()),
		CallData:   append(append([]byte(nil), executeSelector...), body...),
		Skipped:    a.Skipped,
	}, nil
}

func encodeCalls(actions []Action) ([]Call, error) {
	calls := make([]Call, len(actions))
	for i, a := range actions {
		c, err := a.encode()
		if err != nil {
			return nil, err
		}
		calls[i] = c
	}
	return calls, nil
}
