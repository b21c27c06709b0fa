package opnode

// NewInitialCondition builds the special node every resource requires
// at the start of its timeline before any other reader/writer: a fixed
// Write value with no declared reads, hashed over its serialized form
// rather than over upstream hashes.
//
// serialized must be a stable, deterministic encoding of value (the
// caller picks the encoding; history.Plugin implementations are a
// natural place to share it with the persisted-history encoder).
func NewInitialCondition(resourceLabel string, serialized []byte, writeAdapter WriteAdapter, value any) *Node {
	fixedHash := InitialConditionHash(resourceLabel, serialized)

	body := func(_ []any) ([]any, error) {
		return []any{value}, nil
	}

	n := &Node{
		ActivityLabel: "<initial:" + resourceLabel + ">",
		TypeID:        fixedHash,
		Grounding:     StaticGrounding(0),
		body:          body,
		writeAdapters: []WriteAdapter{writeAdapter},
		initial:       true,
	}
	return n
}
