package internal

import "github.com/bytedance/sonic"

// marshalJSON and unmarshalJSON centralize the engine's sonic usage so every
// call site gets the same encoder.
func marshalJSON(v any) ([]byte, error) {
	return sonic.Marshal(v)
}

func unmarshalJSON(b []byte, v any) error {
	return sonic.Unmarshal(b, v)
}
