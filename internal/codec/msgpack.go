package codec

import "github.com/vmihailenco/msgpack/v5"

// MsgpackSerializer is the default Serializer (spec.md §6), chosen for
// being dense, schema-less, and round-tripping Go values (including nil
// for pointer/interface/slice/map types) without per-type registration.
type MsgpackSerializer struct{}

// Serialize encodes value to msgpack bytes.
func (MsgpackSerializer) Serialize(value any) ([]byte, error) {
	return msgpack.Marshal(value)
}

// Deserialize decodes msgpack bytes into out, which must be a pointer.
func (MsgpackSerializer) Deserialize(data []byte, out any) error {
	return msgpack.Unmarshal(data, out)
}
