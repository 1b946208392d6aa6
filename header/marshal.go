package header

import (
	"bytes"
	"encoding/json"

	"gopkg.in/yaml.v3"
	"xorkevin.dev/kerrors"
)

// MarshalJSON encodes the fields as an object in schema order
func (h *Header) MarshalJSON() ([]byte, error) {
	var b bytes.Buffer
	b.WriteByte('{')
	for n, i := range h.Fields {
		if n > 0 {
			b.WriteByte(',')
		}
		k, err := json.Marshal(i.Name)
		if err != nil {
			return nil, kerrors.WithMsg(err, "Failed encoding field name")
		}
		v, err := json.Marshal(i.Value)
		if err != nil {
			return nil, kerrors.WithMsg(err, "Failed encoding field "+i.Name)
		}
		b.Write(k)
		b.WriteByte(':')
		b.Write(v)
	}
	b.WriteByte('}')
	return b.Bytes(), nil
}

// MarshalYAML encodes the fields as a mapping in schema order
func (h *Header) MarshalYAML() (any, error) {
	node := &yaml.Node{
		Kind: yaml.MappingNode,
	}
	for _, i := range h.Fields {
		var v yaml.Node
		if err := v.Encode(i.Value); err != nil {
			return nil, kerrors.WithMsg(err, "Failed encoding field "+i.Name)
		}
		node.Content = append(node.Content, &yaml.Node{
			Kind:  yaml.ScalarNode,
			Tag:   "!!str",
			Value: i.Name,
		}, &v)
	}
	return node, nil
}
