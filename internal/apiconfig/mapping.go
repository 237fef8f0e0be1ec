package apiconfig

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ModelMapping is one entry of a provider's model list: either a model
// exposed under its own name, or an upstream name exposed under a display name.
type ModelMapping struct {
	original string
	display  string
	renamed  bool
}

// Direct exposes an upstream model under its own name.
func Direct(name string) ModelMapping {
	return ModelMapping{original: name, display: name}
}

// Renamed exposes the upstream model original under display.
func Renamed(original, display string) ModelMapping {
	return ModelMapping{original: original, display: display, renamed: true}
}

// Original is the upstream model name.
func (m ModelMapping) Original() string { return m.original }

// Display is the name clients use and pricing is keyed by.
func (m ModelMapping) Display() string { return m.display }

// IsRenamed reports whether the mapping is the Renamed variant.
func (m ModelMapping) IsRenamed() bool { return m.renamed }

// UnmarshalYAML accepts a plain scalar or a single-pair mapping.
func (m *ModelMapping) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		*m = Direct(value.Value)
		return nil
	case yaml.MappingNode:
		if len(value.Content) != 2 || value.Content[0].Kind != yaml.ScalarNode || value.Content[1].Kind != yaml.ScalarNode {
			return fmt.Errorf("line %d: model mapping must have exactly one original: display pair", value.Line)
		}
		*m = Renamed(value.Content[0].Value, value.Content[1].Value)
		return nil
	default:
		return fmt.Errorf("line %d: model mapping must be a string or a single-pair mapping", value.Line)
	}
}

// MarshalYAML writes the same shapes UnmarshalYAML accepts.
func (m ModelMapping) MarshalYAML() (any, error) {
	if !m.renamed {
		return m.original, nil
	}
	return &yaml.Node{
		Kind: yaml.MappingNode,
		Tag:  "!!map",
		Content: []*yaml.Node{
			{Kind: yaml.ScalarNode, Tag: "!!str", Value: m.original},
			{Kind: yaml.ScalarNode, Tag: "!!str", Value: m.display},
		},
	}, nil
}

// MarshalJSON mirrors the YAML shape: "name" or {"original": "display"}.
func (m ModelMapping) MarshalJSON() ([]byte, error) {
	if !m.renamed {
		return json.Marshal(m.original)
	}
	return json.Marshal(map[string]string{m.original: m.display})
}

// UnmarshalJSON accepts "name" or {"original": "display"}.
func (m *ModelMapping) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var name string
		if errUnmarshal := json.Unmarshal(data, &name); errUnmarshal != nil {
			return errUnmarshal
		}
		*m = Direct(name)
		return nil
	}
	var pair map[string]string
	if errUnmarshal := json.Unmarshal(data, &pair); errUnmarshal != nil {
		return fmt.Errorf("model mapping must be a string or a single-pair object: %w", errUnmarshal)
	}
	if len(pair) != 1 {
		return fmt.Errorf("model mapping object must have exactly one pair, got %d", len(pair))
	}
	for original, display := range pair {
		*m = Renamed(original, display)
	}
	return nil
}

// ModelList is a key's allowed models. The gateway accepts a single scalar
// as well as a sequence; both decode into a list.
type ModelList []ModelItem

// NewModelList builds a list of plain model names.
func NewModelList(names ...string) ModelList {
	if len(names) == 0 {
		return nil
	}
	out := make(ModelList, 0, len(names))
	for _, name := range names {
		out = append(out, ModelName(name))
	}
	return out
}

// Names returns the model name of every item.
func (l ModelList) Names() []string {
	out := make([]string, 0, len(l))
	for _, item := range l {
		if name := item.Name(); name != "" {
			out = append(out, name)
		}
	}
	return out
}

// UnmarshalYAML accepts a scalar or a sequence. Sequence items that are not
// scalars, such as weighted "name: weight" pairs, are kept as written.
func (l *ModelList) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		if value.Value == "" {
			*l = nil
			return nil
		}
		*l = NewModelList(value.Value)
		return nil
	case yaml.SequenceNode:
		items := make(ModelList, 0, len(value.Content))
		for _, child := range value.Content {
			copied := *child
			items = append(items, ModelItem{node: &copied})
		}
		*l = items
		return nil
	default:
		return fmt.Errorf("line %d: model must be a string or a list", value.Line)
	}
}

// ModelItem is one entry of a key's model list.
type ModelItem struct {
	node *yaml.Node
}

// ModelName builds an item for a plain model name.
func ModelName(name string) ModelItem {
	return ModelItem{node: &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: name}}
}

// Name is the scalar value, or the first key of a mapping item.
func (m ModelItem) Name() string {
	switch {
	case m.node == nil:
		return ""
	case m.node.Kind == yaml.ScalarNode:
		return m.node.Value
	case m.node.Kind == yaml.MappingNode && len(m.node.Content) >= 2:
		return m.node.Content[0].Value
	}
	return ""
}

// MarshalYAML returns the kept node.
func (m ModelItem) MarshalYAML() (any, error) {
	if m.node == nil {
		return "", nil
	}
	return m.node, nil
}

// ProviderKeys is a provider's upstream credential: a single key or a list
// of keys. The original node is kept so either form is written back as read.
type ProviderKeys struct {
	node *yaml.Node
}

// NewProviderKeys builds a scalar for one key and a sequence for several.
// Blank keys are dropped.
func NewProviderKeys(keys ...string) ProviderKeys {
	var kept []string
	for _, key := range keys {
		if key = strings.TrimSpace(key); key != "" {
			kept = append(kept, key)
		}
	}
	switch len(kept) {
	case 0:
		return ProviderKeys{}
	case 1:
		return ProviderKeys{node: &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: kept[0]}}
	}
	node := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
	for _, key := range kept {
		node.Content = append(node.Content, &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key})
	}
	return ProviderKeys{node: node}
}

// Keys returns every scalar key in order.
func (k ProviderKeys) Keys() []string {
	if k.node == nil {
		return nil
	}
	if k.node.Kind == yaml.ScalarNode {
		if strings.TrimSpace(k.node.Value) == "" {
			return nil
		}
		return []string{k.node.Value}
	}
	var out []string
	for _, child := range k.node.Content {
		if child.Kind == yaml.ScalarNode && strings.TrimSpace(child.Value) != "" {
			out = append(out, child.Value)
		}
	}
	return out
}

// String returns the first key.
func (k ProviderKeys) String() string {
	keys := k.Keys()
	if len(keys) == 0 {
		return ""
	}
	return keys[0]
}

// IsZero reports whether no key is set.
func (k ProviderKeys) IsZero() bool {
	return len(k.Keys()) == 0
}

// IsList reports whether the keys were written as a sequence.
func (k ProviderKeys) IsList() bool {
	return k.node != nil && k.node.Kind == yaml.SequenceNode
}

// UnmarshalYAML keeps a scalar or a sequence as written.
func (k *ProviderKeys) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode && value.Kind != yaml.SequenceNode {
		return fmt.Errorf("line %d: api must be a string or a list", value.Line)
	}
	copied := *value
	k.node = &copied
	return nil
}

// MarshalYAML returns the kept node.
func (k ProviderKeys) MarshalYAML() (any, error) {
	if k.node == nil {
		return "", nil
	}
	return k.node, nil
}

// MarshalJSON writes a string for a scalar and an array for a sequence.
func (k ProviderKeys) MarshalJSON() ([]byte, error) {
	if k.IsList() {
		return json.Marshal(k.Keys())
	}
	return json.Marshal(k.String())
}

// UnmarshalJSON accepts "key" or ["key", ...].
func (k *ProviderKeys) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0 || bytes.Equal(data, []byte("null")):
		*k = ProviderKeys{}
		return nil
	case data[0] == '[':
		var keys []string
		if errUnmarshal := json.Unmarshal(data, &keys); errUnmarshal != nil {
			return fmt.Errorf("api must be a string or a list of strings: %w", errUnmarshal)
		}
		node := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
		for _, key := range keys {
			node.Content = append(node.Content, &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key})
		}
		k.node = node
		return nil
	}
	var key string
	if errUnmarshal := json.Unmarshal(data, &key); errUnmarshal != nil {
		return fmt.Errorf("api must be a string or a list of strings: %w", errUnmarshal)
	}
	k.node = &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key}
	return nil
}

// TokenPrice is a per-token price spec such as "1,2" (prompt,completion).
// The original YAML node is kept so numbers and structured specs written by
// hand survive a load/save cycle unchanged.
type TokenPrice struct {
	node *yaml.Node
}

// StringPrice builds a TokenPrice from its textual form.
func StringPrice(spec string) TokenPrice {
	return TokenPrice{node: &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: spec}}
}

// IsZero reports whether no price is set.
func (p TokenPrice) IsZero() bool {
	return p.node == nil || (p.node.Kind == yaml.ScalarNode && p.node.Value == "")
}

// String returns the scalar text, or "" for structured specs.
func (p TokenPrice) String() string {
	if p.node == nil || p.node.Kind != yaml.ScalarNode {
		return ""
	}
	return p.node.Value
}

// UnmarshalYAML keeps the node as written.
func (p *TokenPrice) UnmarshalYAML(value *yaml.Node) error {
	copied := *value
	p.node = &copied
	return nil
}

// MarshalYAML returns the kept node.
func (p TokenPrice) MarshalYAML() (any, error) {
	if p.node == nil {
		return "", nil
	}
	return p.node, nil
}

// MarshalJSON writes numbers as numbers and everything else as its natural JSON form.
func (p TokenPrice) MarshalJSON() ([]byte, error) {
	if p.node == nil {
		return []byte("null"), nil
	}
	if p.node.Kind == yaml.ScalarNode {
		switch p.node.Tag {
		case "!!int", "!!float":
			if _, errParse := strconv.ParseFloat(p.node.Value, 64); errParse == nil {
				return []byte(p.node.Value), nil
			}
		}
		return json.Marshal(p.node.Value)
	}
	var decoded any
	if errDecode := p.node.Decode(&decoded); errDecode != nil {
		return nil, errDecode
	}
	return json.Marshal(decoded)
}

// UnmarshalJSON accepts a string, a number, or a structured value.
func (p *TokenPrice) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0 || bytes.Equal(data, []byte("null")):
		p.node = nil
		return nil
	case data[0] == '"':
		var spec string
		if errUnmarshal := json.Unmarshal(data, &spec); errUnmarshal != nil {
			return errUnmarshal
		}
		*p = StringPrice(spec)
		return nil
	}
	var number json.Number
	if errUnmarshal := json.Unmarshal(data, &number); errUnmarshal == nil {
		tag := "!!float"
		if _, errInt := number.Int64(); errInt == nil {
			tag = "!!int"
		}
		p.node = &yaml.Node{Kind: yaml.ScalarNode, Tag: tag, Value: number.String()}
		return nil
	}
	var structured any
	if errUnmarshal := json.Unmarshal(data, &structured); errUnmarshal != nil {
		return errUnmarshal
	}
	node := &yaml.Node{}
	if errEncode := node.Encode(structured); errEncode != nil {
		return errEncode
	}
	p.node = node
	return nil
}
