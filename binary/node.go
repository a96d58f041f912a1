// Package binary implements the node tree codec used for binary frame
// payloads. A node is the tree shape [tagName, attrs, children|bytes]; the
// connection engine uses Marshal, Unmarshal and FromList.
package binary

import (
	"fmt"
	"sort"
)

// Node is one element of the server's tree format.
//
// Content is nil, a []byte leaf, or a []Node list of children.
type Node struct {
	Tag     string
	Attrs   map[string]string
	Content any
}

// Children returns the child nodes, or nil for leaf/empty content.
func (n Node) Children() []Node {
	c, _ := n.Content.([]Node)
	return c
}

// Bytes returns the byte leaf content, or nil.
func (n Node) Bytes() []byte {
	b, _ := n.Content.([]byte)
	return b
}

// attrKeys returns attribute keys in stable order so Marshal is
// deterministic.
func (n Node) attrKeys() []string {
	keys := make([]string, 0, len(n.Attrs))
	for k := range n.Attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// FromList converts the JSON list form ["tag", {attrs}, children] into a
// Node. Children may be nil, a string or []byte leaf, a []Node, or a []any
// of nested lists.
func FromList(v []any) (Node, error) {
	if len(v) == 0 {
		return Node{}, fmt.Errorf("binary: empty node list")
	}
	tag, ok := v[0].(string)
	if !ok {
		return Node{}, fmt.Errorf("binary: node tag is %T, want string", v[0])
	}
	n := Node{Tag: tag}

	if len(v) > 1 && v[1] != nil {
		switch attrs := v[1].(type) {
		case map[string]string:
			n.Attrs = attrs
		case map[string]any:
			n.Attrs = make(map[string]string, len(attrs))
			for k, av := range attrs {
				if s, ok := av.(string); ok {
					n.Attrs[k] = s
				} else {
					n.Attrs[k] = fmt.Sprint(av)
				}
			}
		default:
			return Node{}, fmt.Errorf("binary: node attrs are %T, want map", v[1])
		}
	}

	if len(v) > 2 && v[2] != nil {
		switch content := v[2].(type) {
		case string:
			n.Content = []byte(content)
		case []byte:
			n.Content = content
		case []Node:
			n.Content = content
		case []any:
			children := make([]Node, 0, len(content))
			for _, c := range content {
				list, ok := c.([]any)
				if !ok {
					if child, ok := c.(Node); ok {
						children = append(children, child)
						continue
					}
					return Node{}, fmt.Errorf("binary: node child is %T, want list", c)
				}
				child, err := FromList(list)
				if err != nil {
					return Node{}, err
				}
				children = append(children, child)
			}
			n.Content = children
		default:
			return Node{}, fmt.Errorf("binary: node content is %T", v[2])
		}
	}
	return n, nil
}
