package binary

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Wire layout, all integers big-endian:
//
//	node    := str(tag) u8(attrCount) {str(key) str(value)}* content
//	content := 0x00 | 0x01 u32(len) bytes | 0x02 u16(count) node*
//	str     := u16(len) bytes
const (
	contentNone     = 0x00
	contentBytes    = 0x01
	contentChildren = 0x02
)

var (
	// ErrTruncated is returned when a payload ends mid-node.
	ErrTruncated = errors.New("binary: truncated payload")
	// ErrTrailing is returned when bytes remain after the root node.
	ErrTrailing = errors.New("binary: trailing bytes after node")
)

// Marshal encodes a node tree.
func Marshal(n Node) ([]byte, error) {
	var buf []byte
	return appendNode(buf, n)
}

func appendNode(buf []byte, n Node) ([]byte, error) {
	var err error
	if buf, err = appendString(buf, n.Tag); err != nil {
		return nil, err
	}
	if len(n.Attrs) > 255 {
		return nil, fmt.Errorf("binary: too many attributes on <%s>: %d", n.Tag, len(n.Attrs))
	}
	buf = append(buf, byte(len(n.Attrs)))
	for _, k := range n.attrKeys() {
		if buf, err = appendString(buf, k); err != nil {
			return nil, err
		}
		if buf, err = appendString(buf, n.Attrs[k]); err != nil {
			return nil, err
		}
	}

	switch content := n.Content.(type) {
	case nil:
		buf = append(buf, contentNone)
	case []byte:
		buf = append(buf, contentBytes)
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(content)))
		buf = append(buf, content...)
	case []Node:
		if len(content) > 0xffff {
			return nil, fmt.Errorf("binary: too many children on <%s>: %d", n.Tag, len(content))
		}
		buf = append(buf, contentChildren)
		buf = binary.BigEndian.AppendUint16(buf, uint16(len(content)))
		for _, child := range content {
			if buf, err = appendNode(buf, child); err != nil {
				return nil, err
			}
		}
	default:
		return nil, fmt.Errorf("binary: unsupported content type %T on <%s>", n.Content, n.Tag)
	}
	return buf, nil
}

func appendString(buf []byte, s string) ([]byte, error) {
	if len(s) > 0xffff {
		return nil, fmt.Errorf("binary: string too long: %d bytes", len(s))
	}
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(s)))
	return append(buf, s...), nil
}

// Unmarshal decodes a node tree and rejects trailing garbage.
func Unmarshal(data []byte) (Node, error) {
	n, rest, err := readNode(data)
	if err != nil {
		return Node{}, err
	}
	if len(rest) != 0 {
		return Node{}, fmt.Errorf("%w: %d bytes", ErrTrailing, len(rest))
	}
	return n, nil
}

func readNode(data []byte) (Node, []byte, error) {
	tag, data, err := readString(data)
	if err != nil {
		return Node{}, nil, err
	}
	n := Node{Tag: tag}

	if len(data) < 1 {
		return Node{}, nil, ErrTruncated
	}
	attrCount := int(data[0])
	data = data[1:]
	if attrCount > 0 {
		n.Attrs = make(map[string]string, attrCount)
	}
	for i := 0; i < attrCount; i++ {
		var k, v string
		if k, data, err = readString(data); err != nil {
			return Node{}, nil, err
		}
		if v, data, err = readString(data); err != nil {
			return Node{}, nil, err
		}
		n.Attrs[k] = v
	}

	if len(data) < 1 {
		return Node{}, nil, ErrTruncated
	}
	kind := data[0]
	data = data[1:]
	switch kind {
	case contentNone:
	case contentBytes:
		if len(data) < 4 {
			return Node{}, nil, ErrTruncated
		}
		size := int(binary.BigEndian.Uint32(data))
		data = data[4:]
		if len(data) < size {
			return Node{}, nil, ErrTruncated
		}
		content := make([]byte, size)
		copy(content, data[:size])
		n.Content = content
		data = data[size:]
	case contentChildren:
		if len(data) < 2 {
			return Node{}, nil, ErrTruncated
		}
		count := int(binary.BigEndian.Uint16(data))
		data = data[2:]
		children := make([]Node, 0, count)
		for i := 0; i < count; i++ {
			var child Node
			if child, data, err = readNode(data); err != nil {
				return Node{}, nil, err
			}
			children = append(children, child)
		}
		n.Content = children
	default:
		return Node{}, nil, fmt.Errorf("binary: unknown content marker 0x%02x", kind)
	}
	return n, data, nil
}

func readString(data []byte) (string, []byte, error) {
	if len(data) < 2 {
		return "", nil, ErrTruncated
	}
	size := int(binary.BigEndian.Uint16(data))
	data = data[2:]
	if len(data) < size {
		return "", nil, ErrTruncated
	}
	return string(data[:size]), data[size:], nil
}
