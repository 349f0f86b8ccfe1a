// Package address parses the symbolic node addresses used in configuration
// and resolves them against the namespace index assigned at runtime.
//
// A Symbolic address still carries the placeholder namespace from the
// configuration file. Only Symbolic.Resolve produces a Native address, so
// code that registers nodes with the protocol stack cannot be handed an
// address whose namespace was never rewritten.
package address

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

var (
	ErrMalformed   = errors.New("malformed node address")
	ErrUnknownKind = errors.New("unrecognized identifier kind")
)

// Kind is the identifier-kind tag of an address.
type Kind uint8

const (
	KindNumeric Kind = iota
	KindString
	KindGUID
	KindByteString
)

func (k Kind) String() string {
	switch k {
	case KindNumeric:
		return "numeric"
	case KindString:
		return "string"
	case KindGUID:
		return "guid"
	case KindByteString:
		return "bytestring"
	default:
		return "unknown"
	}
}

// Tag returns the short form used in address strings.
func (k Kind) Tag() string {
	switch k {
	case KindNumeric:
		return "i"
	case KindString:
		return "s"
	case KindGUID:
		return "g"
	case KindByteString:
		return "b"
	default:
		return "?"
	}
}

var kindTags = map[string]Kind{
	"i": KindNumeric,
	"s": KindString,
	"g": KindGUID,
	"b": KindByteString,
}

// Identifier is the kind-tagged identifier part of an address.
type Identifier struct {
	kind    Kind
	numeric uint32
	text    string
	guid    uuid.UUID
	bytes   []byte
}

func (id Identifier) Kind() Kind { return id.kind }
func (id Identifier) Numeric() uint32 { return id.numeric }
func (id Identifier) Text() string { return id.text }
func (id Identifier) GUID() uuid.UUID { return id.guid }
func (id Identifier) ByteString() []byte { return append([]byte(nil), id.bytes...) }

// String renders the identifier as "<tag>=<value>".
func (id Identifier) String() string {
	switch id.kind {
	case KindNumeric:
		return "i=" + strconv.FormatUint(uint64(id.numeric), 10)
	case KindString:
		return "s=" + id.text
	case KindGUID:
		return "g=" + strings.ToUpper(id.guid.String())
	case KindByteString:
		return "b=" + base64.StdEncoding.EncodeToString(id.bytes)
	default:
		return "?"
	}
}

// Symbolic is an address as declared in configuration. Its namespace is a
// placeholder and must not reach the protocol stack.
type Symbolic struct {
	placeholder string
	id          Identifier
}

// Placeholder returns the namespace text found in the configuration.
func (s Symbolic) Placeholder() string { return s.placeholder }

func (s Symbolic) Identifier() Identifier { return s.id }

func (s Symbolic) String() string {
	return "ns=" + s.placeholder + ";" + s.id.String()
}

// Resolve binds the address to the runtime namespace index.
func (s Symbolic) Resolve(namespace uint16) Native {
	return Native{namespace: namespace, id: s.id}
}

// Native is an address bound to a runtime namespace index.
type Native struct {
	namespace uint16
	id        Identifier
}

func (n Native) Namespace() uint16 { return n.namespace }

func (n Native) Identifier() Identifier { return n.id }

// String renders the address in the canonical "ns=<n>;<tag>=<value>" form.
// Two Native addresses are the same node iff their strings are equal.
func (n Native) String() string {
	return "ns=" + strconv.FormatUint(uint64(n.namespace), 10) + ";" + n.id.String()
}

// Parse reads a symbolic address of the form "ns=<placeholder>;<kind>=<id>".
func Parse(s string) (Symbolic, error) {
	scope, ident, ok := strings.Cut(strings.TrimSpace(s), ";")
	if !ok {
		return Symbolic{}, fmt.Errorf("%w: %q: missing ';' separator", ErrMalformed, s)
	}

	placeholder, ok := strings.CutPrefix(scope, "ns=")
	if !ok || placeholder == "" {
		return Symbolic{}, fmt.Errorf("%w: %q: scope must be ns=<index>", ErrMalformed, s)
	}
	if _, err := strconv.ParseUint(placeholder, 10, 16); err != nil {
		return Symbolic{}, fmt.Errorf("%w: %q: namespace placeholder %q is not an index", ErrMalformed, s, placeholder)
	}

	tag, value, ok := strings.Cut(ident, "=")
	if !ok || tag == "" {
		return Symbolic{}, fmt.Errorf("%w: %q: identifier must be <kind>=<value>", ErrMalformed, s)
	}

	kind, known := kindTags[tag]
	if !known {
		return Symbolic{}, fmt.Errorf("%w: %q in %q", ErrUnknownKind, tag, s)
	}

	id, err := parseIdentifier(kind, value)
	if err != nil {
		return Symbolic{}, fmt.Errorf("%w: %q: %v", ErrMalformed, s, err)
	}

	return Symbolic{placeholder: placeholder, id: id}, nil
}

// MustParse is Parse for addresses known at compile time.
func MustParse(s string) Symbolic {
	a, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return a
}

func parseIdentifier(kind Kind, value string) (Identifier, error) {
	if value == "" {
		return Identifier{}, errors.New("empty identifier")
	}

	switch kind {
	case KindNumeric:
		n, err := strconv.ParseUint(value, 10, 32)
		if err != nil {
			return Identifier{}, fmt.Errorf("numeric identifier %q: %w", value, err)
		}
		return Identifier{kind: kind, numeric: uint32(n)}, nil
	case KindString:
		return Identifier{kind: kind, text: value}, nil
	case KindGUID:
		g, err := uuid.Parse(value)
		if err != nil {
			return Identifier{}, fmt.Errorf("guid identifier %q: %w", value, err)
		}
		return Identifier{kind: kind, guid: g}, nil
	default:
		b, err := base64.StdEncoding.DecodeString(value)
		if err != nil {
			return Identifier{}, fmt.Errorf("byte string identifier %q: %w", value, err)
		}
		return Identifier{kind: kind, bytes: b}, nil
	}
}
