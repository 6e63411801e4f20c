// Package dcmtest writes small synthetic DICOM Part 10 files for tests. Files
// are explicit VR little endian, and the byte offset of every element value is
// recorded so tests can decode values straight from the byte stream.
package dcmtest

import (
	"bytes"
	"encoding/binary"
	"sort"
	"strconv"
	"strings"
)

const (
	ExplicitVRLittleEndian = "1.2.840.10008.1.2.1"
	ImplicitVRLittleEndian = "1.2.840.10008.1.2"

	mrImageStorage = "1.2.840.10008.5.1.4.1.1.4"
)

// Key identifies an element by (group, element).
type Key struct {
	Group   uint16
	Element uint16
}

// Element is one raw element. Value must already be padded to even length.
type Element struct {
	Key
	VR    string
	Value []byte
}

// Encoded is a serialized file plus the offset of each element's value bytes.
type Encoded struct {
	Bytes   []byte
	Offsets map[Key]int
}

// US encodes unsigned shorts.
func US(group, element uint16, vals ...uint16) Element {
	buf := make([]byte, 2*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint16(buf[2*i:], v)
	}
	return Element{Key: Key{group, element}, VR: "US", Value: buf}
}

// DS encodes decimal strings.
func DS(group, element uint16, vals ...float64) Element {
	parts := make([]string, len(vals))
	for i, v := range vals {
		parts[i] = strconv.FormatFloat(v, 'g', -1, 64)
	}
	return text(group, element, "DS", strings.Join(parts, `\`), ' ')
}

// IS encodes an integer string.
func IS(group, element uint16, v int) Element {
	return text(group, element, "IS", strconv.Itoa(v), ' ')
}

// CS encodes a code string.
func CS(group, element uint16, s string) Element {
	return text(group, element, "CS", s, ' ')
}

// UI encodes a UID, padded with NUL as the standard requires.
func UI(group, element uint16, s string) Element {
	return text(group, element, "UI", s, 0)
}

// OW encodes a raw 16-bit word buffer.
func OW(group, element uint16, raw []byte) Element {
	if len(raw)%2 != 0 {
		raw = append(append([]byte{}, raw...), 0)
	}
	return Element{Key: Key{group, element}, VR: "OW", Value: raw}
}

func text(group, element uint16, vr, s string, pad byte) Element {
	b := []byte(s)
	if len(b)%2 != 0 {
		b = append(b, pad)
	}
	return Element{Key: Key{group, element}, VR: vr, Value: b}
}

func hasLongLength(vr string) bool {
	switch vr {
	case "OB", "OW", "OF", "SQ", "UT", "UN":
		return true
	}
	return false
}

func writeExplicit(buf *bytes.Buffer, e Element, offsets map[Key]int) {
	binary.Write(buf, binary.LittleEndian, e.Group)
	binary.Write(buf, binary.LittleEndian, e.Element)
	buf.WriteString(e.VR)
	if hasLongLength(e.VR) {
		buf.Write([]byte{0, 0})
		binary.Write(buf, binary.LittleEndian, uint32(len(e.Value)))
	} else {
		binary.Write(buf, binary.LittleEndian, uint16(len(e.Value)))
	}
	if offsets != nil {
		offsets[e.Key] = buf.Len()
	}
	buf.Write(e.Value)
}

func writeImplicit(buf *bytes.Buffer, e Element, offsets map[Key]int) {
	binary.Write(buf, binary.LittleEndian, e.Group)
	binary.Write(buf, binary.LittleEndian, e.Element)
	binary.Write(buf, binary.LittleEndian, uint32(len(e.Value)))
	if offsets != nil {
		offsets[e.Key] = buf.Len()
	}
	buf.Write(e.Value)
}

func sorted(elems []Element) []Element {
	out := append([]Element(nil), elems...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Group != out[j].Group {
			return out[i].Group < out[j].Group
		}
		return out[i].Element < out[j].Element
	})
	return out
}

// Encode writes a Part 10 file: preamble, DICM magic, a file meta group and
// the dataset in explicit VR little endian.
func Encode(elems []Element) Encoded {
	out := Encoded{Offsets: make(map[Key]int)}

	var meta bytes.Buffer
	writeExplicit(&meta, Element{Key: Key{0x0002, 0x0001}, VR: "OB", Value: []byte{0, 1}}, nil)
	writeExplicit(&meta, UI(0x0002, 0x0002, mrImageStorage), nil)
	writeExplicit(&meta, UI(0x0002, 0x0003, "1.2.3.4.5.6.7"), nil)
	writeExplicit(&meta, UI(0x0002, 0x0010, ExplicitVRLittleEndian), nil)

	var buf bytes.Buffer
	buf.Write(make([]byte, 128))
	buf.WriteString("DICM")

	groupLength := make([]byte, 4)
	binary.LittleEndian.PutUint32(groupLength, uint32(meta.Len()))
	writeExplicit(&buf, Element{Key: Key{0x0002, 0x0000}, VR: "UL", Value: groupLength}, nil)
	buf.Write(meta.Bytes())

	for _, e := range sorted(elems) {
		writeExplicit(&buf, e, out.Offsets)
	}

	out.Bytes = buf.Bytes()
	return out
}

// EncodeBare writes the dataset as implicit VR little endian with no preamble
// and no meta group, the way old ACR-NEMA exports look.
func EncodeBare(elems []Element) Encoded {
	out := Encoded{Offsets: make(map[Key]int)}

	var buf bytes.Buffer
	for _, e := range sorted(elems) {
		writeImplicit(&buf, e, out.Offsets)
	}

	out.Bytes = buf.Bytes()
	return out
}
