package dicomfile

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"
)

// SiemensChunk is one named entry of a Siemens CSA header, e.g.
// "SliceNormalVector" or "MosaicRefAcqTimes".
type SiemensChunk struct {
	Name           string
	VM             uint32
	VR             string
	SyngoDT        uint32
	Subelements    uint32
	SubElementData []string
}

var (
	siemensMagic    = []byte("SV10")
	siemensConstant = []byte{0x04, 0x03, 0x02, 0x01}
)

// SiemensHeader is a parsed CSA header keyed by chunk name.
type SiemensHeader struct {
	NElements uint32
	Chunks    map[string]SiemensChunk
}

// Slice returns the chunks sorted by name.
func (h SiemensHeader) Slice() []SiemensChunk {
	out := make([]SiemensChunk, 0, len(h.Chunks))
	for _, v := range h.Chunks {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// SiemensHeader parses the CSA image header (0029,1010) if the file has one.
func (f *File) SiemensHeader() (SiemensHeader, error) {
	v, err := f.Tag(TagSiemensCSAImageHeader.Group, TagSiemensCSAImageHeader.Element)
	if err != nil {
		return SiemensHeader{}, err
	}
	return ParseSiemensHeader(v.Bytes())
}

// ParseSiemensHeader decodes a CSA2 ("SV10") header. The data is a byte
// stream that is encoded into little-endian 32-bit words.
func ParseSiemensHeader(bs []byte) (SiemensHeader, error) {
	out := SiemensHeader{Chunks: make(map[string]SiemensChunk)}

	r := csaReader{bs: bs}

	if word := r.next(4); !bytes.Equal(word, siemensMagic) {
		return out, fmt.Errorf("Siemens data didn't start with SV10")
	}
	if word := r.next(4); !bytes.Equal(word, siemensConstant) {
		return out, fmt.Errorf("Didn't find constant %v", siemensConstant)
	}

	out.NElements = r.uint32()

	// Delimiter
	r.next(4)

	for i := uint32(0); i < out.NElements && r.err == nil; i++ {
		sc := r.chunk()
		if r.err != nil {
			break
		}
		out.Chunks[sc.Name] = sc
	}

	return out, r.err
}

type csaReader struct {
	bs     []byte
	offset int
	err    error
}

func (r *csaReader) next(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || r.offset+n > len(r.bs) {
		r.err = fmt.Errorf("Siemens header truncated at offset %d (wanted %d more bytes of %d)", r.offset, n, len(r.bs))
		return nil
	}

	word := r.bs[r.offset : r.offset+n]
	r.offset += n
	return word
}

func (r *csaReader) uint32() uint32 {
	word := r.next(4)
	if word == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(word)
}

func (r *csaReader) chunk() SiemensChunk {
	out := SiemensChunk{}

	// Element name: 64 bytes, ignore after the first 0x00
	out.Name = string(bytes.SplitN(r.next(64), []byte{0x00}, 2)[0])
	out.VM = r.uint32()
	out.VR = string(bytes.TrimRight(r.next(4), "\x00"))
	out.SyngoDT = r.uint32()
	out.Subelements = r.uint32()

	// Delimiter (0x4d or 0xcd)
	r.next(4)

	for i := 0; i < int(out.Subelements) && r.err == nil; i++ {
		// 16 bytes: the first, second and fourth words all hold the data
		// length and the third is a delimiter.
		header := r.next(16)
		if header == nil {
			break
		}
		dataLen := int(binary.LittleEndian.Uint32(header[:4]))

		data := r.next(dataLen)

		// The data fields are always padded out to a 4-byte boundary.
		if modulus := dataLen % 4; modulus != 0 {
			r.next(4 - modulus)
		}

		if dataLen > 0 && data != nil {
			out.SubElementData = append(out.SubElementData, string(bytes.TrimRight(data, "\x00 ")))
		}
	}

	return out
}
