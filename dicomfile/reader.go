package dicomfile

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
	"github.com/carbocation/dcm2nii"
	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/element"
)

const (
	preambleLength = 128

	implicitVRLittleEndian = "1.2.840.10008.1.2"
)

var part10Magic = []byte("DICM")

// Reader parses DICOM files from local disk or Google Storage. It carries no
// state between reads and is safe for concurrent use if the storage client
// is.
type Reader struct {
	cfg    dcm2nii.Config
	client *storage.Client
}

// NewReader builds a Reader. client may be nil when only local paths will be
// read.
func NewReader(cfg dcm2nii.Config, client *storage.Client) *Reader {
	return &Reader{cfg: cfg, client: client}
}

// Read parses the DICOM at path with the default configuration.
func Read(path string) (*File, error) {
	return NewReader(dcm2nii.DefaultConfig(), nil).Read(path)
}

// Read opens, fully parses (pixel data included) and closes the file at path.
func (r *Reader) Read(path string) (*File, error) {
	f, nbytes, err := dcm2nii.Open(path, r.client)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dcm := make([]byte, nbytes)
	if _, err := io.ReadFull(io.NewSectionReader(f, 0, nbytes), dcm); err != nil {
		return nil, &dcm2nii.FileFormatError{Path: path, Reason: "short read", Err: err}
	}

	return r.Parse(path, dcm)
}

// Parse decodes an in-memory DICOM. path is only used to label the result and
// any errors.
func (r *Reader) Parse(path string, dcm []byte) (*File, error) {
	if !HasPart10Header(dcm) {
		if !r.cfg.AssumeLittleEndian {
			return nil, &dcm2nii.FileFormatError{Path: path, Reason: "missing 128 byte preamble and DICM magic"}
		}

		dcm = withImplicitLittleEndianHeader(dcm)
	}

	p, err := SafelyNewParser(dcm)
	if err != nil {
		return nil, &dcm2nii.FileFormatError{Path: path, Reason: "unreadable file meta information", Err: err}
	}

	parsedData, err := SafelyDicomParse(p, dicom.ParseOptions{
		DropPixelData: false,
	})
	if parsedData == nil || err != nil {
		return nil, &dcm2nii.FileFormatError{Path: path, Reason: "unreadable dataset", Err: err}
	}

	return newFile(path, parsedData)
}

// HasPart10Header reports whether dcm starts with the 128 byte preamble
// followed by the DICM magic.
func HasPart10Header(dcm []byte) bool {
	return len(dcm) >= preambleLength+len(part10Magic) &&
		bytes.Equal(dcm[preambleLength:preambleLength+len(part10Magic)], part10Magic)
}

// withImplicitLittleEndianHeader prefixes a bare dataset with a preamble and a
// minimal file meta group declaring implicit VR little endian, which is what
// such files are in practice.
func withImplicitLittleEndianHeader(dataset []byte) []byte {
	uid := []byte(implicitVRLittleEndian)
	if len(uid)%2 != 0 {
		uid = append(uid, 0)
	}

	var meta bytes.Buffer
	binary.Write(&meta, binary.LittleEndian, [2]uint16{0x0002, 0x0010})
	meta.WriteString("UI")
	binary.Write(&meta, binary.LittleEndian, uint16(len(uid)))
	meta.Write(uid)

	var out bytes.Buffer
	out.Grow(preambleLength + len(part10Magic) + 12 + meta.Len() + len(dataset))
	out.Write(make([]byte, preambleLength))
	out.Write(part10Magic)
	binary.Write(&out, binary.LittleEndian, [2]uint16{0x0002, 0x0000})
	out.WriteString("UL")
	binary.Write(&out, binary.LittleEndian, uint16(4))
	binary.Write(&out, binary.LittleEndian, uint32(meta.Len()))
	out.Write(meta.Bytes())
	out.Write(dataset)

	return out.Bytes()
}

// SafelyNewParser consumes panics emitted by the dicom library while it reads
// the file meta information.
func SafelyNewParser(dcm []byte) (p dicom.Parser, err error) {
	defer func() {
		if panicErr := recover(); panicErr != nil {
			err = fmt.Errorf("%v", panicErr)
		}
	}()

	return dicom.NewParserFromBytes(dcm, nil)
}

// SafelyDicomParse consumes panics emitted by the dicom library, which are
// inappropriate and must be captured in order to turn them into recoverable
// errors.
func SafelyDicomParse(p dicom.Parser, opts dicom.ParseOptions) (parsedData *element.DataSet, err error) {
	defer func() {
		if panicErr := recover(); panicErr != nil {
			err = fmt.Errorf("%v", panicErr)
		}
	}()

	return p.Parse(opts)
}
