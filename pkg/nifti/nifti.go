// Package nifti reads and writes single-file NIfTI-1 volumes (.nii and
// .nii.gz), the format the BraTS scans are distributed in.
package nifti

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strings"

	"github.com/klauspost/compress/gzip"

	"bratsdataset/internal/models"
)

const (
	headerSize = 348

	// minVoxOffset is the header plus the 4-byte extension flag
	minVoxOffset = 352
)

// NIfTI-1 datatype codes
const (
	DTUint8   int16 = 2
	DTInt16   int16 = 4
	DTInt32   int16 = 8
	DTFloat32 int16 = 16
	DTFloat64 int16 = 64
	DTInt8    int16 = 256
	DTUint16  int16 = 512
	DTUint32  int16 = 768
	DTInt64   int16 = 1024
	DTUint64  int16 = 1280
)

var (
	// ErrNotNIfTI is returned when the header size or magic does not match
	// a single-file NIfTI-1 image
	ErrNotNIfTI = errors.New("nifti: not a NIfTI-1 single-file image")

	// ErrUnsupported is returned for datatypes or dimensionalities the reader
	// cannot turn into a 3D volume
	ErrUnsupported = errors.New("nifti: unsupported image")

	// ErrTruncated is returned when the voxel data is shorter than the
	// header's extent
	ErrTruncated = errors.New("nifti: truncated voxel data")
)

// Header mirrors the 348-byte NIfTI-1 header. Field order and sizes match
// the on-disk layout so it can be decoded with encoding/binary directly.
type Header struct {
	SizeofHdr     int32
	DataType      [10]byte
	DBName        [18]byte
	Extents       int32
	SessionError  int16
	Regular       byte
	DimInfo       byte
	Dim           [8]int16
	IntentP1      float32
	IntentP2      float32
	IntentP3      float32
	IntentCode    int16
	Datatype      int16
	Bitpix        int16
	SliceStart    int16
	Pixdim        [8]float32
	VoxOffset     float32
	SclSlope      float32
	SclInter      float32
	SliceEnd      int16
	SliceCode     byte
	XYZTUnits     byte
	CalMax        float32
	CalMin        float32
	SliceDuration float32
	Toffset       float32
	Glmax         int32
	Glmin         int32
	Descrip       [80]byte
	AuxFile       [24]byte
	QformCode     int16
	SformCode     int16
	QuaternB      float32
	QuaternC      float32
	QuaternD      float32
	QoffsetX      float32
	QoffsetY      float32
	QoffsetZ      float32
	SrowX         [4]float32
	SrowY         [4]float32
	SrowZ         [4]float32
	IntentName    [16]byte
	Magic         [4]byte
}

// bytesPerVoxel returns the storage size of a datatype, or 0 if the
// datatype is not supported
func bytesPerVoxel(datatype int16) int {
	switch datatype {
	case DTUint8, DTInt8:
		return 1
	case DTInt16, DTUint16:
		return 2
	case DTInt32, DTUint32, DTFloat32:
		return 4
	case DTInt64, DTUint64, DTFloat64:
		return 8
	default:
		return 0
	}
}

// Reader loads volumes from NIfTI-1 files. The zero value is ready to use.
type Reader struct{}

// ReadVolume reads the volume stored at path
func (Reader) ReadVolume(path string) (*models.Volume, error) {
	return ReadFile(path)
}

// ReadFile opens path and decodes it as a NIfTI-1 volume. Gzip compression
// is detected from the stream itself, so a mislabelled .nii still loads.
func ReadFile(path string) (*models.Volume, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	vol, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return vol, nil
}

// Read decodes a NIfTI-1 volume from r, transparently inflating gzip input
func Read(r io.Reader) (*models.Volume, error) {
	br := bufio.NewReader(r)
	magic, err := br.Peek(2)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotNIfTI, err)
	}

	var src io.Reader = br
	if magic[0] == 0x1f && magic[1] == 0x8b {
		zr, err := gzip.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("open gzip stream: %w", err)
		}
		defer zr.Close()
		src = zr
	}

	hdr, order, err := readHeader(src)
	if err != nil {
		return nil, err
	}
	return readData(src, hdr, order)
}

// ReadHeader decodes only the header of the NIfTI-1 file at path
func ReadHeader(path string) (*Header, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	br := bufio.NewReader(f)
	var src io.Reader = br
	if magic, err := br.Peek(2); err == nil && magic[0] == 0x1f && magic[1] == 0x8b {
		zr, err := gzip.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("open gzip stream: %w", err)
		}
		defer zr.Close()
		src = zr
	}
	hdr, _, err := readHeader(src)
	return hdr, err
}

func readHeader(r io.Reader) (*Header, binary.ByteOrder, error) {
	buf := make([]byte, headerSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, nil, fmt.Errorf("%w: short header: %v", ErrNotNIfTI, err)
	}

	var order binary.ByteOrder
	switch {
	case binary.LittleEndian.Uint32(buf) == headerSize:
		order = binary.LittleEndian
	case binary.BigEndian.Uint32(buf) == headerSize:
		order = binary.BigEndian
	default:
		return nil, nil, fmt.Errorf("%w: sizeof_hdr is not %d", ErrNotNIfTI, headerSize)
	}

	hdr := &Header{}
	if err := binary.Read(bytes.NewReader(buf), order, hdr); err != nil {
		return nil, nil, fmt.Errorf("decode header: %w", err)
	}
	if string(hdr.Magic[:3]) != "n+1" {
		return nil, nil, fmt.Errorf("%w: magic %q", ErrNotNIfTI, hdr.Magic[:3])
	}
	return hdr, order, nil
}

// Shape returns the (x, y, z) extent described by the header. Trailing
// unit dimensions are accepted; any non-unit dimension beyond the third is
// rejected.
func (h *Header) Shape() (int, int, int, error) {
	ndim := int(h.Dim[0])
	if ndim < 1 || ndim > 7 {
		return 0, 0, 0, fmt.Errorf("%w: dim[0]=%d", ErrUnsupported, ndim)
	}
	extent := [3]int{1, 1, 1}
	for i := 1; i <= ndim; i++ {
		d := int(h.Dim[i])
		if d < 1 {
			return 0, 0, 0, fmt.Errorf("%w: dim[%d]=%d", ErrUnsupported, i, d)
		}
		if i <= 3 {
			extent[i-1] = d
		} else if d != 1 {
			return 0, 0, 0, fmt.Errorf("%w: %d-dimensional image", ErrUnsupported, ndim)
		}
	}
	return extent[0], extent[1], extent[2], nil
}

func readData(r io.Reader, hdr *Header, order binary.ByteOrder) (*models.Volume, error) {
	width, height, depth, err := hdr.Shape()
	if err != nil {
		return nil, err
	}
	size := bytesPerVoxel(hdr.Datatype)
	if size == 0 {
		return nil, fmt.Errorf("%w: datatype %d", ErrUnsupported, hdr.Datatype)
	}

	// Skip the extension flag and any extensions up to the voxel data
	offset := int64(hdr.VoxOffset)
	if offset < minVoxOffset {
		offset = minVoxOffset
	}
	if _, err := io.CopyN(io.Discard, r, offset-headerSize); err != nil {
		return nil, fmt.Errorf("seek to voxel data: %w", err)
	}

	// The header extent is untrusted, so the payload is read before any
	// voxel buffer is sized from it
	voxels := int64(width) * int64(height) * int64(depth)
	want := voxels * int64(size)
	raw, err := io.ReadAll(io.LimitReader(r, want))
	if err != nil {
		return nil, fmt.Errorf("read %d voxels: %w", voxels, err)
	}
	if int64(len(raw)) < want {
		return nil, fmt.Errorf("%w: header describes %dx%dx%d voxels but only %d of %d data bytes are present",
			ErrTruncated, width, height, depth, len(raw), want)
	}

	vol := models.NewVolume(width, height, depth)
	decode(vol.Data, raw, hdr.Datatype, order)

	// Same convention as nibabel: a zero slope means unscaled data
	if slope := float64(hdr.SclSlope); slope != 0 && !math.IsNaN(slope) {
		inter := float64(hdr.SclInter)
		if math.IsNaN(inter) {
			inter = 0
		}
		if slope != 1 || inter != 0 {
			for i, v := range vol.Data {
				vol.Data[i] = v*slope + inter
			}
		}
	}

	vol.VoxelSize.X = float64(hdr.Pixdim[1])
	vol.VoxelSize.Y = float64(hdr.Pixdim[2])
	vol.VoxelSize.Z = float64(hdr.Pixdim[3])
	return vol, nil
}

func decode(dst []float64, raw []byte, datatype int16, order binary.ByteOrder) {
	switch datatype {
	case DTUint8:
		for i := range dst {
			dst[i] = float64(raw[i])
		}
	case DTInt8:
		for i := range dst {
			dst[i] = float64(int8(raw[i]))
		}
	case DTInt16:
		for i := range dst {
			dst[i] = float64(int16(order.Uint16(raw[i*2:])))
		}
	case DTUint16:
		for i := range dst {
			dst[i] = float64(order.Uint16(raw[i*2:]))
		}
	case DTInt32:
		for i := range dst {
			dst[i] = float64(int32(order.Uint32(raw[i*4:])))
		}
	case DTUint32:
		for i := range dst {
			dst[i] = float64(order.Uint32(raw[i*4:]))
		}
	case DTFloat32:
		for i := range dst {
			dst[i] = float64(math.Float32frombits(order.Uint32(raw[i*4:])))
		}
	case DTInt64:
		for i := range dst {
			dst[i] = float64(int64(order.Uint64(raw[i*8:])))
		}
	case DTUint64:
		for i := range dst {
			dst[i] = float64(order.Uint64(raw[i*8:]))
		}
	case DTFloat64:
		for i := range dst {
			dst[i] = math.Float64frombits(order.Uint64(raw[i*8:]))
		}
	}
}

// WriteFile stores vol as a little-endian float32 NIfTI-1 image. Paths
// ending in .gz are gzip-compressed.
func WriteFile(path string, vol *models.Volume) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}

	var w io.Writer = f
	var zw *gzip.Writer
	if strings.HasSuffix(strings.ToLower(path), ".gz") {
		zw = gzip.NewWriter(f)
		w = zw
	}

	bw := bufio.NewWriter(w)
	if err := Write(bw, vol); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := bw.Flush(); err != nil {
		f.Close()
		return err
	}
	if zw != nil {
		if err := zw.Close(); err != nil {
			f.Close()
			return err
		}
	}
	return f.Close()
}

// Write encodes vol as an uncompressed little-endian float32 NIfTI-1 stream
func Write(w io.Writer, vol *models.Volume) error {
	for _, d := range []int{vol.Width, vol.Height, vol.Depth} {
		if d < 1 || d > math.MaxInt16 {
			return fmt.Errorf("%w: extent %dx%dx%d does not fit a NIfTI-1 header",
				ErrUnsupported, vol.Width, vol.Height, vol.Depth)
		}
	}
	if len(vol.Data) != vol.Width*vol.Height*vol.Depth {
		return fmt.Errorf("volume data length %d does not match %dx%dx%d",
			len(vol.Data), vol.Width, vol.Height, vol.Depth)
	}

	hdr := Header{
		SizeofHdr: headerSize,
		Regular:   'r',
		Datatype:  DTFloat32,
		Bitpix:    32,
		VoxOffset: minVoxOffset,
		SclSlope:  1,
	}
	hdr.Dim = [8]int16{3, int16(vol.Width), int16(vol.Height), int16(vol.Depth), 1, 1, 1, 1}
	hdr.Pixdim = [8]float32{1, 1, 1, 1, 1, 1, 1, 1}
	if vol.VoxelSize.X > 0 {
		hdr.Pixdim[1] = float32(vol.VoxelSize.X)
	}
	if vol.VoxelSize.Y > 0 {
		hdr.Pixdim[2] = float32(vol.VoxelSize.Y)
	}
	if vol.VoxelSize.Z > 0 {
		hdr.Pixdim[3] = float32(vol.VoxelSize.Z)
	}
	copy(hdr.Magic[:], "n+1\x00")

	if err := binary.Write(w, binary.LittleEndian, &hdr); err != nil {
		return fmt.Errorf("encode header: %w", err)
	}
	// Extension flag: no extensions follow
	if _, err := w.Write([]byte{0, 0, 0, 0}); err != nil {
		return err
	}

	buf := make([]byte, 4*len(vol.Data))
	for i, v := range vol.Data {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(float32(v)))
	}
	_, err := w.Write(buf)
	return err
}
