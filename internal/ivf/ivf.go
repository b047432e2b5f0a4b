// Package ivf writes a minimal IVF container: a 32-byte file header
// followed by a 12-byte frame header + payload per frame. This is the
// on-disk format github.com/pion/webrtc/v4/pkg/media/ivfwriter also
// produces, but that package is built around RTP depacketization
// (media.Writer's WriteRTP) rather than writing already-reassembled
// application-layer frames, which is what the video pipeline has on hand.
package ivf

import (
	"encoding/binary"
	"fmt"
	"os"

	"github.com/pion/webrtc/v4/pkg/media"
)

// Writer appends VP8/VP9/AV1/H264-compressed frames to an IVF file.
type Writer struct {
	f         *os.File
	frameNo   uint64
	width     uint16
	height    uint16
	timebaseN uint32
	timebaseD uint32
}

// fourCC codes for the codecs the video pipeline may record.
const (
	FourCCVP8 = "VP80"
	FourCCVP9 = "VP90"
	FourCCAV1 = "AV01"
)

// New creates path and writes the IVF file header. width/height are in
// pixels; timebaseD/timebaseN set the frame-timestamp unit (e.g. 1000/1 for
// millisecond timestamps).
func New(path, fourCC string, width, height int, timebaseN, timebaseD uint32) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create ivf file: %w", err)
	}
	w := &Writer{f: f, width: uint16(width), height: uint16(height), timebaseN: timebaseN, timebaseD: timebaseD}
	if err := w.writeHeader(fourCC); err != nil {
		f.Close()
		return nil, err
	}
	return w, nil
}

func (w *Writer) writeHeader(fourCC string) error {
	hdr := make([]byte, 32)
	copy(hdr[0:4], "DKIF")
	binary.LittleEndian.PutUint16(hdr[4:6], 0)  // version
	binary.LittleEndian.PutUint16(hdr[6:8], 32) // header length
	copy(hdr[8:12], fourCC)
	binary.LittleEndian.PutUint16(hdr[12:14], w.width)
	binary.LittleEndian.PutUint16(hdr[14:16], w.height)
	binary.LittleEndian.PutUint32(hdr[16:20], w.timebaseD)
	binary.LittleEndian.PutUint32(hdr[20:24], w.timebaseN)
	binary.LittleEndian.PutUint32(hdr[24:28], 0) // frame count, patched on Close
	binary.LittleEndian.PutUint32(hdr[28:32], 0) // unused
	_, err := w.f.Write(hdr)
	return err
}

// WriteSample appends one compressed frame, carried the same way pion's
// media.Writer implementations take frames: a media.Sample wrapping the
// bitstream bytes and the frame's presentation duration.
func (w *Writer) WriteSample(sample media.Sample, timestamp uint64) error {
	hdr := make([]byte, 12)
	binary.LittleEndian.PutUint32(hdr[0:4], uint32(len(sample.Data)))
	binary.LittleEndian.PutUint64(hdr[4:12], timestamp)
	if _, err := w.f.Write(hdr); err != nil {
		return err
	}
	if _, err := w.f.Write(sample.Data); err != nil {
		return err
	}
	w.frameNo++
	return nil
}

// Close patches the frame count into the header and closes the file.
func (w *Writer) Close() error {
	if _, err := w.f.Seek(24, 0); err == nil {
		count := make([]byte, 4)
		binary.LittleEndian.PutUint32(count, uint32(w.frameNo))
		_, _ = w.f.Write(count)
	}
	return w.f.Close()
}
