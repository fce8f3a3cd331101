package audio

import (
	"bytes"
	"encoding/binary"
)

// Default PCM capture parameters for browser/desktop recorder clients.
const (
	DefaultSampleRate = 44100
	DefaultChannels   = 1
	DefaultBitDepth   = 16
)

// WrapPCM frames raw PCM samples in a RIFF/WAVE container so transcription
// accepts recorder uploads that arrive without a header.
func WrapPCM(pcm []byte, sampleRate, channels, bitsPerSample int) []byte {
	blockAlign := channels * bitsPerSample / 8
	byteRate := sampleRate * blockAlign
	dataSize := len(pcm)

	var buf bytes.Buffer
	buf.Grow(44 + dataSize)

	// RIFF header
	buf.WriteString("RIFF")
	writeUint32(&buf, uint32(36+dataSize))
	buf.WriteString("WAVE")

	// fmt chunk, format 1 = linear PCM
	buf.WriteString("fmt ")
	writeUint32(&buf, 16)
	writeUint16(&buf, 1)
	writeUint16(&buf, uint16(channels))
	writeUint32(&buf, uint32(sampleRate))
	writeUint32(&buf, uint32(byteRate))
	writeUint16(&buf, uint16(blockAlign))
	writeUint16(&buf, uint16(bitsPerSample))

	// data chunk
	buf.WriteString("data")
	writeUint32(&buf, uint32(dataSize))
	buf.Write(pcm)

	return buf.Bytes()
}

// IsWAV reports whether data already carries a RIFF/WAVE header.
func IsWAV(data []byte) bool {
	return len(data) >= 12 &&
		bytes.Equal(data[0:4], []byte("RIFF")) &&
		bytes.Equal(data[8:12], []byte("WAVE"))
}

func writeUint32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func writeUint16(buf *bytes.Buffer, v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	buf.Write(b[:])
}
