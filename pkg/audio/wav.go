package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// wavHeaderSize is the size of the canonical 44-byte PCM WAV header written
// by EncodeWAV.
const wavHeaderSize = 44

// errNotWAV is returned by parseWAV when the payload does not start with a
// RIFF/WAVE container signature.
var errNotWAV = errors.New("audio: not a RIFF/WAVE container")

// wavInfo holds the fields recovered from a WAV container's fmt and data
// chunks that are needed to compute playback duration.
type wavInfo struct {
	audioFormat   uint16
	channels      int
	sampleRate    int
	bitsPerSample int
	dataBytes     int
}

// frameCount returns the number of sample frames in the data chunk, or zero
// if the header fields are degenerate.
func (w wavInfo) frameCount() int {
	frameSize := w.channels * w.bitsPerSample / 8
	if frameSize <= 0 {
		return 0
	}
	return w.dataBytes / frameSize
}

// parseWAV walks the RIFF chunk list of data and extracts the fmt and data
// chunk fields. It tolerates extra chunks (LIST, fact, cue) between fmt and
// data, which real-world TTS output frequently contains, but it rejects
// payloads whose declared chunk sizes run past the end of the buffer.
func parseWAV(data []byte) (wavInfo, error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return wavInfo{}, errNotWAV
	}

	var (
		info    wavInfo
		haveFmt bool
	)

	// Chunk walk starts after the 12-byte RIFF descriptor.
	pos := 12
	for pos+8 <= len(data) {
		id := string(data[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(data[pos+4 : pos+8]))
		body := pos + 8

		if size < 0 || body+size > len(data) {
			// Truncated chunk. The data chunk of a streamed WAV often
			// declares more bytes than were delivered; accept what is there.
			if id == "data" && haveFmt {
				info.dataBytes = len(data) - body
				return info, nil
			}
			return wavInfo{}, fmt.Errorf("audio: wav chunk %q overruns payload", id)
		}

		switch id {
		case "fmt ":
			if size < 16 {
				return wavInfo{}, fmt.Errorf("audio: wav fmt chunk too short (%d bytes)", size)
			}
			info.audioFormat = binary.LittleEndian.Uint16(data[body : body+2])
			info.channels = int(binary.LittleEndian.Uint16(data[body+2 : body+4]))
			info.sampleRate = int(binary.LittleEndian.Uint32(data[body+4 : body+8]))
			info.bitsPerSample = int(binary.LittleEndian.Uint16(data[body+14 : body+16]))
			haveFmt = true
		case "data":
			if !haveFmt {
				return wavInfo{}, errors.New("audio: wav data chunk precedes fmt chunk")
			}
			info.dataBytes = size
			return info, nil
		}

		// Chunks are word-aligned; odd sizes carry a pad byte.
		pos = body + size + (size & 1)
	}

	return wavInfo{}, errors.New("audio: wav container has no data chunk")
}

// FromWAV builds a Clip from a WAV container, filling the structural
// metadata from the parsed header so the duration resolver can compute an
// exact duration. When the payload does not parse as WAV the clip carries
// the raw bytes without metadata and resolution degrades gracefully.
func FromWAV(data []byte) Clip {
	c := Clip{Data: data}
	info, err := parseWAV(data)
	if err != nil {
		return c
	}
	c.SampleRate = info.sampleRate
	c.Channels = info.channels
	c.FrameCount = info.frameCount()
	return c
}

// EncodeWAV wraps raw 16-bit little-endian PCM in a canonical 44-byte
// RIFF/WAV container. Used when submitting recordings to batch transcription
// servers that expect a WAV file rather than bare PCM.
func EncodeWAV(pcm []byte, sampleRate, channels int) []byte {
	dataSize := len(pcm)
	byteRate := sampleRate * channels * bytesPerSample
	blockAlign := channels * bytesPerSample

	buf := make([]byte, wavHeaderSize+dataSize)

	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataSize))
	copy(buf[8:12], "WAVE")

	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(buf[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(buf[34:36], 16) // bits per sample

	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))
	copy(buf[44:], pcm)

	return buf
}
