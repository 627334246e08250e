package audio

import "encoding/binary"

const (
	wavHeaderLen      = 44
	wavBitsPerSample  = 16
	wavChannels       = 1
	wavBytesPerSample = wavBitsPerSample / 8
	wavBlockAlign     = wavChannels * wavBytesPerSample
	wavFmtChunkSize   = 16
	wavFmtPCM         = 1
)

// SamplesToWAV encodes float32 PCM samples as a mono 16-bit WAV byte
// slice at sampleRate, the container the transcriber backend expects its
// upload in. Sample encoding is delegated to EncodePCM16LE so the WAV
// container and the raw egress codec never drift apart.
func SamplesToWAV(samples []float32, sampleRate int) []byte {
	pcm := EncodePCM16LE(samples)

	buf := make([]byte, wavHeaderLen+len(pcm))
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(wavHeaderLen+len(pcm)-8))
	copy(buf[8:12], "WAVE")
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], wavFmtChunkSize)
	binary.LittleEndian.PutUint16(buf[20:22], wavFmtPCM)
	binary.LittleEndian.PutUint16(buf[22:24], wavChannels)
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(sampleRate*wavBlockAlign)) // byte rate
	binary.LittleEndian.PutUint16(buf[32:34], wavBlockAlign)
	binary.LittleEndian.PutUint16(buf[34:36], wavBitsPerSample)
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(len(pcm)))
	copy(buf[wavHeaderLen:], pcm)

	return buf
}
