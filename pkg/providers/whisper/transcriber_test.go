package whisper

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWavEncodeHeader(t *testing.T) {
	pcm := make([]byte, 3200)
	wav := wavEncode(pcm, 16000, 1)

	assert.Len(t, wav, 44+len(pcm))
	assert.Equal(t, "RIFF", string(wav[0:4]))
	assert.Equal(t, "WAVE", string(wav[8:12]))
	assert.Equal(t, uint32(16000), binary.LittleEndian.Uint32(wav[24:28]))
	assert.Equal(t, uint32(32000), binary.LittleEndian.Uint32(wav[28:32]))
	assert.Equal(t, uint32(len(pcm)), binary.LittleEndian.Uint32(wav[40:44]))
}
