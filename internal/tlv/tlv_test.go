package tlv

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	records := []Record{
		{Type: ProtocolVersion, Value: []byte{1}},
		{Type: Member, Value: []byte("alice")},
		{Type: Member, Value: []byte("bob")},
		{Type: DataMessage, Value: []byte("hello")},
	}

	buf, err := EncodeAll(records)
	require.NoError(t, err)

	decoded, err := Decode(buf, 2)
	require.NoError(t, err)
	assert.Equal(t, records, decoded)
}

func TestDecodeRejectsTruncatedHeader(t *testing.T) {
	_, err := Decode([]byte{0x00}, -1)
	assert.Error(t, err)
}

func TestDecodeRejectsOverrunLength(t *testing.T) {
	buf, err := Encode(nil, Member, []byte("alice"))
	require.NoError(t, err)
	buf = buf[:len(buf)-1] // truncate the value
	_, err = Decode(buf, -1)
	assert.Error(t, err)
}

func TestDecodeEnforcesMaxArrayCount(t *testing.T) {
	var records []Record
	for i := 0; i < 3; i++ {
		records = append(records, Record{Type: Member, Value: []byte{byte(i)}})
	}
	buf, err := EncodeAll(records)
	require.NoError(t, err)

	_, err = Decode(buf, 2)
	assert.Error(t, err)

	_, err = Decode(buf, 3)
	assert.NoError(t, err)
}

func TestFindAndFindAll(t *testing.T) {
	records := []Record{
		{Type: Member, Value: []byte("a")},
		{Type: Member, Value: []byte("b")},
		{Type: ProtocolVersion, Value: []byte{1}},
	}

	v, ok := Find(records, ProtocolVersion)
	require.True(t, ok)
	assert.Equal(t, []byte{1}, v)

	_, ok = Find(records, SigningKey)
	assert.False(t, ok)

	all := FindAll(records, Member)
	assert.Equal(t, [][]byte{[]byte("a"), []byte("b")}, all)
}
