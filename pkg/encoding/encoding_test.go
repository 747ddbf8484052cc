package encoding_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/omalloc/waypoint/pkg/encoding"
)

type sample struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
}

func TestGetDefaultCodecIsJSON(t *testing.T) {
	c := encoding.GetDefaultCodec()
	assert.NotNil(t, c)
	assert.Equal(t, "json", c.Name())
}

func TestGetCodecByName(t *testing.T) {
	c := encoding.GetCodec("json")
	assert.NotNil(t, c)
	assert.Equal(t, "json", c.Name())
}

func TestGetCodecUnknownReturnsNil(t *testing.T) {
	assert.Nil(t, encoding.GetCodec("yaml"))
}

func TestJSONCodecRoundTrip(t *testing.T) {
	c := encoding.GetDefaultCodec()

	in := sample{Name: "object.bin", Size: 1024}
	data, err := c.Marshal(in)
	assert.NoError(t, err)

	var out sample
	assert.NoError(t, c.Unmarshal(data, &out))
	assert.Equal(t, in, out)
}

type fakeCodec struct{}

func (fakeCodec) Name() string                    { return "fake" }
func (fakeCodec) Marshal(v any) ([]byte, error)    { return []byte("fake"), nil }
func (fakeCodec) Unmarshal(d []byte, v any) error  { return nil }

func TestRegisterAddsNewCodec(t *testing.T) {
	encoding.Register(fakeCodec{})

	c := encoding.GetCodec("fake")
	assert.NotNil(t, c)
	assert.Equal(t, "fake", c.Name())

	// default codec is unaffected by registering another one.
	assert.Equal(t, "json", encoding.GetDefaultCodec().Name())
}
