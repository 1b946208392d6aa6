package header

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
	"xorkevin.dev/nsxrepair/nsxtest"
)

func TestMarshal(t *testing.T) {
	t.Parallel()

	assert := require.New(t)

	rec := nsxtest.Recording{
		Label:        "probe",
		ChannelCount: 1,
	}
	fh, err := DecodeFileHeaders(bytes.NewReader(rec.Bytes()))
	assert.NoError(err)

	j, err := json.Marshal(fh.Extended[0])
	assert.NoError(err)
	var m map[string]any
	assert.NoError(json.Unmarshal(j, &m))
	assert.Equal("chanA", m[FieldElectrodeLabel])
	assert.Equal("300.0 Hz", m[FieldHighFreqCorner])
	assert.Equal("butterworth", m[FieldHighFreqType])
	// keys keep schema order
	assert.Less(strings.Index(string(j), FieldType), strings.Index(string(j), FieldLowFreqType))

	y, err := yaml.Marshal(fh.Basic)
	assert.NoError(err)
	assert.True(strings.HasPrefix(string(y), "FileType: BRSMPGRP\n"))
	assert.Contains(string(y), "Label: probe\n")
	assert.Contains(string(y), "FileSpec: \"3.0\"\n")
	assert.Less(strings.Index(string(y), FieldLabel), strings.Index(string(y), FieldChannelCount))
}
