package header

import (
	"bytes"
	"fmt"
	"io"

	"xorkevin.dev/kerrors"
)

const (
	FieldFileType            = "FileType"
	FieldFileSpec            = "FileSpec"
	FieldBytesInHeader       = "BytesInHeader"
	FieldLabel               = "Label"
	FieldComment             = "Comment"
	FieldPeriod              = "Period"
	FieldTimeStampResolution = "TimeStampResolution"
	FieldTimeOrigin          = "TimeOrigin"
	FieldChannelCount        = "ChannelCount"

	FieldType              = "Type"
	FieldElectrodeID       = "ElectrodeID"
	FieldElectrodeLabel    = "ElectrodeLabel"
	FieldPhysicalConnector = "PhysicalConnector"
	FieldConnectorPin      = "ConnectorPin"
	FieldMinDigitalValue   = "MinDigitalValue"
	FieldMaxDigitalValue   = "MaxDigitalValue"
	FieldMinAnalogValue    = "MinAnalogValue"
	FieldMaxAnalogValue    = "MaxAnalogValue"
	FieldUnits             = "Units"
	FieldHighFreqCorner    = "HighFreqCorner"
	FieldHighFreqOrder     = "HighFreqOrder"
	FieldHighFreqType      = "HighFreqType"
	FieldLowFreqCorner     = "LowFreqCorner"
	FieldLowFreqOrder      = "LowFreqOrder"
	FieldLowFreqType       = "LowFreqType"

	FieldChannelID = "ChannelID"

	FieldHeader        = "Header"
	FieldTimestamp     = "Timestamp"
	FieldNumDataPoints = "NumDataPoints"
)

const (
	// BasicSize is the size of a full basic header
	BasicSize = 314
	// Basic21Size is the size of a basic header without full metadata
	Basic21Size = 32
	// ExtendedSize is the size of a per channel extended header
	ExtendedSize = 66
	// ChannelIDSize is the size of a per channel id in a 2.1 header
	ChannelIDSize = 4
	// DataBlockSize is the size of a per segment data block header
	DataBlockSize = 13
)

const (
	// FileTypeSampleGroup is a 2.2+ recording with full metadata
	FileTypeSampleGroup = "BRSMPGRP"
	// FileTypeSampleGroup21 is a 2.1 recording holding only channel ids
	FileTypeSampleGroup21 = "NEURALSG"
)

var (
	// BasicSchema is the file level basic header with full metadata
	BasicSchema = NewSchema("basic", BasicSize,
		FieldSpec{FieldFileType, Bytes(8), FormatString},
		FieldSpec{FieldFileSpec, Uint8s(2), FormatVersion},
		FieldSpec{FieldBytesInHeader, U32, FormatRaw},
		FieldSpec{FieldLabel, Bytes(16), FormatString},
		FieldSpec{FieldComment, Bytes(256), FormatString},
		FieldSpec{FieldPeriod, U32, FormatRaw},
		FieldSpec{FieldTimeStampResolution, U32, FormatRaw},
		FieldSpec{FieldTimeOrigin, Uint16s(8), FormatTimeOrigin},
		FieldSpec{FieldChannelCount, U32, FormatRaw},
	)

	// Basic21Schema is the file level basic header without full metadata
	Basic21Schema = NewSchema("basic21", Basic21Size,
		FieldSpec{FieldFileType, Bytes(8), FormatString},
		FieldSpec{FieldLabel, Bytes(16), FormatString},
		FieldSpec{FieldPeriod, U32, FormatRaw},
		FieldSpec{FieldChannelCount, U32, FormatRaw},
	)

	// ExtendedSchema is the per channel extended header
	ExtendedSchema = NewSchema("extended", ExtendedSize,
		FieldSpec{FieldType, Bytes(2), FormatString},
		FieldSpec{FieldElectrodeID, U16, FormatRaw},
		FieldSpec{FieldElectrodeLabel, Bytes(16), FormatString},
		FieldSpec{FieldPhysicalConnector, U8, FormatRaw},
		FieldSpec{FieldConnectorPin, U8, FormatRaw},
		FieldSpec{FieldMinDigitalValue, I16, FormatRaw},
		FieldSpec{FieldMaxDigitalValue, I16, FormatRaw},
		FieldSpec{FieldMinAnalogValue, I16, FormatRaw},
		FieldSpec{FieldMaxAnalogValue, I16, FormatRaw},
		FieldSpec{FieldUnits, Bytes(16), FormatString},
		FieldSpec{FieldHighFreqCorner, U32, FormatFrequency},
		FieldSpec{FieldHighFreqOrder, U32, FormatRaw},
		FieldSpec{FieldHighFreqType, U16, FormatFilter},
		FieldSpec{FieldLowFreqCorner, U32, FormatFrequency},
		FieldSpec{FieldLowFreqOrder, U32, FormatRaw},
		FieldSpec{FieldLowFreqType, U16, FormatFilter},
	)

	// ChannelIDSchema is the per channel entry following a 2.1 basic header
	ChannelIDSchema = NewSchema("channel", ChannelIDSize,
		FieldSpec{FieldChannelID, U32, FormatRaw},
	)

	// DataBlockSchema is the header preceding the samples of every segment
	DataBlockSchema = NewSchema("data", DataBlockSize,
		FieldSpec{FieldHeader, U8, FormatRaw},
		FieldSpec{FieldTimestamp, U64, FormatRaw},
		FieldSpec{FieldNumDataPoints, U32, FormatRaw},
	)
)

type (
	// FileHeaders holds the basic header followed by one extended header per
	// channel. A 2.1 recording holds a [Basic21Schema] header followed by one
	// [ChannelIDSchema] header per channel.
	FileHeaders struct {
		Basic    *Header
		Extended []*Header
	}
)

// DecodeFileHeaders decodes the basic header and every per channel header
// from r, selecting the 2.1 layout by file type
func DecodeFileHeaders(r io.Reader) (*FileHeaders, error) {
	var fileType [8]byte
	if _, err := io.ReadFull(r, fileType[:]); err != nil {
		return nil, kerrors.WithKind(err, ErrTruncated, "Short file type")
	}
	r = io.MultiReader(bytes.NewReader(fileType[:]), r)
	if string(fileType[:]) == FileTypeSampleGroup21 {
		return decodeFileHeaders21(r)
	}

	basic, err := Decode(BasicSchema, r)
	if err != nil {
		return nil, err
	}
	channels, err := basic.Uint(FieldChannelCount)
	if err != nil {
		return nil, err
	}
	headerBytes, err := basic.Uint(FieldBytesInHeader)
	if err != nil {
		return nil, err
	}
	if want := uint64(BasicSize) + channels*ExtendedSize; headerBytes < want {
		return nil, kerrors.WithKind(nil, ErrMalformedField, fmt.Sprintf("Header declares %d bytes but %d channels require %d", headerBytes, channels, want))
	}
	// channel count is untrusted until every extended header is read
	var ext []*Header
	for n := range int(channels) {
		h, err := Decode(ExtendedSchema, r)
		if err != nil {
			return nil, kerrors.WithMsg(err, fmt.Sprintf("Failed decoding extended header %d", n))
		}
		ext = append(ext, h)
	}
	return &FileHeaders{
		Basic:    basic,
		Extended: ext,
	}, nil
}

func decodeFileHeaders21(r io.Reader) (*FileHeaders, error) {
	basic, err := Decode(Basic21Schema, r)
	if err != nil {
		return nil, err
	}
	channels, err := basic.Uint(FieldChannelCount)
	if err != nil {
		return nil, err
	}
	var ids []*Header
	for n := range int(channels) {
		h, err := Decode(ChannelIDSchema, r)
		if err != nil {
			return nil, kerrors.WithMsg(err, fmt.Sprintf("Failed decoding channel id %d", n))
		}
		ids = append(ids, h)
	}
	return &FileHeaders{
		Basic:    basic,
		Extended: ids,
	}, nil
}
