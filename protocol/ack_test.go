package protocol

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildAckResponseNoGapUsesCumulative(t *testing.T) {
	resp := BuildAckResponse(9, nil, 10)
	require.Equal(t, AckCumulative, resp.Encoding)
	require.EqualValues(t, 9, resp.CumulativeSequence)
}

func TestBuildAckResponseTrailingGapUsesCumulative(t *testing.T) {
	resp := BuildAckResponse(9, []uint32{10, 11, 12}, 10)
	require.Equal(t, AckCumulative, resp.Encoding)
	require.EqualValues(t, 9, resp.CumulativeSequence)
}

func TestBuildAckResponseSparseGapUsesBitmap(t *testing.T) {
	resp := BuildAckResponse(9, []uint32{11, 14}, 10)
	require.Equal(t, AckBitmap, resp.Encoding)
	require.EqualValues(t, 10, resp.WindowBase)

	missing := resp.MissingSequences(20)
	require.ElementsMatch(t, []uint32{11, 14}, missing)
}

func TestAckResponseEncodeDecodeRoundTrip(t *testing.T) {
	resp := BuildAckResponse(9, []uint32{11, 14}, 10)
	payload := resp.Encode()

	got, err := DecodeAckResponse(payload)
	require.NoError(t, err)
	require.Equal(t, resp.Encoding, got.Encoding)
	require.Equal(t, resp.WindowBase, got.WindowBase)
	require.Equal(t, resp.Bitmap, got.Bitmap)
}

func TestCumulativeMissingSequencesSpansToLastTransferred(t *testing.T) {
	resp := AckResponse{Encoding: AckCumulative, CumulativeSequence: 5}
	require.Equal(t, []uint32{6, 7, 8}, resp.MissingSequences(8))
}
