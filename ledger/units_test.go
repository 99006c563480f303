package ledger

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEther(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "0.001", want: "1000000000000000"},
		{in: "1", want: "1000000000000000000"},
		{in: "0", want: "0"},
		{in: "", want: "0"},
		{in: " 2.5 ", want: "2500000000000000000"},
		{in: "0.000000000000000001", want: "1"},
		{in: "0.0000000000000000001", wantErr: true},
		{in: "-1", wantErr: true},
		{in: "abc", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseEther(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.String())
		})
	}
}

func TestFormatEther(t *testing.T) {
	assert.Equal(t, "0.001", FormatEther(big.NewInt(1_000_000_000_000_000)))
	assert.Equal(t, "0", FormatEther(big.NewInt(0)))
	assert.Equal(t, "0", FormatEther(nil))

	wei, err := ParseEther("12.34")
	require.NoError(t, err)
	assert.Equal(t, "12.34", FormatEther(wei))
}

func TestObjectID(t *testing.T) {
	id, err := ParseObjectID("5")
	require.NoError(t, err)
	assert.Equal(t, ObjectID(5), id)
	assert.Equal(t, "5", id.String())

	_, err = ParseObjectID("-1")
	assert.Error(t, err)
}

func TestReceiptFind(t *testing.T) {
	r := &Receipt{Events: []Event{
		{Name: EventObjectCreated, ObjectID: 1},
		{Name: EventInteractionRecorded, ObjectID: 1},
	}}

	ev, ok := r.Find(EventInteractionRecorded)
	require.True(t, ok)
	assert.Equal(t, ObjectID(1), ev.ObjectID)

	_, ok = r.Find(EventOwnershipTransferred)
	assert.False(t, ok)

	var nilReceipt *Receipt
	_, ok = nilReceipt.Find(EventObjectCreated)
	assert.False(t, ok)
}
