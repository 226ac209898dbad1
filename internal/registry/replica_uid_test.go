package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReplicaUIDRoundTrip(t *testing.T) {
	cases := []struct {
		modelUID string
		index    int
		n        int
	}{
		{"m", 0, 1},
		{"model-abc123", 0, 4},
		{"model-abc123", 3, 4},
		{"model-with-dashes-in-it", 100, 101},
	}

	for _, tc := range cases {
		uid := BuildReplicaUID(tc.modelUID, tc.index, tc.n)
		gotModel, gotIndex, err := ParseReplicaUID(uid)
		require.NoError(t, err)
		assert.Equal(t, tc.modelUID, gotModel)
		assert.Equal(t, tc.index, gotIndex)
	}
}

func TestParseReplicaUIDRejectsGarbage(t *testing.T) {
	_, _, err := ParseReplicaUID("not-a-replica-uid")
	assert.Error(t, err)
}

func TestIterReplicaUIDs(t *testing.T) {
	uids := IterReplicaUIDs("m", 3)
	require.Len(t, uids, 3)
	for i, uid := range uids {
		model, idx, err := ParseReplicaUID(uid)
		require.NoError(t, err)
		assert.Equal(t, "m", model)
		assert.Equal(t, i, idx)
	}
}
