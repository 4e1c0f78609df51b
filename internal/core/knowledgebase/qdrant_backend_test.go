package knowledgebase_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/contexta-kb/internal/core/knowledgebase"
)

func TestParseQdrantAddr(t *testing.T) {
	host, port, err := knowledgebase.ParseQdrantAddr("qdrant:6334")
	require.NoError(t, err)
	assert.Equal(t, "qdrant", host)
	assert.Equal(t, 6334, port)

	host, port, err = knowledgebase.ParseQdrantAddr(" 10.0.0.5:7000 ")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.5", host)
	assert.Equal(t, 7000, port)

	for _, addr := range []string{"", "qdrant", "http://qdrant:6334", ":6334", "qdrant:grpc", "qdrant:70000"} {
		_, _, err := knowledgebase.ParseQdrantAddr(addr)
		assert.Error(t, err, addr)
	}
}

func TestPointIDIsStable(t *testing.T) {
	a := knowledgebase.PointID(knowledgebase.RecordKey("doc", 2, 3))
	assert.Equal(t, a, knowledgebase.PointID("doc:2:3"))
	assert.NotEqual(t, a, knowledgebase.PointID("doc:2:4"))
}
