package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	weavetest "github.com/teranos/weave/internal/testing"
)

func TestLoadOrGenerate(t *testing.T) {
	db := weavetest.CreateTestDB(t)
	logger := zap.NewNop().Sugar()

	first, err := LoadOrGenerate(db, logger)
	require.NoError(t, err)

	second, err := LoadOrGenerate(db, logger)
	require.NoError(t, err)
	assert.Equal(t, first.DID(), second.DID())
	assert.Equal(t, first.PrivateKey(), second.PrivateKey())

	msg := []byte("persisted identity signs the same")
	assert.Equal(t, first.Sign(msg), second.Sign(msg))
}

func TestLoadRejectsMismatchedDID(t *testing.T) {
	db := weavetest.CreateTestDB(t)

	kp, err := Generate()
	require.NoError(t, err)
	other, err := Generate()
	require.NoError(t, err)

	_, err = db.Exec(
		"INSERT INTO agent_identity (id, private_key, public_key, did) VALUES ('self', ?, ?, ?)",
		[]byte(kp.PrivateKey()), []byte(kp.PublicKey()), other.DID(),
	)
	require.NoError(t, err)

	_, err = LoadOrGenerate(db, zap.NewNop().Sugar())
	assert.Error(t, err)
}
