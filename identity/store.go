package identity

import (
	"crypto/ed25519"
	"database/sql"

	"github.com/teranos/weave/errors"
	"go.uber.org/zap"
)

// LoadOrGenerate loads the agent identity from the database, or generates
// and stores one on first boot.
func LoadOrGenerate(db *sql.DB, logger *zap.SugaredLogger) (*KeyPair, error) {
	kp, err := load(db)
	if err != nil {
		return nil, err
	}
	if kp != nil {
		logger.Infow("Loaded agent DID", "did", kp.DID())
		return kp, nil
	}

	kp, err = Generate()
	if err != nil {
		return nil, err
	}
	if err := save(db, kp); err != nil {
		return nil, err
	}
	logger.Infow("Generated agent DID", "did", kp.DID())
	return kp, nil
}

func load(db *sql.DB) (*KeyPair, error) {
	var privKey []byte
	var did string
	err := db.QueryRow("SELECT private_key, did FROM agent_identity WHERE id = 'self'").
		Scan(&privKey, &did)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to load agent identity")
	}

	kp, err := FromPrivateKey(ed25519.PrivateKey(privKey))
	if err != nil {
		return nil, errors.Wrap(err, "stored agent identity is corrupt")
	}
	if kp.DID() != did {
		return nil, errors.Newf("stored DID %s does not match stored key (derives %s)", did, kp.DID())
	}
	return kp, nil
}

func save(db *sql.DB, kp *KeyPair) error {
	_, err := db.Exec(
		"INSERT INTO agent_identity (id, private_key, public_key, did) VALUES ('self', ?, ?, ?)",
		[]byte(kp.privateKey), []byte(kp.publicKey), kp.did,
	)
	if err != nil {
		return errors.Wrap(err, "failed to save agent identity")
	}
	return nil
}
