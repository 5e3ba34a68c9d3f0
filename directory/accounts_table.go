package directory

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
)

var ErrNotLinked = errors.New("no portal account linked for this user")

// Account links a conferencing-host user to a portal identity. The portal
// access token lets this service act as that user against the rooms/files API.
type Account struct {
	ZoomUID              string    `db:"zoom_uid"`
	PortalUserID         string    `db:"portal_user_id"`
	TenantID             int       `db:"tenant_id"`
	IsGuest              bool      `db:"is_guest"`
	AccessToken          string    `db:"-"`
	AccessTokenEncrypted string    `db:"token_encrypted"`
	LastSeen             time.Time `db:"last_seen"`
}

// AccountsTable remembers linked portal accounts.
type AccountsTable struct {
	db *sqlx.DB
	// A separate secret used to en/decrypt access tokens prior to / after retrieval from the database.
	// This provides additional security as a simple SQL injection attack would be insufficient to retrieve
	// users access tokens due to the encryption key not living inside the database / on that machine at all.
	// We cannot use bcrypt/scrypt as we need the plaintext to call the portal API!
	key256 []byte
}

// NewAccountsTable creates the zoomsvc_accounts table if it does not already exist.
func NewAccountsTable(db *sqlx.DB, secret string) *AccountsTable {
	db.MustExec(`
	CREATE TABLE IF NOT EXISTS zoomsvc_accounts (
		zoom_uid TEXT NOT NULL PRIMARY KEY,
		portal_user_id TEXT NOT NULL,
		tenant_id BIGINT NOT NULL,
		is_guest BOOLEAN NOT NULL DEFAULT FALSE,
		token_encrypted TEXT NOT NULL,
		last_seen TIMESTAMP WITH TIME ZONE NOT NULL
	);`)

	hash := sha256.New()
	hash.Write([]byte(secret))

	return &AccountsTable{
		db:     db,
		key256: hash.Sum(nil),
	}
}

func (t *AccountsTable) encrypt(token string) string {
	block, err := aes.NewCipher(t.key256)
	if err != nil {
		panic("directory.AccountsTable encrypt: " + err.Error())
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		panic("directory.AccountsTable encrypt: " + err.Error())
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err = io.ReadFull(rand.Reader, nonce); err != nil {
		panic("directory.AccountsTable encrypt: " + err.Error())
	}
	return hex.EncodeToString(nonce) + " " + hex.EncodeToString(gcm.Seal(nil, nonce, []byte(token), nil))
}

func (t *AccountsTable) decrypt(nonceAndEncToken string) (string, error) {
	segs := strings.Split(nonceAndEncToken, " ")
	if len(segs) != 2 {
		return "", fmt.Errorf("decrypt: malformed encrypted token")
	}
	nonceBytes, err := hex.DecodeString(segs[0])
	if err != nil {
		return "", fmt.Errorf("decrypt nonce: failed to decode hex: %s", err)
	}
	ciphertext, err := hex.DecodeString(segs[1])
	if err != nil {
		return "", fmt.Errorf("decrypt token: failed to decode hex: %s", err)
	}
	block, err := aes.NewCipher(t.key256)
	if err != nil {
		return "", err
	}
	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}
	token, err := aesgcm.Open(nil, nonceBytes, ciphertext, nil)
	if err != nil {
		return "", err
	}
	return string(token), nil
}

// Account returns the linked portal account for this conferencing-host user,
// with the access token decrypted. Returns ErrNotLinked when no row exists.
func (t *AccountsTable) Account(zoomUID string) (*Account, error) {
	var acc Account
	err := t.db.Get(&acc, `SELECT zoom_uid, portal_user_id, tenant_id, is_guest, token_encrypted, last_seen
		FROM zoomsvc_accounts WHERE zoom_uid = $1`, zoomUID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotLinked
		}
		return nil, err
	}
	acc.AccessToken, err = t.decrypt(acc.AccessTokenEncrypted)
	if err != nil {
		return nil, err
	}
	acc.AccessTokenEncrypted = ""
	return &acc, nil
}

// Link upserts the account row, encrypting the access token at rest.
func (t *AccountsTable) Link(acc *Account) error {
	_, err := t.db.Exec(`INSERT INTO zoomsvc_accounts (zoom_uid, portal_user_id, tenant_id, is_guest, token_encrypted, last_seen)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (zoom_uid) DO UPDATE SET
			portal_user_id = EXCLUDED.portal_user_id,
			tenant_id = EXCLUDED.tenant_id,
			is_guest = EXCLUDED.is_guest,
			token_encrypted = EXCLUDED.token_encrypted,
			last_seen = EXCLUDED.last_seen`,
		acc.ZoomUID, acc.PortalUserID, acc.TenantID, acc.IsGuest, t.encrypt(acc.AccessToken), time.Now())
	return err
}

// Unlink removes the account row, e.g. on app deauthorization.
func (t *AccountsTable) Unlink(zoomUID string) error {
	_, err := t.db.Exec(`DELETE FROM zoomsvc_accounts WHERE zoom_uid = $1`, zoomUID)
	return err
}
