package directory

import (
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
)

func newTestTable(t *testing.T) (*AccountsTable, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS zoomsvc_accounts").WillReturnResult(sqlmock.NewResult(0, 0))
	table := NewAccountsTable(sqlx.NewDb(db, "postgres"), "my-secret")
	return table, mock
}

func TestAccountsTableRoundTrip(t *testing.T) {
	table, mock := newTestTable(t)

	mock.ExpectExec("INSERT INTO zoomsvc_accounts").
		WithArgs("zoom-1", "guid-1", 7, false, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	acc := &Account{
		ZoomUID:      "zoom-1",
		PortalUserID: "guid-1",
		TenantID:     7,
		AccessToken:  "portal-token",
	}
	if err := table.Link(acc); err != nil {
		t.Fatalf("Link: %v", err)
	}

	// the stored ciphertext must decrypt back to the original token
	enc := table.encrypt("portal-token")
	rows := sqlmock.NewRows([]string{"zoom_uid", "portal_user_id", "tenant_id", "is_guest", "token_encrypted", "last_seen"}).
		AddRow("zoom-1", "guid-1", 7, false, enc, time.Now())
	mock.ExpectQuery("SELECT (.+) FROM zoomsvc_accounts WHERE zoom_uid").
		WithArgs("zoom-1").
		WillReturnRows(rows)
	got, err := table.Account("zoom-1")
	if err != nil {
		t.Fatalf("Account: %v", err)
	}
	if got.AccessToken != "portal-token" {
		t.Errorf("AccessToken: got %q want %q", got.AccessToken, "portal-token")
	}
	if got.AccessTokenEncrypted != "" {
		t.Errorf("ciphertext leaked out of the table: %q", got.AccessTokenEncrypted)
	}
	if got.PortalUserID != "guid-1" || got.TenantID != 7 || got.IsGuest {
		t.Errorf("Account fields: got %+v", got)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("expectations: %v", err)
	}
}

func TestAccountNotLinked(t *testing.T) {
	table, mock := newTestTable(t)
	mock.ExpectQuery("SELECT (.+) FROM zoomsvc_accounts WHERE zoom_uid").
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows([]string{"zoom_uid"}))
	_, err := table.Account("ghost")
	if !errors.Is(err, ErrNotLinked) {
		t.Errorf("Account on missing row: got %v want ErrNotLinked", err)
	}
}

func TestUnlink(t *testing.T) {
	table, mock := newTestTable(t)
	mock.ExpectExec("DELETE FROM zoomsvc_accounts WHERE zoom_uid").
		WithArgs("zoom-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	if err := table.Unlink("zoom-1"); err != nil {
		t.Fatalf("Unlink: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("expectations: %v", err)
	}
}

func TestEncryptDecrypt(t *testing.T) {
	table, _ := newTestTable(t)
	enc := table.encrypt("tok")
	if enc == "tok" {
		t.Fatalf("token stored in plaintext")
	}
	dec, err := table.decrypt(enc)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if dec != "tok" {
		t.Errorf("decrypt: got %q want %q", dec, "tok")
	}
	if _, err := table.decrypt("garbage"); err == nil {
		t.Errorf("decrypt(garbage): expected error")
	}
}
