package store

import (
	"database/sql"
	"errors"
)

// CreateAsset inserts a restricted host record.
func (s *Store) CreateAsset(name, host string, port int, typ string) (*Asset, error) {
	now := s.now()
	res, err := s.db.Exec(
		`INSERT INTO assets (name, host, port, type, created_at) VALUES (?, ?, ?, ?, ?)`,
		name, host, port, typ, now,
	)
	if err != nil {
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &Asset{ID: id, Name: name, Host: host, Port: port, Type: typ, CreatedAt: now}, nil
}

// AssetByID looks an asset up by id. Returns ErrNotFound if absent.
func (s *Store) AssetByID(id int64) (*Asset, error) {
	var a Asset
	err := s.db.QueryRow(
		`SELECT id, name, host, port, type, created_at FROM assets WHERE id = ?`, id,
	).Scan(&a.ID, &a.Name, &a.Host, &a.Port, &a.Type, &a.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// ListAssets returns all assets.
func (s *Store) ListAssets() ([]Asset, error) {
	rows, err := s.db.Query(`SELECT id, name, host, port, type, created_at FROM assets ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	assets := make([]Asset, 0)
	for rows.Next() {
		var a Asset
		if err := rows.Scan(&a.ID, &a.Name, &a.Host, &a.Port, &a.Type, &a.CreatedAt); err != nil {
			return nil, err
		}
		assets = append(assets, a)
	}
	return assets, rows.Err()
}

// UpsertCredential points an asset at a vault path, replacing any previous
// pointer for the same asset.
func (s *Store) UpsertCredential(assetID int64, vaultPath string) (*Credential, error) {
	var cred *Credential
	err := s.withTx(func(tx *sql.Tx) error {
		var id int64
		err := tx.QueryRow(`SELECT id FROM credentials WHERE asset_id = ?`, assetID).Scan(&id)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			now := s.now()
			res, err := tx.Exec(
				`INSERT INTO credentials (asset_id, vault_path, created_at) VALUES (?, ?, ?)`,
				assetID, vaultPath, now,
			)
			if err != nil {
				return err
			}
			id, err = res.LastInsertId()
			if err != nil {
				return err
			}
			cred = &Credential{ID: id, AssetID: assetID, VaultPath: vaultPath, CreatedAt: now}
			return nil
		case err != nil:
			return err
		default:
			if _, err := tx.Exec(`UPDATE credentials SET vault_path = ? WHERE id = ?`, vaultPath, id); err != nil {
				return err
			}
			cred = &Credential{ID: id, AssetID: assetID, VaultPath: vaultPath}
			return nil
		}
	})
	if err != nil {
		return nil, err
	}
	return cred, nil
}

// CredentialByAssetID returns the credential pointer for an asset.
// Returns ErrNotFound if the asset has no credential.
func (s *Store) CredentialByAssetID(assetID int64) (*Credential, error) {
	var c Credential
	err := s.db.QueryRow(
		`SELECT id, asset_id, vault_path, created_at FROM credentials WHERE asset_id = ?`, assetID,
	).Scan(&c.ID, &c.AssetID, &c.VaultPath, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}
