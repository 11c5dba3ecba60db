package repo

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/didi/gendry/builder"

	"github.com/shintairiku/cohere-rag/internal/model"
	errs "github.com/shintairiku/cohere-rag/internal/pkg/errors"
)

var tenantFields = []string{"id", "name", "folder_ref", "auto_sync", "ctime", "mtime"}

type TenantRepo struct {
	db *sql.DB
}

func NewTenantRepo(db *sql.DB) *TenantRepo {
	return &TenantRepo{db: db}
}

func (r *TenantRepo) Create(ctx context.Context, tenant *model.Tenant) error {
	data := map[string]interface{}{
		"id":         tenant.ID,
		"name":       tenant.Name,
		"folder_ref": tenant.FolderRef,
		"auto_sync":  tenant.AutoSync,
		"ctime":      tenant.Ctime,
		"mtime":      tenant.Mtime,
	}
	sqlStr, args, err := builder.BuildInsert("tenants", []map[string]interface{}{data})
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, sqlStr, args...)
	return err
}

func (r *TenantRepo) Get(ctx context.Context, id string) (*model.Tenant, error) {
	where := map[string]interface{}{"id": id}
	sqlStr, args, err := builder.BuildSelect("tenants", where, tenantFields)
	if err != nil {
		return nil, err
	}
	row := r.db.QueryRowContext(ctx, sqlStr, args...)
	tenant, err := scanTenant(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: tenant %s", errs.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return tenant, nil
}

func (r *TenantRepo) List(ctx context.Context) ([]model.Tenant, error) {
	return r.list(ctx, map[string]interface{}{"_orderby": "ctime asc"})
}

// ListAutoSync returns the tenants the cron/batch paths pick up.
func (r *TenantRepo) ListAutoSync(ctx context.Context) ([]model.Tenant, error) {
	return r.list(ctx, map[string]interface{}{"auto_sync": true, "_orderby": "ctime asc"})
}

func (r *TenantRepo) list(ctx context.Context, where map[string]interface{}) ([]model.Tenant, error) {
	sqlStr, args, err := builder.BuildSelect("tenants", where, tenantFields)
	if err != nil {
		return nil, err
	}
	rows, err := r.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	tenants := make([]model.Tenant, 0)
	for rows.Next() {
		var tenant model.Tenant
		if err := rows.Scan(&tenant.ID, &tenant.Name, &tenant.FolderRef, &tenant.AutoSync, &tenant.Ctime, &tenant.Mtime); err != nil {
			return nil, err
		}
		tenants = append(tenants, tenant)
	}
	return tenants, rows.Err()
}

func (r *TenantRepo) Update(ctx context.Context, tenant *model.Tenant) error {
	where := map[string]interface{}{"id": tenant.ID}
	update := map[string]interface{}{
		"name":       tenant.Name,
		"folder_ref": tenant.FolderRef,
		"auto_sync":  tenant.AutoSync,
		"mtime":      tenant.Mtime,
	}
	sqlStr, args, err := builder.BuildUpdate("tenants", where, update)
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: tenant %s", errs.ErrNotFound, tenant.ID)
	}
	return nil
}

func (r *TenantRepo) Delete(ctx context.Context, id string) error {
	sqlStr, args, err := builder.BuildDelete("tenants", map[string]interface{}{"id": id})
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: tenant %s", errs.ErrNotFound, id)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTenant(row rowScanner) (*model.Tenant, error) {
	var tenant model.Tenant
	if err := row.Scan(&tenant.ID, &tenant.Name, &tenant.FolderRef, &tenant.AutoSync, &tenant.Ctime, &tenant.Mtime); err != nil {
		return nil, err
	}
	return &tenant, nil
}
