// Package sqlstore 基于sqlx的通用持久化实现，通过Dialect适配SQLite/MySQL/PostgreSQL
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/LENAX/agent-flow/pkg/storage"
	"github.com/LENAX/agent-flow/pkg/storage/dao"
	"github.com/jmoiron/sqlx"
)

const (
	recordTable   = "flow_record"
	snapshotTable = "flow_snapshot"
)

var recordColumns = []string{"kind", "id", "owner_id", "status", "pending", "payload", "create_time", "update_time"}

// Repo Store的SQL实现（对外导出）
type Repo struct {
	db      *sqlx.DB
	dialect storage.Dialect
}

// New 创建Repo实例并初始化表结构（对外导出）
func New(db *sqlx.DB, dialect storage.Dialect) (*Repo, error) {
	repo := &Repo{db: db, dialect: dialect}
	if err := repo.initSchema(); err != nil {
		return nil, fmt.Errorf("初始化表结构失败: %w", err)
	}
	return repo, nil
}

// Open 打开数据库连接、执行方言配置并返回Repo（对外导出）
func Open(dialect storage.Dialect, dsn string) (*Repo, error) {
	db, err := sqlx.Open(dialect.DriverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("打开数据库失败: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("数据库连接失败: %w", err)
	}

	for _, stmt := range dialect.ConfigureDB() {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("配置%s失败: %s, %w", dialect.Name(), stmt, err)
		}
	}

	repo, err := New(db, dialect)
	if err != nil {
		db.Close()
		return nil, err
	}
	return repo, nil
}

// DB 返回底层连接
func (r *Repo) DB() *sqlx.DB {
	return r.db
}

// initSchema 初始化表结构
func (r *Repo) initSchema() error {
	schemas := []string{
		`CREATE TABLE IF NOT EXISTS flow_record (
			kind VARCHAR(64) NOT NULL,
			id VARCHAR(191) NOT NULL,
			owner_id VARCHAR(191) NOT NULL DEFAULT '',
			status VARCHAR(32) NOT NULL DEFAULT '',
			pending SMALLINT NOT NULL DEFAULT 0,
			payload TEXT NOT NULL,
			create_time DATETIME NOT NULL,
			update_time DATETIME NOT NULL,
			PRIMARY KEY (kind, id)
		)`,
		`CREATE TABLE IF NOT EXISTS flow_snapshot (
			run_id VARCHAR(191) NOT NULL,
			seq BIGINT NOT NULL,
			payload TEXT NOT NULL,
			create_time DATETIME NOT NULL,
			PRIMARY KEY (run_id, seq)
		)`,
	}
	for _, schema := range schemas {
		if _, err := r.db.Exec(r.dialect.CreateTableSQL(schema)); err != nil {
			return err
		}
	}

	indexes := []string{
		r.dialect.CreateIndexSQL("idx_flow_record_pending", recordTable, "kind", "pending"),
		r.dialect.CreateIndexSQL("idx_flow_record_owner", recordTable, "kind", "owner_id"),
	}
	for _, stmt := range indexes {
		if _, err := r.db.Exec(stmt); err != nil && !r.dialect.IsIgnorableSchemaError(err) {
			return err
		}
	}
	return nil
}

// Save 保存记录
func (r *Repo) Save(ctx context.Context, kind storage.RecordKind, id string, rec *storage.Record) error {
	if rec == nil {
		return fmt.Errorf("记录不能为空")
	}
	now := time.Now().UTC()
	row := dao.RecordDAO{
		Kind:       string(kind),
		ID:         id,
		OwnerID:    rec.OwnerID,
		Status:     rec.Status,
		Payload:    string(rec.Payload),
		CreateTime: rec.CreateTime.UTC(),
		UpdateTime: rec.UpdateTime.UTC(),
	}
	if rec.Pending {
		row.Pending = 1
	}
	if rec.CreateTime.IsZero() {
		row.CreateTime = now
	}
	if rec.UpdateTime.IsZero() {
		row.UpdateTime = now
	}

	query := r.dialect.UpsertSQL(recordTable, recordColumns,
		[]string{"kind", "id"},
		[]string{"owner_id", "status", "pending", "payload", "update_time"})
	if _, err := r.db.NamedExecContext(ctx, query, row); err != nil {
		return fmt.Errorf("保存记录失败: kind=%s, id=%s, %w", kind, id, err)
	}
	return nil
}

// LoadByID 根据ID加载记录
func (r *Repo) LoadByID(ctx context.Context, kind storage.RecordKind, id string) (*storage.Record, error) {
	var row dao.RecordDAO
	query := r.db.Rebind(`SELECT * FROM flow_record WHERE kind = ? AND id = ?`)
	if err := r.db.GetContext(ctx, &row, query, string(kind), id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("查询记录失败: kind=%s, id=%s, %w", kind, id, err)
	}
	return toRecord(&row), nil
}

// LoadPending 加载未结束的记录
func (r *Repo) LoadPending(ctx context.Context, kind storage.RecordKind) ([]*storage.Record, error) {
	query := r.db.Rebind(`SELECT * FROM flow_record WHERE kind = ? AND pending = 1 ORDER BY create_time ASC`)
	return r.selectRecords(ctx, query, string(kind))
}

// ListByOwner 按归属ID列出记录
func (r *Repo) ListByOwner(ctx context.Context, kind storage.RecordKind, ownerID string) ([]*storage.Record, error) {
	if ownerID == "" {
		query := r.db.Rebind(`SELECT * FROM flow_record WHERE kind = ? ORDER BY create_time DESC`)
		return r.selectRecords(ctx, query, string(kind))
	}
	query := r.db.Rebind(`SELECT * FROM flow_record WHERE kind = ? AND owner_id = ? ORDER BY create_time DESC`)
	return r.selectRecords(ctx, query, string(kind), ownerID)
}

// ListFinishedBefore 列出早于before结束的记录
func (r *Repo) ListFinishedBefore(ctx context.Context, kind storage.RecordKind, before time.Time) ([]*storage.Record, error) {
	query := r.db.Rebind(`SELECT * FROM flow_record WHERE kind = ? AND pending = 0 AND update_time < ? ORDER BY update_time ASC`)
	return r.selectRecords(ctx, query, string(kind), before.UTC())
}

// Delete 删除记录
func (r *Repo) Delete(ctx context.Context, kind storage.RecordKind, id string) error {
	query := r.db.Rebind(`DELETE FROM flow_record WHERE kind = ? AND id = ?`)
	if _, err := r.db.ExecContext(ctx, query, string(kind), id); err != nil {
		return fmt.Errorf("删除记录失败: kind=%s, id=%s, %w", kind, id, err)
	}
	return nil
}

// AppendSnapshot 追加快照
func (r *Repo) AppendSnapshot(ctx context.Context, snap *storage.SnapshotRecord) error {
	if snap == nil {
		return fmt.Errorf("快照不能为空")
	}
	row := dao.SnapshotDAO{
		RunID:      snap.RunID,
		Seq:        snap.Seq,
		Payload:    string(snap.Payload),
		CreateTime: snap.CreateTime.UTC(),
	}
	if snap.CreateTime.IsZero() {
		row.CreateTime = time.Now().UTC()
	}
	query := r.dialect.UpsertSQL(snapshotTable,
		[]string{"run_id", "seq", "payload", "create_time"},
		[]string{"run_id", "seq"},
		[]string{"payload", "create_time"})
	if _, err := r.db.NamedExecContext(ctx, query, row); err != nil {
		return fmt.Errorf("保存快照失败: run=%s, seq=%d, %w", snap.RunID, snap.Seq, err)
	}
	return nil
}

// ListSnapshots 按Seq升序列出快照
func (r *Repo) ListSnapshots(ctx context.Context, runID string) ([]*storage.SnapshotRecord, error) {
	var rows []dao.SnapshotDAO
	query := r.db.Rebind(`SELECT * FROM flow_snapshot WHERE run_id = ? ORDER BY seq ASC`)
	if err := r.db.SelectContext(ctx, &rows, query, runID); err != nil {
		return nil, fmt.Errorf("查询快照失败: run=%s, %w", runID, err)
	}
	result := make([]*storage.SnapshotRecord, 0, len(rows))
	for i := range rows {
		result = append(result, &storage.SnapshotRecord{
			RunID:      rows[i].RunID,
			Seq:        rows[i].Seq,
			Payload:    []byte(rows[i].Payload),
			CreateTime: rows[i].CreateTime,
		})
	}
	return result, nil
}

// TrimSnapshots 只保留最新的keep个快照
func (r *Repo) TrimSnapshots(ctx context.Context, runID string, keep int) error {
	if keep < 0 {
		keep = 0
	}
	var cutoff int64
	query := r.db.Rebind(`SELECT seq FROM flow_snapshot WHERE run_id = ? ORDER BY seq DESC LIMIT 1 OFFSET ?`)
	if err := r.db.GetContext(ctx, &cutoff, query, runID, keep); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		return fmt.Errorf("查询快照边界失败: run=%s, %w", runID, err)
	}
	del := r.db.Rebind(`DELETE FROM flow_snapshot WHERE run_id = ? AND seq <= ?`)
	if _, err := r.db.ExecContext(ctx, del, runID, cutoff); err != nil {
		return fmt.Errorf("裁剪快照失败: run=%s, %w", runID, err)
	}
	return nil
}

// DeleteSnapshots 删除该运行的全部快照
func (r *Repo) DeleteSnapshots(ctx context.Context, runID string) error {
	query := r.db.Rebind(`DELETE FROM flow_snapshot WHERE run_id = ?`)
	if _, err := r.db.ExecContext(ctx, query, runID); err != nil {
		return fmt.Errorf("删除快照失败: run=%s, %w", runID, err)
	}
	return nil
}

// Close 关闭数据库连接
func (r *Repo) Close() error {
	return r.db.Close()
}

func (r *Repo) selectRecords(ctx context.Context, query string, args ...interface{}) ([]*storage.Record, error) {
	var rows []dao.RecordDAO
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("查询记录失败: %w", err)
	}
	result := make([]*storage.Record, 0, len(rows))
	for i := range rows {
		result = append(result, toRecord(&rows[i]))
	}
	return result, nil
}

func toRecord(row *dao.RecordDAO) *storage.Record {
	return &storage.Record{
		Kind:       storage.RecordKind(row.Kind),
		ID:         row.ID,
		OwnerID:    row.OwnerID,
		Status:     row.Status,
		Pending:    row.Pending != 0,
		Payload:    []byte(row.Payload),
		CreateTime: row.CreateTime,
		UpdateTime: row.UpdateTime,
	}
}

var _ storage.Store = (*Repo)(nil)
