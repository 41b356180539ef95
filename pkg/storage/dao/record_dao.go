package dao

import (
	"time"
)

// RecordDAO flow_record表的数据访问对象（内部使用）
type RecordDAO struct {
	Kind       string    `db:"kind"`
	ID         string    `db:"id"`
	OwnerID    string    `db:"owner_id"`
	Status     string    `db:"status"`
	Pending    int       `db:"pending"`
	Payload    string    `db:"payload"` // JSON格式存储
	CreateTime time.Time `db:"create_time"`
	UpdateTime time.Time `db:"update_time"`
}

// SnapshotDAO flow_snapshot表的数据访问对象（内部使用）
type SnapshotDAO struct {
	RunID      string    `db:"run_id"`
	Seq        int64     `db:"seq"`
	Payload    string    `db:"payload"` // JSON格式存储
	CreateTime time.Time `db:"create_time"`
}
