package conversation

import (
	"context"
	"database/sql"
	"encoding/json"
	stdErrors "errors"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"

	xerrors "ChainPilot/internal/errors"
)

// MySQLStore 使用 MySQL 持久化会话状态。
// 状态整体序列化为 JSON 存入 state 列，updated_at 单独建列供清扫使用。
type MySQLStore struct {
	db *sql.DB
}

// NewMySQLStore 创建一个新的 MySQLStore。
func NewMySQLStore(dsn string) (*MySQLStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "MySQL DSN 不能为空")
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "连接 MySQL 失败")
	}

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(10 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "无法连接到 MySQL")
	}

	store := &MySQLStore{db: db}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *MySQLStore) initSchema() error {
	const schema = `CREATE TABLE IF NOT EXISTS conversations (
        id VARCHAR(64) PRIMARY KEY,
        state JSON NOT NULL,
        created_at BIGINT NOT NULL,
        updated_at BIGINT NOT NULL,
        INDEX idx_conversation_updated (updated_at)
)`
	if _, err := s.db.Exec(schema); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "初始化 conversations 表失败")
	}
	return nil
}

// Get 读取会话状态。
func (s *MySQLStore) Get(ctx context.Context, id string) (*State, error) {
	const stmt = `SELECT state FROM conversations WHERE id = ?`
	var payload []byte
	if err := s.db.QueryRowContext(ctx, stmt, id).Scan(&payload); err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, ErrConversationNotFound
		}
		return nil, xerrors.Wrap(CodeConversationStorage, err, "读取会话失败")
	}
	var state State
	if err := json.Unmarshal(payload, &state); err != nil {
		return nil, xerrors.Wrap(CodeConversationStorage, err, "会话数据反序列化失败")
	}
	return &state, nil
}

// Put 写入或覆盖会话状态。
func (s *MySQLStore) Put(ctx context.Context, state *State) error {
	if state == nil || strings.TrimSpace(state.ID) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "会话 ID 不能为空")
	}
	now := time.Now().Unix()
	if state.CreatedAt == 0 {
		state.CreatedAt = now
	}
	state.UpdatedAt = now

	payload, err := json.Marshal(state)
	if err != nil {
		return xerrors.Wrap(CodeConversationStorage, err, "会话数据序列化失败")
	}

	const stmt = `INSERT INTO conversations (id, state, created_at, updated_at)
        VALUES (?, ?, ?, ?)
        ON DUPLICATE KEY UPDATE state = VALUES(state), updated_at = VALUES(updated_at)`
	if _, err := s.db.ExecContext(ctx, stmt, state.ID, payload, state.CreatedAt, state.UpdatedAt); err != nil {
		return xerrors.Wrap(CodeConversationStorage, err, "写入会话失败")
	}
	return nil
}

// Delete 删除会话。
func (s *MySQLStore) Delete(ctx context.Context, id string) error {
	const stmt = `DELETE FROM conversations WHERE id = ?`
	if _, err := s.db.ExecContext(ctx, stmt, id); err != nil {
		return xerrors.Wrap(CodeConversationStorage, err, "删除会话失败")
	}
	return nil
}

// Sweep 删除闲置超时的会话。
func (s *MySQLStore) Sweep(ctx context.Context, idleBefore time.Time) (int, error) {
	const stmt = `DELETE FROM conversations WHERE updated_at < ?`
	result, err := s.db.ExecContext(ctx, stmt, idleBefore.Unix())
	if err != nil {
		return 0, xerrors.Wrap(CodeConversationStorage, err, "清扫会话失败")
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return int(affected), nil
}

// Close 关闭数据库连接。
func (s *MySQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

var _ Store = (*MySQLStore)(nil)
