package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"polyrelay/internal/clob"
	"polyrelay/internal/store"
)

// Status 交易生命周期状态。
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusFailed    Status = "failed"
)

// Trade 交易台账记录。提交尝试时创建，终态恰好迁移一次。
type Trade struct {
	ID           string          `json:"id"`
	UserID       string          `json:"userId"`
	TokenID      string          `json:"tokenId"`
	Side         clob.Side       `json:"side"`
	Amount       decimal.Decimal `json:"amount"`
	Price        decimal.Decimal `json:"price"`
	Shares       decimal.Decimal `json:"shares"`
	OrderID      string          `json:"orderId,omitempty"`
	Status       Status          `json:"status"`
	ErrorMessage string          `json:"errorMessage,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}

// Service 负责交易记录的持久化。
type Service struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewService 初始化台账服务，创建所需表结构。
func NewService(store *store.Store, logger *zap.Logger) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("ledger: store 不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Service{
		db:     store.DB(),
		logger: logger,
	}

	if err := s.initSchema(); err != nil {
		return nil, err
	}

	return s, nil
}

func (s *Service) initSchema() error {
	stmt := `
CREATE TABLE IF NOT EXISTS trades (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	token_id TEXT NOT NULL,
	side TEXT NOT NULL,
	amount TEXT NOT NULL,
	price TEXT NOT NULL,
	shares TEXT NOT NULL,
	order_id TEXT,
	status TEXT NOT NULL,
	error_message TEXT,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_trades_user ON trades(user_id, created_at);
`
	if _, err := s.db.Exec(stmt); err != nil {
		return fmt.Errorf("ledger: 初始化表失败: %w", err)
	}
	return nil
}

// Create 写入一条 pending 状态的新记录，返回生成的 id。
func (s *Service) Create(ctx context.Context, t Trade) (string, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
INSERT INTO trades (id, user_id, token_id, side, amount, price, shares, status, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.UserID, t.TokenID, string(t.Side),
		t.Amount.String(), t.Price.String(), t.Shares.String(),
		string(StatusPending), now.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano),
	)
	if err != nil {
		return "", fmt.Errorf("ledger: 写入交易记录失败: %w", err)
	}

	return t.ID, nil
}

// MarkConfirmed 将 pending 记录迁移到 confirmed 并回填交易所订单号。
func (s *Service) MarkConfirmed(ctx context.Context, id, orderID string) error {
	return s.transition(ctx, id, StatusConfirmed, orderID, "")
}

// MarkFailed 将 pending 记录迁移到 failed 并记录失败原因。
func (s *Service) MarkFailed(ctx context.Context, id, reason string) error {
	return s.transition(ctx, id, StatusFailed, "", reason)
}

// transition 带状态守卫的终态迁移，保证恰好一次。
func (s *Service) transition(ctx context.Context, id string, to Status, orderID, errMsg string) error {
	res, err := s.db.ExecContext(ctx, `
UPDATE trades SET status = ?, order_id = ?, error_message = ?, updated_at = ?
WHERE id = ? AND status = ?`,
		string(to), orderID, errMsg, time.Now().UTC().Format(time.RFC3339Nano),
		id, string(StatusPending),
	)
	if err != nil {
		return fmt.Errorf("ledger: 更新交易状态失败: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("ledger: 读取更新行数失败: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("ledger: 交易 %s 不存在或已处于终态", id)
	}

	return nil
}

// ListByUser 按用户倒序返回最近的交易记录。
func (s *Service) ListByUser(ctx context.Context, userID string, limit int) ([]Trade, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT id, user_id, token_id, side, amount, price, shares,
       COALESCE(order_id, ''), status, COALESCE(error_message, ''), created_at, updated_at
FROM trades WHERE user_id = ? ORDER BY created_at DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("ledger: 查询交易记录失败: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var trades []Trade
	for rows.Next() {
		var (
			t                     Trade
			side                  string
			amount, price, shares string
			status                string
			createdAt, updatedAt  string
		)
		if err := rows.Scan(&t.ID, &t.UserID, &t.TokenID, &side, &amount, &price, &shares,
			&t.OrderID, &status, &t.ErrorMessage, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("ledger: 扫描交易记录失败: %w", err)
		}

		t.Side = clob.Side(side)
		t.Status = Status(status)
		if t.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("ledger: 解析 amount 失败: %w", err)
		}
		if t.Price, err = decimal.NewFromString(price); err != nil {
			return nil, fmt.Errorf("ledger: 解析 price 失败: %w", err)
		}
		if t.Shares, err = decimal.NewFromString(shares); err != nil {
			return nil, fmt.Errorf("ledger: 解析 shares 失败: %w", err)
		}
		if t.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
			return nil, fmt.Errorf("ledger: 解析 created_at 失败: %w", err)
		}
		if t.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
			return nil, fmt.Errorf("ledger: 解析 updated_at 失败: %w", err)
		}

		trades = append(trades, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ledger: 遍历结果集失败: %w", err)
	}

	return trades, nil
}
