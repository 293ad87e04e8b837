package db

import (
	"context"
	"encoding/json"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/lmxdawn/paywallet/engine"
	"github.com/lmxdawn/paywallet/types"
	"github.com/pkg/errors"
)

const (
	PendingPrefix     = "pending:"
	MessagePrefix     = "message:"
	PendingSendPrefix = "pending_send:"
	IdentityKeyPrefix = "identity_key:"
	WalletIndexKey    = "wallet_index"
)

// Store 基于 Database 的业务存储
// 实现待确认交易表 会话消息 信任存储 以及钱包下标的持久化
type Store struct {
	db Database
	mu sync.Mutex
}

func NewStore(db Database) *Store {
	return &Store{db: db}
}

func (s *Store) putJSON(key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return errors.Wrapf(err, "encode %s", key)
	}
	return s.db.Put(key, string(data))
}

func (s *Store) getJSON(key string, v interface{}) error {
	raw, err := s.db.Get(key)
	if err == ErrNotFound {
		return errors.Wrap(engine.ErrNotFound, key)
	}
	if err != nil {
		return err
	}
	return errors.Wrapf(json.Unmarshal([]byte(raw), v), "decode %s", key)
}

// PutPending 写入待确认交易 没有交易哈希的记录会被拒绝
func (s *Store) PutPending(ctx context.Context, tx *types.PendingTransaction) error {
	if tx == nil || tx.TxHash == "" {
		return errors.New("pending transaction without hash")
	}
	return s.putJSON(PendingPrefix+tx.TxHash, tx)
}

func (s *Store) GetPending(ctx context.Context, hash string) (*types.PendingTransaction, error) {
	tx := &types.PendingTransaction{}
	if err := s.getJSON(PendingPrefix+hash, tx); err != nil {
		return nil, err
	}
	return tx, nil
}

func (s *Store) DeletePending(ctx context.Context, hash string) error {
	return s.db.Delete(PendingPrefix + hash)
}

// AllPending 按交易哈希排序
func (s *Store) AllPending(ctx context.Context) ([]*types.PendingTransaction, error) {
	items, err := s.db.List(PendingPrefix)
	if err != nil {
		return nil, err
	}
	res := make([]*types.PendingTransaction, 0, len(items))
	for _, item := range items {
		tx := &types.PendingTransaction{}
		if err := json.Unmarshal([]byte(item.Value), tx); err != nil {
			return nil, errors.Wrapf(err, "decode %s", item.Key)
		}
		res = append(res, tx)
	}
	return res, nil
}

// PersistNewMessage 新消息 id 不能重复
func (s *Store) PersistNewMessage(ctx context.Context, msg *types.Message) error {
	if msg == nil || msg.ID == "" {
		return errors.New("message without id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	exist, err := s.db.Has(MessagePrefix + msg.ID)
	if err != nil {
		return err
	}
	if exist {
		return errors.Errorf("message %s already exists", msg.ID)
	}
	return s.putJSON(MessagePrefix+msg.ID, msg)
}

// UpdateMessage 覆盖已有的消息
func (s *Store) UpdateMessage(ctx context.Context, msg *types.Message) error {
	if msg == nil || msg.ID == "" {
		return errors.New("message without id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	exist, err := s.db.Has(MessagePrefix + msg.ID)
	if err != nil {
		return err
	}
	if !exist {
		return errors.Wrap(engine.ErrNotFound, msg.ID)
	}
	return s.putJSON(MessagePrefix+msg.ID, msg)
}

func (s *Store) GetMessage(ctx context.Context, messageID string) (*types.Message, error) {
	msg := &types.Message{}
	if err := s.getJSON(MessagePrefix+messageID, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// Messages threadID 为空时返回全部消息 按创建时间排序
func (s *Store) Messages(ctx context.Context, threadID string) ([]*types.Message, error) {
	items, err := s.db.List(MessagePrefix)
	if err != nil {
		return nil, err
	}
	res := make([]*types.Message, 0, len(items))
	for _, item := range items {
		msg := &types.Message{}
		if err := json.Unmarshal([]byte(item.Value), msg); err != nil {
			return nil, errors.Wrapf(err, "decode %s", item.Key)
		}
		if threadID != "" && !strings.EqualFold(msg.ThreadID, threadID) {
			continue
		}
		res = append(res, msg)
	}
	sort.SliceStable(res, func(i, j int) bool { return res[i].CreatedAt.Before(res[j].CreatedAt) })
	return res, nil
}

func (s *Store) PersistPendingSend(ctx context.Context, pending *types.PendingSend) error {
	if pending == nil || pending.MessageID == "" {
		return errors.New("pending send without message id")
	}
	return s.putJSON(PendingSendPrefix+pending.MessageID, pending)
}

// DeleteAfterResend 重发后删除等待重发的记录
func (s *Store) DeleteAfterResend(ctx context.Context, messageID string) error {
	return s.db.Delete(PendingSendPrefix + messageID)
}

// PendingSends 等待手动重发的消息
func (s *Store) PendingSends(ctx context.Context) ([]*types.PendingSend, error) {
	items, err := s.db.List(PendingSendPrefix)
	if err != nil {
		return nil, err
	}
	res := make([]*types.PendingSend, 0, len(items))
	for _, item := range items {
		p := &types.PendingSend{}
		if err := json.Unmarshal([]byte(item.Value), p); err != nil {
			return nil, errors.Wrapf(err, "decode %s", item.Key)
		}
		res = append(res, p)
	}
	return res, nil
}

// SaveIdentityKey 信任对方新的身份密钥
func (s *Store) SaveIdentityKey(ctx context.Context, address string, identityKey []byte) error {
	return s.db.Put(IdentityKeyPrefix+strings.ToLower(address), hexutil.Encode(identityKey))
}

// IdentityKey 已信任的身份密钥 没有记录时返回 nil, nil
func (s *Store) IdentityKey(ctx context.Context, address string) ([]byte, error) {
	raw, err := s.db.Get(IdentityKeyPrefix + strings.ToLower(address))
	if err == ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return hexutil.Decode(raw)
}

func (s *Store) LoadWalletIndex() (int, bool, error) {
	raw, err := s.db.Get(WalletIndexKey)
	if err == ErrNotFound {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	index, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false, errors.Wrapf(err, "decode %s", WalletIndexKey)
	}
	return index, true, nil
}

func (s *Store) SaveWalletIndex(index int) error {
	return s.db.Put(WalletIndexKey, strconv.Itoa(index))
}
