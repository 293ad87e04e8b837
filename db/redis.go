package db

import (
	"context"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// DefaultHash 所有数据存放在同一个 hash 中
const DefaultHash = "PayWallet"

// RedisConf redis 连接配置
type RedisConf struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// NewRedisClient 创建连接并 ping
func NewRedisClient(ctx context.Context, conf RedisConf) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     conf.Addr,
		Password: conf.Password,
		DB:       conf.DB,
	})
	res, err := rdb.Ping(ctx).Result()
	if err != nil {
		_ = rdb.Close()
		return nil, errors.Wrapf(err, "redis ping %s", conf.Addr)
	}
	log.Info().Msgf("Connection res is %v ", res)
	return rdb, nil
}

// Redis 用一个 redis hash 实现 Database
type Redis struct {
	rdb  *redis.Client
	hash string
}

func NewRedis(rdb *redis.Client, hash string) *Redis {
	if hash == "" {
		hash = DefaultHash
	}
	return &Redis{rdb: rdb, hash: hash}
}

// Client 底层连接 供缓存和消息订阅使用
func (r *Redis) Client() *redis.Client {
	return r.rdb
}

func (r *Redis) Has(key string) (bool, error) {
	return r.rdb.HExists(context.Background(), r.hash, key).Result()
}

func (r *Redis) Get(key string) (string, error) {
	res, err := r.rdb.HGet(context.Background(), r.hash, key).Result()
	if err == redis.Nil {
		return "", ErrNotFound
	}
	return res, err
}

func (r *Redis) List(prefix string) ([]Item, error) {
	res, err := r.rdb.HGetAll(context.Background(), r.hash).Result()
	if err != nil {
		return nil, err
	}
	items := make([]Item, 0, len(res))
	for k, v := range res {
		if strings.HasPrefix(k, prefix) {
			items = append(items, Item{Key: k, Value: v})
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Key < items[j].Key })
	return items, nil
}

func (r *Redis) Put(key string, value string) error {
	return r.rdb.HSet(context.Background(), r.hash, key, value).Err()
}

func (r *Redis) Delete(key string) error {
	return r.rdb.HDel(context.Background(), r.hash, key).Err()
}

func (r *Redis) Close() error {
	return r.rdb.Close()
}
