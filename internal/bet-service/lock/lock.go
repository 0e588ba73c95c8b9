package lock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrNotAcquired indica que o lease não foi obtido dentro do prazo.
var ErrNotAcquired = errors.New("bet lock not acquired")

// Locker serializa callBet/cancelBet por betId. O lease é mantido durante toda
// a sequência read-validate-mutate e liberado após o desfecho (sucesso ou erro
// fatal). Apostas distintas não contendem entre si.
type Locker interface {
	Acquire(ctx context.Context, betID string) (release func(), err error)
}

// Redis implementa o lease via SET NX PX, com release comparando o token
// pra não soltar lease de outro dono.
type Redis struct {
	Rdb *redis.Client
	TTL time.Duration
}

func NewRedis(rdb *redis.Client) *Redis {
	return &Redis{Rdb: rdb, TTL: 10 * time.Second}
}

var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0`)

func (l *Redis) Acquire(ctx context.Context, betID string) (func(), error) {
	key := "betlock:" + betID
	token := uuid.NewString()

	for {
		ok, err := l.Rdb.SetNX(ctx, key, token, l.TTL).Result()
		if err != nil {
			return nil, err
		}
		if ok {
			release := func() {
				c, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				defer cancel()
				_ = releaseScript.Run(c, l.Rdb, []string{key}, token).Err()
			}
			return release, nil
		}

		select {
		case <-ctx.Done():
			return nil, ErrNotAcquired
		case <-time.After(50 * time.Millisecond):
		}
	}
}

// Memory é um mutex por chave, usado em testes e em deploy single-node.
type Memory struct {
	mu    sync.Mutex
	locks map[string]*entry
}

type entry struct {
	mu   sync.Mutex
	refs int
}

func NewMemory() *Memory {
	return &Memory{locks: map[string]*entry{}}
}

func (m *Memory) Acquire(ctx context.Context, betID string) (func(), error) {
	m.mu.Lock()
	e, ok := m.locks[betID]
	if !ok {
		e = &entry{}
		m.locks[betID] = e
	}
	e.refs++
	m.mu.Unlock()

	e.mu.Lock()

	release := func() {
		e.mu.Unlock()
		m.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(m.locks, betID)
		}
		m.mu.Unlock()
	}
	return release, nil
}
