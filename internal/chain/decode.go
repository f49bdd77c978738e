package chain

import (
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"reflect"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"github.com/celo-runner/internal/domain"
)

// MaxSafeInteger is the largest integer narrowed out of a uint256.
const MaxSafeInteger = 1<<53 - 1

var maxSafe = big.NewInt(MaxSafeInteger)

// record is a contract struct in either of its two wire shapes.
// Tuple structs produced by the ABI unpacker are turned into the
// positional shape, preserving ABI field order.
type record struct {
	pos   []interface{}
	keyed map[string]interface{}
}

func newRecord(raw interface{}) (record, error) {
	switch v := raw.(type) {
	case []interface{}:
		return record{pos: v}, nil
	case map[string]interface{}:
		return record{keyed: v}, nil
	case nil:
		return record{}, fmt.Errorf("decoding record: nil value")
	}

	rv := reflect.ValueOf(raw)
	for rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return record{}, fmt.Errorf("decoding record: nil pointer")
		}
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return record{}, fmt.Errorf("decoding record: unsupported shape %T", raw)
	}

	pos := make([]interface{}, 0, rv.NumField())
	for i := 0; i < rv.NumField(); i++ {
		if !rv.Type().Field(i).IsExported() {
			continue
		}
		pos = append(pos, rv.Field(i).Interface())
	}
	return record{pos: pos}, nil
}

func (r record) field(index int, key string) (interface{}, error) {
	if r.keyed != nil {
		v, ok := r.keyed[key]
		if !ok {
			return nil, fmt.Errorf("missing field %q", key)
		}
		return v, nil
	}
	if index >= len(r.pos) {
		return nil, fmt.Errorf("missing field %q at position %d", key, index)
	}
	return r.pos[index], nil
}

func (r record) intField(index int, key string) (int64, error) {
	v, err := r.field(index, key)
	if err != nil {
		return 0, err
	}
	n, err := ToInt64(v)
	if err != nil {
		return 0, fmt.Errorf("field %q: %w", key, err)
	}
	return n, nil
}

func (r record) boolField(index int, key string) (bool, error) {
	v, err := r.field(index, key)
	if err != nil {
		return false, err
	}
	switch b := v.(type) {
	case bool:
		return b, nil
	case string:
		parsed, err := strconv.ParseBool(b)
		if err != nil {
			return false, fmt.Errorf("field %q: %w", key, err)
		}
		return parsed, nil
	}
	return false, fmt.Errorf("field %q: unexpected type %T", key, v)
}

func (r record) stringField(index int, key string) (string, error) {
	v, err := r.field(index, key)
	if err != nil {
		return "", err
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("field %q: unexpected type %T", key, v)
	}
	return s, nil
}

func (r record) addressField(index int, key string) (string, error) {
	v, err := r.field(index, key)
	if err != nil {
		return "", err
	}
	switch a := v.(type) {
	case common.Address:
		return a.Hex(), nil
	case *common.Address:
		return a.Hex(), nil
	case string:
		if !common.IsHexAddress(a) {
			return "", fmt.Errorf("field %q: %w", key, domain.ErrInvalidAddress)
		}
		return common.HexToAddress(a).Hex(), nil
	}
	return "", fmt.Errorf("field %q: unexpected type %T", key, v)
}

func (r record) bigField(index int, key string) (*big.Int, error) {
	v, err := r.field(index, key)
	if err != nil {
		return nil, err
	}
	n, err := ToBigInt(v)
	if err != nil {
		return nil, fmt.Errorf("field %q: %w", key, err)
	}
	return n, nil
}

// ToBigInt converts any numeric wire value to a big integer.
func ToBigInt(v interface{}) (*big.Int, error) {
	switch n := v.(type) {
	case *big.Int:
		if n == nil {
			return new(big.Int), nil
		}
		return new(big.Int).Set(n), nil
	case big.Int:
		return new(big.Int).Set(&n), nil
	case int:
		return big.NewInt(int64(n)), nil
	case int8:
		return big.NewInt(int64(n)), nil
	case int16:
		return big.NewInt(int64(n)), nil
	case int32:
		return big.NewInt(int64(n)), nil
	case int64:
		return big.NewInt(n), nil
	case uint:
		return new(big.Int).SetUint64(uint64(n)), nil
	case uint8:
		return new(big.Int).SetUint64(uint64(n)), nil
	case uint16:
		return new(big.Int).SetUint64(uint64(n)), nil
	case uint32:
		return new(big.Int).SetUint64(uint64(n)), nil
	case uint64:
		return new(big.Int).SetUint64(n), nil
	case float64:
		if n != math.Trunc(n) || math.IsInf(n, 0) || math.IsNaN(n) {
			return nil, fmt.Errorf("non-integral number %v", n)
		}
		if math.Abs(n) > MaxSafeInteger {
			return nil, domain.ErrUnsafeNarrowing
		}
		return big.NewInt(int64(n)), nil
	case json.Number:
		return parseBigInt(n.String())
	case string:
		return parseBigInt(n)
	}
	return nil, fmt.Errorf("unexpected numeric type %T", v)
}

func parseBigInt(s string) (*big.Int, error) {
	n, ok := new(big.Int).SetString(s, 0)
	if !ok {
		return nil, fmt.Errorf("invalid integer %q", s)
	}
	return n, nil
}

// ToInt64 narrows a numeric wire value, failing with
// domain.ErrUnsafeNarrowing when precision would be lost.
func ToInt64(v interface{}) (int64, error) {
	n, err := ToBigInt(v)
	if err != nil {
		return 0, err
	}
	if new(big.Int).Abs(n).Cmp(maxSafe) > 0 {
		return 0, domain.ErrUnsafeNarrowing
	}
	return n.Int64(), nil
}

// DecodePlayer normalizes a getPlayer result. The stage sets are left
// empty; they are filled from the per-stage flag reads.
func DecodePlayer(raw interface{}) (domain.Player, error) {
	r, err := newRecord(raw)
	if err != nil {
		return domain.Player{}, err
	}

	var p domain.Player
	if p.Username, err = r.stringField(0, "username"); err != nil {
		return domain.Player{}, fmt.Errorf("decoding player: %w", err)
	}
	if p.IsRegistered, err = r.boolField(1, "isRegistered"); err != nil {
		return domain.Player{}, fmt.Errorf("decoding player: %w", err)
	}

	counters := []struct {
		key string
		dst *int64
	}{
		{"currentStage", &p.CurrentStage},
		{"totalScore", &p.TotalScore},
		{"inGameCoins", &p.InGameCoins},
		{"questTokensEarned", &p.QuestTokensEarned},
		{"totalGamesPlayed", &p.TotalGamesPlayed},
		{"registrationTime", &p.RegistrationTime},
	}
	for i, c := range counters {
		if *c.dst, err = r.intField(i+2, c.key); err != nil {
			return domain.Player{}, fmt.Errorf("decoding player: %w", err)
		}
	}

	p.CompletedStages = domain.NewStageSet()
	p.TokensClaimedStages = domain.NewStageSet()
	p.NFTClaimedStages = domain.NewStageSet()
	return p, nil
}

// DecodeSession normalizes one GameSession struct.
func DecodeSession(raw interface{}) (domain.GameSession, error) {
	r, err := newRecord(raw)
	if err != nil {
		return domain.GameSession{}, err
	}

	var s domain.GameSession
	if s.Player, err = r.addressField(0, "player"); err != nil {
		return domain.GameSession{}, fmt.Errorf("decoding session: %w", err)
	}
	if s.Stage, err = r.intField(1, "stage"); err != nil {
		return domain.GameSession{}, fmt.Errorf("decoding session: %w", err)
	}
	if s.Score, err = r.intField(2, "score"); err != nil {
		return domain.GameSession{}, fmt.Errorf("decoding session: %w", err)
	}
	if s.CoinsCollected, err = r.intField(3, "coinsCollected"); err != nil {
		return domain.GameSession{}, fmt.Errorf("decoding session: %w", err)
	}
	if s.StageCompleted, err = r.boolField(4, "stageCompleted"); err != nil {
		return domain.GameSession{}, fmt.Errorf("decoding session: %w", err)
	}
	if s.Timestamp, err = r.intField(5, "timestamp"); err != nil {
		return domain.GameSession{}, fmt.Errorf("decoding session: %w", err)
	}
	return s, nil
}

// DecodeSessions normalizes a GameSession array.
func DecodeSessions(raw interface{}) ([]domain.GameSession, error) {
	if raw == nil {
		return []domain.GameSession{}, nil
	}

	var items []interface{}
	if list, ok := raw.([]interface{}); ok {
		items = list
	} else {
		rv := reflect.ValueOf(raw)
		if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
			return nil, fmt.Errorf("decoding sessions: unsupported shape %T", raw)
		}
		items = make([]interface{}, rv.Len())
		for i := range items {
			items[i] = rv.Index(i).Interface()
		}
	}

	sessions := make([]domain.GameSession, 0, len(items))
	for i, item := range items {
		s, err := DecodeSession(item)
		if err != nil {
			return nil, fmt.Errorf("session %d: %w", i, err)
		}
		sessions = append(sessions, s)
	}
	return sessions, nil
}

// DecodeListing normalizes a getListing result for tokenID.
func DecodeListing(tokenID uint64, raw interface{}) (domain.Listing, error) {
	r, err := newRecord(raw)
	if err != nil {
		return domain.Listing{}, err
	}

	l := domain.Listing{TokenID: tokenID}
	if l.Seller, err = r.addressField(0, "seller"); err != nil {
		return domain.Listing{}, fmt.Errorf("decoding listing: %w", err)
	}
	if l.Price, err = r.bigField(1, "price"); err != nil {
		return domain.Listing{}, fmt.Errorf("decoding listing: %w", err)
	}
	if l.IsActive, err = r.boolField(2, "isActive"); err != nil {
		return domain.Listing{}, fmt.Errorf("decoding listing: %w", err)
	}
	return l, nil
}

// DecodeGameStats normalizes the two getGameStats outputs.
func DecodeGameStats(raw interface{}) (domain.GameStats, error) {
	r, err := newRecord(raw)
	if err != nil {
		return domain.GameStats{}, err
	}

	var stats domain.GameStats
	if stats.TotalPlayers, err = r.intField(0, "totalPlayers"); err != nil {
		return domain.GameStats{}, fmt.Errorf("decoding stats: %w", err)
	}
	if stats.TotalGamesPlayed, err = r.intField(1, "totalGamesPlayed"); err != nil {
		return domain.GameStats{}, fmt.Errorf("decoding stats: %w", err)
	}
	return stats, nil
}
