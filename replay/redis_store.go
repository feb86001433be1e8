package replay

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/cyberinferno/railserver/apperror"
	"github.com/cyberinferno/railserver/protocol"
	"github.com/redis/go-redis/v9"
)

// Key layout:
//
//	{prefix}game:next          INCR counter for game ids
//	{prefix}games              list of game ids in creation order
//	{prefix}game:{id}          hash with name, map, date, players
//	{prefix}game:{id}:actions  list of JSON encoded ActionEntry values
const defaultPrefix = "replay:"

// appendScript pushes an action only when the game hash exists.
var appendScript = redis.NewScript(`
if redis.call("exists", KEYS[1]) == 0 then
	return -1
end
return redis.call("rpush", KEYS[2], ARGV[1])
`)

// listScript reads every game and counts its TURN actions in one atomic
// step, so the listing is a consistent snapshot.
var listScript = redis.NewScript(`
local out = {}
for _, id in ipairs(redis.call("lrange", KEYS[1], 0, -1)) do
	local key = ARGV[1] .. "game:" .. id
	local f = redis.call("hmget", key, "name", "map", "date", "players")
	local turns = 0
	for _, raw in ipairs(redis.call("lrange", key .. ":actions", 0, -1)) do
		if cjson.decode(raw).code == tonumber(ARGV[2]) then
			turns = turns + 1
		end
	end
	table.insert(out, {id, f[1] or "", f[2] or "", f[3] or "", f[4] or "0", turns})
end
return out
`)

// RedisStore keeps the log in redis so that it survives restarts and can be
// read by the replay commands while the server runs.
type RedisStore struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

// NewRedisStore creates a store on client. An empty prefix uses "replay:".
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = defaultPrefix
	}

	return &RedisStore{client: client, prefix: prefix, now: time.Now}
}

// ConnectRedis dials redis and verifies the connection with PING.
func ConnectRedis(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return client, nil
}

func (s *RedisStore) gameKey(id int64) string {
	return s.prefix + "game:" + strconv.FormatInt(id, 10)
}

func (s *RedisStore) actionsKey(id int64) string {
	return s.gameKey(id) + ":actions"
}

func (s *RedisStore) CreateGame(ctx context.Context, name, mapName string, numPlayers int) (int64, error) {
	id, err := s.client.Incr(ctx, s.prefix+"game:next").Result()
	if err != nil {
		return 0, fmt.Errorf("failed to allocate game id: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.gameKey(id),
			"name", name,
			"map", mapName,
			"date", s.now().UTC().Format(time.RFC3339Nano),
			"players", numPlayers,
		)
		pipe.RPush(ctx, s.prefix+"games", id)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to create game: %w", err)
	}

	return id, nil
}

func (s *RedisStore) Append(ctx context.Context, rec Record) error {
	raw, err := json.Marshal(newEntry(rec, s.now().UTC()))
	if err != nil {
		return fmt.Errorf("could not marshal action: %w", err)
	}

	n, err := appendScript.Run(ctx, s.client, []string{s.gameKey(rec.GameID), s.actionsKey(rec.GameID)}, raw).Int64()
	if err != nil {
		return fmt.Errorf("failed to append action: %w", err)
	}

	if n < 0 {
		return apperror.NewResourceNotFound("Replay game not found: %d", rec.GameID)
	}

	return nil
}

func (s *RedisStore) ListGames(ctx context.Context) ([]GameSummary, error) {
	rows, err := listScript.Run(ctx, s.client, []string{s.prefix + "games"}, s.prefix, int(protocol.Turn)).Slice()
	if err != nil {
		return nil, fmt.Errorf("failed to list games: %w", err)
	}

	out := make([]GameSummary, 0, len(rows))
	for _, row := range rows {
		summary, err := parseSummaryRow(row)
		if err != nil {
			return nil, err
		}

		out = append(out, summary)
	}

	return out, nil
}

func (s *RedisStore) ListActions(ctx context.Context, gameID int64) ([]ActionEntry, error) {
	var (
		exists *redis.IntCmd
		raw    *redis.StringSliceCmd
	)

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		exists = pipe.Exists(ctx, s.gameKey(gameID))
		raw = pipe.LRange(ctx, s.actionsKey(gameID), 0, -1)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list actions: %w", err)
	}

	if exists.Val() == 0 {
		return nil, apperror.NewResourceNotFound("Replay game not found: %d", gameID)
	}

	out := make([]ActionEntry, 0, len(raw.Val()))
	for _, item := range raw.Val() {
		var entry ActionEntry
		if err := json.Unmarshal([]byte(item), &entry); err != nil {
			return nil, fmt.Errorf("failed to unmarshal action: %w", err)
		}

		if string(entry.Payload) == "null" {
			entry.Payload = nil
		}

		out = append(out, entry)
	}

	return out, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func parseSummaryRow(row any) (GameSummary, error) {
	fields, ok := row.([]any)
	if !ok || len(fields) != 6 {
		return GameSummary{}, fmt.Errorf("unexpected listing row: %v", row)
	}

	str := func(i int) string {
		s, _ := fields[i].(string)
		return s
	}

	id, err := strconv.ParseInt(str(0), 10, 64)
	if err != nil {
		return GameSummary{}, fmt.Errorf("invalid game id %q: %w", str(0), err)
	}

	players, err := strconv.Atoi(str(4))
	if err != nil {
		return GameSummary{}, fmt.Errorf("invalid player count %q: %w", str(4), err)
	}

	date, err := time.Parse(time.RFC3339Nano, str(3))
	if err != nil {
		return GameSummary{}, fmt.Errorf("invalid game date %q: %w", str(3), err)
	}

	turns, _ := fields[5].(int64)

	return GameSummary{
		ID:          id,
		Name:        str(1),
		Date:        date,
		MapName:     str(2),
		TurnCount:   int(turns),
		PlayerCount: players,
	}, nil
}
