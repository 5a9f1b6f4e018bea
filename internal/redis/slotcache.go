package redisclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/hackgods/doctor-slot-scheduling/internal/scheduling"
)

type slotCache struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewSlotCache caches available slot lists per doctor and date for ttl.
func NewSlotCache(client redis.UniversalClient, ttl time.Duration) scheduling.SlotCache {
	return &slotCache{client: client, ttl: ttl}
}

// versionTTL outlives any listing load so a version never resets to zero
// while a reader still holds it.
const versionTTL = 24 * time.Hour

func cacheKey(doctorID uuid.UUID, date time.Time) string {
	return fmt.Sprintf("slots:available:%s:%s", doctorID.String(), date.Format(time.DateOnly))
}

func versionKey(doctorID uuid.UUID, date time.Time) string {
	return fmt.Sprintf("slots:version:%s:%s", doctorID.String(), date.Format(time.DateOnly))
}

type cachedSlot struct {
	ID        uuid.UUID             `json:"id"`
	DoctorID  uuid.UUID             `json:"doctor_id"`
	Date      string                `json:"date"`
	StartTime scheduling.TimeOfDay  `json:"start_time"`
	EndTime   scheduling.TimeOfDay  `json:"end_time"`
	Status    scheduling.SlotStatus `json:"status"`
}

func (c *slotCache) GetAvailable(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]scheduling.Slot, bool, error) {
	raw, err := c.client.Get(ctx, cacheKey(doctorID, date)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get cached slots: %w", err)
	}

	var entries []cachedSlot
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, false, fmt.Errorf("decode cached slots: %w", err)
	}

	slots := make([]scheduling.Slot, 0, len(entries))
	for _, e := range entries {
		d, err := time.Parse(time.DateOnly, e.Date)
		if err != nil {
			return nil, false, fmt.Errorf("decode cached slot date: %w", err)
		}
		slots = append(slots, scheduling.Slot{
			ID:        e.ID,
			DoctorID:  e.DoctorID,
			Date:      d,
			StartTime: e.StartTime,
			EndTime:   e.EndTime,
			Status:    e.Status,
		})
	}
	return slots, true, nil
}

func (c *slotCache) Version(ctx context.Context, doctorID uuid.UUID, date time.Time) (int64, error) {
	v, err := c.client.Get(ctx, versionKey(doctorID, date)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get slot cache version: %w", err)
	}
	return v, nil
}

// setIfVersionScript writes the listing only while the date's version still
// equals ARGV[1]. A missing version key reads as 0.
var setIfVersionScript = redis.NewScript(`
local current = redis.call("GET", KEYS[1]) or "0"
if current ~= ARGV[1] then
  return 0
end
if tonumber(ARGV[3]) > 0 then
  redis.call("SET", KEYS[2], ARGV[2], "PX", ARGV[3])
else
  redis.call("SET", KEYS[2], ARGV[2])
end
return 1
`)

func (c *slotCache) SetAvailable(ctx context.Context, doctorID uuid.UUID, date time.Time, version int64, slots []scheduling.Slot) (bool, error) {
	entries := make([]cachedSlot, 0, len(slots))
	for _, s := range slots {
		entries = append(entries, cachedSlot{
			ID:        s.ID,
			DoctorID:  s.DoctorID,
			Date:      s.Date.Format(time.DateOnly),
			StartTime: s.StartTime,
			EndTime:   s.EndTime,
			Status:    s.Status,
		})
	}

	raw, err := json.Marshal(entries)
	if err != nil {
		return false, fmt.Errorf("encode cached slots: %w", err)
	}

	keys := []string{versionKey(doctorID, date), cacheKey(doctorID, date)}
	stored, err := setIfVersionScript.Run(ctx, c.client, keys, strconv.FormatInt(version, 10), raw, c.ttl.Milliseconds()).Int64()
	if err != nil {
		return false, fmt.Errorf("set cached slots: %w", err)
	}
	return stored == 1, nil
}

func (c *slotCache) Invalidate(ctx context.Context, doctorID uuid.UUID, dates ...time.Time) error {
	if len(dates) == 0 {
		return nil
	}
	keys := make([]string, 0, len(dates))
	for _, d := range dates {
		keys = append(keys, cacheKey(doctorID, d))
	}
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, d := range dates {
			vk := versionKey(doctorID, d)
			pipe.Incr(ctx, vk)
			pipe.Expire(ctx, vk, versionTTL)
		}
		pipe.Del(ctx, keys...)
		return nil
	})
	if err != nil {
		return fmt.Errorf("invalidate cached slots: %w", err)
	}
	return nil
}
