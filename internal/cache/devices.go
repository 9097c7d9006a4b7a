package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"espvote/internal/logs"
	"espvote/internal/models"

	"github.com/redis/go-redis/v9"
)

const registeredDevicesKey = "espvote:cache:registered_devices"

// Loader — источник истины для списка (repo.DeviceStore.ListRegistered).
type Loader func(ctx context.Context) ([]models.Device, error)

// Devices — кеш списка зарегистрированных устройств в redis. Фоновый цикл
// периодически перезаписывает ключ, регистрация и снятие устройств его сбрасывают.
// Без клиента redis (rdb == nil) кеш выключен и всё идёт в Loader.
type Devices struct {
	rdb  *redis.Client
	load Loader
	ttl  time.Duration
}

func NewDevices(rdb *redis.Client, load Loader, ttl time.Duration) *Devices {
	return &Devices{rdb: rdb, load: load, ttl: ttl}
}

// Connect — клиент redis с проверкой ping.
func Connect(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, err
	}
	return rdb, nil
}

// Registered возвращает список из кеша; при промахе или ошибке redis — из Loader
// с записью результата обратно.
func (d *Devices) Registered(ctx context.Context) ([]models.Device, error) {
	if d.rdb == nil {
		return d.load(ctx)
	}
	raw, err := d.rdb.Get(ctx, registeredDevicesKey).Bytes()
	switch {
	case err == nil:
		var out []models.Device
		if jerr := json.Unmarshal(raw, &out); jerr == nil {
			return out, nil
		}
		logs.Logger.Warn("device cache: corrupt entry, reloading")
	case !errors.Is(err, redis.Nil):
		logs.Logger.WithError(err).Warn("device cache: redis get failed")
	}

	list, err := d.load(ctx)
	if err != nil {
		return nil, err
	}
	d.store(ctx, list)
	return list, nil
}

// Refresh перечитывает список и перезаписывает ключ.
func (d *Devices) Refresh(ctx context.Context) error {
	if d.rdb == nil {
		return nil
	}
	list, err := d.load(ctx)
	if err != nil {
		return err
	}
	d.store(ctx, list)
	return nil
}

func (d *Devices) Invalidate(ctx context.Context) {
	if d.rdb == nil {
		return
	}
	if err := d.rdb.Del(ctx, registeredDevicesKey).Err(); err != nil {
		logs.Logger.WithError(err).Warn("device cache: invalidate failed")
	}
}

// Run обновляет кеш каждые interval до отмены ctx.
func (d *Devices) Run(ctx context.Context, interval time.Duration) {
	if d.rdb == nil || interval <= 0 {
		return
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		if err := d.Refresh(ctx); err != nil && ctx.Err() == nil {
			logs.Logger.WithError(err).Warn("device cache: refresh failed")
		}
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

func (d *Devices) Ping(ctx context.Context) error {
	if d.rdb == nil {
		return nil
	}
	return d.rdb.Ping(ctx).Err()
}

func (d *Devices) store(ctx context.Context, list []models.Device) {
	if list == nil {
		list = []models.Device{}
	}
	data, err := json.Marshal(list)
	if err != nil {
		return
	}
	if err := d.rdb.Set(ctx, registeredDevicesKey, data, d.ttl).Err(); err != nil {
		logs.Logger.WithError(err).Warn("device cache: redis set failed")
	}
}
