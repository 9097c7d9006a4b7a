package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"espvote/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type DeviceStore struct {
	db  *gorm.DB
	now func() time.Time
}

// Registration — результат RegisterOrRefresh.
type Registration struct {
	Device          models.Device
	IsNew           bool
	PreviousSession string // пусто для нового устройства
}

// RegisterOrRefresh — создаёт устройство по аппаратному адресу или перевыпускает SessionID
// у существующего. SessionID меняется при каждом вызове, строка устройства — нет.
// Адрес хранится в верхнем регистре: aa:bb:… и AA:BB:… — одно устройство.
func (s *DeviceStore) RegisterOrRefresh(ctx context.Context, hardwareAddress string) (Registration, error) {
	addr := normalizeAddress(hardwareAddress)
	if addr == "" {
		return Registration{}, errors.Join(ErrValidation, errors.New("empty hardware address"))
	}

	reg, err := s.registerOnce(ctx, addr)
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		// параллельная первая регистрация того же адреса: строка уже есть, обновляем её
		reg, err = s.registerOnce(ctx, addr)
	}
	if err != nil {
		return Registration{}, fault("register device", err)
	}
	return reg, nil
}

func (s *DeviceStore) registerOnce(ctx context.Context, addr string) (Registration, error) {
	var out Registration
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := s.now()
		var m models.Device
		err := tx.Where(&models.Device{HardwareAddress: addr}).First(&m).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			m = models.Device{
				HardwareAddress: addr,
				SessionID:       uuid.NewString(),
				Registered:      true,
				Assigned:        false,
				RegisteredAt:    now,
				LastActiveAt:    &now,
			}
			if err := tx.Create(&m).Error; err != nil {
				return err
			}
			out = Registration{Device: m, IsNew: true}
			return nil
		case err != nil:
			return err
		}

		prev := m.SessionID
		m.SessionID = uuid.NewString()
		m.Registered = true
		m.LastActiveAt = &now
		if err := tx.Model(&m).Select("session_id", "registered", "last_active_at").Updates(&m).Error; err != nil {
			return err
		}
		out = Registration{Device: m, IsNew: false, PreviousSession: prev}
		return nil
	})
	return out, err
}

// Unregister снимает регистрацию и закрепление; строка устройства остаётся.
func (s *DeviceStore) Unregister(ctx context.Context, id uint) (models.Device, error) {
	var m models.Device
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&m, id).Error; err != nil {
			return err
		}
		if err := detachVoters(tx, []uint{m.ID}); err != nil {
			return err
		}
		m.Registered, m.Assigned, m.VoterID = false, false, nil
		return tx.Model(&m).Select("registered", "assigned", "voter_id").Updates(&m).Error
	})
	if err != nil {
		return models.Device{}, fault("unregister device", err)
	}
	return m, nil
}

// UnregisterAll — Unregister для всех устройств. Возвращает число затронутых строк.
func (s *DeviceStore) UnregisterAll(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.Voter{}).Where("device_id IS NOT NULL").Update("device_id", nil).Error; err != nil {
			return err
		}
		res := tx.Model(&models.Device{}).
			Where("registered = ? OR assigned = ?", true, true).
			Updates(map[string]any{"registered": false, "assigned": false, "voter_id": nil})
		n = res.RowsAffected
		return res.Error
	})
	return n, fault("unregister all devices", err)
}

// AssignVoter закрепляет голосующего с именем voterName за устройством.
// Голосующий с тем же именем, уже привязанный к этому устройству, переиспользуется;
// иначе создаётся новый. Прежний голосующий устройства отвязывается.
func (s *DeviceStore) AssignVoter(ctx context.Context, deviceID uint, voterName string) (models.Voter, error) {
	name := strings.TrimSpace(voterName)
	if name == "" || strings.EqualFold(name, "NULL") {
		return models.Voter{}, errors.Join(ErrValidation, errors.New("empty voter name"))
	}

	var v models.Voter
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var dev models.Device
		if err := tx.First(&dev, deviceID).Error; err != nil {
			return err
		}

		err := tx.Where("name = ? AND device_id = ?", name, dev.ID).First(&v).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			v = models.Voter{Name: name, DeviceID: &dev.ID, CreatedAt: s.now()}
			if err := tx.Create(&v).Error; err != nil {
				return err
			}
		case err != nil:
			return err
		}

		// прежний голосующий теряет привязку
		if err := tx.Model(&models.Voter{}).
			Where("device_id = ? AND id <> ?", dev.ID, v.ID).
			Update("device_id", nil).Error; err != nil {
			return err
		}

		dev.Assigned = true
		dev.VoterID = &v.ID
		return tx.Model(&dev).Select("assigned", "voter_id").Updates(&dev).Error
	})
	if err != nil {
		return models.Voter{}, fault("assign voter", err)
	}
	return v, nil
}

// Unassign снимает закрепление; для незакреплённого устройства — no-op.
func (s *DeviceStore) Unassign(ctx context.Context, deviceID uint) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var dev models.Device
		if err := tx.First(&dev, deviceID).Error; err != nil {
			return err
		}
		if err := detachVoters(tx, []uint{dev.ID}); err != nil {
			return err
		}
		if !dev.Assigned && dev.VoterID == nil {
			return nil
		}
		dev.Assigned, dev.VoterID = false, nil
		return tx.Model(&dev).Select("assigned", "voter_id").Updates(&dev).Error
	})
	return fault("unassign device", err)
}

func (s *DeviceStore) UnassignAll(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.Voter{}).Where("device_id IS NOT NULL").Update("device_id", nil).Error; err != nil {
			return err
		}
		res := tx.Model(&models.Device{}).
			Where("assigned = ? OR voter_id IS NOT NULL", true).
			Updates(map[string]any{"assigned": false, "voter_id": nil})
		n = res.RowsAffected
		return res.Error
	})
	return n, fault("unassign all devices", err)
}

func detachVoters(tx *gorm.DB, deviceIDs []uint) error {
	return tx.Model(&models.Voter{}).Where("device_id IN ?", deviceIDs).Update("device_id", nil).Error
}

// Touch обновляет время последней активности.
func (s *DeviceStore) Touch(ctx context.Context, id uint) error {
	err := s.db.WithContext(ctx).Model(&models.Device{}).Where("id = ?", id).Update("last_active_at", s.now()).Error
	return fault("touch device", err)
}

func (s *DeviceStore) Get(ctx context.Context, id uint) (models.Device, error) {
	var m models.Device
	if err := s.db.WithContext(ctx).First(&m, id).Error; err != nil {
		return models.Device{}, fault("get device", err)
	}
	return m, nil
}

// FindBySession ищет зарегистрированное устройство по текущему SessionID.
func (s *DeviceStore) FindBySession(ctx context.Context, sessionID string) (models.Device, error) {
	var m models.Device
	err := s.db.WithContext(ctx).
		Where("session_id = ? AND registered = ?", sessionID, true).
		First(&m).Error
	if err != nil {
		return models.Device{}, fault("find device by session", err)
	}
	return m, nil
}

func (s *DeviceStore) FindByHardwareAddress(ctx context.Context, addr string) (models.Device, error) {
	var m models.Device
	if err := s.db.WithContext(ctx).Where("hardware_address = ?", normalizeAddress(addr)).First(&m).Error; err != nil {
		return models.Device{}, fault("find device by address", err)
	}
	return m, nil
}

// VoterOf возвращает голосующего, закреплённого за устройством.
// Незакреплённое устройство — ErrPreconditionFailed.
func (s *DeviceStore) VoterOf(ctx context.Context, dev models.Device) (models.Voter, error) {
	if !dev.Assigned || dev.VoterID == nil {
		return models.Voter{}, errors.Join(ErrPreconditionFailed, errors.New("device is not assigned to a voter"))
	}
	var v models.Voter
	err := s.db.WithContext(ctx).First(&v, *dev.VoterID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.Voter{}, errors.Join(ErrPreconditionFailed, errors.New("assigned voter does not exist"))
	}
	if err != nil {
		return models.Voter{}, fault("load voter", err)
	}
	return v, nil
}

func (s *DeviceStore) GetVoter(ctx context.Context, id uint) (models.Voter, error) {
	var v models.Voter
	if err := s.db.WithContext(ctx).First(&v, id).Error; err != nil {
		return models.Voter{}, fault("get voter", err)
	}
	return v, nil
}

// ── списки ─────────────────────────────────────────────────

func (s *DeviceStore) ListAll(ctx context.Context) ([]models.Device, error) {
	out := []models.Device{}
	err := s.db.WithContext(ctx).Order("id").Find(&out).Error
	return out, fault("list devices", err)
}

func (s *DeviceStore) ListRegistered(ctx context.Context) ([]models.Device, error) {
	out := []models.Device{}
	err := s.db.WithContext(ctx).Where("registered = ?", true).Order("id").Find(&out).Error
	return out, fault("list registered devices", err)
}

func (s *DeviceStore) ListUnassigned(ctx context.Context) ([]models.Device, error) {
	out := []models.Device{}
	err := s.db.WithContext(ctx).
		Where("registered = ? AND assigned = ?", true, false).
		Order("id").Find(&out).Error
	return out, fault("list unassigned devices", err)
}

// ListAssigned — зарегистрированные закреплённые устройства с именем голосующего.
func (s *DeviceStore) ListAssigned(ctx context.Context) ([]models.AssignedDevice, error) {
	out := []models.AssignedDevice{}
	err := s.db.WithContext(ctx).
		Table("devices").
		Select("devices.*, voters.name AS voter_name").
		Joins("JOIN voters ON voters.id = devices.voter_id").
		Where("devices.registered = ? AND devices.assigned = ?", true, true).
		Order("devices.id").
		Scan(&out).Error
	return out, fault("list assigned devices", err)
}

func normalizeAddress(addr string) string {
	return strings.ToUpper(strings.TrimSpace(addr))
}
