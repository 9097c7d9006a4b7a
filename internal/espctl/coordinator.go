// Package espctl — координатор ESP-пультов: принимает сообщения из брокера,
// регистрирует устройства, принимает голоса и отвечает на resync.
//
//	registration/<mac>  → регистрация, ответ registration/confirm/<mac> {"sessionId"}
//	vote/<session>      → голос, ответ vote/confirm/<session> {"status","voteValue","topicId"}
//	setupVote/resync    → состояние темы в setupVote/broadcast
//
// Ошибки устройствам не возвращаются: сообщение логируется и отбрасывается,
// устройство само повторит отправку по таймеру.
package espctl

import (
	"context"
	"errors"
	"fmt"
	"time"

	"espvote/internal/broker"
	"espvote/internal/codec"
	"espvote/internal/db"
	"espvote/internal/logs"
	"espvote/internal/metrics"
	"espvote/internal/models"
	"espvote/internal/repo"
	"espvote/internal/window"

	"github.com/sirupsen/logrus"
)

var (
	ErrOutsideWindow = errors.New("vote is outside the voting window or for another topic")
	ErrNoTopic       = errors.New("no voting topic configured")
	ErrUnknownTopic  = errors.New("unknown message topic")
)

type Coordinator struct {
	store     *repo.Store
	tracker   *window.Tracker
	transport broker.Transport

	now     func() time.Time
	timeout time.Duration
	log     *logrus.Entry

	// devicesChanged вызывается после регистрации/снятия устройств (сброс кеша списков).
	devicesChanged func(ctx context.Context)
}

type Option func(*Coordinator)

func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// WithMessageTimeout — предельное время обработки одного сообщения.
func WithMessageTimeout(d time.Duration) Option {
	return func(c *Coordinator) { c.timeout = d }
}

func WithDevicesChanged(fn func(ctx context.Context)) Option {
	return func(c *Coordinator) { c.devicesChanged = fn }
}

func New(store *repo.Store, tracker *window.Tracker, transport broker.Transport, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:     store,
		tracker:   tracker,
		transport: transport,
		now:       func() time.Time { return time.Now().UTC() },
		timeout:   5 * time.Second,
		log:       logs.Logger.WithField("component", "espctl"),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Start загружает текущую тему и подписывается на registration/+, setupVote/resync
// и vote/<session> каждого зарегистрированного устройства.
func (c *Coordinator) Start(ctx context.Context) error {
	if err := c.LoadWindow(ctx); err != nil {
		return err
	}
	for _, f := range []string{broker.RegistrationFilter, broker.ResyncTopic} {
		if err := c.transport.Subscribe(ctx, f, c.HandleMessage); err != nil {
			return fmt.Errorf("subscribe %s: %w", f, err)
		}
	}
	devs, err := c.store.Devices().ListRegistered(ctx)
	if err != nil {
		return fmt.Errorf("load registered devices: %w", err)
	}
	for _, d := range devs {
		if err := c.transport.Subscribe(ctx, broker.VoteTopic(d.SessionID), c.HandleMessage); err != nil {
			return fmt.Errorf("subscribe vote path of device %d: %w", d.ID, err)
		}
	}
	c.log.WithField("devices", len(devs)).Info("coordinator started")
	return nil
}

// LoadWindow перечитывает текущую тему из БД. Отсутствие тем — не ошибка.
func (c *Coordinator) LoadWindow(ctx context.Context) error {
	t, err := c.tracker.Reload(ctx, c.store.Topics(), c.now())
	switch {
	case errors.Is(err, repo.ErrNotFound):
		c.log.Info("no voting topics yet")
		return nil
	case err != nil:
		return fmt.Errorf("load voting window: %w", err)
	}
	c.log.WithFields(logrus.Fields{"topic_id": t.ID, "title": t.Title}).Info("voting window loaded")
	return nil
}

// HandleMessage — broker.Handler для всех входящих топиков. Никогда не паникует наружу.
func (c *Coordinator) HandleMessage(ctx context.Context, topic string, payload []byte) {
	kind, param := broker.Classify(topic)
	start := time.Now()
	entry := c.log.WithFields(logrus.Fields{"topic": topic, "kind": string(kind)})

	defer func() {
		if rec := recover(); rec != nil {
			metrics.MessagesTotal.WithLabelValues(string(kind), "panic").Inc()
			entry.WithField("panic", rec).Error("message handler panic")
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var (
		fields logrus.Fields
		err    error
	)
	switch kind {
	case broker.KindRegistration:
		fields, err = c.handleRegistration(ctx, param, payload)
	case broker.KindVote:
		fields, err = c.handleVote(ctx, param, payload)
	case broker.KindResync:
		fields, err = c.handleResync(ctx, payload)
	default:
		err = ErrUnknownTopic
	}
	metrics.MessageDurationSeconds.WithLabelValues(string(kind)).Observe(time.Since(start).Seconds())

	entry = entry.WithFields(fields)
	switch {
	case err == nil:
		metrics.MessagesTotal.WithLabelValues(string(kind), "accepted").Inc()
		entry.WithField("outcome", "accepted").Info("message handled")
	case dropped(err):
		metrics.MessagesTotal.WithLabelValues(string(kind), "dropped").Inc()
		entry.WithField("outcome", "dropped").WithError(err).Warn("message dropped")
	default:
		metrics.MessagesTotal.WithLabelValues(string(kind), "failed").Inc()
		entry.WithField("outcome", "failed").WithError(err).Error("message failed")
	}
}

// dropped — ожидаемые отказы (плохой payload, вне окна, не закреплён); остальное — сбои.
func dropped(err error) bool {
	for _, k := range []error{
		codec.ErrDecode, codec.ErrValidation,
		repo.ErrNotFound, repo.ErrPreconditionFailed,
		ErrOutsideWindow, ErrNoTopic, ErrUnknownTopic,
	} {
		if errors.Is(err, k) {
			return true
		}
	}
	return false
}

func (c *Coordinator) handleRegistration(ctx context.Context, pathAddr string, payload []byte) (logrus.Fields, error) {
	f := logrus.Fields{"mac": pathAddr}
	msg, err := codec.ParseRegistration(pathAddr, payload)
	if err != nil {
		return f, err
	}

	reg, err := c.Register(ctx, msg.HardwareAddress)
	if err != nil {
		return f, err
	}
	f["device_id"] = reg.Device.ID
	f["session"] = reg.Device.SessionID
	f["is_new"] = reg.IsNew

	confirm, err := codec.RegistrationConfirm(broker.RegistrationConfirmTopic(pathAddr), reg.Device.SessionID)
	if err != nil {
		return f, err
	}
	if err := c.publish(ctx, confirm); err != nil {
		return f, err
	}
	return f, nil
}

// Register регистрирует устройство (или перевыпускает сессию) и переносит подписку
// vote/<session> на новую сессию. Подтверждение устройству не публикуется.
func (c *Coordinator) Register(ctx context.Context, hardwareAddress string) (repo.Registration, error) {
	reg, err := c.store.Devices().RegisterOrRefresh(ctx, hardwareAddress)
	if err != nil {
		return repo.Registration{}, err
	}

	kind := "refresh"
	if reg.IsNew {
		kind = "new"
	}
	metrics.RegistrationsTotal.WithLabelValues(kind).Inc()

	// подписка до подтверждения, чтобы не потерять первый голос
	if err := c.transport.Subscribe(ctx, broker.VoteTopic(reg.Device.SessionID), c.HandleMessage); err != nil {
		return reg, fmt.Errorf("subscribe vote path: %w", err)
	}
	if reg.PreviousSession != "" && reg.PreviousSession != reg.Device.SessionID {
		if err := c.transport.Unsubscribe(ctx, broker.VoteTopic(reg.PreviousSession)); err != nil {
			c.log.WithError(err).WithField("session", reg.PreviousSession).Warn("unsubscribe stale vote path")
		}
	}
	c.notifyDevicesChanged(ctx)
	return reg, nil
}

func (c *Coordinator) handleVote(ctx context.Context, session string, payload []byte) (logrus.Fields, error) {
	f := logrus.Fields{"session": session}
	msg, err := codec.ParseVote(session, payload)
	if err != nil {
		return f, err
	}
	f["vote_title"] = msg.Title

	now := c.now()
	topic, ok := c.tracker.Accepts(msg, now)
	if !ok && !c.tracker.IsWithinWindow(now) {
		// трекер мог держать закончившуюся тему, а в БД уже есть новая
		if err := c.LoadWindow(ctx); err != nil {
			return f, err
		}
		topic, ok = c.tracker.Accepts(msg, now)
	}
	if !ok {
		return f, ErrOutsideWindow
	}
	f["topic_id"] = topic.ID

	dev, err := c.store.Devices().FindBySession(ctx, session)
	if err != nil {
		return f, err
	}
	f["device_id"] = dev.ID

	// голос и LastActiveAt — одной транзакцией
	var res repo.CastResult
	err = c.store.WithTx(ctx, func(tx *repo.Store) error {
		var err error
		if res, err = tx.Votes().Cast(ctx, dev.ID, msg.Value, topic.ID); err != nil {
			return err
		}
		return tx.Devices().Touch(ctx, dev.ID)
	})
	if err != nil {
		return f, err
	}
	f["voter_id"] = res.Voter.ID
	f["is_update"] = !res.Created

	status := "updated"
	if res.Created {
		status = "created"
	}
	metrics.VotesTotal.WithLabelValues(status).Inc()

	ack, err := codec.VoteAck(broker.VoteConfirmTopic(session), status, res.Vote.Value, topic.ID)
	if err != nil {
		return f, err
	}
	// голос уже записан; сбой подтверждения не отменяет его
	if err := c.publish(ctx, ack); err != nil {
		c.log.WithError(err).WithFields(f).Warn("vote ack not delivered")
	}
	return f, nil
}

func (c *Coordinator) handleResync(ctx context.Context, payload []byte) (logrus.Fields, error) {
	if _, err := codec.ParseResync(payload); err != nil {
		return nil, err
	}
	now := c.now()
	if _, ok := c.tracker.Current(); !ok {
		if err := c.LoadWindow(ctx); err != nil {
			return nil, err
		}
	}
	st, ok := c.tracker.ResyncPayload(now)
	if !ok {
		return nil, ErrNoTopic
	}
	f := logrus.Fields{"topic_id": st.TopicID, "status": st.Status}
	return f, c.broadcast(ctx, st)
}

// CreateTopic создаёт тему, обновляет трекер и рассылает её устройствам.
// Сбой рассылки не отменяет созданную тему.
func (c *Coordinator) CreateTopic(ctx context.Context, title, description string, start, end time.Time) (models.Topic, error) {
	t, err := c.store.Topics().Create(ctx, title, description, start, end)
	if err != nil {
		return models.Topic{}, err
	}
	c.AnnounceTopic(ctx, t)
	return t, nil
}

// AnnounceTopic учитывает тему в трекере и публикует её в setupVote/broadcast.
func (c *Coordinator) AnnounceTopic(ctx context.Context, t models.Topic) {
	now := c.now()
	replaced := c.tracker.Consider(t, now)

	st := window.Status{TopicID: t.ID, Title: t.Title, Status: codec.StatusStarted}
	if now.After(t.EndTime) {
		st.Status = codec.StatusEnded
	}
	entry := c.log.WithFields(logrus.Fields{"topic_id": t.ID, "title": t.Title, "tracked": replaced})
	if err := c.broadcast(ctx, st); err != nil {
		entry.WithError(err).Warn("topic broadcast failed")
		return
	}
	entry.Info("topic announced")
}

// Status — состояние для GET /topics/active.
func (c *Coordinator) Status() (models.Topic, window.Status, bool) {
	t, ok := c.tracker.Current()
	if !ok {
		return models.Topic{}, window.Status{}, false
	}
	st, _ := c.tracker.ResyncPayload(c.now())
	return t, st, true
}

// UnregisterDevice снимает регистрацию и отписывается от vote/<session>.
func (c *Coordinator) UnregisterDevice(ctx context.Context, id uint) (models.Device, error) {
	dev, err := c.store.Devices().Unregister(ctx, id)
	if err != nil {
		return models.Device{}, err
	}
	if err := c.transport.Unsubscribe(ctx, broker.VoteTopic(dev.SessionID)); err != nil {
		c.log.WithError(err).WithField("device_id", id).Warn("unsubscribe vote path")
	}
	c.notifyDevicesChanged(ctx)
	return dev, nil
}

func (c *Coordinator) UnregisterAll(ctx context.Context) (int64, error) {
	devs, err := c.store.Devices().ListRegistered(ctx)
	if err != nil {
		return 0, err
	}
	n, err := c.store.Devices().UnregisterAll(ctx)
	if err != nil {
		return 0, err
	}
	paths := make([]string, 0, len(devs))
	for _, d := range devs {
		paths = append(paths, broker.VoteTopic(d.SessionID))
	}
	if len(paths) > 0 {
		if err := c.transport.Unsubscribe(ctx, paths...); err != nil {
			c.log.WithError(err).Warn("unsubscribe vote paths")
		}
	}
	c.notifyDevicesChanged(ctx)
	return n, nil
}

// Reset удаляет все данные (debug), снимает подписки устройств и очищает трекер.
func (c *Coordinator) Reset(ctx context.Context) error {
	devs, err := c.store.Devices().ListRegistered(ctx)
	if err != nil {
		return err
	}
	if err := db.ResetAll(c.store.DB.WithContext(ctx)); err != nil {
		return fmt.Errorf("%w: reset: %w", repo.ErrStoreFault, err)
	}
	c.tracker.Clear()
	for _, d := range devs {
		if err := c.transport.Unsubscribe(ctx, broker.VoteTopic(d.SessionID)); err != nil {
			c.log.WithError(err).WithField("device_id", d.ID).Warn("unsubscribe vote path")
		}
	}
	c.notifyDevicesChanged(ctx)
	c.log.Warn("all data reset")
	return nil
}

func (c *Coordinator) broadcast(ctx context.Context, st window.Status) error {
	msg, err := codec.SetupBroadcast(broker.BroadcastTopic, st.Title, st.Status, st.TopicID)
	if err != nil {
		return err
	}
	return c.publish(ctx, msg)
}

func (c *Coordinator) publish(ctx context.Context, msg codec.Message) error {
	if err := c.transport.Publish(ctx, msg); err != nil {
		metrics.PublishedTotal.WithLabelValues("error").Inc()
		return err
	}
	metrics.PublishedTotal.WithLabelValues("ok").Inc()
	return nil
}

func (c *Coordinator) notifyDevicesChanged(ctx context.Context) {
	if c.devicesChanged != nil {
		c.devicesChanged(ctx)
	}
}
