package codec

import (
	"fmt"
	"strconv"
	"strings"
)

// Ключи payload, согласованные с прошивкой ESP.
const (
	KeyMacAddress = "macAddress"
	KeyVoteValue  = "voteValue"
	KeyVoteTitle  = "voteTitle"
	KeyTopicID    = "topicId"
	KeySessionID  = "sessionId"
)

// Статусы окна в broadcast-сообщении.
const (
	StatusStarted = "started"
	StatusEnded   = "ended"
)

// RegistrationMessage — registration/<hardwareAddress>.
type RegistrationMessage struct {
	HardwareAddress string
}

// VoteMessage — vote/<sessionIdentifier>.
type VoteMessage struct {
	SessionID string
	Value     string
	Title     string
	TopicID   *uint // необязателен; если есть — сверяем по нему, а не по заголовку
}

// ResyncRequest — setupVote/resync, payload может быть пустым.
type ResyncRequest struct{}

// ParseRegistration требует непустой macAddress. Если адрес в пути топика задан,
// он должен совпадать с адресом в payload.
func ParseRegistration(pathAddress string, payload []byte) (RegistrationMessage, error) {
	obj, err := Decode(payload)
	if err != nil {
		return RegistrationMessage{}, err
	}
	if err := Require(obj, []string{KeyMacAddress}, NonEmpty); err != nil {
		return RegistrationMessage{}, err
	}
	mac := obj.String(KeyMacAddress)
	if pathAddress != "" && !strings.EqualFold(pathAddress, mac) {
		return RegistrationMessage{}, fmt.Errorf("%w: topic address %q does not match payload %q", ErrValidation, pathAddress, mac)
	}
	return RegistrationMessage{HardwareAddress: mac}, nil
}

// ParseVote требует voteValue и voteTitle.
func ParseVote(sessionID string, payload []byte) (VoteMessage, error) {
	if strings.TrimSpace(sessionID) == "" {
		return VoteMessage{}, fmt.Errorf("%w: empty session identifier in topic", ErrValidation)
	}
	obj, err := Decode(payload)
	if err != nil {
		return VoteMessage{}, err
	}
	if err := Require(obj, []string{KeyVoteValue, KeyVoteTitle}, NonEmpty); err != nil {
		return VoteMessage{}, err
	}
	msg := VoteMessage{
		SessionID: sessionID,
		Value:     obj.String(KeyVoteValue),
		Title:     obj.String(KeyVoteTitle),
	}
	if _, ok := obj[KeyTopicID]; ok {
		id, ok := obj.Uint(KeyTopicID)
		if !ok {
			return VoteMessage{}, fmt.Errorf("%w: %s must be a non-negative integer", ErrValidation, KeyTopicID)
		}
		msg.TopicID = &id
	}
	return msg, nil
}

// ParseResync принимает пустой payload или любой JSON-объект.
func ParseResync(payload []byte) (ResyncRequest, error) {
	if len(strings.TrimSpace(string(payload))) == 0 {
		return ResyncRequest{}, nil
	}
	if _, err := Decode(payload); err != nil {
		return ResyncRequest{}, err
	}
	return ResyncRequest{}, nil
}

// RegistrationConfirm — ответ ESP с новым идентификатором сессии.
func RegistrationConfirm(topic, sessionID string) (Message, error) {
	return Encode(topic, map[string]any{KeySessionID: sessionID})
}

// SetupBroadcast — состояние текущей темы для всех ESP.
func SetupBroadcast(topic, title, status string, topicID uint) (Message, error) {
	return Encode(topic, map[string]any{
		"title":    title,
		"type":     "public",
		"status":   status,
		KeyTopicID: strconv.FormatUint(uint64(topicID), 10),
	})
}

// VoteAck — подтверждение принятого голоса (status: created | updated).
func VoteAck(topic, status, value string, topicID uint) (Message, error) {
	return Encode(topic, map[string]any{
		"status":     status,
		KeyVoteValue: value,
		KeyTopicID:   strconv.FormatUint(uint64(topicID), 10),
	})
}
