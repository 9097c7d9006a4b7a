package broker

import "strings"

// Пути MQTT-топиков, согласованные с прошивкой. Без ведущего "/".
const (
	RegistrationFilter = "registration/+"
	ResyncTopic        = "setupVote/resync"
	BroadcastTopic     = "setupVote/broadcast"

	confirmPrefix     = "registration/confirm/"
	votePrefix        = "vote/"
	voteConfirmPrefix = "vote/confirm/"
)

// Kind — вид входящего сообщения по пути топика.
type Kind string

const (
	KindRegistration Kind = "registration"
	KindVote         Kind = "vote"
	KindResync       Kind = "resync"
	KindUnknown      Kind = "unknown"
)

func RegistrationConfirmTopic(hardwareAddress string) string {
	return confirmPrefix + hardwareAddress
}

func VoteTopic(sessionID string) string { return votePrefix + sessionID }

func VoteConfirmTopic(sessionID string) string { return voteConfirmPrefix + sessionID }

// Classify разбирает входящий путь: registration/<addr>, vote/<session>, setupVote/resync.
// Второй результат — параметр пути (адрес или сессия). Исходящие пути confirm — KindUnknown.
func Classify(topic string) (Kind, string) {
	topic = strings.TrimPrefix(topic, "/")
	parts := strings.Split(topic, "/")
	switch {
	case topic == ResyncTopic:
		return KindResync, ""
	case len(parts) == 2 && parts[0] == "registration" && parts[1] != "" && parts[1] != "confirm":
		return KindRegistration, parts[1]
	case len(parts) == 2 && parts[0] == "vote" && parts[1] != "" && parts[1] != "confirm":
		return KindVote, parts[1]
	}
	return KindUnknown, ""
}

// Match — совпадение топика с MQTT-фильтром (+ — один уровень, # — остаток).
func Match(filter, topic string) bool {
	f := strings.Split(filter, "/")
	t := strings.Split(topic, "/")
	for i, seg := range f {
		if seg == "#" {
			return true
		}
		if i >= len(t) {
			return false
		}
		if seg != "+" && seg != t[i] {
			return false
		}
	}
	return len(f) == len(t)
}
