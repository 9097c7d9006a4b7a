package models

import "time"

// Topic — окно голосования [StartTime, EndTime].
type Topic struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	Title       string    `gorm:"size:255;not null" json:"title"`
	Description string    `gorm:"type:text" json:"description"`
	StartTime   time.Time `gorm:"not null;index" json:"startTime"`
	EndTime     time.Time `gorm:"not null" json:"endTime"`
}

// Active — start <= now <= end.
func (t Topic) Active(now time.Time) bool {
	return !now.Before(t.StartTime) && !now.After(t.EndTime)
}

// Overlaps — пересечение полуинтервалов [start, end).
func (t Topic) Overlaps(start, end time.Time) bool {
	return start.Before(t.EndTime) && t.StartTime.Before(end)
}

// Vote — один голос голосующего по одной теме.
type Vote struct {
	ID      uint      `gorm:"primaryKey" json:"id"`
	VoterID uint      `gorm:"not null;uniqueIndex:ux_votes_voter_topic,priority:1" json:"voterId"`
	Value   string    `gorm:"size:64;not null" json:"value"`
	TopicID uint      `gorm:"not null;uniqueIndex:ux_votes_voter_topic,priority:2;index" json:"topicId"`
	CastAt  time.Time `json:"castAt"`
}

// VoteView — голос с именем голосующего.
type VoteView struct {
	Vote
	VoterName string `json:"voterName"`
}
