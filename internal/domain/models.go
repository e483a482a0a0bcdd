package domain

import "time"

// DateLayout is the calendar-day key used by daily goals and streaks.
const DateLayout = "2006-01-02"

// Question is a practice question. Options are always materialized in order.
type Question struct {
	ID            string   `json:"id"`
	Subject       string   `json:"subject"`
	Topic         string   `json:"topic"`
	QuestionText  string   `json:"questionText"`
	QuestionType  string   `json:"questionType"`
	Options       []string `json:"options"`
	CorrectAnswer string   `json:"correctAnswer"`
	Explanation   *string  `json:"explanation,omitempty"`
	Difficulty    int      `json:"difficulty"`
	SVGData       *string  `json:"svgData,omitempty"`
}

// QuestionFilter narrows a question query. Empty fields match everything.
type QuestionFilter struct {
	Subject string
	Topic   string
}

// Matches reports whether q satisfies the filter.
func (f QuestionFilter) Matches(q Question) bool {
	if f.Subject != "" && q.Subject != f.Subject {
		return false
	}
	if f.Topic != "" && q.Topic != f.Topic {
		return false
	}
	return true
}

// Attempt is a single answer submission by a device.
type Attempt struct {
	ID               string    `json:"id"`
	DeviceID         string    `json:"deviceId"`
	QuestionID       string    `json:"questionId"`
	SelectedAnswer   string    `json:"selectedAnswer"`
	IsCorrect        bool      `json:"isCorrect"`
	TimeTakenSeconds *int      `json:"timeTakenSeconds,omitempty"`
	CreatedAt        time.Time `json:"createdAt"`
	Synced           bool      `json:"synced"`
}

// UsedQuestionMark records that a device was shown a question in a session type.
type UsedQuestionMark struct {
	DeviceID    string    `json:"deviceId"`
	QuestionID  string    `json:"questionId"`
	SessionType string    `json:"sessionType"`
	SessionID   *string   `json:"sessionId,omitempty"`
	UsedAt      time.Time `json:"usedAt"`
}

// GoalTypeQuestions is the only goal type the tracker produces.
const GoalTypeQuestions = "questions"

// DailyGoal is one calendar day's target. ID equals Date.
type DailyGoal struct {
	ID        string `json:"id"`
	Date      string `json:"date"`
	Target    int    `json:"target"`
	Completed int    `json:"completed"`
	Type      string `json:"type"`
}

// StreakID is the key of the singleton streak row.
const StreakID = "main"

// Streak tracks consecutive active days.
type Streak struct {
	ID             string `json:"id"`
	CurrentStreak  int    `json:"currentStreak"`
	LongestStreak  int    `json:"longestStreak"`
	LastActiveDate string `json:"lastActiveDate"`
}

// Pod is a multiplayer room hosted by one device.
type Pod struct {
	ID                string    `json:"id"`
	RoomCode          string    `json:"roomCode"`
	RoomName          string    `json:"roomName"`
	HostDeviceID      string    `json:"hostDeviceId"`
	CurrentQuestionID *string   `json:"currentQuestionId,omitempty"`
	IsActive          bool      `json:"isActive"`
	CreatedAt         time.Time `json:"createdAt"`
}

// PodMember is a device's membership row in a pod.
type PodMember struct {
	ID       string    `json:"id"`
	PodID    string    `json:"podId"`
	DeviceID string    `json:"deviceId"`
	Nickname string    `json:"nickname"`
	Score    int       `json:"score"`
	JoinedAt time.Time `json:"joinedAt"`
}

// PodView is the local, eventually consistent mirror of the current pod.
// A zero PodView (nil Pod) means the device is not in a pod.
type PodView struct {
	Pod       *Pod        `json:"pod"`
	Members   []PodMember `json:"members"`
	UpdatedAt time.Time   `json:"updatedAt"`
}

// SyncAction is the kind of remote write held in the sync queue.
type SyncAction string

const (
	SyncInsert SyncAction = "insert"
	SyncUpdate SyncAction = "update"
	SyncDelete SyncAction = "delete"
)

// Remote table names referenced by sync queue entries.
const (
	TableAttempts      = "student_attempts"
	TableUsedQuestions = "used_questions"
)

// SyncEntry is a pending remote operation waiting in the local queue.
type SyncEntry struct {
	ID        string     `json:"id"`
	Seq       int64      `json:"seq"`
	Action    SyncAction `json:"action"`
	Table     string     `json:"table"`
	Data      []byte     `json:"data"`
	Retries   int        `json:"retries"`
	CreatedAt time.Time  `json:"createdAt"`
}
