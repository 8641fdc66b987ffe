// Package model holds the entity types of the federation core's data model.
package model

import "time"

// Visibility is the audience class of an Event.
type Visibility string

const (
	VisibilityPublic    Visibility = "PUBLIC"
	VisibilityFollowers Visibility = "FOLLOWERS"
	VisibilityUnlisted  Visibility = "UNLISTED"
	VisibilityPrivate   Visibility = "PRIVATE"
)

// RecurrencePattern is the repetition rule of a recurring Event.
type RecurrencePattern string

const (
	RecurrenceDaily   RecurrencePattern = "DAILY"
	RecurrenceWeekly  RecurrencePattern = "WEEKLY"
	RecurrenceMonthly RecurrencePattern = "MONTHLY"
	RecurrenceYearly  RecurrencePattern = "YEARLY"
)

// AttendanceStatus is a user's RSVP state for an Event.
type AttendanceStatus string

const (
	AttendanceAttending    AttendanceStatus = "attending"
	AttendanceMaybe        AttendanceStatus = "maybe"
	AttendanceNotAttending AttendanceStatus = "not_attending"
)

// ReminderStatus is the lifecycle state of a Reminder row.
type ReminderStatus string

const (
	ReminderPending   ReminderStatus = "PENDING"
	ReminderSent      ReminderStatus = "SENT"
	ReminderCancelled ReminderStatus = "CANCELLED"
)

// NotificationType is the closed set of notification kinds.
type NotificationType string

const (
	NotificationMention    NotificationType = "MENTION"
	NotificationFollow     NotificationType = "FOLLOW"
	NotificationLike       NotificationType = "LIKE"
	NotificationAttendance NotificationType = "ATTENDANCE"
	NotificationComment    NotificationType = "COMMENT"
	NotificationReminder   NotificationType = "REMINDER"
	NotificationShare      NotificationType = "SHARE"
)

// BroadcastType is the closed set of realtime message kinds.
type BroadcastType string

const (
	BroadcastEventCreated       BroadcastType = "EVENT_CREATED"
	BroadcastEventUpdated       BroadcastType = "EVENT_UPDATED"
	BroadcastEventDeleted       BroadcastType = "EVENT_DELETED"
	BroadcastEventShared        BroadcastType = "EVENT_SHARED"
	BroadcastLikeAdded          BroadcastType = "LIKE_ADDED"
	BroadcastLikeRemoved        BroadcastType = "LIKE_REMOVED"
	BroadcastAttendanceUpdated  BroadcastType = "ATTENDANCE_UPDATED"
	BroadcastAttendanceRemoved  BroadcastType = "ATTENDANCE_REMOVED"
	BroadcastCommentCreated     BroadcastType = "COMMENT_CREATED"
	BroadcastCommentDeleted     BroadcastType = "COMMENT_DELETED"
	BroadcastNotificationCreate BroadcastType = "NOTIFICATION_CREATED"
	BroadcastNotificationRead   BroadcastType = "NOTIFICATION_READ"
)

// User is a local or remote actor.
type User struct {
	ID                int64
	IsRemote          bool
	Username          string // local-only unique username, or "user@host" for remote
	ActorURL          string // required if remote
	InboxURL          string // required if remote
	SharedInboxURL    string // optional, remote only
	RSAPrivateKeyPEM  string // local users only
	RSAPublicKeyPEM   string // local users only
	DisplayName       string
	Summary           string
	IconURL           string
	Timezone          string
	Tombstoned        bool
	CreatedAt         time.Time
}

// IsLocal reports whether the user is authoritative on this instance.
func (u *User) IsLocal() bool { return !u.IsRemote }

// GeoPoint is an optional lat/lon pair on an Event.
type GeoPoint struct {
	Latitude  float64
	Longitude float64
}

// Event is a social event, local or federated.
type Event struct {
	ID              int64
	AuthorID        int64
	ExternalID      string // canonical URL, set if originated remotely
	AttributedTo    string // URL form of the authoring actor, always set
	Title           string
	Summary         string
	Location        string
	Geo             *GeoPoint
	Timezone        string
	StartTime       time.Time
	EndTime         time.Time
	Recurrence      *Recurrence
	Visibility      Visibility
	Tags            []string
	SharedEventID   *int64 // set if this row is an Announce/share of another event
	HeaderImageURL  string
	ExternalURL     string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Recurrence describes a repeating Event's materialization rule.
type Recurrence struct {
	Pattern           RecurrencePattern
	RecurrenceEndDate *time.Time
}

// Attendance is a user's RSVP to an Event.
type Attendance struct {
	EventID    int64
	UserID     int64
	Status     AttendanceStatus
	ExternalID string
	UpdatedAt  time.Time
}

// Like is a user's like of an Event.
type Like struct {
	EventID    int64
	UserID     int64
	ExternalID string
	CreatedAt  time.Time
}

// Comment is a (possibly threaded) comment on an Event.
type Comment struct {
	ID          int64
	EventID     int64
	AuthorID    int64
	InReplyToID *int64
	Content     string
	ExternalID  string
	CreatedAt   time.Time
}

// Mention records that a Comment references a User.
type Mention struct {
	CommentID       int64
	MentionedUserID int64
}

// Follower is a remote actor following a local user.
type Follower struct {
	UserID   int64 // the local followed user
	ActorURL string
	InboxURL string
	Accepted bool
}

// Following is a local user's follow of a remote actor.
type Following struct {
	UserID   int64 // the local follower
	ActorURL string
	Username string
	InboxURL string
	Accepted bool
}

// ProcessedActivity records an applied inbound activity id for replay defense.
type ProcessedActivity struct {
	ActivityID string
	ExpiresAt  time.Time
}

// Notification is a local, user-facing alert.
type Notification struct {
	ID        int64
	UserID    int64
	ActorID   *int64
	Type      NotificationType
	Title     string
	Body      string
	Data      string // opaque JSON, optional
	Read      bool
	ReadAt    *time.Time
	CreatedAt time.Time
}

// Reminder schedules a single notification ahead of an Event's start.
type Reminder struct {
	ID                 int64
	UserID             int64
	EventID            int64
	RemindAt           time.Time
	MinutesBeforeStart int
	Status             ReminderStatus
}

// BroadcastMessage is a realtime fan-out message.
type BroadcastMessage struct {
	Type         BroadcastType
	TargetUserID *int64 // nil means broadcast to all subscribers
	Payload      interface{}
}
