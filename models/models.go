package models

import "time"

type User struct {
	ID       int64
	Username string
	Password string // bcrypt digest
}

type Message struct {
	ID        int64
	Sender    string
	Recipient string
	Text      string
	Timestamp time.Time
}
