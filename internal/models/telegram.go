package models

import "time"

// TelegramConfig holds Telegram notification configuration.
type TelegramConfig struct {
	BotToken string `validate:"required"`
	ChatID   string `validate:"required"`
}

// TelegramMessage holds the data for an install summary notification.
type TelegramMessage struct {
	RunID     string
	Host      string
	StartTime time.Time
	Duration  time.Duration

	Succeeded int
	Partial   int
	Failed    int

	Nodes []TelegramNodeLine
}

// TelegramNodeLine is one node's row in the notification.
type TelegramNodeLine struct {
	Node        string
	ContainerID int
	IP          string
	Status      InstallStatus
	Reason      string
}

// TelegramResult holds the result of a Telegram notification.
type TelegramResult struct {
	MessageSent bool
	Error       error
}
