package cache

import "time"

const (
	TitlesTTL      = 60 * time.Second
	PreviewTTL     = 5 * time.Minute
	ProjectsTTL    = 5 * time.Minute
	ProjectMetaTTL = 5 * time.Minute
	SharedTTL      = 5 * time.Minute
)

const VersionKey = "chat:cache:version"

// TitlesKey holds the first page of a user's default conversation listing.
func TitlesKey(userID string) string { return "chat:titles:" + userID }

// PreviewKey is keyed by conversation only; ids are globally unique.
func PreviewKey(conversationID string) string { return "chat:preview:" + conversationID }

func ProjectsKey(userID string) string { return "chat:projects:" + userID }

func ProjectMetaKey(userID string) string { return "chat:project-meta:" + userID }

func SharedKey(userID string) string { return "chat:shared:" + userID }
