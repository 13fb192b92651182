package main

import (
	"fmt"
	"strconv"
)

const (
	IconSuccess = "✅"
	IconFailure = "🔴"

	shortCommitLength = 7
	// Shown in place of a null duration
	unknownDuration = "?"
)

// StatusIcon picks the icon for a Travis status code. Only a present 0 is a pass.
func StatusIcon(status *int) string {
	if status != nil && *status == 0 {
		return IconSuccess
	}
	return IconFailure
}

// ShortCommit returns the first 7 characters of a commit hash
func ShortCommit(hash string) string {
	r := []rune(hash)
	if len(r) <= shortCommitLength {
		return hash
	}
	return string(r[:shortCommitLength])
}

// FormatDuration renders a duration in seconds, "?" when Travis sent null
func FormatDuration(duration *int) string {
	if duration == nil {
		return unknownDuration
	}
	return strconv.Itoa(*duration)
}

// FormatBuildMessage renders a build result as Telegram Markdown
func FormatBuildMessage(p *TravisPayload) string {
	return fmt.Sprintf("%s [%s Build#%s](%s) *%s* in %ss.\n\n`%s` `%s` by *%s*\n\n_%s_",
		StatusIcon(p.Status),
		p.Repository.Name,
		p.Number,
		p.BuildURL,
		p.StatusMessage,
		FormatDuration(p.Duration),
		p.Branch,
		ShortCommit(p.Commit),
		p.AuthorName,
		p.Message,
	)
}
