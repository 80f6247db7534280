package common

// Set at build time with -ldflags "-X github.com/kodek/doorguard/common.BuildTime=...".
var (
	BuildTime     = "unknown"
	Commit        = "unknown"
	CommitMessage = ""
	BuildUrl      = ""
)
