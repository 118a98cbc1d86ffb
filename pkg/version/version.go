// Package version holds build information set with -ldflags, e.g.
//
//	go build -ldflags "-X github.com/charlie0129/te5025/pkg/version.Version=v0.1.0"
package version

var (
	Version   = "UNKNOWN"
	GitCommit = "UNKNOWN"
)
