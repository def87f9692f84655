// Copyright (c) 2013-2017 The btcsuite developers
// Copyright (c) 2015-2016 The Decred developers
// Heavily inspired by https://github.com/btcsuite/btcd/blob/master/version.go
// Copyright (C) 2015-2022 The Lightning Network Developers

package rgbld

import (
	"fmt"
	"runtime/debug"
	"strings"
)

var (
	// Commit is the most recent tag, commits since that tag, the commit
	// hash and a dirty marker. It is set through -ldflags at build time.
	Commit string

	// CommitHash is the commit hash of this build, read from the embedded
	// VCS info.
	CommitHash string

	// RawTags holds the comma separated build tags.
	RawTags string

	// GoVersion is the go version the binary was compiled with.
	GoVersion string
)

// semverAlphabet is the set of characters permitted in a semver field.
const semverAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

const (
	// AppMajor is the major version of rgbld.
	AppMajor uint = 0

	// AppMinor is the minor version of rgbld.
	AppMinor uint = 1

	// AppPatch is the patch version of rgbld.
	AppPatch uint = 0

	// AppStatus is the release status, appended as a semver pre-release.
	AppStatus = "alpha"

	// AppPreRelease is appended after the status. It must only contain
	// characters of semverAlphabet.
	AppPreRelease = ""

	// agentName is the first part of the user agent sent to the proxy.
	agentName = "rgbld"

	// maxInitiatorLen caps the initiator part of the user agent, proxies
	// limit the whole header to 255 characters.
	maxInitiatorLen = 150
)

func init() {
	for _, field := range []string{AppStatus, AppPreRelease} {
		if keepAlphabet(field, semverAlphabet) != field {
			panic(fmt.Sprintf("version field %q is not semver "+
				"compliant", field))
		}
	}

	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}

	GoVersion = info.GoVersion
	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			CommitHash = setting.Value

		case "-tags":
			RawTags = setting.Value
		}
	}
}

// keepAlphabet drops every rune of str that is not part of alphabet.
func keepAlphabet(str, alphabet string) string {
	var b strings.Builder
	for _, r := range str {
		if strings.ContainsRune(alphabet, r) {
			b.WriteRune(r)
		}
	}

	return b.String()
}

// semanticVersion returns the semver string of this build.
func semanticVersion() string {
	version := fmt.Sprintf("%d.%d.%d", AppMajor, AppMinor, AppPatch)

	var suffix []string
	if AppStatus != "" {
		suffix = append(suffix, AppStatus)
	}
	if AppPreRelease != "" {
		suffix = append(suffix, AppPreRelease)
	}
	if len(suffix) == 0 {
		return version
	}

	return version + "-" + strings.Join(suffix, ".")
}

// Version returns the version of this build including the commit.
func Version() string {
	return fmt.Sprintf("%s commit=%s", semanticVersion(), Commit)
}

// Tags returns the build tags compiled into the binary.
func Tags() []string {
	if RawTags == "" {
		return nil
	}

	return strings.Split(RawTags, ",")
}

// UserAgent returns the user agent the daemon identifies itself with towards
// the RGB proxy. The initiator is sanitized and truncated.
func UserAgent(initiator string) string {
	initiator = keepAlphabet(
		strings.TrimSpace(initiator), semverAlphabet+"-. ",
	)
	if len(initiator) > maxInitiatorLen {
		initiator = initiator[:maxInitiatorLen]
	}
	if initiator != "" {
		initiator = ",initiator=" + initiator
	}

	return fmt.Sprintf("%s/v%s/commit=%s%s", agentName, semanticVersion(),
		Commit, initiator)
}
