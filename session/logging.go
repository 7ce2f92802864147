package session

import "github.com/sirupsen/logrus"

// newSessionLogger returns a *logrus.Entry pre-tagged with this session's
// id, mirroring original_source's per-session Logger{tag, level} — every
// line a session emits already carries its identity, instead of the
// caller having to add it at each call site.
//
// level sets the shared logger's threshold; since a logrus.Logger's level
// is shared by every Entry derived from it, each new session sets it
// again, so the most recently constructed session's Config.LogVerbosity
// (including the zero value, logrus.PanicLevel) determines it for the
// logger instance it was handed (WithLogger callers wanting per-session
// levels should supply distinct *logrus.Logger values).
func newSessionLogger(base *logrus.Logger, level logrus.Level, id uint32) *logrus.Entry {
	if base == nil {
		base = logrus.StandardLogger()
	}
	base.SetLevel(level)
	return base.WithField("session_id", id)
}
