package bytestore

import "go.uber.org/zap"

// badger2zap adapts badger's internal Logger interface (Errorf, Warningf,
// Infof, Debugf) onto a zap.SugaredLogger.
type badger2zap struct {
	*zap.SugaredLogger
}

func newBadger2Zap(logger *zap.Logger) *badger2zap {
	return &badger2zap{SugaredLogger: logger.Sugar()}
}

func (l *badger2zap) Warningf(template string, args ...interface{}) {
	l.Warnf(template, args...)
}
