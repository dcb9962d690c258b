package ytdlp

import "github.com/sirupsen/logrus"

var log = logrus.NewEntry(logrus.StandardLogger())

func Init(logger *logrus.Logger) error {
	log = logger.WithFields(logrus.Fields{
		"component": "ytdlp",
	})
	return nil
}
