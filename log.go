package main

import (
	"github.com/sirupsen/logrus"
)

var Log = logrus.New()

func setupLogger(verbose bool) {
	Log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if verbose {
		Log.SetLevel(logrus.DebugLevel)
		logrus.SetLevel(logrus.DebugLevel)
	}
}
