package monitor

import "github.com/sirupsen/logrus"

var log = logrus.WithField("component", "monitor")
