package manager

import "github.com/sirupsen/logrus"

var log = logrus.WithField("component", "manager")
