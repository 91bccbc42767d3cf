package breaker

import "github.com/sirupsen/logrus"

var log = logrus.WithField("component", "breaker")
