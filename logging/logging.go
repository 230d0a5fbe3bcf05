// Copyright 2023 qbee.io
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
// SPDX-License-Identifier: Apache-2.0

// Package logging provides the bridge's structured, leveled logger.
package logging

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// Logger is the global logger instance used across the bridge.
var Logger = logrus.New()

func init() {
	Logger.SetOutput(os.Stderr)
	Logger.SetLevel(logrus.InfoLevel)
	Logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})
}

// SetLevel parses and applies a logging level (DEBUG, INFO, WARNING, ERROR).
func SetLevel(level string) error {
	lvl, err := logrus.ParseLevel(normalizeLevel(level))
	if err != nil {
		return err
	}
	Logger.SetLevel(lvl)
	return nil
}

func normalizeLevel(level string) string {
	if level == "WARNING" {
		return "warning"
	}
	return level
}

// SetOutput sets the log output destination.
func SetOutput(w io.Writer) {
	Logger.SetOutput(w)
}

// SetJSONFormat switches the logger to JSON output, useful under container
// log collectors that parse structured fields.
func SetJSONFormat() {
	Logger.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: "2006-01-02T15:04:05Z07:00",
	})
}

// WithField returns a logger entry with a single field attached.
func WithField(key string, value interface{}) *logrus.Entry {
	return Logger.WithField(key, value)
}

// WithFields returns a logger entry with multiple fields attached.
func WithFields(fields logrus.Fields) *logrus.Entry {
	return Logger.WithFields(fields)
}

// WithTag returns a logger entry scoped to a Device tag_id — the stable
// cross-system identity every sync decision pivots on.
func WithTag(tagID string) *logrus.Entry {
	return Logger.WithField("tag_id", tagID)
}

// WithComponent returns a logger entry scoped to a bridge component.
func WithComponent(component string) *logrus.Entry {
	return Logger.WithField("component", component)
}
